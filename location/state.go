package location

import (
	"fmt"
	"strconv"
	"time"

	"walkable-city/algo"
	"walkable-city/geocode"
	"walkable-city/model"
	"walkable-city/store"
	"walkable-city/utils"
)

// Limits 加载时的规模上限，0 表示不限制
type Limits struct {
	MaxNodes int
	MaxEdges int
}

// BuildOptions 构建地点时使用的引擎参数
type BuildOptions struct {
	Limits   Limits
	Router   algo.RouterOptions
	Geocoder geocode.Options
}

// State 一个地点加载完成后的不可变快照
// 查询只读取快照，切换地点时整体替换
type State struct {
	Config   model.LocationConfig
	Graph    *algo.Graph
	Store    *store.Store
	Router   *algo.Router
	Resolver *geocode.Resolver
	LoadedAt time.Time
}

// Slug 地点标识
func (s *State) Slug() string { return s.Config.Slug }

// Build 校验数据包并构建路网、索引和解析器
func Build(b *model.Bundle, opts BuildOptions) (*State, error) {
	n := b.Graph.NodeCount
	if n < 0 {
		return nil, fmt.Errorf("%w: negative node count %d", ErrCorruptGraphData, n)
	}
	if opts.Limits.MaxNodes > 0 && n > opts.Limits.MaxNodes {
		return nil, fmt.Errorf("%w: %d nodes (max %d)", ErrTooLarge, n, opts.Limits.MaxNodes)
	}
	if opts.Limits.MaxEdges > 0 && len(b.Graph.Edges) > opts.Limits.MaxEdges {
		return nil, fmt.Errorf("%w: %d edges (max %d)", ErrTooLarge, len(b.Graph.Edges), opts.Limits.MaxEdges)
	}

	nodes, err := ResolveNodes(b)
	if err != nil {
		return nil, err
	}

	proj := utils.NewProjection(referenceLatitude(b.Config, nodes))
	g, err := algo.NewGraph(nodes, b.Graph.Edges, proj)
	if err != nil {
		return nil, err
	}

	features := model.DedupFeatures(b.Features)
	places := model.DedupPlaces(b.Places)
	st, err := store.New(features, places, proj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptGraphData, err)
	}

	cfg := b.Config
	cfg.Nodes = g.NodeCount()
	cfg.Edges = g.EdgeCount()
	cfg.POIs = len(features)
	cfg.Places = len(places)

	return &State{
		Config:   cfg,
		Graph:    g,
		Store:    st,
		Router:   algo.NewRouter(g, st, opts.Router),
		Resolver: geocode.New(places, st, opts.Geocoder),
		LoadedAt: time.Now(),
	}, nil
}

// ResolveNodes 通过编号映射表把内部编号 0..N-1 对应到外部节点坐标
func ResolveNodes(b *model.Bundle) ([]model.Node, error) {
	coords := make(map[int64]model.NodeRecord, len(b.Nodes))
	for _, r := range b.Nodes {
		coords[r.ID] = r
	}
	nodes := make([]model.Node, b.Graph.NodeCount)
	seen := make(map[int64]int, b.Graph.NodeCount)
	for i := range nodes {
		ext, ok := b.Mappings.InternalToExternal[strconv.Itoa(i)]
		if !ok {
			return nil, fmt.Errorf("%w: internal node %d has no mapping", ErrCorruptGraphData, i)
		}
		if prev, dup := seen[ext]; dup {
			return nil, fmt.Errorf("%w: external id %d mapped by nodes %d and %d", ErrCorruptGraphData, ext, prev, i)
		}
		seen[ext] = i
		r, ok := coords[ext]
		if !ok {
			return nil, fmt.Errorf("%w: node %d (external %d) has no coordinates", ErrCorruptGraphData, i, ext)
		}
		nodes[i] = model.Node{ID: i, ExternalID: ext, Lat: r.Lat, Lon: r.Lon}
	}
	return nodes, nil
}

// referenceLatitude 投影的参考纬度: 优先使用配置中的中心点，否则取节点平均纬度
func referenceLatitude(cfg model.LocationConfig, nodes []model.Node) float64 {
	if cfg.Center.Lat != 0 || cfg.Center.Lon != 0 {
		return cfg.Center.Lat
	}
	if len(nodes) == 0 {
		return 0
	}
	var sum float64
	for _, n := range nodes {
		sum += n.Lat
	}
	return sum / float64(len(nodes))
}
