package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"walkable-city/location"
	"walkable-city/model"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const batchSize = 1000

// Loader 从 PostgreSQL 读取地点数据包，实现 location.Loader
type Loader struct {
	db *gorm.DB
}

// NewLoader 创建数据库加载器
func NewLoader(db *gorm.DB) *Loader {
	return &Loader{db: db}
}

var _ location.Loader = (*Loader)(nil)

// Ping 数据库连通性，供健康检查使用
func (l *Loader) Ping(ctx context.Context) error { return Ping(ctx, l.db) }

// List 地点目录
func (l *Loader) List(ctx context.Context) ([]model.LocationConfig, error) {
	var rows []LocationRow
	if err := l.db.WithContext(ctx).Order("slug").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询地点列表失败: %w", err)
	}
	out := make([]model.LocationConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.config())
	}
	return out, nil
}

// Load 读取一个地点的全部数据
func (l *Loader) Load(ctx context.Context, slug string) (*model.Bundle, error) {
	tx := l.db.WithContext(ctx)

	var loc LocationRow
	if err := tx.Where("slug = ?", slug).First(&loc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", location.ErrLocationNotFound, slug)
		}
		return nil, fmt.Errorf("查询地点失败: %w", err)
	}

	var (
		nodes    []NodeRow
		edges    []EdgeRow
		features []FeatureRow
		places   []PlaceRow
	)
	if err := tx.Where("location_slug = ?", slug).Order("internal_id").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("查询节点失败: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s has no nodes", location.ErrGraphNotFound, slug)
	}
	if err := tx.Where("location_slug = ?", slug).Order("id").Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("查询边失败: %w", err)
	}
	if err := tx.Where("location_slug = ?", slug).Order("id").Find(&features).Error; err != nil {
		return nil, fmt.Errorf("查询兴趣点失败: %w", err)
	}
	if err := tx.Where("location_slug = ?", slug).Order("id").Find(&places).Error; err != nil {
		return nil, fmt.Errorf("查询地点名称失败: %w", err)
	}
	return rowsToBundle(loc, nodes, edges, features, places)
}

// Import 把数据包写入数据库，已存在的同名地点会被整体替换
func (l *Loader) Import(ctx context.Context, b *model.Bundle) error {
	loc, nodes, edges, features, places, err := bundleToRows(b)
	if err != nil {
		return err
	}
	slug := loc.Slug

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&NodeRow{}, &EdgeRow{}, &FeatureRow{}, &PlaceRow{}} {
			if err := tx.Where("location_slug = ?", slug).Delete(m).Error; err != nil {
				return fmt.Errorf("清理旧数据失败: %w", err)
			}
		}
		if err := tx.Where("slug = ?", slug).Delete(&LocationRow{}).Error; err != nil {
			return fmt.Errorf("清理旧数据失败: %w", err)
		}
		if err := tx.Create(&loc).Error; err != nil {
			return fmt.Errorf("插入地点失败: %w", err)
		}
		// 批量插入
		if len(nodes) > 0 {
			if err := tx.CreateInBatches(nodes, batchSize).Error; err != nil {
				return fmt.Errorf("插入节点失败: %w", err)
			}
		}
		if len(edges) > 0 {
			if err := tx.CreateInBatches(edges, batchSize).Error; err != nil {
				return fmt.Errorf("插入边失败: %w", err)
			}
		}
		if len(features) > 0 {
			if err := tx.CreateInBatches(features, batchSize).Error; err != nil {
				return fmt.Errorf("插入兴趣点失败: %w", err)
			}
		}
		if len(places) > 0 {
			if err := tx.CreateInBatches(places, batchSize).Error; err != nil {
				return fmt.Errorf("插入地点名称失败: %w", err)
			}
		}
		return nil
	})
}

// Exists 地点是否已经导入
func (l *Loader) Exists(ctx context.Context, slug string) (bool, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&LocationRow{}).Where("slug = ?", slug).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r LocationRow) config() model.LocationConfig {
	return model.LocationConfig{
		Slug:   r.Slug,
		Name:   r.Name,
		Center: model.Point{Lat: r.CenterLat, Lon: r.CenterLon},
		Bounds: []float64(r.Bounds),
		Nodes:  r.Nodes,
		Edges:  r.Edges,
		POIs:   r.POIs,
		Places: r.Places,
	}
}

// bundleToRows 数据包 -> 表记录；节点按内部编号展开，映射缺失时报错
func bundleToRows(b *model.Bundle) (LocationRow, []NodeRow, []EdgeRow, []FeatureRow, []PlaceRow, error) {
	slug := b.Config.Slug
	if !location.ValidSlug(slug) {
		return LocationRow{}, nil, nil, nil, nil, fmt.Errorf("invalid slug %q", slug)
	}
	resolved, err := location.ResolveNodes(b)
	if err != nil {
		return LocationRow{}, nil, nil, nil, nil, err
	}

	nodes := make([]NodeRow, len(resolved))
	for i, n := range resolved {
		nodes[i] = NodeRow{LocationSlug: slug, InternalID: n.ID, ExternalID: n.ExternalID, Lat: n.Lat, Lon: n.Lon}
	}
	edges := make([]EdgeRow, len(b.Graph.Edges))
	for i, e := range b.Graph.Edges {
		edges[i] = EdgeRow{LocationSlug: slug, U: e.U, V: e.V, Weight: e.Weight}
	}

	categorySet := map[string]struct{}{}
	features := make([]FeatureRow, len(b.Features))
	for i, f := range b.Features {
		features[i] = FeatureRow{LocationSlug: slug, Name: f.Name, Kind: f.Kind, Category: f.Category, Lat: f.Lat, Lon: f.Lon}
		categorySet[f.Category] = struct{}{}
	}
	categories := make([]string, 0, len(categorySet))
	for c := range categorySet {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	places := make([]PlaceRow, len(b.Places))
	for i, p := range b.Places {
		places[i] = PlaceRow{LocationSlug: slug, Name: p.Name, Lat: p.Lat, Lon: p.Lon, PlaceType: p.PlaceType}
	}

	loc := LocationRow{
		Slug:       slug,
		Name:       b.Config.Name,
		CenterLat:  b.Config.Center.Lat,
		CenterLon:  b.Config.Center.Lon,
		Bounds:     pq.Float64Array(b.Config.Bounds),
		Categories: pq.StringArray(categories),
		Nodes:      len(nodes),
		Edges:      len(edges),
		POIs:       len(features),
		Places:     len(places),
	}
	return loc, nodes, edges, features, places, nil
}

// rowsToBundle 表记录 -> 数据包；节点必须按内部编号排序且连续
func rowsToBundle(loc LocationRow, nodes []NodeRow, edges []EdgeRow, features []FeatureRow, places []PlaceRow) (*model.Bundle, error) {
	b := &model.Bundle{
		Config:   loc.config(),
		Graph:    model.GraphData{NodeCount: len(nodes), Edges: make([]model.Edge, len(edges))},
		Mappings: model.Mappings{InternalToExternal: make(map[string]int64, len(nodes))},
		Nodes:    make([]model.NodeRecord, len(nodes)),
		Features: make([]model.Feature, len(features)),
		Places:   make([]model.Place, len(places)),
	}
	for i, n := range nodes {
		if n.InternalID != i {
			return nil, fmt.Errorf("%w: %s node ids are not contiguous at %d", location.ErrCorruptGraphData, loc.Slug, i)
		}
		b.Mappings.InternalToExternal[strconv.Itoa(i)] = n.ExternalID
		b.Nodes[i] = model.NodeRecord{ID: n.ExternalID, Lat: n.Lat, Lon: n.Lon}
	}
	for i, e := range edges {
		b.Graph.Edges[i] = model.Edge{U: e.U, V: e.V, Weight: e.Weight}
	}
	for i, f := range features {
		b.Features[i] = model.Feature{Name: f.Name, Kind: f.Kind, Category: f.Category, Lat: f.Lat, Lon: f.Lon}
	}
	for i, p := range places {
		b.Places[i] = model.Place{Name: p.Name, Lat: p.Lat, Lon: p.Lon, PlaceType: p.PlaceType}
	}
	return b, nil
}
