package algo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"walkable-city/model"
	"walkable-city/store"
	"walkable-city/utils"
)

// ErrInvalidArgument 坐标越界、负的时间预算等参数错误
var ErrInvalidArgument = errors.New("invalid argument")

// FeatureIndex 路由引擎需要的兴趣点查询能力，由 store.Store 实现
type FeatureIndex interface {
	NearestFeatures(category string, lat, lon float64, limit int, radiusMeters float64) []store.FeatureHit
	FeaturesInBoundingBox(minLat, maxLat, minLon, maxLon float64, category string) []model.Feature
}

// RouterOptions 路由引擎参数
type RouterOptions struct {
	PathSampleLimit     int     // 返回路径的最大点数
	BoundaryBand        float64 // 等时圈边界带: 距离 > BoundaryBand * 预算
	BoundarySampleLimit int     // 边界点的最大数量
	DefaultSearchRadius float64 // 步行最近查询的默认候选半径 (米)
	DefaultWalkingLimit int     // 步行最近查询默认返回条数
	CorridorSampleLimit int     // 沿途查询的参考点数量
	DefaultBufferMeters float64 // 沿途查询的默认缓冲距离
}

// DefaultRouterOptions 默认参数
func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		PathSampleLimit:     100,
		BoundaryBand:        0.8,
		BoundarySampleLimit: 100,
		DefaultSearchRadius: 5000,
		DefaultWalkingLimit: 3,
		CorridorSampleLimit: 20,
		DefaultBufferMeters: 200,
	}
}

func (o RouterOptions) withDefaults() RouterOptions {
	d := DefaultRouterOptions()
	if o.PathSampleLimit < 2 {
		o.PathSampleLimit = d.PathSampleLimit
	}
	if o.BoundaryBand <= 0 || o.BoundaryBand >= 1 {
		o.BoundaryBand = d.BoundaryBand
	}
	if o.BoundarySampleLimit < 2 {
		o.BoundarySampleLimit = d.BoundarySampleLimit
	}
	if o.DefaultSearchRadius <= 0 {
		o.DefaultSearchRadius = d.DefaultSearchRadius
	}
	if o.DefaultWalkingLimit <= 0 {
		o.DefaultWalkingLimit = d.DefaultWalkingLimit
	}
	if o.CorridorSampleLimit < 2 {
		o.CorridorSampleLimit = d.CorridorSampleLimit
	}
	if o.DefaultBufferMeters <= 0 {
		o.DefaultBufferMeters = d.DefaultBufferMeters
	}
	return o
}

// Router 路网上的路径、等时圈和步行最近查询
// 只读取不可变的路网和索引，可以并发调用
type Router struct {
	graph    *Graph
	features FeatureIndex
	opts     RouterOptions
}

// NewRouter 创建路由引擎
func NewRouter(g *Graph, features FeatureIndex, opts RouterOptions) *Router {
	return &Router{graph: g, features: features, opts: opts.withDefaults()}
}

// Graph 底层路网
func (r *Router) Graph() *Graph { return r.graph }

// Options 生效的参数
func (r *Router) Options() RouterOptions { return r.opts }

// RouteResult 路径规划结果
type RouteResult struct {
	DistanceMeters  float64       `json:"distanceMeters"`
	DistanceKm      float64       `json:"distanceKm"`
	WalkMinutes     float64       `json:"walkMinutes"`
	NodeCount       int           `json:"nodeCount"` // 完整路径的节点数 (下采样之前)
	Start           model.Point   `json:"start"`
	End             model.Point   `json:"end"`
	StartSnapMeters float64       `json:"startSnapMeters"`
	EndSnapMeters   float64       `json:"endSnapMeters"`
	Path            []model.Point `json:"path"`

	nodes []int
}

// WalkingHit 按步行距离排序的兴趣点
type WalkingHit struct {
	Name               string  `json:"name,omitempty"`
	Category           string  `json:"category"`
	Lat                float64 `json:"lat"`
	Lon                float64 `json:"lon"`
	StraightLineMeters float64 `json:"straightLineMeters"`
	DistanceMeters     float64 `json:"distanceMeters"` // 步行距离
	WalkMinutes        float64 `json:"walkMinutes"`
	DetourFactor       float64 `json:"detourFactor"` // 步行距离 / 直线距离
}

// NearestWalkingResult 步行最近查询结果
type NearestWalkingResult struct {
	Category    string        `json:"category"`
	Origin      model.Point   `json:"origin"`
	Count       int           `json:"count"`
	Items       []WalkingHit  `json:"items"`
	Path        []model.Point `json:"path"` // 到第一个结果的步行路径
	Shortlisted int           `json:"shortlisted"`
}

// BoundaryPoint 等时圈边界点
type BoundaryPoint struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	DistanceMeters float64 `json:"distanceMeters"`
	WalkMinutes    float64 `json:"walkMinutes"`
}

// IsochroneResult 等时圈结果
type IsochroneResult struct {
	Start              model.Point     `json:"start"`
	MaxMinutes         float64         `json:"maxMinutes"`
	MaxDistanceMeters  float64         `json:"maxDistanceMeters"`
	ReachableNodeCount int             `json:"reachableNodeCount"`
	BoundaryPoints     []BoundaryPoint `json:"boundaryPoints"`
}

// CorridorHit 沿途兴趣点
type CorridorHit struct {
	Name           string  `json:"name,omitempty"`
	Category       string  `json:"category"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	DistanceMeters float64 `json:"distanceMeters"` // 到最近参考点的直线距离
	RouteIndex     int     `json:"routeIndex"`     // 最近参考点的序号，越小越靠近起点
}

// AlongRouteResult 沿途查询结果
type AlongRouteResult struct {
	Category     string        `json:"category,omitempty"`
	BufferMeters float64       `json:"bufferMeters"`
	Route        *RouteResult  `json:"route"`
	Count        int           `json:"count"`
	Items        []CorridorHit `json:"items"`
}

func checkCoordinate(lat, lon float64) error {
	if !utils.ValidCoordinate(lat, lon) {
		return fmt.Errorf("%w: coordinate out of range (%f, %f)", ErrInvalidArgument, lat, lon)
	}
	return nil
}

// snap 把任意坐标映射到最近的路网节点
func (r *Router) snap(lat, lon float64) (model.Node, float64, error) {
	if err := checkCoordinate(lat, lon); err != nil {
		return model.Node{}, 0, err
	}
	node, d, ok := r.graph.FindNearestNode(lat, lon)
	if !ok {
		return model.Node{}, 0, ErrNoStartNode
	}
	return node, d, nil
}

// Route 计算两点之间的最短步行路径
// 两端先映射到最近节点，距离只统计路网部分，映射距离单独返回
func (r *Router) Route(ctx context.Context, startLat, startLon, endLat, endLon float64) (*RouteResult, error) {
	start, startSnap, err := r.snap(startLat, startLon)
	if err != nil {
		return nil, err
	}
	end, endSnap, err := r.snap(endLat, endLon)
	if err != nil {
		return nil, err
	}

	sp, err := r.graph.Dijkstra(ctx, start.ID, end.ID)
	if err != nil {
		return nil, err
	}
	if !sp.Reachable(end.ID) {
		return nil, fmt.Errorf("%w: node %d to node %d", ErrNoRoute, start.ExternalID, end.ExternalID)
	}

	nodes := sp.PathTo(end.ID)
	dist := sp.Dist[end.ID]
	return &RouteResult{
		DistanceMeters:  dist,
		DistanceKm:      dist / 1000,
		WalkMinutes:     model.WalkMinutes(dist),
		NodeCount:       len(nodes),
		Start:           start.Point(),
		End:             end.Point(),
		StartSnapMeters: startSnap,
		EndSnapMeters:   endSnap,
		Path:            r.graph.Coordinates(sampleEvenly(nodes, r.opts.PathSampleLimit)),
		nodes:           nodes,
	}, nil
}

// NearestFeatureByWalkingDistance 先按直线距离筛选候选，再用一次单源 Dijkstra 计算真实步行距离
// 步行距离 = 起点映射距离 + 路网距离 + 终点映射距离，因此一定不小于直线距离
func (r *Router) NearestFeatureByWalkingDistance(ctx context.Context, category string, lat, lon float64, limit int, searchRadiusMeters float64) (*NearestWalkingResult, error) {
	if limit <= 0 {
		limit = r.opts.DefaultWalkingLimit
	}
	if searchRadiusMeters <= 0 || math.IsNaN(searchRadiusMeters) {
		searchRadiusMeters = r.opts.DefaultSearchRadius
	}
	start, startSnap, err := r.snap(lat, lon)
	if err != nil {
		return nil, err
	}

	res := &NearestWalkingResult{
		Category: category,
		Origin:   model.Point{Lat: lat, Lon: lon},
		Items:    []WalkingHit{},
		Path:     []model.Point{},
	}
	candidates := r.features.NearestFeatures(category, lat, lon, 2*limit, searchRadiusMeters)
	res.Shortlisted = len(candidates)
	if len(candidates) == 0 {
		return res, nil
	}

	sp, err := r.graph.Dijkstra(ctx, start.ID, -1)
	if err != nil {
		return nil, err
	}

	type scored struct {
		hit  WalkingHit
		node int
	}
	var reachable []scored
	for _, c := range candidates {
		node, snapMeters, ok := r.graph.FindNearestNode(c.Lat, c.Lon)
		if !ok || !sp.Reachable(node.ID) {
			continue
		}
		walk := startSnap + sp.Dist[node.ID] + snapMeters
		detour := 1.0
		if c.DistanceMeters > 0 {
			detour = walk / c.DistanceMeters
		}
		reachable = append(reachable, scored{
			hit: WalkingHit{
				Name:               c.Name,
				Category:           c.Category,
				Lat:                c.Lat,
				Lon:                c.Lon,
				StraightLineMeters: c.DistanceMeters,
				DistanceMeters:     walk,
				WalkMinutes:        model.WalkMinutes(walk),
				DetourFactor:       detour,
			},
			node: node.ID,
		})
	}

	sort.SliceStable(reachable, func(i, j int) bool {
		if reachable[i].hit.DistanceMeters != reachable[j].hit.DistanceMeters {
			return reachable[i].hit.DistanceMeters < reachable[j].hit.DistanceMeters
		}
		return reachable[i].hit.Name < reachable[j].hit.Name
	})
	if len(reachable) > limit {
		reachable = reachable[:limit]
	}
	for _, s := range reachable {
		res.Items = append(res.Items, s.hit)
	}
	res.Count = len(res.Items)
	if len(reachable) > 0 {
		res.Path = r.graph.Coordinates(sampleEvenly(sp.PathTo(reachable[0].node), r.opts.PathSampleLimit))
	}
	return res, nil
}

// Isochrone 计算 maxMinutes 分钟步行可达的节点数和外圈边界点
func (r *Router) Isochrone(ctx context.Context, lat, lon, maxMinutes float64) (*IsochroneResult, error) {
	if math.IsNaN(maxMinutes) || math.IsInf(maxMinutes, 0) || maxMinutes < 0 {
		return nil, fmt.Errorf("%w: max minutes must be a non-negative number", ErrInvalidArgument)
	}
	start, _, err := r.snap(lat, lon)
	if err != nil {
		return nil, err
	}

	budget := maxMinutes * model.WalkSpeedMetersPerMinute
	sp, err := r.graph.DijkstraWithin(ctx, start.ID, budget)
	if err != nil {
		return nil, err
	}

	res := &IsochroneResult{
		Start:             start.Point(),
		MaxMinutes:        maxMinutes,
		MaxDistanceMeters: budget,
		BoundaryPoints:    []BoundaryPoint{},
	}
	band := r.opts.BoundaryBand * budget
	var boundary []int
	for id, d := range sp.Dist {
		if d > budget {
			continue
		}
		res.ReachableNodeCount++
		if d > band {
			boundary = append(boundary, id)
		}
	}
	for _, id := range sampleEvenly(boundary, r.opts.BoundarySampleLimit) {
		n := r.graph.Nodes[id]
		res.BoundaryPoints = append(res.BoundaryPoints, BoundaryPoint{
			Lat:            n.Lat,
			Lon:            n.Lon,
			DistanceMeters: sp.Dist[id],
			WalkMinutes:    model.WalkMinutes(sp.Dist[id]),
		})
	}
	return res, nil
}

// FeaturesAlongRoute 先规划路径，再找出距路径不超过 bufferMeters 的兴趣点
// 结果按经过的先后排序 (最近参考点的序号)，同一参考点内按距离排序
func (r *Router) FeaturesAlongRoute(ctx context.Context, startLat, startLon, endLat, endLon float64, category string, bufferMeters float64) (*AlongRouteResult, error) {
	if bufferMeters <= 0 || math.IsNaN(bufferMeters) {
		bufferMeters = r.opts.DefaultBufferMeters
	}
	route, err := r.Route(ctx, startLat, startLon, endLat, endLon)
	if err != nil {
		return nil, err
	}

	res := &AlongRouteResult{
		Category:     category,
		BufferMeters: bufferMeters,
		Route:        route,
		Items:        []CorridorHit{},
	}

	refs := r.graph.Coordinates(sampleEvenly(route.nodes, r.opts.CorridorSampleLimit))
	minLat, maxLat, minLon, maxLon := boundingBox(refs)
	// 缓冲距离换算为经纬度，经度方向按投影缩放
	proj := r.graph.Projection()
	padLat := bufferMeters / utils.MetersPerDegree
	padLon := bufferMeters / (utils.MetersPerDegree * proj.CosLat)
	candidates := r.features.FeaturesInBoundingBox(minLat-padLat, maxLat+padLat, minLon-padLon, maxLon+padLon, category)

	for _, f := range candidates {
		best, bestDist := -1, math.Inf(1)
		for i, p := range refs {
			d := proj.Distance(f.Lat, f.Lon, p.Lat, p.Lon)
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 || bestDist > bufferMeters {
			continue
		}
		res.Items = append(res.Items, CorridorHit{
			Name:           f.Name,
			Category:       f.Category,
			Lat:            f.Lat,
			Lon:            f.Lon,
			DistanceMeters: bestDist,
			RouteIndex:     best,
		})
	}
	sort.SliceStable(res.Items, func(i, j int) bool {
		a, b := res.Items[i], res.Items[j]
		if a.RouteIndex != b.RouteIndex {
			return a.RouteIndex < b.RouteIndex
		}
		if a.DistanceMeters != b.DistanceMeters {
			return a.DistanceMeters < b.DistanceMeters
		}
		return a.Name < b.Name
	})
	res.Count = len(res.Items)
	return res, nil
}

func boundingBox(points []model.Point) (minLat, maxLat, minLon, maxLon float64) {
	if len(points) == 0 {
		return 0, 0, 0, 0
	}
	minLat, maxLat = points[0].Lat, points[0].Lat
	minLon, maxLon = points[0].Lon, points[0].Lon
	for _, p := range points[1:] {
		minLat = math.Min(minLat, p.Lat)
		maxLat = math.Max(maxLat, p.Lat)
		minLon = math.Min(minLon, p.Lon)
		maxLon = math.Max(maxLon, p.Lon)
	}
	return
}

// sampleEvenly 均匀下采样到最多 limit 个元素，总是保留第一个和最后一个
func sampleEvenly[T any](items []T, limit int) []T {
	n := len(items)
	if n <= limit || limit <= 0 {
		return items
	}
	if limit == 1 {
		return items[:1]
	}
	out := make([]T, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, items[i*(n-1)/(limit-1)])
	}
	return out
}
