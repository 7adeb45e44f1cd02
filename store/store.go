// Package store 只读的兴趣点/地点索引，支持最近邻、半径、包围盒和名称查询
package store

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"walkable-city/model"
	"walkable-city/utils"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
)

// ErrInvalidFeature 兴趣点坐标无法建立索引
var ErrInvalidFeature = errors.New("invalid feature")

// DefaultTextSearchLimit 名称搜索默认返回的最大条数
const DefaultTextSearchLimit = 50

// 匹配来源
const (
	SourcePlace   = "place"
	SourceFeature = "feature"
)

// FeatureHit 带直线距离的兴趣点
type FeatureHit struct {
	model.Feature
	DistanceMeters float64 `json:"distanceMeters"`
}

// CountResult 单类别计数结果
type CountResult struct {
	Category     string      `json:"category"`
	Count        int         `json:"count"`
	Center       model.Point `json:"center"`
	RadiusMeters float64     `json:"radiusMeters"`
}

// CategoryCounts 多类别计数结果
type CategoryCounts struct {
	Counts       map[string]int `json:"counts"`
	Center       model.Point    `json:"center"`
	RadiusMeters float64        `json:"radiusMeters"`
}

// TextMatch 名称搜索命中
type TextMatch struct {
	Name     string  `json:"name"`
	Source   string  `json:"source"`
	Category string  `json:"category,omitempty"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

type featurePointer struct {
	idx int
	p   orb.Point
}

func (f featurePointer) Point() orb.Point { return f.p }

// Store 兴趣点与地点的只读索引
// 构建后不再修改，并发读取无需加锁
type Store struct {
	features   []model.Feature
	nameLower  []string
	places     []model.Place
	categories map[string]int
	proj       utils.Projection
	index      *quadtree.Quadtree
}

// New 构建索引，调用方需保证 features/places 已去重
func New(features []model.Feature, places []model.Place, proj utils.Projection) (*Store, error) {
	s := &Store{
		features:   features,
		nameLower:  make([]string, len(features)),
		places:     places,
		categories: make(map[string]int),
		proj:       proj,
	}
	for i, f := range features {
		s.nameLower[i] = strings.ToLower(f.Name)
		s.categories[f.Category]++
	}
	for i := range s.places {
		if s.places[i].NameLower == "" {
			s.places[i].NameLower = strings.ToLower(s.places[i].Name)
		}
	}
	if err := s.buildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) buildIndex() error {
	if len(s.features) == 0 {
		return nil
	}
	points := make([]orb.Point, len(s.features))
	var bound orb.Bound
	for i, f := range s.features {
		if !utils.ValidCoordinate(f.Lat, f.Lon) {
			return fmt.Errorf("%w: feature %d (%q) at %v,%v", ErrInvalidFeature, i, f.Name, f.Lat, f.Lon)
		}
		points[i] = s.proj.Project(f.Lat, f.Lon)
		if i == 0 {
			bound = points[i].Bound()
		} else {
			bound = bound.Extend(points[i])
		}
	}
	s.index = quadtree.New(bound.Pad(1))
	for i, p := range points {
		if err := s.index.Add(featurePointer{idx: i, p: p}); err != nil {
			return fmt.Errorf("%w: index feature %d: %v", ErrInvalidFeature, i, err)
		}
	}
	return nil
}

// Features 全部兴趣点
func (s *Store) Features() []model.Feature { return s.features }

// Places 全部地点
func (s *Store) Places() []model.Place { return s.places }

// Projection 直线距离使用的投影
func (s *Store) Projection() utils.Projection { return s.proj }

// Categories 已加载的类别 (按名称排序)
func (s *Store) Categories() []string {
	out := make([]string, 0, len(s.categories))
	for c := range s.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *Store) categoryFilter(category string) quadtree.FilterFunc {
	return func(p orb.Pointer) bool {
		return category == "" || s.features[p.(featurePointer).idx].Category == category
	}
}

// NearestFeatures 按直线距离升序返回最多 limit 个指定类别的兴趣点
// radiusMeters > 0 时排除半径之外的结果；没有结果时返回空切片而不是错误
func (s *Store) NearestFeatures(category string, lat, lon float64, limit int, radiusMeters float64) []FeatureHit {
	hits := []FeatureHit{}
	if s.index == nil || limit <= 0 || s.categories[category] == 0 {
		return hits
	}
	center := s.proj.Project(lat, lon)
	var found []orb.Pointer
	if radiusMeters > 0 {
		found = s.index.KNearestMatching(nil, center, limit, s.categoryFilter(category), radiusMeters)
	} else {
		found = s.index.KNearestMatching(nil, center, limit, s.categoryFilter(category))
	}
	for _, p := range found {
		fp := p.(featurePointer)
		d := planar.Distance(center, fp.p)
		if radiusMeters > 0 && d > radiusMeters {
			continue
		}
		hits = append(hits, FeatureHit{Feature: s.features[fp.idx], DistanceMeters: d})
	}
	sortHits(hits)
	return hits
}

// withinRadius 返回半径内 (含边界) 满足过滤条件的兴趣点下标
func (s *Store) withinRadius(lat, lon, radiusMeters float64, filter quadtree.FilterFunc) []int {
	if s.index == nil || radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return nil
	}
	center := s.proj.Project(lat, lon)
	box := center.Bound().Pad(radiusMeters)
	var out []int
	for _, p := range s.index.InBoundMatching(nil, box, filter) {
		fp := p.(featurePointer)
		if planar.Distance(center, fp.p) <= radiusMeters {
			out = append(out, fp.idx)
		}
	}
	return out
}

// CountFeatures 统计半径内指定类别的兴趣点总数 (不受结果条数上限影响)
func (s *Store) CountFeatures(category string, lat, lon, radiusMeters float64) CountResult {
	res := CountResult{
		Category:     category,
		Center:       model.Point{Lat: lat, Lon: lon},
		RadiusMeters: radiusMeters,
	}
	if s.categories[category] == 0 {
		return res
	}
	res.Count = len(s.withinRadius(lat, lon, radiusMeters, s.categoryFilter(category)))
	return res
}

// CountFeaturesByCategories 一次扫描统计多个类别，请求的类别一定出现在结果中
func (s *Store) CountFeaturesByCategories(categories []string, lat, lon, radiusMeters float64) CategoryCounts {
	res := CategoryCounts{
		Counts:       make(map[string]int, len(categories)),
		Center:       model.Point{Lat: lat, Lon: lon},
		RadiusMeters: radiusMeters,
	}
	wanted := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		res.Counts[c] = 0
		wanted[c] = struct{}{}
	}
	filter := func(p orb.Pointer) bool {
		_, ok := wanted[s.features[p.(featurePointer).idx].Category]
		return ok
	}
	for _, idx := range s.withinRadius(lat, lon, radiusMeters, filter) {
		res.Counts[s.features[idx].Category]++
	}
	return res
}

// FeaturesInBoundingBox 返回包围盒内的兴趣点，category 为空表示不限类别
func (s *Store) FeaturesInBoundingBox(minLat, maxLat, minLon, maxLon float64, category string) []model.Feature {
	out := []model.Feature{}
	if s.index == nil || minLat > maxLat || minLon > maxLon {
		return out
	}
	box := orb.Bound{
		Min: s.proj.Project(minLat, minLon),
		Max: s.proj.Project(maxLat, maxLon),
	}
	found := s.index.InBoundMatching(nil, box, s.categoryFilter(category))
	idx := make([]int, 0, len(found))
	for _, p := range found {
		idx = append(idx, p.(featurePointer).idx)
	}
	// quadtree 的返回顺序不稳定，按加载顺序输出
	sort.Ints(idx)
	for _, i := range idx {
		out = append(out, s.features[i])
	}
	return out
}

// FeaturesByName 名称包含 text (不区分大小写) 的兴趣点，按加载顺序最多返回 limit 条
func (s *Store) FeaturesByName(text string, limit int) []model.Feature {
	needle := strings.ToLower(strings.TrimSpace(text))
	out := []model.Feature{}
	if needle == "" {
		return out
	}
	if limit <= 0 {
		limit = DefaultTextSearchLimit
	}
	for i, name := range s.nameLower {
		if name != "" && strings.Contains(name, needle) {
			out = append(out, s.features[i])
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// SearchPlacesOrFeaturesByText 名称子串搜索: 优先地点，其次兴趣点名称
func (s *Store) SearchPlacesOrFeaturesByText(text string, limit int) []TextMatch {
	needle := strings.ToLower(strings.TrimSpace(text))
	out := []TextMatch{}
	if needle == "" {
		return out
	}
	if limit <= 0 {
		limit = DefaultTextSearchLimit
	}
	for _, p := range s.places {
		if strings.Contains(p.NameLower, needle) {
			out = append(out, TextMatch{Name: p.Name, Source: SourcePlace, Category: p.PlaceType, Lat: p.Lat, Lon: p.Lon})
			if len(out) >= limit {
				return out
			}
		}
	}
	for _, f := range s.FeaturesByName(needle, limit-len(out)) {
		out = append(out, TextMatch{Name: f.Name, Source: SourceFeature, Category: f.Category, Lat: f.Lat, Lon: f.Lon})
	}
	return out
}

func sortHits(hits []FeatureHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].DistanceMeters != hits[j].DistanceMeters {
			return hits[i].DistanceMeters < hits[j].DistanceMeters
		}
		return hits[i].Name < hits[j].Name
	})
}
