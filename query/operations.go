package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Operation 操作名称 (固定菜单)
type Operation string

const (
	OpGeocodeLookup      Operation = "geocode_lookup"
	OpListNearbyFeatures Operation = "list_nearby_features"
	OpCountFeatures      Operation = "count_features"
	OpNearestByWalking   Operation = "nearest_feature_by_walking"
	OpComputeRoute       Operation = "compute_route"
	OpComputeIsochrone   Operation = "compute_isochrone"
	OpFeaturesAlongRoute Operation = "features_along_route"
)

var (
	// ErrUnknownOperation 操作不在菜单中
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrInvalidArguments 参数不符合操作的参数定义
	ErrInvalidArguments = errors.New("invalid arguments")
)

// 默认值与上限
const (
	DefaultListRadiusMeters = 1000
	DefaultListLimit        = 20
	MaxListLimit            = 200
	MaxWalkingLimit         = 20
	MaxIsochroneMinutes     = 240
	MaxRadiusMeters         = 50000
)

// Request 一个类型化的操作请求
type Request interface {
	Operation() Operation
	Validate() error
}

// GeocodeLookupRequest 查询单个地名的坐标
type GeocodeLookupRequest struct {
	PlaceName string `json:"place_name"`
}

// ListNearbyRequest 列出附近的某类兴趣点 (按直线距离)
type ListNearbyRequest struct {
	Category     string  `json:"category"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	RadiusMeters float64 `json:"radius_m,omitempty"`
	Limit        int     `json:"limit,omitempty"`
}

// CountFeaturesRequest 统计半径内的兴趣点数量，category 与 categories 二选一
type CountFeaturesRequest struct {
	Category     string   `json:"category,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	RadiusMeters float64  `json:"radius_m,omitempty"`
}

// NearestByWalkingRequest 按步行距离查找最近的兴趣点
type NearestByWalkingRequest struct {
	Category           string  `json:"category"`
	Lat                float64 `json:"lat"`
	Lon                float64 `json:"lon"`
	Limit              int     `json:"limit,omitempty"`
	SearchRadiusMeters float64 `json:"search_radius_m,omitempty"`
}

// RouteRequest 两点之间的步行路径
type RouteRequest struct {
	StartLat float64 `json:"start_lat"`
	StartLon float64 `json:"start_lon"`
	EndLat   float64 `json:"end_lat"`
	EndLon   float64 `json:"end_lon"`
}

// IsochroneRequest 步行等时圈
type IsochroneRequest struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	MaxMinutes float64 `json:"max_minutes"`
}

// AlongRouteRequest 路线沿途的兴趣点
type AlongRouteRequest struct {
	StartLat     float64 `json:"start_lat"`
	StartLon     float64 `json:"start_lon"`
	EndLat       float64 `json:"end_lat"`
	EndLon       float64 `json:"end_lon"`
	Category     string  `json:"category,omitempty"`
	BufferMeters float64 `json:"buffer_m,omitempty"`
}

func (GeocodeLookupRequest) Operation() Operation    { return OpGeocodeLookup }
func (ListNearbyRequest) Operation() Operation       { return OpListNearbyFeatures }
func (CountFeaturesRequest) Operation() Operation    { return OpCountFeatures }
func (NearestByWalkingRequest) Operation() Operation { return OpNearestByWalking }
func (RouteRequest) Operation() Operation            { return OpComputeRoute }
func (IsochroneRequest) Operation() Operation        { return OpComputeIsochrone }
func (AlongRouteRequest) Operation() Operation       { return OpFeaturesAlongRoute }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArguments, fmt.Sprintf(format, args...))
}

func finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid("%s must be a finite number", name)
	}
	return nil
}

func checkFinite(values map[string]float64) error {
	for name, v := range values {
		if err := finite(name, v); err != nil {
			return err
		}
	}
	return nil
}

func checkRadius(name string, v float64) error {
	if v < 0 || v > MaxRadiusMeters {
		return invalid("%s must be between 0 and %d", name, MaxRadiusMeters)
	}
	return nil
}

func (r GeocodeLookupRequest) Validate() error {
	if strings.TrimSpace(r.PlaceName) == "" {
		return invalid("place_name is required")
	}
	return nil
}

func (r ListNearbyRequest) Validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return invalid("category is required")
	}
	if err := checkFinite(map[string]float64{"lat": r.Lat, "lon": r.Lon, "radius_m": r.RadiusMeters}); err != nil {
		return err
	}
	if r.Limit < 0 || r.Limit > MaxListLimit {
		return invalid("limit must be between 0 and %d", MaxListLimit)
	}
	return checkRadius("radius_m", r.RadiusMeters)
}

func (r CountFeaturesRequest) Validate() error {
	hasOne := strings.TrimSpace(r.Category) != ""
	if hasOne == (len(r.Categories) > 0) {
		return invalid("exactly one of category or categories is required")
	}
	for _, c := range r.Categories {
		if strings.TrimSpace(c) == "" {
			return invalid("categories must not contain empty names")
		}
	}
	if err := checkFinite(map[string]float64{"lat": r.Lat, "lon": r.Lon, "radius_m": r.RadiusMeters}); err != nil {
		return err
	}
	return checkRadius("radius_m", r.RadiusMeters)
}

func (r NearestByWalkingRequest) Validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return invalid("category is required")
	}
	if err := checkFinite(map[string]float64{"lat": r.Lat, "lon": r.Lon, "search_radius_m": r.SearchRadiusMeters}); err != nil {
		return err
	}
	if r.Limit < 0 || r.Limit > MaxWalkingLimit {
		return invalid("limit must be between 0 and %d", MaxWalkingLimit)
	}
	return checkRadius("search_radius_m", r.SearchRadiusMeters)
}

func (r RouteRequest) Validate() error {
	return checkFinite(map[string]float64{
		"start_lat": r.StartLat, "start_lon": r.StartLon, "end_lat": r.EndLat, "end_lon": r.EndLon,
	})
}

func (r IsochroneRequest) Validate() error {
	if err := checkFinite(map[string]float64{"lat": r.Lat, "lon": r.Lon, "max_minutes": r.MaxMinutes}); err != nil {
		return err
	}
	if r.MaxMinutes < 0 || r.MaxMinutes > MaxIsochroneMinutes {
		return invalid("max_minutes must be between 0 and %d", MaxIsochroneMinutes)
	}
	return nil
}

func (r AlongRouteRequest) Validate() error {
	if err := checkFinite(map[string]float64{
		"start_lat": r.StartLat, "start_lon": r.StartLon, "end_lat": r.EndLat, "end_lon": r.EndLon, "buffer_m": r.BufferMeters,
	}); err != nil {
		return err
	}
	return checkRadius("buffer_m", r.BufferMeters)
}

// Decode 按菜单定义解析选择器返回的参数
// 未知操作、缺少必填参数、多余参数、类型不符或取值非法都视为格式错误
func Decode(name string, args json.RawMessage) (Request, error) {
	spec, ok := Lookup(Operation(name))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(args, &present); err != nil {
		return nil, invalid("arguments must be a JSON object: %v", err)
	}
	for _, p := range spec.Params {
		if p.Required {
			if v, ok := present[p.Name]; !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				return nil, invalid("%s: missing required argument %q", name, p.Name)
			}
		}
	}

	req := spec.new()
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, invalid("%s: %v", name, err)
	}
	r := deref(req)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// deref 解码目标是指针，菜单和分发使用值类型
func deref(v any) Request {
	switch r := v.(type) {
	case *GeocodeLookupRequest:
		return *r
	case *ListNearbyRequest:
		return *r
	case *CountFeaturesRequest:
		return *r
	case *NearestByWalkingRequest:
		return *r
	case *RouteRequest:
		return *r
	case *IsochroneRequest:
		return *r
	case *AlongRouteRequest:
		return *r
	}
	panic(fmt.Sprintf("query: unexpected request type %T", v))
}
