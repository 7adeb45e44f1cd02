package model

import (
	"fmt"
	"math"
	"strings"
)

// Feature 兴趣点 (医院、学校、药店等)
// Kind 为标签键 (如 "amenity")，Category 为标签值 (如 "hospital")，加载时确定，查询时不再推断
type Feature struct {
	Name     string  `json:"name,omitempty"`
	Kind     string  `json:"kind"`
	Category string  `json:"category"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// Place 具名区域 (街区、郊区、地方)，只用于把文本解析为坐标
type Place struct {
	Name      string  `json:"name"`
	NameLower string  `json:"name_lower"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	PlaceType string  `json:"place_type"`
}

// DedupKey 去重键: 名称 + 4 位小数坐标 (~11 米) + 类别
func (f Feature) DedupKey() string {
	return dedupKey(f.Name, f.Lat, f.Lon, f.Category)
}

// DedupKey 去重键: 名称 + 4 位小数坐标 + 地点类型
func (p Place) DedupKey() string {
	return dedupKey(p.Name, p.Lat, p.Lon, p.PlaceType)
}

func dedupKey(name string, lat, lon float64, category string) string {
	return fmt.Sprintf("%s|%.4f|%.4f|%s",
		strings.ToLower(strings.TrimSpace(name)), round4(lat), round4(lon), category)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// DedupFeatures 去除重复的兴趣点，保留首次出现的记录
func DedupFeatures(features []Feature) []Feature {
	seen := make(map[string]struct{}, len(features))
	out := make([]Feature, 0, len(features))
	for _, f := range features {
		k := f.DedupKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}

// DedupPlaces 去除重复的地点，并补全 NameLower
func DedupPlaces(places []Place) []Place {
	seen := make(map[string]struct{}, len(places))
	out := make([]Place, 0, len(places))
	for _, p := range places {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		k := p.DedupKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		p.NameLower = strings.ToLower(p.Name)
		out = append(out, p)
	}
	return out
}
