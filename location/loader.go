// Package location 加载地点数据包并管理当前生效的地点
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"walkable-city/algo"
	"walkable-city/model"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

var (
	// ErrLocationNotFound 地点目录或记录不存在
	ErrLocationNotFound = errors.New("location not found")
	// ErrGraphNotFound 地点存在但缺少路网数据
	ErrGraphNotFound = errors.New("graph not found")
	// ErrCorruptGraphData 路网数据无法解析或不满足约束
	ErrCorruptGraphData = algo.ErrCorruptGraph
	// ErrTooLarge 超过节点/边数量上限
	ErrTooLarge = errors.New("location exceeds size limits")
	// ErrNoLocationLoaded 尚未加载任何地点
	ErrNoLocationLoaded = errors.New("no location loaded")
)

// 数据包中的文件名
const (
	configFile   = "config.json"
	graphFile    = "graph.json"
	mappingsFile = "mappings.json"
	nodesFile    = "nodes.json"
	featuresFile = "features.geojson"
	placesFile   = "places.json"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidSlug 地点标识只允许小写字母、数字、下划线和连字符
func ValidSlug(slug string) bool { return slugPattern.MatchString(slug) }

// Loader 读取一个地点的完整数据包
type Loader interface {
	Load(ctx context.Context, slug string) (*model.Bundle, error)
	List(ctx context.Context) ([]model.LocationConfig, error)
}

// FileLoader 从 <Root>/<slug>/ 目录读取数据包
type FileLoader struct {
	Root string
}

// NewFileLoader 创建文件加载器
func NewFileLoader(root string) *FileLoader {
	return &FileLoader{Root: root}
}

// List 扫描所有包含 config.json 的子目录，无法解析的目录直接跳过
func (l *FileLoader) List(ctx context.Context) ([]model.LocationConfig, error) {
	matches, err := filepath.Glob(filepath.Join(l.Root, "*", configFile))
	if err != nil {
		return nil, err
	}
	out := make([]model.LocationConfig, 0, len(matches))
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var cfg model.LocationConfig
		if err := readJSON(path, &cfg); err != nil {
			continue
		}
		if cfg.Slug == "" {
			cfg.Slug = filepath.Base(filepath.Dir(path))
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Load 读取数据包
// 目录不存在 -> ErrLocationNotFound；路网文件缺失 -> ErrGraphNotFound；内容无法解析 -> ErrCorruptGraphData
// config.json、features.geojson、places.json 都是可选的
func (l *FileLoader) Load(ctx context.Context, slug string) (*model.Bundle, error) {
	if !ValidSlug(slug) {
		return nil, fmt.Errorf("%w: %q", ErrLocationNotFound, slug)
	}
	dir := filepath.Join(l.Root, slug)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, dir)
	}

	b := &model.Bundle{Config: model.LocationConfig{Slug: slug, Name: slug}}
	if err := readOptionalJSON(filepath.Join(dir, configFile), &b.Config); err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", configFile, err)
	}
	b.Config.Slug = slug

	for _, f := range []struct {
		name string
		dst  any
	}{
		{graphFile, &b.Graph},
		{mappingsFile, &b.Mappings},
		{nodesFile, &b.Nodes},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readJSON(filepath.Join(dir, f.name), f.dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s/%s", ErrGraphNotFound, slug, f.name)
			}
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrCorruptGraphData, slug, f.name, err)
		}
	}

	features, err := readFeatures(filepath.Join(dir, featuresFile))
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", featuresFile, err)
	}
	b.Features = features

	if err := readOptionalJSON(filepath.Join(dir, placesFile), &b.Places); err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", placesFile, err)
	}
	return b, nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func readOptionalJSON(path string, dst any) error {
	err := readJSON(path, dst)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// readFeatures 解析 features.geojson
// 属性 tag_key/tag_value 对应 Kind/Category，非点要素取面积质心
func readFeatures(path string) ([]model.Feature, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	return FeaturesFromGeoJSON(fc), nil
}

// FeaturesFromGeoJSON 把 GeoJSON 要素转换为兴趣点，缺少类别或几何的要素被忽略
func FeaturesFromGeoJSON(fc *geojson.FeatureCollection) []model.Feature {
	out := make([]model.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		category := f.Properties.MustString("tag_value", "")
		if category == "" {
			continue
		}
		c, _ := planar.CentroidArea(f.Geometry)
		out = append(out, model.Feature{
			Name:     f.Properties.MustString("name", ""),
			Kind:     f.Properties.MustString("tag_key", ""),
			Category: category,
			Lat:      c.Lat(),
			Lon:      c.Lon(),
		})
	}
	return out
}
