package db

import (
	"time"

	"github.com/lib/pq"
)

// LocationRow 地点目录
type LocationRow struct {
	Slug       string          `gorm:"primaryKey;size:64"`
	Name       string          `gorm:"not null"`
	CenterLat  float64         `gorm:"not null"`
	CenterLon  float64         `gorm:"not null"`
	Bounds     pq.Float64Array `gorm:"type:double precision[]"` // minLat, minLon, maxLat, maxLon
	Categories pq.StringArray  `gorm:"type:text[]"`             // 已加载的兴趣点类别
	Nodes      int
	Edges      int
	POIs       int
	Places     int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (LocationRow) TableName() string { return "locations" }

// NodeRow 路网节点，(location_slug, internal_id) 唯一
type NodeRow struct {
	LocationSlug string  `gorm:"primaryKey;size:64"`
	InternalID   int     `gorm:"primaryKey;autoIncrement:false"`
	ExternalID   int64   `gorm:"not null"`
	Lat          float64 `gorm:"not null"`
	Lon          float64 `gorm:"not null"`
}

func (NodeRow) TableName() string { return "graph_nodes" }

// EdgeRow 无向路段
type EdgeRow struct {
	ID           uint    `gorm:"primaryKey"`
	LocationSlug string  `gorm:"index;size:64;not null"`
	U            int     `gorm:"not null"`
	V            int     `gorm:"not null"`
	Weight       float64 `gorm:"not null"`
}

func (EdgeRow) TableName() string { return "graph_edges" }

// FeatureRow 兴趣点
type FeatureRow struct {
	ID           uint   `gorm:"primaryKey"`
	LocationSlug string `gorm:"index:idx_feature_slug_category;size:64;not null"`
	Name         string
	Kind         string  `gorm:"size:64"`
	Category     string  `gorm:"index:idx_feature_slug_category;size:64;not null"`
	Lat          float64 `gorm:"not null"`
	Lon          float64 `gorm:"not null"`
}

func (FeatureRow) TableName() string { return "features" }

// PlaceRow 具名区域
type PlaceRow struct {
	ID           uint    `gorm:"primaryKey"`
	LocationSlug string  `gorm:"index;size:64;not null"`
	Name         string  `gorm:"not null"`
	Lat          float64 `gorm:"not null"`
	Lon          float64 `gorm:"not null"`
	PlaceType    string  `gorm:"size:64"`
}

func (PlaceRow) TableName() string { return "places" }
