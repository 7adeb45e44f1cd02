package model

// LocationConfig 对应 config.json: 地点的元数据
type LocationConfig struct {
	Slug   string    `json:"slug"`
	Name   string    `json:"name"`
	Center Point     `json:"center"`
	Bounds []float64 `json:"bounds,omitempty"` // minLat, minLon, maxLat, maxLon
	Nodes  int       `json:"nodes"`
	Edges  int       `json:"edges"`
	POIs   int       `json:"pois"`
	Places int       `json:"places"`
}

// Bundle 一个地点的完整数据包，由加载器产生，构建完成后即丢弃
type Bundle struct {
	Config   LocationConfig
	Graph    GraphData
	Mappings Mappings
	Nodes    []NodeRecord
	Features []Feature
	Places   []Place
}
