package model

// Point 代表一个经纬度点 (WGS84)
type Point struct {
	Lat float64 `json:"lat"` // 纬度
	Lon float64 `json:"lon"` // 经度
}

// Node 对应路网中的一个路口/节点
// ID 为加载后的紧凑内部编号 (0..N-1)，ExternalID 为数据源中的稳定编号
type Node struct {
	ID         int     `json:"id"`
	ExternalID int64   `json:"external_id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Point 返回节点坐标
func (n Node) Point() Point {
	return Point{Lat: n.Lat, Lon: n.Lon}
}

// NodeRecord 对应 nodes.json 中的一行 (外部编号 -> 坐标)
type NodeRecord struct {
	ID  int64   `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
