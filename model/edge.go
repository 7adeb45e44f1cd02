package model

// Edge 对应两个节点之间的一条无向步行路段
type Edge struct {
	U      int     `json:"u"`
	V      int     `json:"v"`
	Weight float64 `json:"w"` // 路段长度 (米), 必须 >= 0
}

// 步行速度: 5 km/h ≈ 83.33 米/分钟，全系统统一使用
const WalkSpeedMetersPerMinute = 83.33

// WalkMinutes 按固定步行速度把距离换算为分钟
func WalkMinutes(distanceMeters float64) float64 {
	return distanceMeters / WalkSpeedMetersPerMinute
}

// GraphData 用于解析 graph.json: 内部紧凑编号的带权无向图
type GraphData struct {
	NodeCount int    `json:"node_count"`
	Edges     []Edge `json:"edges"`
}

// Mappings 用于解析 mappings.json: 内部编号 <-> 外部稳定编号
// JSON 的 key 只能是字符串，加载时再转换为整数
type Mappings struct {
	InternalToExternal map[string]int64 `json:"internal_to_external"`
}
