package utils

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// MetersPerDegree 纬度每度对应的米数 (城市尺度近似值)
const MetersPerDegree = 111000.0

// DegreesToRadians 角度转弧度
func DegreesToRadians(d float64) float64 {
	return d * math.Pi / 180.0
}

// Projection 等距圆柱投影 (Equirectangular)
// 纬度方向每度 111000 米，经度方向按参考纬度的余弦缩放；城市范围内误差可以忽略
// 只用于直线距离，不能用于步行时间的判断 (步行距离必须走路网)
type Projection struct {
	RefLat float64
	CosLat float64
}

// NewProjection 以参考纬度 (通常是地点中心) 创建投影
func NewProjection(refLat float64) Projection {
	c := math.Cos(DegreesToRadians(refLat))
	if c <= 0 {
		c = 1
	}
	return Projection{RefLat: refLat, CosLat: c}
}

// Project 经纬度 -> 平面坐标 (米)
func (p Projection) Project(lat, lon float64) orb.Point {
	return orb.Point{lon * p.CosLat * MetersPerDegree, lat * MetersPerDegree}
}

// Unproject 平面坐标 (米) -> 经纬度
func (p Projection) Unproject(pt orb.Point) (lat, lon float64) {
	return pt.Y() / MetersPerDegree, pt.X() / (p.CosLat * MetersPerDegree)
}

// Distance 两点之间的直线距离 (米)
func (p Projection) Distance(lat1, lon1, lat2, lon2 float64) float64 {
	return planar.Distance(p.Project(lat1, lon1), p.Project(lat2, lon2))
}

// ValidCoordinate 判断经纬度是否在合法范围内
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
