package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"walkable-city/query"
	"walkable-city/store"

	"github.com/gin-gonic/gin"
)

// executeJSON 按菜单定义解析请求体并直接执行操作
func (a *API) executeJSON(op query.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "读取请求失败"})
			return
		}
		req, err := query.Decode(string(op), raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
			return
		}
		res := a.queries.Execute(c.Request.Context(), req)
		c.JSON(statusFor(res), res)
	}
}

// FindRoute 两点之间的步行路径
func (a *API) FindRoute(c *gin.Context) { a.executeJSON(query.OpComputeRoute)(c) }

// Isochrone 步行等时圈
func (a *API) Isochrone(c *gin.Context) { a.executeJSON(query.OpComputeIsochrone)(c) }

// AlongRoute 路线沿途的兴趣点
func (a *API) AlongRoute(c *gin.Context) { a.executeJSON(query.OpFeaturesAlongRoute)(c) }

// floatParam 读取数值型查询参数，缺省时返回 fallback
func floatParam(c *gin.Context, name string, required bool, fallback float64) (float64, error) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		if required {
			return 0, fmt.Errorf("缺少参数 %s", name)
		}
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("参数 %s 不是数字", name)
	}
	return f, nil
}

func intParam(c *gin.Context, name string) (int, error) {
	v, ok := c.GetQuery(name)
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("参数 %s 不是整数", name)
	}
	return n, nil
}

type point struct{ lat, lon float64 }

func pointParams(c *gin.Context) (point, error) {
	lat, err := floatParam(c, "lat", true, 0)
	if err != nil {
		return point{}, err
	}
	lon, err := floatParam(c, "lon", true, 0)
	if err != nil {
		return point{}, err
	}
	return point{lat, lon}, nil
}

func (a *API) execute(c *gin.Context, req query.Request) {
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	res := a.queries.Execute(c.Request.Context(), req)
	c.JSON(statusFor(res), res)
}

// NearestFeatures 附近的兴趣点，walking=true 时按步行距离排序
func (a *API) NearestFeatures(c *gin.Context) {
	p, err := pointParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	radius, err := floatParam(c, "radius_m", false, 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category := c.Query("category")

	if walking, _ := strconv.ParseBool(c.DefaultQuery("walking", "false")); walking {
		a.execute(c, query.NearestByWalkingRequest{
			Category: category, Lat: p.lat, Lon: p.lon, Limit: limit, SearchRadiusMeters: radius,
		})
		return
	}
	a.execute(c, query.ListNearbyRequest{
		Category: category, Lat: p.lat, Lon: p.lon, RadiusMeters: radius, Limit: limit,
	})
}

// CountFeatures 半径内的兴趣点数量，categories 以逗号分隔
func (a *API) CountFeatures(c *gin.Context) {
	p, err := pointParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	radius, err := floatParam(c, "radius_m", false, 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := query.CountFeaturesRequest{Category: c.Query("category"), Lat: p.lat, Lon: p.lon, RadiusMeters: radius}
	if v := c.Query("categories"); v != "" {
		for _, s := range strings.Split(v, ",") {
			req.Categories = append(req.Categories, strings.TrimSpace(s))
		}
	}
	a.execute(c, req)
}

// Geocode 单个地名的坐标
func (a *API) Geocode(c *gin.Context) {
	a.execute(c, query.GeocodeLookupRequest{PlaceName: c.Query("name")})
}

// SearchPlaces 搜索地点和兴趣点 (名称模糊匹配)
func (a *API) SearchPlaces(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少搜索关键词"})
		return
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if limit <= 0 {
		limit = store.DefaultTextSearchLimit
	}

	state, err := a.locations.Current()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "地图数据未加载"})
		return
	}
	results := state.Store.SearchPlacesOrFeaturesByText(q, limit)
	c.JSON(http.StatusOK, gin.H{
		"query":   q,
		"count":   len(results),
		"results": results,
	})
}
