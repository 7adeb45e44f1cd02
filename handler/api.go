// Package handler HTTP 接口 (gin)
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"walkable-city/location"
	"walkable-city/model"
	"walkable-city/query"

	"github.com/gin-gonic/gin"
)

// Queries 查询编排，由 query.Orchestrator 实现
type Queries interface {
	Run(ctx context.Context, text string) query.QueryResult
	Execute(ctx context.Context, req query.Request) query.QueryResult
}

// Locations 地点管理，由 location.Manager 实现
type Locations interface {
	Current() (*location.State, error)
	Switch(ctx context.Context, slug string) (*location.State, error)
	List(ctx context.Context) ([]model.LocationConfig, error)
	Health() location.Health
}

// SelectorHealth 选择器服务在线检查，由 selector.Client 实现
type SelectorHealth interface {
	Health(ctx context.Context) bool
}

// DatabasePinger 数据库连通性检查，由 db.Loader 实现
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// API 所有接口共享的依赖
type API struct {
	queries   Queries
	locations Locations
	auth      *Auth
	logger    *slog.Logger

	selector SelectorHealth
	database DatabasePinger
}

// NewAPI 创建接口集合
func NewAPI(queries Queries, locations Locations, auth *Auth, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{queries: queries, locations: locations, auth: auth, logger: logger}
}

// WithHealth 设置健康检查的依赖，任一为 nil 时对应项报告离线
func (a *API) WithHealth(selector SelectorHealth, database DatabasePinger) *API {
	a.selector = selector
	a.database = database
	return a
}

// statusFor 把查询失败类型映射为 HTTP 状态码，响应体始终是完整的 QueryResult
func statusFor(res query.QueryResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case query.KindSelectorMalformed:
		return http.StatusBadRequest
	case query.KindLocationNotFound, query.KindGraphNotFound:
		return http.StatusNotFound
	case query.KindNoLocationLoaded:
		return http.StatusServiceUnavailable
	case query.KindSelectorUnavailable:
		return http.StatusBadGateway
	case query.KindTimeout:
		return http.StatusGatewayTimeout
	case query.KindExecutionFailed, query.KindCorruptGraphData:
		return http.StatusInternalServerError
	}
	// 无路径、无起点属于正常的失败结果
	return http.StatusOK
}

// QueryRequest 自然语言查询
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// Query 处理自然语言查询
func (a *API) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	res := a.queries.Run(c.Request.Context(), req.Query)
	c.JSON(statusFor(res), res)
}

// Operations 返回操作菜单 (附带当前地点的类别)
func (a *API) Operations(c *gin.Context) {
	menu := query.Menu{Operations: query.Operations(), Categories: []string{}}
	if state, err := a.locations.Current(); err == nil {
		menu = query.MenuFor(state)
	}
	c.JSON(http.StatusOK, menu)
}

// ListLocations 可用地点目录
func (a *API) ListLocations(c *gin.Context) {
	list, err := a.locations.List(c.Request.Context())
	if err != nil {
		a.logger.Error("list_locations_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取地点目录失败"})
		return
	}
	current := a.locations.Health().Slug
	c.JSON(http.StatusOK, gin.H{
		"count":     len(list),
		"current":   current,
		"locations": list,
	})
}

// CurrentLocation 当前地点概要
func (a *API) CurrentLocation(c *gin.Context) {
	h := a.locations.Health()
	if !h.Loaded {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "地图数据未加载", "loaded": false})
		return
	}
	c.JSON(http.StatusOK, h)
}

// ActivateLocation 切换当前地点 (需要认证)
func (a *API) ActivateLocation(c *gin.Context) {
	slug := c.Param("slug")
	state, err := a.locations.Switch(c.Request.Context(), slug)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, location.ErrLocationNotFound), errors.Is(err, location.ErrGraphNotFound):
			status = http.StatusNotFound
		case errors.Is(err, location.ErrCorruptGraphData), errors.Is(err, location.ErrTooLarge):
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{
			"error":   err.Error(),
			"current": a.locations.Health().Slug,
		})
		return
	}
	a.logger.Info("location_activated", "slug", state.Slug(), "user", c.GetString("username"))
	c.JSON(http.StatusOK, a.locations.Health())
}

// HealthResponse 健康检查结果
type HealthResponse struct {
	Message            string          `json:"message"`
	Status             string          `json:"status"`
	LLMServer          string          `json:"llm_server"`
	LocationsAvailable int             `json:"locations_available"`
	CurrentLocation    string          `json:"current_location"`
	DatabaseConnected  bool            `json:"database_connected"`
	Location           location.Health `json:"location"`
}

// Ping 健康检查: 选择器服务、地点目录、当前地点和数据库
// 各项检查失败不影响状态码
func (a *API) Ping(c *gin.Context) {
	ctx := c.Request.Context()
	h := a.locations.Health()
	res := HealthResponse{
		Message:         "pong",
		Status:          "ok",
		LLMServer:       "offline",
		CurrentLocation: h.Slug,
		Location:        h,
	}
	if a.selector != nil && a.selector.Health(ctx) {
		res.LLMServer = "online"
	}
	if list, err := a.locations.List(ctx); err != nil {
		a.logger.Warn("health_list_locations_failed", "error", err)
	} else {
		res.LocationsAvailable = len(list)
	}
	if a.database != nil {
		if err := a.database.Ping(ctx); err != nil {
			a.logger.Warn("health_database_unreachable", "error", err)
		} else {
			res.DatabaseConnected = true
		}
	}
	c.JSON(http.StatusOK, res)
}
