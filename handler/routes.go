package handler

import (
	"log/slog"
	"time"

	"walkable-city/metrics"

	"github.com/gin-gonic/gin"
)

// CORS 跨域中间件
func CORS(allowOrigin string) gin.HandlerFunc {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// RequestLogger 用 slog 记录每个请求
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// NewRouter 创建 gin 引擎并注册所有路由
func NewRouter(api *API, allowOrigin string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(api.logger), CORS(allowOrigin))

	r.GET("/ping", api.Ping)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiGroup := r.Group("/api")
	{
		// 公开接口 (无需认证)
		apiGroup.GET("/health", api.Ping)
		apiGroup.POST("/login", api.auth.Login)
		apiGroup.POST("/query", api.Query)
		apiGroup.GET("/operations", api.Operations)

		apiGroup.POST("/route", api.FindRoute)
		apiGroup.POST("/route/features", api.AlongRoute)
		apiGroup.POST("/isochrone", api.Isochrone)
		apiGroup.GET("/features/nearest", api.NearestFeatures)
		apiGroup.GET("/features/count", api.CountFeatures)
		apiGroup.GET("/places/search", api.SearchPlaces)
		apiGroup.GET("/geocode", api.Geocode)

		apiGroup.GET("/locations", api.ListLocations)
		apiGroup.GET("/locations/current", api.CurrentLocation)

		authorized := apiGroup.Group("/")
		authorized.Use(api.auth.Middleware())
		{
			authorized.POST("/locations/:slug/activate", api.ActivateLocation)
		}
	}
	return r
}
