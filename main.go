package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"walkable-city/algo"
	"walkable-city/config"
	"walkable-city/db"
	"walkable-city/events"
	"walkable-city/geocode"
	"walkable-city/handler"
	"walkable-city/location"
	"walkable-city/logging"
	"walkable-city/model"
	"walkable-city/query"
	"walkable-city/selector"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	ctx := context.Background()
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// 1. 地点数据来源: 文件数据包或 PostgreSQL
	loader, users, err := buildLoader(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise data source", "error", err)
		os.Exit(1)
	}

	// 2. 加载默认地点，失败时服务照常启动，查询返回 no_location_loaded
	manager := location.NewManager(loader, buildOptions(cfg.Engine), logger)
	if cfg.Data.DefaultLocation != "" {
		if _, err := manager.Switch(ctx, cfg.Data.DefaultLocation); err != nil {
			logger.Error("default location not loaded", "slug", cfg.Data.DefaultLocation, "error", err)
		}
	}

	// 3. 选择器、事件发布和编排器
	sel := buildSelector(cfg, logger)
	publisher, closeNATS := buildPublisher(cfg.NATS, logger)
	defer closeNATS()
	orch := query.New(manager, sel, publisher, query.Options{
		SelectorTimeout:  cfg.Engine.SelectorTimeout,
		OperationTimeout: cfg.Engine.OperationTimeout,
	}, logger)

	// 4. HTTP 服务
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	auth := handler.NewAuth(cfg.Auth.JWTSecret, users, cfg.Auth.TokenTTL)
	api := handler.NewAPI(orch, manager, auth, logger)
	var database handler.DatabasePinger
	if p, ok := loader.(handler.DatabasePinger); ok {
		database = p
	}
	api.WithHealth(sel, database)
	router := handler.NewRouter(api, cfg.HTTP.AllowedOrigins)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "location", manager.Health().Slug)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildOptions(e config.EngineConfig) location.BuildOptions {
	router := algo.DefaultRouterOptions()
	router.PathSampleLimit = e.PathSampleLimit
	router.BoundaryBand = e.BoundaryBand
	router.BoundarySampleLimit = e.BoundarySampleLimit
	router.DefaultSearchRadius = e.SearchRadiusMeters

	geo := geocode.DefaultOptions()
	geo.MinFallbackMatches = e.MinFallbackMatches

	return location.BuildOptions{
		Limits:   location.Limits{MaxNodes: e.MaxNodes, MaxEdges: e.MaxEdges},
		Router:   router,
		Geocoder: geo,
	}
}

// buildLoader 按配置选择数据来源，同时返回登录用的账号来源
func buildLoader(ctx context.Context, cfg config.Config, logger *slog.Logger) (location.Loader, handler.UserFinder, error) {
	files := location.NewFileLoader(cfg.Data.Dir)
	if cfg.Data.Source != config.SourcePostgres {
		users := handler.StaticUsers{}
		if cfg.Auth.AdminPasswordHash != "" {
			users[cfg.Auth.AdminUsername] = &model.User{Username: cfg.Auth.AdminUsername, Password: cfg.Auth.AdminPasswordHash}
		}
		return files, users, nil
	}

	gdb, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	dbLoader := db.NewLoader(gdb)
	userStore := db.NewUserStore(gdb)
	if cfg.Auth.AdminPasswordHash != "" {
		if err := userStore.EnsureUser(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPasswordHash); err != nil {
			return nil, nil, fmt.Errorf("初始化管理员失败: %w", err)
		}
	}
	if cfg.Data.ImportOnStart {
		if err := importBundles(ctx, files, dbLoader, logger); err != nil {
			return nil, nil, err
		}
	}
	return dbLoader, userStore, nil
}

// importBundles 把数据库中还没有的文件数据包导入数据库
func importBundles(ctx context.Context, files *location.FileLoader, dst *db.Loader, logger *slog.Logger) error {
	list, err := files.List(ctx)
	if err != nil {
		return fmt.Errorf("读取数据目录失败: %w", err)
	}
	for _, cfg := range list {
		exists, err := dst.Exists(ctx, cfg.Slug)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		bundle, err := files.Load(ctx, cfg.Slug)
		if err != nil {
			logger.Warn("bundle_import_skipped", "slug", cfg.Slug, "error", err)
			continue
		}
		if err := dst.Import(ctx, bundle); err != nil {
			return fmt.Errorf("导入地点 %s 失败: %w", cfg.Slug, err)
		}
		logger.Info("bundle_imported", "slug", cfg.Slug, "nodes", bundle.Graph.NodeCount, "features", len(bundle.Features))
	}
	return nil
}

func buildSelector(cfg config.Config, logger *slog.Logger) *selector.Client {
	var cache selector.Cache
	if rc := selector.NewRedisCache(selector.OpenRedis(cfg.Redis), cfg.Redis.CacheTTL, logger); rc != nil {
		cache = rc
		logger.Info("selector cache enabled", "addr", cfg.Redis.Addr)
	}
	client := selector.New(cfg.Selector, cache)
	client.SetTimeout(cfg.Engine.SelectorTimeout)
	return client
}

// buildPublisher 未配置 NATS 时返回 nil，发布被跳过
func buildPublisher(cfg config.NATSConfig, logger *slog.Logger) (query.Publisher, func()) {
	pub, err := events.Connect(cfg.URL, cfg.Subject)
	if err != nil {
		logger.Warn("nats unavailable, query events disabled", "error", err)
		return nil, func() {}
	}
	if pub == nil {
		return nil, func() {}
	}
	logger.Info("query events enabled", "subject", cfg.Subject)
	return pub, pub.Close
}
