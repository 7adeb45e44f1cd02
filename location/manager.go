package location

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"walkable-city/metrics"
	"walkable-city/model"
)

// Manager 持有当前生效的地点快照
// 读取通过原子指针完成；切换由互斥锁串行化，失败时保留原快照
type Manager struct {
	loader  Loader
	opts    BuildOptions
	logger  *slog.Logger
	mu      sync.Mutex
	current atomic.Pointer[State]
}

// NewManager 创建地点管理器，此时还没有加载任何地点
func NewManager(loader Loader, opts BuildOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{loader: loader, opts: opts, logger: logger}
}

// Current 当前快照，没有加载任何地点时返回 ErrNoLocationLoaded
func (m *Manager) Current() (*State, error) {
	s := m.current.Load()
	if s == nil {
		return nil, ErrNoLocationLoaded
	}
	return s, nil
}

// Switch 加载并切换到指定地点；已经是当前地点时直接返回
func (m *Manager) Switch(ctx context.Context, slug string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.current.Load(); cur != nil && cur.Slug() == slug {
		return cur, nil
	}

	start := time.Now()
	state, err := m.load(ctx, slug)
	elapsed := time.Since(start)
	if err != nil {
		metrics.LocationLoadDurationSeconds.WithLabelValues(slug, "error").Observe(elapsed.Seconds())
		m.logger.Warn("location_switch_failed", "slug", slug, "error", err, "elapsed", elapsed)
		return nil, err
	}
	metrics.LocationLoadDurationSeconds.WithLabelValues(slug, "ok").Observe(elapsed.Seconds())
	metrics.LocationNodes.Set(float64(state.Graph.NodeCount()))
	metrics.LocationFeatures.Set(float64(state.Config.POIs))

	prev := m.current.Swap(state)
	attrs := []any{
		"slug", slug,
		"nodes", state.Config.Nodes,
		"edges", state.Config.Edges,
		"features", state.Config.POIs,
		"places", state.Config.Places,
		"elapsed", elapsed,
	}
	if prev != nil {
		attrs = append(attrs, "previous", prev.Slug())
	}
	m.logger.Info("location_switched", attrs...)
	return state, nil
}

func (m *Manager) load(ctx context.Context, slug string) (*State, error) {
	bundle, err := m.loader.Load(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := Build(bundle, m.opts)
	if err != nil {
		return nil, fmt.Errorf("构建地点 %s 失败: %w", slug, err)
	}
	return state, nil
}

// List 可用地点列表
func (m *Manager) List(ctx context.Context) ([]model.LocationConfig, error) {
	return m.loader.List(ctx)
}

// Health 当前地点的概要信息
type Health struct {
	Loaded   bool      `json:"loaded"`
	Slug     string    `json:"slug,omitempty"`
	Name     string    `json:"name,omitempty"`
	Nodes    int       `json:"nodes"`
	Edges    int       `json:"edges"`
	Features int       `json:"features"`
	Places   int       `json:"places"`
	LoadedAt time.Time `json:"loadedAt,omitempty"`
}

// Health 返回当前快照的概要
func (m *Manager) Health() Health {
	s := m.current.Load()
	if s == nil {
		return Health{}
	}
	return Health{
		Loaded:   true,
		Slug:     s.Config.Slug,
		Name:     s.Config.Name,
		Nodes:    s.Config.Nodes,
		Edges:    s.Config.Edges,
		Features: s.Config.POIs,
		Places:   s.Config.Places,
		LoadedAt: s.LoadedAt,
	}
}
