package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用配置，全部来自环境变量 (可以由 .env 提供)
type Config struct {
	HTTP     HTTPConfig
	Logging  LoggingConfig
	Data     DataConfig
	Database DatabaseConfig
	Engine   EngineConfig
	Selector SelectorConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Auth     AuthConfig
}

// HTTPConfig HTTP 服务
type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  string
}

// Addr 监听地址
func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// LoggingConfig 结构化日志
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

// 数据来源
const (
	SourceFiles    = "files"
	SourcePostgres = "postgres"
)

// DataConfig 地点数据包来源
type DataConfig struct {
	Source          string // files|postgres
	Dir             string // 文件数据包根目录
	DefaultLocation string // 启动时加载的地点
	ImportOnStart   bool   // postgres 模式下把文件数据包导入数据库
}

// DatabaseConfig PostgreSQL 连接
type DatabaseConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	Name          string
	SSLMode       string
	TimeZone      string
	MaxRetries    int
	RetryInterval time.Duration
}

// DSN gorm/pgx 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode, c.TimeZone,
	)
}

// EngineConfig 路由/解析/编排参数
type EngineConfig struct {
	MaxNodes            int
	MaxEdges            int
	PathSampleLimit     int
	BoundaryBand        float64
	BoundarySampleLimit int
	SearchRadiusMeters  float64
	MinFallbackMatches  int
	SelectorTimeout     time.Duration
	OperationTimeout    time.Duration
}

// SelectorConfig 外部操作选择器 (OpenAI 兼容的 chat completions 接口)
type SelectorConfig struct {
	URL           string
	Model         string
	APIKey        string
	Temperature   float64
	MaxTokens     int
	RatePerSecond float64
	Burst         int
}

// RedisConfig 选择结果缓存，Addr 为空时关闭
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// NATSConfig 查询结果事件，URL 为空时关闭
type NATSConfig struct {
	URL     string
	Subject string
}

// AuthConfig 管理员认证
type AuthConfig struct {
	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string
	TokenTTL          time.Duration
}

const (
	defaultHost                = "0.0.0.0"
	defaultPort                = 8080
	defaultReadTimeout         = 10 * time.Second
	defaultWriteTimeout        = 120 * time.Second
	defaultIdleTimeout         = 60 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultLoggingLevel        = "info"
	defaultLoggingFormat       = "text"
	defaultDataDir             = "data"
	defaultMaxNodes            = 2_000_000
	defaultMaxEdges            = 5_000_000
	defaultPathSampleLimit     = 100
	defaultBoundaryBand        = 0.8
	defaultBoundarySampleLimit = 100
	defaultSearchRadius        = 5000
	defaultMinFallbackMatches  = 3
	defaultSelectorTimeout     = 60 * time.Second
	defaultOperationTimeout    = 30 * time.Second
	defaultSelectorURL         = "http://localhost:8081"
	defaultSelectorRate        = 2
	defaultSelectorBurst       = 4
	defaultSelectorMaxTokens   = 256
	defaultCacheTTL            = 10 * time.Minute
	defaultNATSSubject         = "walkable.queries.completed"
	defaultTokenTTL            = 24 * time.Hour
	defaultDBMaxRetries        = 30
	defaultDBRetryInterval     = 2 * time.Second
)

// Load 从环境变量读取配置并校验
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:           valueOrDefault("SERVER_HOST", defaultHost),
			AllowedOrigins: valueOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
		Data: DataConfig{
			Source:          strings.ToLower(valueOrDefault("DATA_SOURCE", SourceFiles)),
			Dir:             valueOrDefault("DATA_DIR", defaultDataDir),
			DefaultLocation: os.Getenv("DEFAULT_LOCATION"),
			ImportOnStart:   parseBoolWithDefault("DATA_IMPORT_ON_START", false),
		},
		Database: DatabaseConfig{
			Host:       valueOrDefault("DB_HOST", "localhost"),
			Port:       valueOrDefault("DB_PORT", "5432"),
			User:       valueOrDefault("DB_USER", "walkable"),
			Password:   valueOrDefault("DB_PASSWORD", "walkable"),
			Name:       valueOrDefault("DB_NAME", "walkable"),
			SSLMode:    valueOrDefault("DB_SSLMODE", "disable"),
			TimeZone:   valueOrDefault("DB_TIMEZONE", "UTC"),
			MaxRetries: parseIntWithDefault("DB_MAX_RETRIES", defaultDBMaxRetries),
		},
		Engine: EngineConfig{
			MaxNodes:            parseIntWithDefault("ENGINE_MAX_NODES", defaultMaxNodes),
			MaxEdges:            parseIntWithDefault("ENGINE_MAX_EDGES", defaultMaxEdges),
			PathSampleLimit:     parseIntWithDefault("ENGINE_PATH_SAMPLE_LIMIT", defaultPathSampleLimit),
			BoundarySampleLimit: parseIntWithDefault("ENGINE_BOUNDARY_SAMPLE_LIMIT", defaultBoundarySampleLimit),
			MinFallbackMatches:  parseIntWithDefault("GEOCODE_MIN_FALLBACK_MATCHES", defaultMinFallbackMatches),
		},
		Selector: SelectorConfig{
			URL:       valueOrDefault("SELECTOR_URL", defaultSelectorURL),
			Model:     os.Getenv("SELECTOR_MODEL"),
			APIKey:    os.Getenv("SELECTOR_API_KEY"),
			MaxTokens: parseIntWithDefault("SELECTOR_MAX_TOKENS", defaultSelectorMaxTokens),
			Burst:     parseIntWithDefault("SELECTOR_BURST", defaultSelectorBurst),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseIntWithDefault("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("NATS_URL"),
			Subject: valueOrDefault("NATS_SUBJECT", defaultNATSSubject),
		},
		Auth: AuthConfig{
			JWTSecret:         os.Getenv("JWT_SECRET"),
			AdminUsername:     valueOrDefault("ADMIN_USERNAME", "admin"),
			AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout, defaultReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout, defaultWriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout, defaultIdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout, defaultShutdownTimeout},
		{"DB_RETRY_INTERVAL", &cfg.Database.RetryInterval, defaultDBRetryInterval},
		{"SELECTOR_TIMEOUT", &cfg.Engine.SelectorTimeout, defaultSelectorTimeout},
		{"OPERATION_TIMEOUT", &cfg.Engine.OperationTimeout, defaultOperationTimeout},
		{"REDIS_CACHE_TTL", &cfg.Redis.CacheTTL, defaultCacheTTL},
		{"JWT_TOKEN_TTL", &cfg.Auth.TokenTTL, defaultTokenTTL},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	floats := []struct {
		key      string
		dst      *float64
		fallback float64
	}{
		{"ENGINE_BOUNDARY_BAND", &cfg.Engine.BoundaryBand, defaultBoundaryBand},
		{"ENGINE_SEARCH_RADIUS_METERS", &cfg.Engine.SearchRadiusMeters, defaultSearchRadius},
		{"SELECTOR_TEMPERATURE", &cfg.Selector.Temperature, 0},
		{"SELECTOR_RATE_PER_SECOND", &cfg.Selector.RatePerSecond, defaultSelectorRate},
	}
	for _, f := range floats {
		v, err := parseFloat(f.key, f.fallback)
		if err != nil {
			return Config{}, err
		}
		*f.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c Config) Validate() error {
	switch c.Data.Source {
	case SourceFiles, SourcePostgres:
	default:
		return fmt.Errorf("invalid DATA_SOURCE %q: must be %q or %q", c.Data.Source, SourceFiles, SourcePostgres)
	}
	if c.Engine.BoundaryBand <= 0 || c.Engine.BoundaryBand >= 1 {
		return fmt.Errorf("ENGINE_BOUNDARY_BAND must be in (0, 1), got %v", c.Engine.BoundaryBand)
	}
	if c.Engine.PathSampleLimit < 2 || c.Engine.BoundarySampleLimit < 2 {
		return fmt.Errorf("sample limits must be at least 2")
	}
	if c.Engine.SearchRadiusMeters <= 0 {
		return fmt.Errorf("ENGINE_SEARCH_RADIUS_METERS must be positive")
	}
	if c.Engine.MinFallbackMatches < 1 {
		return fmt.Errorf("GEOCODE_MIN_FALLBACK_MATCHES must be at least 1")
	}
	if c.Engine.SelectorTimeout <= 0 || c.Engine.OperationTimeout <= 0 {
		return fmt.Errorf("selector and operation timeouts must be positive")
	}
	if c.Selector.RatePerSecond < 0 {
		return fmt.Errorf("SELECTOR_RATE_PER_SECOND must not be negative")
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func parseFloat(key string, fallback float64) (float64, error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		return f, nil
	}
	return fallback, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
