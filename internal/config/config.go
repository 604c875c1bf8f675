package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"SyncHub/internal/model"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`    // 服务器配置
	Database  DatabaseConfig            `mapstructure:"database"`  // PostgreSQL配置
	Log       LogConfig                 `mapstructure:"log"`       // 日志配置
	Sync      SyncConfig                `mapstructure:"sync"`      // 同步调度配置
	Redis     RedisConfig               `mapstructure:"redis"`     // 可选：任务租约
	Platforms map[string]PlatformConfig `mapstructure:"platforms"` // 多平台独立配置
	Jobs      map[string]JobConfig      `mapstructure:"jobs"`      // 轮询任务
	Reconcile ReconcileConfig           `mapstructure:"reconcile"` // 匹配与冲突处理
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         int      `mapstructure:"port"`          // 服务端口
	Mode         string   `mapstructure:"mode"`          // Gin运行模式：debug/release/test
	AllowOrigins []string `mapstructure:"allow_origins"` // 为空时不启用 CORS
}

// DatabaseConfig PostgreSQL数据库配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// LogConfig 日志输出；File 为空时输出到 stderr
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SyncConfig 同步调度配置
type SyncConfig struct {
	RetentionDays            int `mapstructure:"retention_days"`             // 变更记录保留天数
	IdempotencyTTLHours      int `mapstructure:"idempotency_ttl_hours"`      // 幂等键有效期
	IdempotencyBucketSeconds int `mapstructure:"idempotency_bucket_seconds"` // 幂等键时间桶
	WebhookWorkers           int `mapstructure:"webhook_workers"`            // webhook 处理协程数
	WebhookQueueSize         int `mapstructure:"webhook_queue_size"`         // webhook 队列容量
	InitialRunDelaySeconds   int `mapstructure:"initial_run_delay_seconds"`  // 启用后首次执行延迟
	RunTimeoutSeconds        int `mapstructure:"run_timeout_seconds"`        // 单次任务超时
	MaxPages                 int `mapstructure:"max_pages"`                  // 单次轮询最多分页数
}

// RedisConfig Addr 为空时不启用分布式租约
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	LeaseSeconds int    `mapstructure:"lease_seconds"`
}

// PlatformConfig 单个平台的独立配置
type PlatformConfig struct {
	BaseURL       string `mapstructure:"base_url"`       // API基础地址
	Timeout       int    `mapstructure:"timeout"`        // 请求超时（秒）
	AuthToken     string `mapstructure:"auth_token"`     // 访问令牌（由外部 OAuth 流程写入）
	WebhookSecret string `mapstructure:"webhook_secret"` // webhook 签名密钥
	Proxy         string `mapstructure:"proxy"`          // 代理地址
	PageSize      int    `mapstructure:"page_size"`      // 分页大小
}

// JobConfig 单个轮询任务
type JobConfig struct {
	Platform        string `mapstructure:"platform"`
	Resource        string `mapstructure:"resource"`
	Enabled         bool   `mapstructure:"enabled"`
	IntervalMinutes int    `mapstructure:"interval_minutes"`
}

// ReconcileConfig 匹配/冲突处理周期与规则
type ReconcileConfig struct {
	Enabled         bool                `mapstructure:"enabled"`
	IntervalMinutes int                 `mapstructure:"interval_minutes"`
	Rules           []model.MappingRule `mapstructure:"rules"`
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load()

	// 2. 读取 config.yaml
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return decode(viper.GetViper())
}

// WatchPlatforms 配置文件变更时回调最新的平台配置（用于运维重新授权后刷新 token）
func WatchPlatforms(onChange func(name string, platforms map[string]PlatformConfig)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(viper.GetViper())
		if err != nil {
			return
		}
		onChange(e.Name, cfg.Platforms)
	})
	viper.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	v.SetTypeByDefaultValue(true)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	for name, p := range cfg.Platforms {
		prefix := strings.ToUpper(name)
		if v := os.Getenv(prefix + "_AUTH_TOKEN"); v != "" {
			p.AuthToken = v
		}
		if v := os.Getenv(prefix + "_WEBHOOK_SECRET"); v != "" {
			p.WebhookSecret = v
		}
		if v := os.Getenv(prefix + "_PROXY"); v != "" {
			p.Proxy = v
		}
		cfg.Platforms[name] = p
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowOrigins = append(cfg.Server.AllowOrigins, o)
			}
		}
	}
}

// applyDefaults 缺省值兜底，避免 0 间隔
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	s := &cfg.Sync
	if s.RetentionDays <= 0 {
		s.RetentionDays = 14
	}
	if s.IdempotencyTTLHours <= 0 {
		s.IdempotencyTTLHours = 7 * 24
	}
	if s.IdempotencyBucketSeconds <= 0 {
		s.IdempotencyBucketSeconds = 60
	}
	if s.WebhookWorkers <= 0 {
		s.WebhookWorkers = 4
	}
	if s.WebhookQueueSize <= 0 {
		s.WebhookQueueSize = 256
	}
	if s.InitialRunDelaySeconds < 0 {
		s.InitialRunDelaySeconds = 0
	}
	if s.RunTimeoutSeconds <= 0 {
		s.RunTimeoutSeconds = 600
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 500
	}
	if cfg.Redis.LeaseSeconds <= 0 {
		cfg.Redis.LeaseSeconds = 900
	}
	if cfg.Platforms == nil {
		cfg.Platforms = map[string]PlatformConfig{}
	}
	for name, p := range cfg.Platforms {
		if p.Timeout <= 0 {
			p.Timeout = 10
		}
		if p.PageSize <= 0 {
			p.PageSize = 100
		}
		cfg.Platforms[name] = p
	}
	for name, j := range cfg.Jobs {
		if j.IntervalMinutes <= 0 {
			j.IntervalMinutes = 15
		}
		cfg.Jobs[name] = j
	}
	if cfg.Reconcile.IntervalMinutes <= 0 {
		cfg.Reconcile.IntervalMinutes = 30
	}
}

// RetentionWindow 变更记录保留期
func (s SyncConfig) RetentionWindow() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// IdempotencyTTL 幂等键有效期
func (s SyncConfig) IdempotencyTTL() time.Duration {
	return time.Duration(s.IdempotencyTTLHours) * time.Hour
}

// IdempotencyBucket 幂等键时间桶
func (s SyncConfig) IdempotencyBucket() time.Duration {
	return time.Duration(s.IdempotencyBucketSeconds) * time.Second
}
