package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了 behaviord 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Queue    QueueConfig    `json:"queue" yaml:"queue"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Symbols  SymbolsConfig  `json:"symbols" yaml:"symbols"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址、跨域与限流。
type ServerConfig struct {
	Address     string          `json:"address" yaml:"address"`
	CORSOrigins []string        `json:"cors_origins" yaml:"cors_origins"`
	RateLimit   RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 为令牌桶参数，RPS 为 0 时不限流。
type RateLimitConfig struct {
	RPS   float64 `json:"rps" yaml:"rps"`
	Burst int     `json:"burst" yaml:"burst"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Format  string      `json:"format" yaml:"format"`
	Outputs []string    `json:"outputs" yaml:"outputs"`
	Audit   AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// StorageConfig 统一描述事件日志与证明包缓存的后端。
type StorageConfig struct {
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
}

// JournalConfig 选择事件日志与验证请求的存储驱动。
type JournalConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds"`
}

// CacheConfig 选择证明包缓存后端。
type CacheConfig struct {
	Driver     string `json:"driver" yaml:"driver"`
	Address    string `json:"address" yaml:"address"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	KeyPrefix  string `json:"key_prefix" yaml:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
	MaxBytes   int    `json:"max_bytes" yaml:"max_bytes"`
}

// QueueConfig 描述验证请求队列。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Workers  int            `json:"workers" yaml:"workers"`
	Retries  int            `json:"retries" yaml:"retries"`
	Buffer   int            `json:"buffer" yaml:"buffer"`
	Redis    RedisQueue     `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisQueue 为 Redis 列表队列参数。
type RedisQueue struct {
	Address          string `json:"address" yaml:"address"`
	Password         string `json:"password" yaml:"password"`
	DB               int    `json:"db" yaml:"db"`
	Queue            string `json:"queue" yaml:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 为 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// EngineConfig 控制模式解析与批量验证。
type EngineConfig struct {
	ParseBudgetMS int `json:"parse_budget_ms" yaml:"parse_budget_ms"`
	VerifyWorkers int `json:"verify_workers" yaml:"verify_workers"`
}

// SymbolsConfig 指定符号字典插件与部署者登记文件。
type SymbolsConfig struct {
	DictionaryPath string `json:"dictionary_path" yaml:"dictionary_path"`
	DeployersPath  string `json:"deployers_path" yaml:"deployers_path"`
}

// MetricsConfig 配置独立的指标端口，为空时只挂在 API 的 /metrics 上。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

// AlertingConfig 配置告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// Load 解析指定路径的配置文件，根据扩展名选择 JSON 或 YAML。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s", filepath.Ext(path))
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查驱动取值与必填项。
func (c *Config) Validate() error {
	switch c.Storage.Journal.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.Journal.DSN) == "" {
			return errors.New("storage.journal.dsn 不能为空")
		}
	default:
		return fmt.Errorf("未知的 storage.journal.driver: %s", c.Storage.Journal.Driver)
	}
	switch c.Storage.Cache.Driver {
	case "memory":
	case "redis":
		if c.Storage.Cache.Address == "" {
			return errors.New("storage.cache.address 不能为空")
		}
	default:
		return fmt.Errorf("未知的 storage.cache.driver: %s", c.Storage.Cache.Driver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.Redis.Address == "" {
			return errors.New("queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			return errors.New("queue.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("未知的 queue.driver: %s", c.Queue.Driver)
	}
	return nil
}

// ParseBudget 返回模式解析的时间预算。
func (c *Config) ParseBudget() time.Duration {
	return time.Duration(c.Engine.ParseBudgetMS) * time.Millisecond
}

// CacheTTL 返回证明包在 Redis 中的保存时长。
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.Cache.TTLSeconds) * time.Second
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RPS)
		if c.Server.RateLimit.Burst < 1 {
			c.Server.RateLimit.Burst = 1
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stdout"}
	}
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path, filepath.Join("logs", "audit.log"))
	}

	if c.Storage.Journal.Driver == "" {
		c.Storage.Journal.Driver = "memory"
	}
	if c.Storage.Cache.Driver == "" {
		c.Storage.Cache.Driver = "memory"
	}
	if c.Storage.Cache.TTLSeconds <= 0 {
		c.Storage.Cache.TTLSeconds = 86400
	}
	if c.Storage.Cache.MaxBytes <= 0 {
		c.Storage.Cache.MaxBytes = 32 << 20
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Retries <= 0 {
		c.Queue.Retries = 3
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 256
	}

	if c.Engine.ParseBudgetMS <= 0 {
		c.Engine.ParseBudgetMS = 10
	}
	if c.Engine.VerifyWorkers <= 0 {
		c.Engine.VerifyWorkers = 4
	}

	if c.Symbols.DictionaryPath != "" {
		c.Symbols.DictionaryPath = resolve(baseDir, c.Symbols.DictionaryPath, "")
	}
	if c.Symbols.DeployersPath != "" {
		c.Symbols.DeployersPath = resolve(baseDir, c.Symbols.DeployersPath, "")
	}
}

func resolve(baseDir, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
