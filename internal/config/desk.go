package config

import (
	"fmt"
	"time"
)

// DeskConfig 客服工作台配置
type DeskConfig struct {
	App      DeskAppConfig  `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	API      APIConfig      `mapstructure:"api"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Operator OperatorConfig `mapstructure:"operator"`
	Health   HealthConfig   `mapstructure:"health"`
}

// DeskAppConfig 应用配置
type DeskAppConfig struct {
	Name string `mapstructure:"name"`
}

// APIConfig 后端 REST 配置
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig 同步引擎参数
type SyncConfig struct {
	MatchWindow       time.Duration `mapstructure:"match_window"`
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	EventBuffer       int           `mapstructure:"event_buffer"`
	UploadConcurrency int           `mapstructure:"upload_concurrency"`
	QuotaScope        string        `mapstructure:"quota_scope"`
}

// OperatorConfig 登录客服信息
type OperatorConfig struct {
	ID      int64  `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	StoreID int64  `mapstructure:"store_id"`
	Token   string `mapstructure:"token"`
}

// LoadDesk 加载工作台配置，环境变量前缀 DESK
func LoadDesk(path string) (*DeskConfig, error) {
	defaults := map[string]interface{}{
		"app.name":                "desk",
		"log.level":               "info",
		"log.format":              "text",
		"api.base_url":            "http://localhost:8080",
		"nats.url":                "nats://localhost:4222",
		"nats.max_reconnects":     -1,
		"nats.reconnect_wait":     "2s",
		"nats.reconnect_jitter":   "500ms",
		"sync.match_window":       "2m",
		"sync.workers":            4,
		"sync.queue_size":         64,
		"sync.event_buffer":       1024,
		"sync.upload_concurrency": 3,
		"sync.quota_scope":        "store",
		"health.enabled":          true,
		"health.addr":             ":9091",
	}

	var cfg DeskConfig
	if err := load(path, "DESK", defaults, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验必填项
func (c *DeskConfig) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config: api.base_url is required")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("config: nats.url is required")
	}
	if c.Operator.ID == 0 {
		return fmt.Errorf("config: operator.id is required")
	}
	return nil
}
