package config

import (
	"fmt"
	"time"
)

// DeskdConfig 开发后端配置
type DeskdConfig struct {
	App      DeskdAppConfig `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Health   HealthConfig   `mapstructure:"health"`
}

// DeskdAppConfig 应用配置
type DeskdAppConfig struct {
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	SeedFile string `mapstructure:"seed_file"`
}

// JWTConfig JWT 配置
type JWTConfig struct {
	SecretKey    string        `mapstructure:"secret_key"`
	AccessExpire time.Duration `mapstructure:"access_expire"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 构建 PostgreSQL 连接串
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name,
	)
	if c.MaxOpenConns > 0 {
		dsn += fmt.Sprintf("&pool_max_conns=%d", c.MaxOpenConns)
	}
	return dsn
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// UploadConfig 附件上传配置
type UploadConfig struct {
	Dir       string `mapstructure:"dir"`
	MaxSize   int64  `mapstructure:"max_size"`
	PublicURL string `mapstructure:"public_url"`
}

// AgentConfig 模拟自动回复配置
type AgentConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Delay      time.Duration `mapstructure:"delay"`
	QuotaTotal int64         `mapstructure:"quota_total"`
}

// LoadDeskd 加载开发后端配置，环境变量前缀 DESKD
func LoadDeskd(path string) (*DeskdConfig, error) {
	defaults := map[string]interface{}{
		"app.name":                   "deskd",
		"app.port":                   8080,
		"app.mode":                   "debug",
		"log.level":                  "info",
		"log.format":                 "json",
		"jwt.access_expire":          "24h",
		"database.host":              "localhost",
		"database.port":              5432,
		"database.user":              "postgres",
		"database.name":              "desk",
		"database.max_open_conns":    10,
		"database.conn_max_lifetime": "1h",
		"nats.url":                   "nats://localhost:4222",
		"nats.max_reconnects":        -1,
		"nats.reconnect_wait":        "2s",
		"cors.allowed_origins":       []string{"*"},
		"cors.allowed_methods":       []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		"upload.dir":                 "./data/uploads",
		"upload.max_size":            10 << 20,
		"upload.public_url":          "/files",
		"agent.enabled":              true,
		"agent.delay":                "0s",
		"agent.quota_total":          1000,
		"health.enabled":             true,
		"health.addr":                ":9090",
	}

	var cfg DeskdConfig
	if err := load(path, "DESKD", defaults, &cfg); err != nil {
		return nil, err
	}
	if cfg.JWT.SecretKey == "" {
		return nil, fmt.Errorf("config: jwt.secret_key is required")
	}
	return &cfg, nil
}
