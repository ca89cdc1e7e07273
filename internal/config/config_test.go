package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDesk(t *testing.T) {
	path := writeFile(t, `
api:
  base_url: http://backend:8080
operator:
  id: 8
  name: Lin
  store_id: 3
sync:
  match_window: 90s
`)

	cfg, err := LoadDesk(path)
	require.NoError(t, err)
	assert.Equal(t, "http://backend:8080", cfg.API.BaseURL)
	assert.Equal(t, int64(8), cfg.Operator.ID)
	assert.Equal(t, 90*time.Second, cfg.Sync.MatchWindow)
	// 默认值
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, "store", cfg.Sync.QuotaScope)
}

func TestLoadDesk_EnvOverride(t *testing.T) {
	path := writeFile(t, "operator:\n  id: 8\n")
	t.Setenv("DESK_NATS_URL", "nats://override:4222")

	cfg, err := LoadDesk(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
}

func TestLoadDesk_RequiresOperator(t *testing.T) {
	path := writeFile(t, "api:\n  base_url: http://x\n")

	_, err := LoadDesk(path)
	assert.Error(t, err)
}

func TestLoadDesk_MissingFile(t *testing.T) {
	_, err := LoadDesk(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDeskd(t *testing.T) {
	path := writeFile(t, `
jwt:
  secret_key: s3cret
database:
  password: pw
`)

	cfg, err := LoadDeskd(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWT.AccessExpire)
	assert.Equal(t, "postgres://postgres:pw@localhost:5432/desk?sslmode=disable&pool_max_conns=10", cfg.Database.DSN())
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestRedisGetAddr(t *testing.T) {
	assert.Equal(t, "localhost:6379", (&RedisConfig{}).GetAddr())
	assert.Equal(t, "redis:6380", (&RedisConfig{Host: "redis", Port: 6380}).GetAddr())
	assert.Equal(t, "x:1", (&RedisConfig{Addr: "x:1", Host: "redis", Port: 6380}).GetAddr())
}

func TestLogConfigLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "verbose"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{}.SlogLevel())
}
