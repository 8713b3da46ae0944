package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg := Load()
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 60, cfg.Engine.TickSeconds)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 5000, cfg.Engine.SourceTimeoutMS)
	assert.Equal(t, 30, cfg.Escalation.TickSeconds)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.False(t, cfg.Elasticsearch.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "fleetwatch:breach:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 512, cfg.Notify.QueueSize)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_DRIVER", "postgres")
	os.Setenv("DB_HOST", "db.internal")
	os.Setenv("ENGINE_TICK_SECONDS", "15")
	os.Setenv("ENGINE_WORKERS", "4")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "redis.internal:6379")
	os.Setenv("ES_ADDRESSES", "http://es1:9200,http://es2:9200")
	defer os.Clearenv()

	cfg := Load()
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 15, cfg.Engine.TickSeconds)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Elasticsearch.Addresses)
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  http_port: 9090
database:
  driver: sqlite
  dbname: test.db
engine:
  tick_seconds: 10
  workers: 2
logger:
  level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 10, cfg.Engine.TickSeconds)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, "debug", cfg.Logger.Level)

	// 未设置的字段回落到默认值
	assert.Equal(t, 256, cfg.Engine.QueueSize)
	assert.Equal(t, 30, cfg.Escalation.TickSeconds)

	require.NoError(t, cfg.Validate())
}

func TestValidate_Rejections(t *testing.T) {
	os.Clearenv()

	cfg := Load()
	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Engine.TickSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Logger.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Elasticsearch.TelemetrySource = true
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Database.Driver = "postgres"
	cfg.Database.Host = ""
	assert.Error(t, cfg.Validate())
}
