package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Engine        EngineConfig        `yaml:"engine"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Logger        LoggerConfig        `yaml:"logger"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis"`
	Notify        NotifyConfig        `yaml:"notify"`
}

type ServerConfig struct {
	HTTPPort int    `yaml:"http_port"`
	Host     string `yaml:"host"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// EngineConfig controls the evaluation tick loop.
type EngineConfig struct {
	TickSeconds     int `yaml:"tick_seconds"`      // evaluation interval
	Workers         int `yaml:"workers"`           // fingerprint-partitioned worker count
	QueueSize       int `yaml:"queue_size"`        // per-worker task queue depth
	SourceTimeoutMS int `yaml:"source_timeout_ms"` // metric source call timeout
}

// EscalationConfig controls the escalation ticker.
type EscalationConfig struct {
	TickSeconds int `yaml:"tick_seconds"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Output string `yaml:"output"` // stdout, stderr, or file path
}

type ElasticsearchConfig struct {
	Enabled     bool     `yaml:"enabled"`      // 是否启用 Elasticsearch
	Addresses   []string `yaml:"addresses"`    // ES 节点地址，如 ["http://localhost:9200"]
	Username    string   `yaml:"username"`     // ES 用户名
	Password    string   `yaml:"password"`     // ES 密码
	IndexPrefix string   `yaml:"index_prefix"` // 索引前缀，如 "fleetwatch"
	// When true the engine reads telemetry from ES instead of the
	// relational telemetry_readings table.
	TelemetrySource bool `yaml:"telemetry_source"`
}

// RedisConfig selects the externalized breach-state store. When disabled
// the engine keeps breach state in-process, which is correct only for a
// single instance.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	KeyPrefix     string `yaml:"key_prefix"`
	StateTTLHours int    `yaml:"state_ttl_hours"`
}

type NotifyConfig struct {
	QueueSize int    `yaml:"queue_size"` // dispatch buffer depth
	LogDir    string `yaml:"log_dir"`    // dispatch audit log directory
	// Default email transport for email escalation targets.
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	SMTPUser string `yaml:"smtp_user"`
	SMTPPass string `yaml:"smtp_pass"`
	SMTPFrom string `yaml:"smtp_from"`
}

// LoadFromFile 从文件加载配置
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&config)

	return &config, nil
}

// Load 从环境变量加载配置
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: getEnvInt("HTTP_PORT", 8080),
			Host:     getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "fleetwatch"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "fleetwatch.db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Engine: EngineConfig{
			TickSeconds:     getEnvInt("ENGINE_TICK_SECONDS", 60),
			Workers:         getEnvInt("ENGINE_WORKERS", 8),
			QueueSize:       getEnvInt("ENGINE_QUEUE_SIZE", 256),
			SourceTimeoutMS: getEnvInt("ENGINE_SOURCE_TIMEOUT_MS", 5000),
		},
		Escalation: EscalationConfig{
			TickSeconds: getEnvInt("ESCALATION_TICK_SECONDS", 30),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:         getEnvBool("ES_ENABLED", false),
			Addresses:       getEnvSlice("ES_ADDRESSES", []string{"http://localhost:9200"}),
			Username:        getEnv("ES_USERNAME", ""),
			Password:        getEnv("ES_PASSWORD", ""),
			IndexPrefix:     getEnv("ES_INDEX_PREFIX", "fleetwatch"),
			TelemetrySource: getEnvBool("ES_TELEMETRY_SOURCE", false),
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_ENABLED", false),
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			KeyPrefix:     getEnv("REDIS_KEY_PREFIX", "fleetwatch:breach:"),
			StateTTLHours: getEnvInt("REDIS_STATE_TTL_HOURS", 24),
		},
		Notify: NotifyConfig{
			QueueSize: getEnvInt("NOTIFY_QUEUE_SIZE", 512),
			LogDir:    getEnv("NOTIFY_LOG_DIR", "logs"),
			SMTPHost:  getEnv("SMTP_HOST", ""),
			SMTPPort:  getEnvInt("SMTP_PORT", 587),
			SMTPUser:  getEnv("SMTP_USER", ""),
			SMTPPass:  getEnv("SMTP_PASS", ""),
			SMTPFrom:  getEnv("SMTP_FROM", ""),
		},
	}
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite"
	}
	if config.Database.DBName == "" {
		config.Database.DBName = "fleetwatch.db"
	}
	if config.Engine.TickSeconds == 0 {
		config.Engine.TickSeconds = 60
	}
	if config.Engine.Workers == 0 {
		config.Engine.Workers = 8
	}
	if config.Engine.QueueSize == 0 {
		config.Engine.QueueSize = 256
	}
	if config.Engine.SourceTimeoutMS == 0 {
		config.Engine.SourceTimeoutMS = 5000
	}
	if config.Escalation.TickSeconds == 0 {
		config.Escalation.TickSeconds = 30
	}
	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
	if config.Logger.Output == "" {
		config.Logger.Output = "stdout"
	}
	if config.Elasticsearch.IndexPrefix == "" {
		config.Elasticsearch.IndexPrefix = "fleetwatch"
	}
	if config.Redis.KeyPrefix == "" {
		config.Redis.KeyPrefix = "fleetwatch:breach:"
	}
	if config.Redis.StateTTLHours == 0 {
		config.Redis.StateTTLHours = 24
	}
	if config.Notify.QueueSize == 0 {
		config.Notify.QueueSize = 512
	}
	if config.Notify.LogDir == "" {
		config.Notify.LogDir = "logs"
	}
	if config.Notify.SMTPPort == 0 {
		config.Notify.SMTPPort = 587
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var intVal int
		if _, err := fmt.Sscanf(val, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		return false
	}
	return defaultVal
}

func getEnvSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		var result []string
		for _, v := range splitAndTrim(val, ",") {
			if v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	var result []string
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	validDrivers := map[string]bool{
		"sqlite":   true,
		"mysql":    true,
		"postgres": true,
	}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver != "sqlite" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty for %s", c.Database.Driver)
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user cannot be empty for %s", c.Database.Driver)
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database name cannot be empty")
		}
	} else {
		if c.Database.DBName == "" {
			return fmt.Errorf("database file path cannot be empty for sqlite")
		}
	}

	if c.Engine.TickSeconds < 1 {
		return fmt.Errorf("engine tick interval must be at least 1 second")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine workers must be at least 1")
	}
	if c.Engine.SourceTimeoutMS < 1 {
		return fmt.Errorf("engine source timeout must be positive")
	}
	if c.Escalation.TickSeconds < 1 {
		return fmt.Errorf("escalation tick interval must be at least 1 second")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logger.Level)
	}

	if c.Elasticsearch.Enabled {
		if len(c.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("elasticsearch addresses cannot be empty when enabled")
		}
	}
	if c.Elasticsearch.TelemetrySource && !c.Elasticsearch.Enabled {
		return fmt.Errorf("elasticsearch must be enabled to act as the telemetry source")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr cannot be empty when enabled")
		}
		if c.Redis.StateTTLHours < 1 {
			return fmt.Errorf("redis state TTL must be at least 1 hour")
		}
	}

	return nil
}
