package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string          `mapstructure:"environment" validate:"oneof=development staging production"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format" validate:"oneof=json text"`
	Server      ServerConfig    `mapstructure:"server"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Embedding   EmbeddingConfig `mapstructure:"embedding"`
	Namespace   NamespaceConfig `mapstructure:"namespace"`
	Limits      LimitsConfig    `mapstructure:"limits"`
	WebSocket   WSConfig        `mapstructure:"websocket"`
	Hierarchy   HierarchyConfig `mapstructure:"hierarchy"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout  int      `mapstructure:"read_timeout"`
	WriteTimeout int      `mapstructure:"write_timeout"`
	IdleTimeout  int      `mapstructure:"idle_timeout"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

// StorageConfig holds embedded store configuration
type StorageConfig struct {
	Path        string `mapstructure:"path" validate:"required"`
	BusyTimeout int    `mapstructure:"busy_timeout"` // milliseconds
}

// EmbeddingConfig holds embedder configuration
type EmbeddingConfig struct {
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension" validate:"gt=0"`
}

// NamespaceConfig holds tenant defaults
type NamespaceConfig struct {
	Default string `mapstructure:"default" validate:"required"`
}

// LimitsConfig holds request budget configuration
type LimitsConfig struct {
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests" validate:"gt=0"`
	RateLimitRPS          int           `mapstructure:"rate_limit_rps"`
	RateLimitBurst        int           `mapstructure:"rate_limit_burst"`
	MaxWSConnections      int           `mapstructure:"max_ws_connections" validate:"gt=0"`
	DependencyHops        int           `mapstructure:"dependency_hops" validate:"gt=0"`
}

// WSConfig holds WebSocket configuration
type WSConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
}

// HierarchyConfig controls work-item type ordering enforcement
type HierarchyConfig struct {
	Strict bool `mapstructure:"strict"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "json")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3454)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)
	viper.SetDefault("server.cors_origins", []string{"*"})

	viper.SetDefault("storage.path", "./data/lancedb_jive")
	viper.SetDefault("storage.busy_timeout", 5000)

	viper.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	viper.SetDefault("embedding.dimension", 384)

	viper.SetDefault("namespace.default", "default")

	viper.SetDefault("limits.request_timeout", "30s")
	viper.SetDefault("limits.max_concurrent_requests", 100)
	viper.SetDefault("limits.rate_limit_rps", 0) // disabled unless set
	viper.SetDefault("limits.rate_limit_burst", 0)
	viper.SetDefault("limits.max_ws_connections", 256)
	viper.SetDefault("limits.dependency_hops", 10)

	viper.SetDefault("websocket.read_buffer_size", 4096)
	viper.SetDefault("websocket.write_buffer_size", 4096)
	viper.SetDefault("websocket.ping_period", "54s")
	viper.SetDefault("websocket.pong_wait", "60s")
	viper.SetDefault("websocket.write_wait", "10s")
	viper.SetDefault("websocket.max_message_size", 10485760) // 10MB frames

	viper.SetDefault("hierarchy.strict", false)
}

// validate validates the configuration via the struct tags
func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			first := errs[0]
			return fmt.Errorf("field %s failed %q validation", first.Namespace(), first.Tag())
		}
		return err
	}
	return nil
}

// DatabaseFile returns the sqlite database file under the storage root
func (c *StorageConfig) DatabaseFile() string {
	return filepath.Join(c.Path, "jive.db")
}
