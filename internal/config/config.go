package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Storage backends
const (
	BackendInflux    = "influx"
	BackendTimescale = "timescale"
	BackendMemory    = "memory"
)

// Config holds all configuration for the service
type Config struct {
	Server      ServerConfig     `mapstructure:"server"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Influx      InfluxConfig     `mapstructure:"influx"`
	TimescaleDB PostgresConfig   `mapstructure:"timescaledb"`
	Redis       RedisConfig      `mapstructure:"redis"`
	MQTT        MQTTConfig       `mapstructure:"mqtt"`
	Query       QueryConfig      `mapstructure:"query"`
	Auth        AuthConfig       `mapstructure:"auth"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

type InfluxConfig struct {
	URL       string `mapstructure:"url"`
	Token     string `mapstructure:"token"`
	Org       string `mapstructure:"org"`
	Bucket    string `mapstructure:"bucket"`
	Precision string `mapstructure:"precision"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MQTTConfig carries broker connection parameters and the reconnect policy.
type MQTTConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Broker             string        `mapstructure:"broker"`
	Port               int           `mapstructure:"port"`
	Protocol           string        `mapstructure:"protocol"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	ClientID           string        `mapstructure:"client_id"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	KeepAlive          time.Duration `mapstructure:"keepalive"`
	ReconnectInterval  time.Duration `mapstructure:"reconnect_interval"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	SubscribeTimeout   time.Duration `mapstructure:"subscribe_timeout"`
	QoS                byte          `mapstructure:"qos"`
	TopicsFile         string        `mapstructure:"topics_file"`
}

type QueryConfig struct {
	Window             string `mapstructure:"window"`
	DefaultMeasurement string `mapstructure:"default_measurement"`
}

type AuthConfig struct {
	JWTSecret   string   `mapstructure:"jwt_secret"`
	ExportRoles []string `mapstructure:"export_roles"`
}

type MonitoringConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
}

// Flags registers the command line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("sensorhub", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (yaml)")
	fs.String("topics", "", "path to the topic registry file (yaml)")
	return fs
}

// Load initializes configuration from flags, environment variables and config file
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENSORHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setDefaults(v)

	configFile := ""
	if flags != nil {
		if err := v.BindPFlag("mqtt.topics_file", flags.Lookup("topics")); err != nil {
			return nil, fmt.Errorf("error binding flags: %w", err)
		}
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 5100)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("storage.backend", BackendInflux)

	// Influx defaults
	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")
	v.SetDefault("influx.precision", "ms")

	// Database defaults
	v.SetDefault("timescaledb.host", "")
	v.SetDefault("timescaledb.port", 5432)
	v.SetDefault("timescaledb.user", "")
	v.SetDefault("timescaledb.password", "")
	v.SetDefault("timescaledb.dbname", "sensorhub")
	v.SetDefault("timescaledb.sslmode", "disable")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "30s")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", true)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.port", 8883)
	v.SetDefault("mqtt.protocol", "mqtts")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.insecure_skip_verify", false)
	v.SetDefault("mqtt.keepalive", "60s")
	v.SetDefault("mqtt.reconnect_interval", "1s")
	v.SetDefault("mqtt.connect_timeout", "30s")
	v.SetDefault("mqtt.subscribe_timeout", "10s")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.topics_file", "")

	// Query defaults
	v.SetDefault("query.window", "1y")
	v.SetDefault("query.default_measurement", "sensor_reading")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.export_roles", []string{})

	// Monitoring defaults
	v.SetDefault("monitoring.metrics_path", "/metrics")
}

func validateConfig(config *Config) error {
	switch config.Storage.Backend {
	case BackendInflux:
		if config.Influx.URL == "" {
			return fmt.Errorf("influx url is required")
		}
		if config.Influx.Org == "" || config.Influx.Bucket == "" {
			return fmt.Errorf("influx org and bucket are required")
		}
	case BackendTimescale:
		if config.TimescaleDB.Host == "" {
			return fmt.Errorf("timescaledb host is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}
	if config.MQTT.Enabled {
		if config.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required")
		}
		if config.MQTT.ReconnectInterval <= 0 || config.MQTT.ConnectTimeout <= 0 {
			return fmt.Errorf("mqtt reconnect_interval and connect_timeout must be positive")
		}
		if config.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2")
		}
	}
	if config.Redis.Enabled && config.Redis.TTL <= 0 {
		return fmt.Errorf("redis ttl must be positive")
	}
	if config.Query.Window == "" {
		return fmt.Errorf("query window is required")
	}
	return nil
}
