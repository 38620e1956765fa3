package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	HmIP    HmIPConfig    `mapstructure:"hmip"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Host           string   `mapstructure:"host"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HmIPConfig contains the access point and cloud session settings
type HmIPConfig struct {
	AccessPointID       string        `mapstructure:"access_point_id"`
	Pin                 string        `mapstructure:"pin"`
	AuthToken           string        `mapstructure:"auth_token"`
	ClientID            string        `mapstructure:"client_id"`
	DeviceName          string        `mapstructure:"device_name"`
	LookupURL           string        `mapstructure:"lookup_url"`
	CredentialsFile     string        `mapstructure:"credentials_file"`
	AutoPair            bool          `mapstructure:"auto_pair"`
	PairingTimeout      time.Duration `mapstructure:"pairing_timeout"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	PairingPollInterval time.Duration `mapstructure:"pairing_poll_interval"`
	ResyncSchedule      string        `mapstructure:"resync_schedule"`
}

// MQTTConfig contains the optional event bridge settings
type MQTTConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         byte          `mapstructure:"qos"`
	KeepAlive   time.Duration `mapstructure:"keep_alive"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

func Load() (*Config, error) {
	return LoadWith(viper.New(), "")
}

// LoadWith loads configuration into v. An explicit path overrides the search paths.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Set defaults
	setDefaults(v)

	// Read environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Override specific values from env
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")

	_ = v.BindEnv("hmip.access_point_id", "HMIP_ACCESS_POINT_ID")
	_ = v.BindEnv("hmip.pin", "HMIP_PIN")
	_ = v.BindEnv("hmip.auth_token", "HMIP_AUTH_TOKEN")
	_ = v.BindEnv("hmip.client_id", "HMIP_CLIENT_ID")
	_ = v.BindEnv("hmip.credentials_file", "HMIP_CREDENTIALS_FILE")

	_ = v.BindEnv("mqtt.broker", "MQTT_BROKER")
	_ = v.BindEnv("mqtt.username", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "MQTT_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errors []string

	// Validate server configuration
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		errors = append(errors, "server.host is required")
	}

	// Validate authentication configuration
	if c.Auth.Enabled && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "your-secret-key-here") {
		errors = append(errors, "auth.jwt_secret must be set to a secure value when enabled")
	}

	// Validate access point configuration
	if c.HmIP.AccessPointID == "" && c.HmIP.CredentialsFile == "" {
		errors = append(errors, "hmip.access_point_id is required when no credentials file is configured")
	}
	if c.HmIP.PingInterval <= 0 {
		errors = append(errors, "hmip.ping_interval must be greater than 0")
	}
	if c.HmIP.ReconnectDelay <= 0 {
		errors = append(errors, "hmip.reconnect_delay must be greater than 0")
	}
	if c.HmIP.PairingPollInterval <= 0 {
		errors = append(errors, "hmip.pairing_poll_interval must be greater than 0")
	}
	if c.HmIP.RequestTimeout <= 0 {
		errors = append(errors, "hmip.request_timeout must be greater than 0")
	}
	if c.HmIP.ResyncSchedule != "" {
		if _, err := cron.ParseStandard(c.HmIP.ResyncSchedule); err != nil {
			errors = append(errors, fmt.Sprintf("hmip.resync_schedule is invalid: %v", err))
		}
	}

	// Validate MQTT configuration if enabled
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errors = append(errors, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			errors = append(errors, "mqtt.qos must be 0, 1 or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errors = append(errors, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Auth defaults
	v.SetDefault("auth.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// HmIP defaults
	v.SetDefault("hmip.device_name", "hmip-go")
	v.SetDefault("hmip.lookup_url", "https://lookup.homematic.com:48335/getHost")
	v.SetDefault("hmip.credentials_file", "./data/hmip.yaml")
	v.SetDefault("hmip.auto_pair", true)
	v.SetDefault("hmip.pairing_timeout", "5m")
	v.SetDefault("hmip.request_timeout", "30s")
	v.SetDefault("hmip.ping_interval", "5s")
	v.SetDefault("hmip.reconnect_delay", "10s")
	v.SetDefault("hmip.pairing_poll_interval", "2s")
	v.SetDefault("hmip.resync_schedule", "0 */6 * * *")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "hmip-go")
	v.SetDefault("mqtt.topic_prefix", "hmip")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", "30s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "hmip")
	v.SetDefault("metrics.path", "/metrics")
}
