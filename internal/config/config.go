package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/viper"
)

// Config is the complete agent configuration
type Config struct {
	DeviceID      string         `mapstructure:"device_id"`
	SubjectPrefix string         `mapstructure:"subject_prefix"`
	NATS          NATSConfig     `mapstructure:"nats"`
	Server        ServerConfig   `mapstructure:"server"`
	Tasks         TasksConfig    `mapstructure:"tasks"`
	Commands      CommandsConfig `mapstructure:"commands"`
	Logging       LoggingConfig  `mapstructure:"logging"`
}

// NATSConfig holds connection settings for the command/telemetry bus
type NATSConfig struct {
	URLs          []string      `mapstructure:"urls"`
	Auth          AuthConfig    `mapstructure:"auth"`
	TLS           TLSConfig     `mapstructure:"tls"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// AuthConfig selects the NATS authentication method
type AuthConfig struct {
	Type       string           `mapstructure:"type"` // none, token, userpass, creds, pocketbase
	Token      string           `mapstructure:"token"`
	Username   string           `mapstructure:"username"`
	Password   string           `mapstructure:"password"`
	CredsFile  string           `mapstructure:"creds_file"`
	PocketBase PocketBaseConfig `mapstructure:"pocketbase"`
}

// PocketBaseConfig describes where to fetch the .creds file on first boot
type PocketBaseConfig struct {
	URL            string `mapstructure:"url"`
	AuthCollection string `mapstructure:"auth_collection"`
	Identity       string `mapstructure:"identity"`
	PasswordEnv    string `mapstructure:"password_env"`
	Collection     string `mapstructure:"collection"`
	DeviceIDField  string `mapstructure:"device_id_field"`
	CredsField     string `mapstructure:"creds_field"`
}

// TLSConfig configures TLS for the NATS connection
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ServerConfig configures the managed torrent listener
type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	DataDir         string `mapstructure:"data_dir"`
	ListenHost      string `mapstructure:"listen_host"`
	DisableDHT      bool   `mapstructure:"disable_dht"`
	DisableTrackers bool   `mapstructure:"disable_trackers"`
	DisableIPv6     bool   `mapstructure:"disable_ipv6"`
	NoUpload        bool   `mapstructure:"no_upload"`
	Seed            bool   `mapstructure:"seed"`
	UploadRate      string `mapstructure:"upload_rate"`
	DownloadRate    string `mapstructure:"download_rate"`
}

// TasksConfig holds scheduled and boot-time task settings
type TasksConfig struct {
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Autostart bool            `mapstructure:"autostart"`
}

// HeartbeatConfig configures the periodic heartbeat
type HeartbeatConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// CommandsConfig holds command handling settings
type CommandsConfig struct {
	// Timeout bounds how long a request waits to be accepted by the server actor
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig configures zap and log rotation
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

var (
	deviceIDPattern      = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	subjectPrefixPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)*$`)
)

// Load reads the configuration file at path, applies TORRENTD_* environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TORRENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("subject_prefix", "torrentd")

	v.SetDefault("nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("nats.auth.type", "none")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.drain_timeout", "30s")
	v.SetDefault("nats.auth.pocketbase.auth_collection", "users")
	v.SetDefault("nats.auth.pocketbase.password_env", "TORRENTD_PB_PASSWORD")
	v.SetDefault("nats.auth.pocketbase.device_id_field", "device_id")
	v.SetDefault("nats.auth.pocketbase.creds_field", "creds")

	v.SetDefault("server.port", 1212)
	v.SetDefault("server.disable_dht", false)
	v.SetDefault("server.disable_trackers", false)
	v.SetDefault("server.seed", true)
	v.SetDefault("server.upload_rate", "unlimited")
	v.SetDefault("server.download_rate", "unlimited")

	v.SetDefault("tasks.heartbeat.enabled", true)
	v.SetDefault("tasks.heartbeat.interval", "1m")
	v.SetDefault("tasks.autostart", false)

	v.SetDefault("commands.timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)

	UpdateConfigDefaults(v)
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if !deviceIDPattern.MatchString(cfg.DeviceID) {
		return fmt.Errorf("device_id %q must contain only alphanumeric characters, dashes, and underscores", cfg.DeviceID)
	}

	if cfg.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}
	if !subjectPrefixPattern.MatchString(cfg.SubjectPrefix) {
		return fmt.Errorf("subject_prefix %q must be dot-separated tokens of alphanumeric characters, dashes, and underscores", cfg.SubjectPrefix)
	}

	if err := validateNATS(&cfg.NATS); err != nil {
		return err
	}

	if err := validateServer(&cfg.Server); err != nil {
		return err
	}

	if cfg.Tasks.Heartbeat.Enabled && cfg.Tasks.Heartbeat.Interval < 10*time.Second {
		return fmt.Errorf("heartbeat interval must be at least 10 seconds")
	}

	if cfg.Commands.Timeout < 5*time.Second {
		return fmt.Errorf("command timeout must be at least 5 seconds")
	}
	if cfg.Commands.Timeout > 5*time.Minute {
		return fmt.Errorf("command timeout must not exceed 5 minutes")
	}

	if cfg.Logging.File == "" {
		return fmt.Errorf("logging.file is required")
	}

	return nil
}

func validateNATS(cfg *NATSConfig) error {
	if len(cfg.URLs) == 0 {
		return fmt.Errorf("at least one NATS URL is required")
	}

	switch cfg.Auth.Type {
	case "none":
	case "token":
		if cfg.Auth.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
	case "userpass":
		if cfg.Auth.Username == "" || cfg.Auth.Password == "" {
			return fmt.Errorf("username and password are required for userpass auth")
		}
	case "creds":
		if cfg.Auth.CredsFile == "" {
			return fmt.Errorf("creds_file is required for creds auth")
		}
	case "pocketbase":
		if cfg.Auth.CredsFile == "" {
			return fmt.Errorf("creds_file is required for pocketbase auth")
		}
		pb := cfg.Auth.PocketBase
		if pb.URL == "" || pb.Identity == "" || pb.Collection == "" {
			return fmt.Errorf("pocketbase url, identity and collection are required for pocketbase auth")
		}
	default:
		return fmt.Errorf("invalid auth type: %s (must be none, token, userpass, creds, or pocketbase)", cfg.Auth.Type)
	}

	if cfg.TLS.Enabled {
		if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
			return fmt.Errorf("tls cert_file and key_file must be set together")
		}
		for _, f := range []string{cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile} {
			if f == "" {
				continue
			}
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("tls file not accessible: %w", err)
			}
		}
	}

	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("server port %d out of range (0-65535)", cfg.Port)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("server data_dir is required")
	}
	for name, rate := range map[string]string{"upload_rate": cfg.UploadRate, "download_rate": cfg.DownloadRate} {
		if _, err := ParseRate(rate); err != nil {
			return fmt.Errorf("server %s: %w", name, err)
		}
	}
	return nil
}

// ParseRate converts a rate string into bytes per second.
// Accepts low, medium, high, unlimited/0/empty (returns 0), or a size like "512KB".
func ParseRate(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "low":
		return 50000, nil
	case "medium":
		return 500000, nil
	case "high":
		return 1500000, nil
	case "unlimited", "0", "":
		return 0, nil
	}

	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	if v > 2147483647 {
		return 0, fmt.Errorf("rate %q exceeds maximum", s)
	}
	return int(v), nil
}
