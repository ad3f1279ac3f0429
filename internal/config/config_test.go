package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation
func validConfig() *Config {
	return &Config{
		DeviceID:      "test-device",
		SubjectPrefix: "torrentd",
		NATS: NATSConfig{
			URLs: []string{"nats://localhost:4222"},
			Auth: AuthConfig{Type: "none"},
		},
		Server: ServerConfig{
			Port:         1212,
			DataDir:      "/tmp/torrentd",
			UploadRate:   "unlimited",
			DownloadRate: "unlimited",
		},
		Tasks: TasksConfig{
			Heartbeat: HeartbeatConfig{Enabled: true, Interval: 1 * time.Minute},
		},
		Commands: CommandsConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "test.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// TestValidateDeviceID tests device ID validation
func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		wantErr  bool
		errText  string
	}{
		{name: "alphanumeric", deviceID: "device123"},
		{name: "with dashes", deviceID: "device-123-abc"},
		{name: "with underscores", deviceID: "device_123_abc"},
		{name: "UUID format", deviceID: "550e8400-e29b-41d4-a716-446655440000"},

		{name: "empty", deviceID: "", wantErr: true, errText: "device_id is required"},
		{name: "with spaces", deviceID: "device 123", wantErr: true, errText: "must contain only alphanumeric"},
		{name: "with dots", deviceID: "device.123", wantErr: true, errText: "must contain only alphanumeric"},
		{name: "with wildcard", deviceID: "device*", wantErr: true, errText: "must contain only alphanumeric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.DeviceID = tt.deviceID
			checkValidate(t, cfg, tt.wantErr, tt.errText)
		})
	}
}

// TestValidateSubjectPrefix tests subject prefix validation
func TestValidateSubjectPrefix(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		wantErr bool
		errText string
	}{
		{name: "simple prefix", prefix: "torrentd"},
		{name: "hierarchical", prefix: "region.dev.torrentd"},
		{name: "empty", prefix: "", wantErr: true, errText: "subject_prefix is required"},
		{name: "trailing dot", prefix: "torrentd.", wantErr: true, errText: "dot-separated"},
		{name: "wildcard", prefix: "torrentd.>", wantErr: true, errText: "dot-separated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.SubjectPrefix = tt.prefix
			checkValidate(t, cfg, tt.wantErr, tt.errText)
		})
	}
}

// TestValidateNATSAuth tests authentication settings
func TestValidateNATSAuth(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr bool
		errText string
	}{
		{name: "none", auth: AuthConfig{Type: "none"}},
		{name: "token", auth: AuthConfig{Type: "token", Token: "secret"}},
		{name: "userpass", auth: AuthConfig{Type: "userpass", Username: "u", Password: "p"}},
		{name: "creds", auth: AuthConfig{Type: "creds", CredsFile: "/etc/torrentd/torrentd.creds"}},
		{
			name: "pocketbase",
			auth: AuthConfig{
				Type:      "pocketbase",
				CredsFile: "/etc/torrentd/torrentd.creds",
				PocketBase: PocketBaseConfig{
					URL:        "https://pb.example.com",
					Identity:   "device@example.com",
					Collection: "nats_creds",
				},
			},
		},

		{name: "token missing", auth: AuthConfig{Type: "token"}, wantErr: true, errText: "token is required"},
		{name: "userpass missing password", auth: AuthConfig{Type: "userpass", Username: "u"}, wantErr: true, errText: "username and password"},
		{name: "creds missing file", auth: AuthConfig{Type: "creds"}, wantErr: true, errText: "creds_file is required"},
		{
			name:    "pocketbase missing url",
			auth:    AuthConfig{Type: "pocketbase", CredsFile: "x.creds"},
			wantErr: true,
			errText: "pocketbase url",
		},
		{name: "unknown type", auth: AuthConfig{Type: "kerberos"}, wantErr: true, errText: "invalid auth type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.NATS.Auth = tt.auth
			checkValidate(t, cfg, tt.wantErr, tt.errText)
		})
	}
}

// TestValidateTLS tests TLS file checks
func TestValidateTLS(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "cert.pem")
	keyFile := filepath.Join(tmpDir, "key.pem")
	os.WriteFile(certFile, []byte("cert"), 0644)
	os.WriteFile(keyFile, []byte("key"), 0644)

	tests := []struct {
		name    string
		tls     TLSConfig
		wantErr bool
		errText string
	}{
		{name: "disabled", tls: TLSConfig{Enabled: false, CertFile: "/missing"}},
		{name: "server verification only", tls: TLSConfig{Enabled: true}},
		{name: "mutual tls", tls: TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}},
		{name: "cert without key", tls: TLSConfig{Enabled: true, CertFile: certFile}, wantErr: true, errText: "must be set together"},
		{name: "missing ca", tls: TLSConfig{Enabled: true, CAFile: filepath.Join(tmpDir, "ca.pem")}, wantErr: true, errText: "not accessible"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.NATS.TLS = tt.tls
			checkValidate(t, cfg, tt.wantErr, tt.errText)
		})
	}
}

// TestValidateServer tests listener settings
func TestValidateServer(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr bool
		errText string
	}{
		{name: "defaults", mutate: func(s *ServerConfig) {}},
		{name: "ephemeral port", mutate: func(s *ServerConfig) { s.Port = 0 }},
		{name: "named rate", mutate: func(s *ServerConfig) { s.UploadRate = "medium" }},
		{name: "sized rate", mutate: func(s *ServerConfig) { s.DownloadRate = "512KB" }},

		{name: "negative port", mutate: func(s *ServerConfig) { s.Port = -1 }, wantErr: true, errText: "out of range"},
		{name: "port too large", mutate: func(s *ServerConfig) { s.Port = 70000 }, wantErr: true, errText: "out of range"},
		{name: "missing data dir", mutate: func(s *ServerConfig) { s.DataDir = "" }, wantErr: true, errText: "data_dir is required"},
		{name: "bad rate", mutate: func(s *ServerConfig) { s.UploadRate = "fast" }, wantErr: true, errText: "upload_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Server)
			checkValidate(t, cfg, tt.wantErr, tt.errText)
		})
	}
}

// TestValidateIntervalsAndTimeouts tests heartbeat and command timeout bounds
func TestValidateIntervalsAndTimeouts(t *testing.T) {
	tests := []struct {
		name      string
		heartbeat HeartbeatConfig
		timeout   time.Duration
		wantErr   bool
		errText   string
	}{
		{name: "valid", heartbeat: HeartbeatConfig{Enabled: true, Interval: time.Minute}, timeout: 30 * time.Second},
		{name: "disabled heartbeat ignores interval", heartbeat: HeartbeatConfig{Enabled: false}, timeout: 30 * time.Second},
		{name: "heartbeat too short", heartbeat: HeartbeatConfig{Enabled: true, Interval: 5 * time.Second}, timeout: 30 * time.Second, wantErr: true, errText: "at least 10 seconds"},
		{name: "timeout too short", heartbeat: HeartbeatConfig{Enabled: true, Interval: time.Minute}, timeout: time.Second, wantErr: true, errText: "at least 5 seconds"},
		{name: "timeout too long", heartbeat: HeartbeatConfig{Enabled: true, Interval: time.Minute}, timeout: 10 * time.Minute, wantErr: true, errText: "must not exceed 5 minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Tasks.Heartbeat = tt.heartbeat
			cfg.Commands.Timeout = tt.timeout
			checkValidate(t, cfg, tt.wantErr, tt.errText)
		})
	}
}

// TestParseRate tests rate string conversion
func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "unlimited", want: 0},
		{in: "0", want: 0},
		{in: "low", want: 50000},
		{in: "Medium", want: 500000},
		{in: "high", want: 1500000},
		{in: "1KB", want: 1024},
		{in: "2mb", want: 2 * 1024 * 1024},
		{in: "10GB", wantErr: true},
		{in: "fast", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseRate(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

// TestLoad tests reading a YAML file with defaults and env overrides
func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	content := `
device_id: lab-01
server:
  data_dir: ` + filepath.Join(tmpDir, "data") + `
logging:
  file: ` + filepath.Join(tmpDir, "torrentd.log") + `
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TORRENTD_SERVER_PORT", "6881")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DeviceID != "lab-01" {
		t.Errorf("DeviceID = %q, want lab-01", cfg.DeviceID)
	}
	if cfg.Server.Port != 6881 {
		t.Errorf("Server.Port = %d, want 6881 from env", cfg.Server.Port)
	}
	if cfg.SubjectPrefix != "torrentd" {
		t.Errorf("SubjectPrefix = %q, want default torrentd", cfg.SubjectPrefix)
	}
	if cfg.Tasks.Heartbeat.Interval != time.Minute {
		t.Errorf("Heartbeat.Interval = %v, want 1m", cfg.Tasks.Heartbeat.Interval)
	}
	if cfg.NATS.DrainTimeout != 30*time.Second {
		t.Errorf("DrainTimeout = %v, want 30s", cfg.NATS.DrainTimeout)
	}
}

// TestLoadDefaultPort tests the server port default
func TestLoadDefaultPort(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(path, []byte("device_id: lab-02\n"), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 1212 {
		t.Errorf("Server.Port = %d, want 1212", cfg.Server.Port)
	}
}

// TestLoadMissingFile tests that a missing file is an error
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func checkValidate(t *testing.T, cfg *Config, wantErr bool, errText string) {
	t.Helper()
	err := validate(cfg)
	if (err != nil) != wantErr {
		t.Errorf("validate() error = %v, wantErr %v", err, wantErr)
		return
	}
	if wantErr && errText != "" && err != nil && !strings.Contains(err.Error(), errText) {
		t.Errorf("validate() error = %v, want error containing %q", err, errText)
	}
}
