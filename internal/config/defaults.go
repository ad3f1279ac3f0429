package config

import (
	"runtime"

	"github.com/spf13/viper"
)

// PlatformDefaults holds platform-specific default paths
type PlatformDefaults struct {
	LogFile    string
	DataDir    string
	CredsFile  string
	ConfigPath string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	switch runtime.GOOS {
	case "windows":
		return PlatformDefaults{
			LogFile:    `C:\ProgramData\torrentd\torrentd.log`,
			DataDir:    `C:\ProgramData\torrentd\data`,
			CredsFile:  `C:\ProgramData\torrentd\torrentd.creds`,
			ConfigPath: `C:\ProgramData\torrentd\config.yaml`,
		}
	case "freebsd":
		return PlatformDefaults{
			LogFile:    "/var/log/torrentd/torrentd.log",
			DataDir:    "/var/db/torrentd",
			CredsFile:  "/usr/local/etc/torrentd/torrentd.creds",
			ConfigPath: "/usr/local/etc/torrentd/config.yaml",
		}
	default:
		return PlatformDefaults{
			LogFile:    "/var/log/torrentd/torrentd.log",
			DataDir:    "/var/lib/torrentd",
			CredsFile:  "/etc/torrentd/torrentd.creds",
			ConfigPath: "/etc/torrentd/config.yaml",
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// UpdateConfigDefaults registers the platform-specific path defaults
func UpdateConfigDefaults(v *viper.Viper) {
	defaults := GetPlatformDefaults()

	v.SetDefault("logging.file", defaults.LogFile)
	v.SetDefault("server.data_dir", defaults.DataDir)
	v.SetDefault("nats.auth.creds_file", defaults.CredsFile)
}
