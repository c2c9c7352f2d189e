package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/sessioncore/internal/logging"
)

var log = logging.L("config")

// Config is shared by both binaries (sessioncored, sessionagent); each only
// reads the fields relevant to its role, following the teacher's single
// Config-struct-for-both-entrypoints shape.
type Config struct {
	AgentID   string `mapstructure:"agent_id"`
	RelayURL  string `mapstructure:"relay_url"`
	AuthToken string `mapstructure:"auth_token"`

	// Geography, reported in AgentRegister/SessionRequest (§4.10 Load
	// Balancer inputs: agent/viewer location for Haversine distance).
	Region    string  `mapstructure:"region"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`

	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`

	// Logging configuration
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
	LogFile          string `mapstructure:"log_file"`
	LogMaxSizeMB     int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups    int    `mapstructure:"log_max_backups"`
	LogShippingLevel string `mapstructure:"log_shipping_level"`

	// Capture/encode (sessionagent)
	TargetFPS         int    `mapstructure:"target_fps"`
	DefaultBitrateKbps int   `mapstructure:"default_bitrate_kbps"`
	EncoderPreference string `mapstructure:"encoder_preference"`

	// Relay fabric / load balancer (sessioncored)
	RelayListen           string  `mapstructure:"relay_listen"`
	RelayAdminListen      string  `mapstructure:"relay_admin_listen"`
	LBHealthThreshold     float64 `mapstructure:"lb_health_threshold"`
	MaxConcurrentSessions int     `mapstructure:"max_concurrent_sessions"`
	RelayQueueSize        int     `mapstructure:"relay_queue_size"`

	// mTLS (optional transport hardening for the control channel)
	MtlsCertPEM     string `mapstructure:"mtls_cert_pem"`
	MtlsKeyPEM      string `mapstructure:"mtls_key_pem"`
	MtlsCertExpires string `mapstructure:"mtls_cert_expires"`
}

func Default() *Config {
	return &Config{
		HeartbeatIntervalSeconds: 30,
		LogLevel:                 "info",
		LogFormat:                "text",
		LogMaxSizeMB:             50,
		LogMaxBackups:            3,
		LogShippingLevel:         "warn",
		TargetFPS:                30,
		DefaultBitrateKbps:       3000,
		EncoderPreference:        "balanced",
		RelayListen:              ":8443",
		RelayAdminListen:         ":8444",
		LBHealthThreshold:        0.5,
		MaxConcurrentSessions:    100,
		RelayQueueSize:           10000,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("agent")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("BREEZE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("agent_id", cfg.AgentID)
	viper.Set("relay_url", cfg.RelayURL)
	viper.Set("auth_token", cfg.AuthToken)
	viper.Set("region", cfg.Region)
	viper.Set("latitude", cfg.Latitude)
	viper.Set("longitude", cfg.Longitude)
	viper.Set("heartbeat_interval_seconds", cfg.HeartbeatIntervalSeconds)
	viper.Set("target_fps", cfg.TargetFPS)
	viper.Set("default_bitrate_kbps", cfg.DefaultBitrateKbps)
	viper.Set("encoder_preference", cfg.EncoderPreference)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "agent.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (contains auth token)
	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific data directory for the agent
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze", "data")
	case "darwin":
		return "/Library/Application Support/Breeze/data"
	default:
		return "/var/lib/breeze"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Breeze")
	case "darwin":
		return "/Library/Application Support/Breeze"
	default:
		return "/etc/breeze"
	}
}
