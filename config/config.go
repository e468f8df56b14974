package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "chitchat"
	// EnvPrefix prefixes every environment override, e.g. CHITCHAT_HTTP_ADDRESS.
	EnvPrefix = "CHITCHAT"

	DefaultHTTPAddress          = ":8080"
	DefaultTCPAddress           = ":9999"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultPushWorkers          = 4
	DefaultPushQueueSize        = 256
	DefaultKeepAliveInterval    = 60
	DefaultKeepAliveTimeout     = 15
	DefaultHistoryLimit         = 50
	DefaultHistoryMaxLimit      = 200
	DefaultSecurityRetentionDay = 90

	configFileName = "config.json"
	databaseName   = "chitchat.db"
)

// ServerConfig contains persistent server settings.
type ServerConfig struct {
	InstanceID                string `json:"instance_id" mapstructure:"instance_id"`
	ServerName                string `json:"server_name" mapstructure:"server_name"`
	HTTPAddress               string `json:"http_address" mapstructure:"http_address"`
	TCPAddress                string `json:"tcp_address" mapstructure:"tcp_address"`
	DatabasePath              string `json:"database_path" mapstructure:"database_path"`
	JWTSecret                 string `json:"jwt_secret" mapstructure:"jwt_secret"`
	LogLevel                  string `json:"log_level" mapstructure:"log_level"`
	LogFormat                 string `json:"log_format" mapstructure:"log_format"`
	FirebaseCredentialsFile   string `json:"firebase_credentials_file" mapstructure:"firebase_credentials_file"`
	PushWorkers               int    `json:"push_workers" mapstructure:"push_workers"`
	PushQueueSize             int    `json:"push_queue_size" mapstructure:"push_queue_size"`
	DiscoveryEnabled          bool   `json:"discovery_enabled" mapstructure:"discovery_enabled"`
	KeepAliveIntervalSeconds  int    `json:"keep_alive_interval_seconds" mapstructure:"keep_alive_interval_seconds"`
	KeepAliveTimeoutSeconds   int    `json:"keep_alive_timeout_seconds" mapstructure:"keep_alive_timeout_seconds"`
	HistoryDefaultLimit       int    `json:"history_default_limit" mapstructure:"history_default_limit"`
	HistoryMaxLimit           int    `json:"history_max_limit" mapstructure:"history_max_limit"`
	SecurityEventRetentionDay int    `json:"security_event_retention_days" mapstructure:"security_event_retention_days"`
}

// overridableKeys are the settings that may come from CHITCHAT_* variables.
var overridableKeys = []string{
	"server_name",
	"http_address",
	"tcp_address",
	"database_path",
	"jwt_secret",
	"log_level",
	"log_format",
	"firebase_credentials_file",
	"push_workers",
	"push_queue_size",
	"discovery_enabled",
	"keep_alive_interval_seconds",
	"keep_alive_timeout_seconds",
	"history_default_limit",
	"history_max_limit",
	"security_event_retention_days",
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CHITCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvPrefix + "_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ServerConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, applies
// environment overrides and returns the effective config with its path.
// Overrides are never written back to disk.
func LoadOrCreate() (*ServerConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if cfg, err = defaultConfig(dataDir); err != nil {
			return nil, "", err
		}
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	case err != nil:
		return nil, "", err
	default:
		updated, err := normalizeDefaults(cfg, dataDir)
		if err != nil {
			return nil, "", err
		}
		if updated {
			if err := Save(cfgPath, cfg); err != nil {
				return nil, "", err
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, "", err
	}
	return cfg, cfgPath, nil
}

// applyEnv overlays CHITCHAT_* environment variables onto cfg.
func applyEnv(cfg *ServerConfig) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range overridableKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %q: %w", key, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("apply env overrides: %w", err)
	}
	return nil
}

func defaultConfig(dataDir string) (*ServerConfig, error) {
	cfg := &ServerConfig{DiscoveryEnabled: true}
	if _, err := normalizeDefaults(cfg, dataDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalizeDefaults(cfg *ServerConfig, dataDir string) (bool, error) {
	updated := false
	setString := func(field *string, value string) {
		if strings.TrimSpace(*field) == "" {
			*field = value
			updated = true
		}
	}
	setInt := func(field *int, value int) {
		if *field <= 0 {
			*field = value
			updated = true
		}
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
		updated = true
	}
	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return false, err
		}
		cfg.JWTSecret = secret
		updated = true
	}

	serverName := "chitchat"
	if host, err := os.Hostname(); err == nil && host != "" {
		serverName = host
	}
	setString(&cfg.ServerName, serverName)
	setString(&cfg.HTTPAddress, DefaultHTTPAddress)
	setString(&cfg.TCPAddress, DefaultTCPAddress)
	setString(&cfg.DatabasePath, filepath.Join(dataDir, databaseName))
	setString(&cfg.LogLevel, DefaultLogLevel)
	setString(&cfg.LogFormat, DefaultLogFormat)

	setInt(&cfg.PushWorkers, DefaultPushWorkers)
	setInt(&cfg.PushQueueSize, DefaultPushQueueSize)
	setInt(&cfg.KeepAliveIntervalSeconds, DefaultKeepAliveInterval)
	setInt(&cfg.KeepAliveTimeoutSeconds, DefaultKeepAliveTimeout)
	setInt(&cfg.HistoryDefaultLimit, DefaultHistoryLimit)
	setInt(&cfg.HistoryMaxLimit, DefaultHistoryMaxLimit)
	setInt(&cfg.SecurityEventRetentionDay, DefaultSecurityRetentionDay)

	if cfg.HistoryDefaultLimit > cfg.HistoryMaxLimit {
		cfg.HistoryDefaultLimit = cfg.HistoryMaxLimit
		updated = true
	}

	return updated, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
