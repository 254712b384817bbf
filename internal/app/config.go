package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/acctkeeper/internal/accountstore"
	"github.com/florianilch/acctkeeper/internal/tokenstore"
	"github.com/florianilch/acctkeeper/internal/verdentapi"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTel LogFormat = "otel"
)

// LogExporter selects where otel-formatted logs are shipped.
type LogExporter string

const (
	LogExporterStdout   LogExporter = "stdout"
	LogExporterOTLPHTTP LogExporter = "otlp-http"
	LogExporterOTLPGRPC LogExporter = "otlp-grpc"
)

// SessionStorageType represents the storage backends for the editor session.
type SessionStorageType string

const (
	SessionStorageTypeFile    SessionStorageType = "file"
	SessionStorageTypeEnv     SessionStorageType = "env"
	SessionStorageTypeKeyring SessionStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat          = LogFormatText
	DefaultConfigLogExporter        = LogExporterStdout
	DefaultConfigServerHost         = "127.0.0.1"
	DefaultConfigServerPort         = 4100
	DefaultConfigShutdownTimeout    = 5 * time.Second
	DefaultConfigSessionStorage     = SessionStorageTypeFile
	DefaultConfigMaxAttempts        = 3
	DefaultConfigRefreshConcurrency = 4

	keyringService = "acctkeeper-session"
)

// StoreConfig locates the accounts file.
type StoreConfig struct {
	// Path to accounts.json. Defaults to ~/.verdent_accounts/accounts.json.
	Path string `json:"path"`
}

// APIConfig holds remote service endpoints and transport tuning.
type APIConfig struct {
	LoginURL        string        `json:"login_url" validate:"required,url"`
	PKCEAuthURL     string        `json:"pkce_auth_url" validate:"required,url"`
	PKCECallbackURL string        `json:"pkce_callback_url" validate:"required,url"`
	UserInfoURL     string        `json:"user_info_url" validate:"required,url"`
	ConnectTimeout  time.Duration `json:"connect_timeout" validate:"gt=0"`
	RequestTimeout  time.Duration `json:"request_timeout" validate:"gt=0"`
	MaxAttempts     int           `json:"max_attempts" validate:"gte=1,lte=10"`
	RetryStep       time.Duration `json:"retry_step" validate:"gte=0"`
}

// Endpoints returns the URLs as client endpoints.
func (a APIConfig) Endpoints() verdentapi.Endpoints {
	return verdentapi.Endpoints{
		Login:        a.LoginURL,
		PKCEAuth:     a.PKCEAuthURL,
		PKCECallback: a.PKCECallbackURL,
		UserInfo:     a.UserInfoURL,
	}
}

// SessionConfig describes where the editor login session is kept.
type SessionConfig struct {
	Storage SessionStorageType `json:"storage" validate:"required,oneof=file env keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string `json:"file,omitempty"`
	EnvKey      string `json:"env_key,omitempty"`
	KeyringUser string `json:"keyring_user,omitempty"`
}

// NewTokenStore creates the session backend from the configuration.
func (s *SessionConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch s.Storage {
	case SessionStorageTypeFile:
		return tokenstore.NewFileStore(s.File)
	case SessionStorageTypeEnv:
		return tokenstore.NewEnvStore(s.EnvKey)
	case SessionStorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, s.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Storage)
	}
}

// ServerConfig holds local API server configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// RefreshConfig tunes bulk refreshes.
type RefreshConfig struct {
	// Concurrency caps in-flight profile fetches during RefreshAll.
	Concurrency int `json:"concurrency" validate:"gte=1,lte=64"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level     `json:"log_level"`
	LogFormat   LogFormat      `json:"log_format" validate:"oneof=text json otel"`
	LogExporter LogExporter    `json:"log_exporter" validate:"oneof=stdout otlp-http otlp-grpc"`
	Store       StoreConfig    `json:"store"`
	API         APIConfig      `json:"api"`
	Session     SessionConfig  `json:"session"`
	Server      ServerConfig   `json:"server"`
	Shutdown    ShutdownConfig `json:"shutdown"`
	Refresh     RefreshConfig  `json:"refresh"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.LogExporter == "" {
		c.LogExporter = DefaultConfigLogExporter
	}
	if c.Store.Path == "" {
		path, err := accountstore.DefaultPath()
		if err != nil {
			return fmt.Errorf("store.path required (auto-detect failed: %w)", err)
		}
		c.Store.Path = path
	}

	defaults := verdentapi.DefaultEndpoints
	if c.API.LoginURL == "" {
		c.API.LoginURL = defaults.Login
	}
	if c.API.PKCEAuthURL == "" {
		c.API.PKCEAuthURL = defaults.PKCEAuth
	}
	if c.API.PKCECallbackURL == "" {
		c.API.PKCECallbackURL = defaults.PKCECallback
	}
	if c.API.UserInfoURL == "" {
		c.API.UserInfoURL = defaults.UserInfo
	}
	if c.API.ConnectTimeout == 0 {
		c.API.ConnectTimeout = verdentapi.DefaultConnectTimeout
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = verdentapi.DefaultRequestTimeout
	}
	if c.API.MaxAttempts == 0 {
		c.API.MaxAttempts = DefaultConfigMaxAttempts
	}
	if c.API.RetryStep == 0 {
		c.API.RetryStep = verdentapi.DefaultRetryStep
	}

	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Refresh.Concurrency == 0 {
		c.Refresh.Concurrency = DefaultConfigRefreshConcurrency
	}

	if c.Session.Storage == "" {
		c.Session.Storage = DefaultConfigSessionStorage
	}

	// Dynamic defaults based on storage type
	switch c.Session.Storage {
	case SessionStorageTypeFile:
		if c.Session.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("session.file required (auto-detect failed: %w)", err)
			}
			c.Session.File = filepath.Join(configDir, "acctkeeper", "session")
		}
	case SessionStorageTypeKeyring:
		if c.Session.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("session.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Session.KeyringUser = currentUser.Username
		}
	case SessionStorageTypeEnv:
		// env_key must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Store.Path == "" {
		return errors.New("store.path required")
	}

	switch c.Session.Storage {
	case SessionStorageTypeFile:
		if c.Session.File == "" {
			return errors.New("file path required for file storage")
		}
	case SessionStorageTypeEnv:
		if c.Session.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case SessionStorageTypeKeyring:
		if c.Session.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}
