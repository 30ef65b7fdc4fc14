package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/EvgenSuit/My-Speechy/internal/accounts"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "ACCOUNTCTL"
	defaultDriver          = DriverFirebase
	defaultSQLitePath      = "accounts.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
	defaultEmulatorAddress = "127.0.0.1:9099"
	opLoad                 = "config.load"
)

const (
	DriverFirebase = "firebase"
	DriverSQLite   = "sqlite"
)

// AppConfig captures runtime configuration for a single run.
type AppConfig struct {
	CredentialsFile   string
	Driver            string
	DatabaseURL       string
	ProjectID         string
	StorageBucket     string
	VerifyCredentials bool
	SQLitePath        string
	RequireProvider   bool
	DeleteEnabled     bool
	PurgeData         bool
	LogLevel          string
	LogFormat         string
	EmulatorAddress   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("credentials.file", "")
	configViper.SetDefault("backend.driver", defaultDriver)
	configViper.SetDefault("backend.database_url", "")
	configViper.SetDefault("backend.project_id", "")
	configViper.SetDefault("backend.storage_bucket", "")
	configViper.SetDefault("backend.verify_credentials", true)
	configViper.SetDefault("sqlite.path", defaultSQLitePath)
	configViper.SetDefault("report.require_provider", false)
	configViper.SetDefault("delete.enabled", false)
	configViper.SetDefault("delete.purge_data", false)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("emulator.address", defaultEmulatorAddress)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		CredentialsFile:   strings.TrimSpace(configViper.GetString("credentials.file")),
		Driver:            strings.ToLower(strings.TrimSpace(configViper.GetString("backend.driver"))),
		DatabaseURL:       strings.TrimSpace(configViper.GetString("backend.database_url")),
		ProjectID:         strings.TrimSpace(configViper.GetString("backend.project_id")),
		StorageBucket:     strings.TrimSpace(configViper.GetString("backend.storage_bucket")),
		VerifyCredentials: configViper.GetBool("backend.verify_credentials"),
		SQLitePath:        strings.TrimSpace(configViper.GetString("sqlite.path")),
		RequireProvider:   configViper.GetBool("report.require_provider"),
		DeleteEnabled:     configViper.GetBool("delete.enabled"),
		PurgeData:         configViper.GetBool("delete.purge_data"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		EmulatorAddress:   strings.TrimSpace(configViper.GetString("emulator.address")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.Driver {
	case DriverFirebase:
		if err := ValidateDatabaseURL(c.DatabaseURL); err != nil {
			return err
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return accounts.Errorf(accounts.ConfigurationError, opLoad, "sqlite.path is required")
		}
		if c.PurgeData {
			return accounts.Errorf(accounts.ConfigurationError, opLoad, "delete.purge_data requires the %s driver", DriverFirebase)
		}
	default:
		return accounts.Errorf(accounts.ConfigurationError, opLoad, "unknown backend.driver %q", c.Driver)
	}
	if c.PurgeData && !c.DeleteEnabled {
		return accounts.Errorf(accounts.ConfigurationError, opLoad, "delete.purge_data requires delete.enabled")
	}
	return nil
}

// ValidateDatabaseURL checks that the backend endpoint is an absolute https URL.
// Plain http is accepted for loopback hosts so local emulators can be targeted.
func ValidateDatabaseURL(raw string) error {
	if raw == "" {
		return accounts.Errorf(accounts.ConfigurationError, opLoad, "backend.database_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return accounts.NewError(accounts.ConfigurationError, opLoad, fmt.Errorf("backend.database_url: %w", err))
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return accounts.Errorf(accounts.ConfigurationError, opLoad, "backend.database_url %q has no host", raw)
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(parsed.Hostname()) {
			return nil
		}
		return accounts.Errorf(accounts.ConfigurationError, opLoad, "backend.database_url must use https for %s", parsed.Hostname())
	default:
		return accounts.Errorf(accounts.ConfigurationError, opLoad, "backend.database_url %q must be an https URL", raw)
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
