package config

import (
	"errors"
	"testing"

	"github.com/EvgenSuit/My-Speechy/internal/accounts"
)

const testDatabaseURL = "https://my-speechy-default-rtdb.europe-west1.firebasedatabase.app"

func TestLoadDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("backend.database_url", testDatabaseURL)

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Driver != DriverFirebase {
		t.Fatalf("unexpected driver %q", cfg.Driver)
	}
	if cfg.DeleteEnabled || cfg.PurgeData {
		t.Fatalf("deletion must be disabled by default")
	}
	if !cfg.VerifyCredentials {
		t.Fatalf("credential verification must be enabled by default")
	}
	if cfg.EmulatorAddress != defaultEmulatorAddress {
		t.Fatalf("unexpected emulator address %q", cfg.EmulatorAddress)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ACCOUNTCTL_BACKEND_DATABASE_URL", testDatabaseURL)
	t.Setenv("ACCOUNTCTL_DELETE_ENABLED", "true")
	t.Setenv("ACCOUNTCTL_CREDENTIALS_FILE", "/etc/accountctl/key.json")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.DeleteEnabled {
		t.Fatalf("expected deletion to be enabled from env")
	}
	if cfg.CredentialsFile != "/etc/accountctl/key.json" {
		t.Fatalf("unexpected credentials file %q", cfg.CredentialsFile)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	cases := map[string]map[string]any{
		"missing database url": {},
		"plain http remote":    {"backend.database_url": "http://example.com"},
		"relative url":         {"backend.database_url": "my-speechy-default-rtdb"},
		"ftp url":              {"backend.database_url": "ftp://example.com"},
		"unknown driver":       {"backend.driver": "ldap"},
		"sqlite without path":  {"backend.driver": "sqlite", "sqlite.path": " "},
		"sqlite purge":         {"backend.driver": "sqlite", "delete.enabled": true, "delete.purge_data": true},
		"purge without delete": {"backend.database_url": testDatabaseURL, "delete.purge_data": true},
	}
	for name, values := range cases {
		configViper := NewViper()
		for key, value := range values {
			configViper.Set(key, value)
		}
		if _, err := Load(configViper); !errors.Is(err, accounts.ConfigurationError) {
			t.Fatalf("%s: expected ConfigurationError, got %v", name, err)
		}
	}
}

func TestValidateDatabaseURLAllowsLoopbackHTTP(t *testing.T) {
	for _, raw := range []string{"http://127.0.0.1:9000?ns=my-speechy", "http://localhost:9000", testDatabaseURL} {
		if err := ValidateDatabaseURL(raw); err != nil {
			t.Fatalf("%s: unexpected error %v", raw, err)
		}
	}
}

func TestLoadSQLiteDriverNeedsNoDatabaseURL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("backend.driver", "SQLite")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Driver != DriverSQLite || cfg.SQLitePath != defaultSQLitePath {
		t.Fatalf("unexpected sqlite configuration %+v", cfg)
	}
}
