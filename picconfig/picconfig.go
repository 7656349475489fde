// Package picconfig implements the configuration surface spec section 6.2
// describes: environment variables and flags overriding struct defaults,
// validated once at startup. It mirrors the original implementation's
// configuration.rs field-for-field (same env var names, same precedence:
// struct defaults, then flags, then environment), re-expressed with
// spf13/pflag for flag parsing and github.com/letsencrypt/validator/v10 for
// struct validation -- the same validator boulder's own go.mod already
// carries, used here for exactly the struct-tag validation role its name
// suggests, since spec section 9's "Shared configuration" design note calls
// for ServerConfig to be constructed once and treated as read-only
// afterward.
package picconfig

import (
	"fmt"
	"time"

	"github.com/letsencrypt/validator/v10"
	"github.com/spf13/pflag"

	"github.com/pickyca/picky-ca/signature"
)

// Backend selects which storage driver backs a ServerConfig, mirroring the
// original configuration.rs's BackendType enum.
type Backend string

const (
	BackendMySQL   Backend = "mysql"
	BackendSQLite  Backend = "sqlite"
	BackendMongoDB Backend = "mongodb"
	BackendMemory  Backend = "memory"
	BackendFile    Backend = "file"
)

// defaultRealm is the original implementation's DEFAULT_PICKY_REALM.
const defaultRealm = "Picky"

// Environment variable names, matching the original implementation's
// configuration.rs *_ENV constants exactly.
const (
	EnvRealm            = "PICKY_REALM"
	EnvDatabaseURL      = "PICKY_DATABASE_URL"
	EnvAPIKey           = "PICKY_API_KEY"
	EnvBackend          = "PICKY_BACKEND"
	EnvRootCert         = "PICKY_ROOT_CERT"
	EnvRootKey          = "PICKY_ROOT_KEY"
	EnvIntermediateCert = "PICKY_INTERMEDIATE_CERT"
	EnvIntermediateKey  = "PICKY_INTERMEDIATE_KEY"
	EnvSaveCertificate  = "PICKY_SAVE_CERTIFICATE"
	EnvBackendFilePath  = "PICKY_BACKEND_FILE_PATH"
)

// ServerConfig is the validated, process-wide configuration spec section
// 6.2 describes. Once built by Load, it is never mutated; every request
// handler reads it as immutable shared state, per spec section 9.
type ServerConfig struct {
	LogLevel string `validate:"oneof=off error warn info debug trace"`
	APIKey   string
	Realm    string `validate:"required"`

	Backend      Backend `validate:"oneof=mysql sqlite mongodb memory file"`
	DatabaseURL  string  `validate:"required_if=Backend mysql required_if=Backend mongodb"`
	SaveFilePath string

	RootCertPEM         string
	RootKeyPEM          string
	IntermediateCertPEM string
	IntermediateKeyPEM  string

	SaveCertificate bool
	KeyConfig       signature.HashType

	RootValidity         time.Duration
	IntermediateValidity time.Duration
	LeafValidity         time.Duration
}

// defaults returns the struct-default ServerConfig the original
// implementation's Default impl for ServerConfig specifies, before flag or
// environment overrides are applied.
func defaults() ServerConfig {
	return ServerConfig{
		LogLevel:             "info",
		Realm:                defaultRealm,
		Backend:              BackendMongoDB,
		DatabaseURL:          "mongodb://127.0.0.1:27017",
		KeyConfig:            signature.RsaSha256,
		RootValidity:         20 * 365 * 24 * time.Hour,
		IntermediateValidity: 10 * 365 * 24 * time.Hour,
		LeafValidity:         365 * 24 * time.Hour,
	}
}

// FlagSet builds the pflag.FlagSet Load parses command-line arguments from,
// matching the original implementation's cli.yml option names
// (--log-level, --realm, --db-url, --api-key, --backend,
// --save-certificate).
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("picky-server", pflag.ContinueOnError)
	fs.String("log-level", "", "log level (off|error|warn|info|debug|trace)")
	fs.String("realm", "", "realm prefix for Root CA and Authority names")
	fs.String("db-url", "", "backend connection string")
	fs.String("api-key", "", "bearer token required by protected routes")
	fs.String("backend", "", "backend selector (mysql|sqlite|mongodb|memory|file)")
	fs.Bool("save-certificate", false, "store issued leaf certificates")
	return fs
}

// Load builds a ServerConfig following the original implementation's
// three-tier precedence: struct defaults, overridden by flags (if fs has
// been parsed), overridden by environment variables, then validated.
func Load(fs *pflag.FlagSet, getenv func(string) string) (*ServerConfig, error) {
	cfg := defaults()

	if fs != nil {
		applyFlags(&cfg, fs)
	}
	applyEnv(&cfg, getenv)

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyFlags(cfg *ServerConfig, fs *pflag.FlagSet) {
	if v, err := fs.GetString("log-level"); err == nil && v != "" {
		cfg.LogLevel = v
	}
	if v, err := fs.GetString("realm"); err == nil && v != "" {
		cfg.Realm = v
	}
	if v, err := fs.GetString("db-url"); err == nil && v != "" {
		cfg.DatabaseURL = v
	}
	if v, err := fs.GetString("api-key"); err == nil && v != "" {
		cfg.APIKey = v
	}
	if v, err := fs.GetString("backend"); err == nil && v != "" {
		cfg.Backend = Backend(v)
	}
	if v, err := fs.GetBool("save-certificate"); err == nil && v {
		cfg.SaveCertificate = true
	}
}

func applyEnv(cfg *ServerConfig, getenv func(string) string) {
	if v := getenv(EnvRealm); v != "" {
		cfg.Realm = v
	}
	if v := getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		cfg.DatabaseURL = v
	}
	if v := getenv(EnvBackend); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := getenv(EnvRootCert); v != "" {
		cfg.RootCertPEM = v
	}
	if v := getenv(EnvRootKey); v != "" {
		cfg.RootKeyPEM = v
	}
	if v := getenv(EnvIntermediateCert); v != "" {
		cfg.IntermediateCertPEM = v
	}
	if v := getenv(EnvIntermediateKey); v != "" {
		cfg.IntermediateKeyPEM = v
	}
	if v := getenv(EnvBackendFilePath); v != "" {
		cfg.SaveFilePath = v
	}
	if v := getenv(EnvSaveCertificate); v == "true" || v == "false" {
		cfg.SaveCertificate = v == "true"
	}
}
