// Package config provides the configuration of the StudyDeck server and CLI
// client.
//
// Server values are layered, lowest priority first:
//  1. built-in defaults (env-default tags);
//  2. the config file (-c/-config flag or CONFIG env, JSON or YAML by
//     extension; JSON files give durations in nanoseconds, YAML accepts
//     "15m");
//  3. environment variables, including those loaded from a .env file;
//  4. command-line flags that were set explicitly.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// minSecretLen is the shortest accepted JWT signing secret.
const minSecretLen = 16

// Options holds the configuration values of the server.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"address" yaml:"address" env:"SERVER_ADDRESS" env-default:"localhost:8080"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn" env:"DATABASE_DSN"`

	// Config is the path to the Config file.
	Config string `json:"-" yaml:"-"`

	// JWTSecret signs access tokens.
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret" env:"JWT_SECRET"`
	// JWTIssuer is the "iss" claim of access tokens.
	JWTIssuer string `json:"jwt_issuer" yaml:"jwt_issuer" env:"JWT_ISSUER" env-default:"studydeck"`
	// AccessTokenTTL is the lifetime of access tokens.
	AccessTokenTTL time.Duration `json:"access_token_ttl" yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	// RefreshTokenTTL is the lifetime of refresh sessions.
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl" yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	// CleanupInterval is the period of the expired session cleaner.
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"SESSION_CLEANUP_INTERVAL" env-default:"1h"`

	// SecureCookies marks the refresh cookie Secure.
	SecureCookies bool `json:"secure_cookies" yaml:"secure_cookies" env:"COOKIE_SECURE"`
	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `json:"tls_cert_file" yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `json:"tls_key_file" yaml:"tls_key_file" env:"TLS_KEY_FILE"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// Parse parses the process arguments and environment. It exits the process
// when the configuration is unusable.
func Parse() *Options {
	opts, err := ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return opts
}

// ParseArgs builds Options from args, the environment and the config file.
func ParseArgs(args []string) (*Options, error) {
	loadDotEnv()

	var flagOpts Options
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&flagOpts.Port, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&flagOpts.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&flagOpts.Config, "config", "config.json", "path to config file")
	fs.StringVar(&flagOpts.Config, "c", "config.json", "path to config file (shorthand)")
	fs.StringVar(&flagOpts.JWTSecret, "jwt-secret", "", "access token signing secret")
	fs.StringVar(&flagOpts.LogLevel, "log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	path := flagOpts.Config
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		path = configPath
	}

	opts := &Options{Config: path}
	if err := readFileOrEnv(path, opts); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			opts.Port = flagOpts.Port
		case "d":
			opts.DatabaseDSN = flagOpts.DatabaseDSN
		case "jwt-secret":
			opts.JWTSecret = flagOpts.JWTSecret
		case "log-level":
			opts.LogLevel = flagOpts.LogLevel
		}
	})

	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) validate() error {
	var errs []error
	if o.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if len(o.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLen))
	}
	if o.AccessTokenTTL <= 0 || o.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if (o.TLSCertFile == "") != (o.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls cert and key must be set together"))
	}
	return errors.Join(errs...)
}

// ClientOptions holds the configuration of the CLI client. Every value can
// be overridden by a command-line flag of the same meaning.
type ClientOptions struct {
	// BaseURL is the server origin, e.g. https://studydeck.example.com.
	BaseURL string `env:"CLIENT_BASE_URL" env-default:"http://localhost:8080"`
	// StorePath is the file holding the persisted access token.
	StorePath string `env:"CLIENT_STORE_PATH"`
	// StoreSecret seals the persisted token with AES-GCM when set.
	StoreSecret string `env:"CLIENT_STORE_SECRET"`
	// CAFile is an extra PEM CA bundle trusted for TLS.
	CAFile string `env:"CLIENT_CA_FILE"`
	// Timeout bounds every HTTP round trip.
	Timeout time.Duration `env:"CLIENT_TIMEOUT" env-default:"30s"`
	// RefreshTimeout bounds one token refresh.
	RefreshTimeout time.Duration `env:"CLIENT_REFRESH_TIMEOUT" env-default:"10s"`
	// LogLevel is the zap level name of CLI diagnostics.
	LogLevel string `env:"CLIENT_LOG_LEVEL" env-default:"warn"`
}

// LoadClient reads ClientOptions from the environment and an optional .env
// file. An empty StorePath resolves to auth-storage.json in the user config
// directory.
func LoadClient() (*ClientOptions, error) {
	loadDotEnv()

	var opts ClientOptions
	if err := cleanenv.ReadEnv(&opts); err != nil {
		return nil, fmt.Errorf("read client env: %w", err)
	}
	if opts.StorePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		opts.StorePath = filepath.Join(dir, "studydeck", "auth-storage.json")
	}
	return &opts, nil
}

func readFileOrEnv(path string, opts *Options) error {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, opts); err != nil {
				return fmt.Errorf("read config file %q: %w", path, err)
			}
			return nil
		}
	}
	if err := cleanenv.ReadEnv(opts); err != nil {
		return fmt.Errorf("read env: %w", err)
	}
	return nil
}

// loadDotEnv loads .env from the working directory without overriding
// variables that are already set.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}
