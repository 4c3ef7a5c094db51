// Package config loads process configuration from the environment and flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store selects and locates the database.
type Store struct {
	Driver        string `env:"LAB_DB_DRIVER" envDefault:"sqlite"`
	DSN           string `env:"LAB_DB_DSN" envDefault:"data/labkeeper.db"`
	MaintenanceDB string `env:"LAB_MAINTENANCE_DB" envDefault:"postgres"`
}

// Server configures labd.
type Server struct {
	Store
	HTTPAddr        string        `env:"LAB_HTTP_ADDR" envDefault:":8080"`
	AuthSecret      string        `env:"LAB_AUTH_SECRET"`
	TokenTTL        time.Duration `env:"LAB_TOKEN_TTL" envDefault:"8h"`
	RatePerSec      float64       `env:"LAB_RATE_PER_SEC" envDefault:"5"`
	RateBurst       int           `env:"LAB_RATE_BURST" envDefault:"10"`
	ShutdownTimeout time.Duration `env:"LAB_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins     []string      `env:"LAB_CORS_ORIGINS" envSeparator:","`
	TrustedProxies  []string      `env:"LAB_TRUSTED_PROXIES" envSeparator:","`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host prefix.
func (s Server) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// LoadDotEnv loads variables from the file named by LAB_ENV_FILE, or .env.
// A missing file is not an error; variables already set are kept.
func LoadDotEnv() (string, error) {
	path := os.Getenv("LAB_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	return path, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// BindStore registers the store flags on fs with cfg's values as defaults.
func BindStore(fs *flag.FlagSet, cfg *Store) {
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "Database driver (pgx or sqlite)")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Database DSN or sqlite file path")
	fs.StringVar(&cfg.MaintenanceDB, "maintenance-db", cfg.MaintenanceDB, "Server database used to create the target database")
}

// Validate checks the store settings.
func (s Store) Validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "pgx", "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unsupported driver %q", s.Driver)
	}
	if strings.TrimSpace(s.DSN) == "" {
		return errors.New("missing DSN: provide via -dsn or LAB_DB_DSN")
	}
	return nil
}

// ParseStore parses environment and flags into Store.
func ParseStore(fs *flag.FlagSet, args []string) (Store, error) {
	var cfg Store
	if err := ParseEnv(&cfg); err != nil {
		return Store{}, err
	}
	BindStore(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Store{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Store{}, err
	}
	return cfg, nil
}

// ParseServer parses environment and flags into Server.
func ParseServer(fs *flag.FlagSet, args []string) (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	BindStore(fs, &cfg.Store)
	fs.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Session token lifetime")
	fs.Float64Var(&cfg.RatePerSec, "rate", cfg.RatePerSec, "Login requests per second per client")
	fs.IntVar(&cfg.RateBurst, "burst", cfg.RateBurst, "Login request burst per client")
	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks the server settings.
func (s Server) Validate() error {
	if err := s.Store.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(s.AuthSecret) == "" {
		return errors.New("missing auth secret: set LAB_AUTH_SECRET")
	}
	if s.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if s.RatePerSec <= 0 || s.RateBurst <= 0 {
		return errors.New("rate limit must be positive")
	}
	if _, err := s.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}
