package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/query"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProd
	defaultAppName         = "pgtemplate"
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultRefreshTokenTTL = 24 * time.Hour

	minSecretKeyLen = 16
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key
	// Some internal parts (like signing JWT tokens) uses symmetric encryption, so this key is used for that purpose
	SecretKey string

	// Environment
	Environment string

	// Issuer and audience of JWT tokens
	AppName string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Clock skew tolerated on token exp/iat checks
	TokenLeeway time.Duration

	// Max page size of listings; bigger limits are clamped
	MaxPageSize int

	// Admin created on start if there is no user with this name.
	// Registration needs an active user, so the first one comes from here.
	AdminUsername string
	AdminPassword string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:        defaultLoggingLevel,
		ListenAddr:      defaultListenAddr,
		Environment:     defaultEnvironment,
		AppName:         defaultAppName,
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		MaxPageSize:     query.DefaultMaxLimit,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":       setString(&c.ListenAddr),
		"DATABASE_URI":      setString(&c.DatabaseDSN),
		"SECRET_KEY":        setString(&c.SecretKey),
		"LOG_LEVEL":         setString(&c.LogLevel),
		"ENVIRONMENT":       setString(&c.Environment),
		"APP_NAME":          setString(&c.AppName),
		"ACCESS_TOKEN_TTL":  setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL": setDuration(&c.RefreshTokenTTL),
		"TOKEN_LEEWAY":      setDuration(&c.TokenLeeway),
		"MAX_PAGE_SIZE":     setInt(&c.MaxPageSize),
		"ADMIN_USERNAME":    setString(&c.AdminUsername),
		"ADMIN_PASSWORD":    setString(&c.AdminPassword),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("bad %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("pgtemplate", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.AppName, "app-name", "n", c.AppName, "Application name, used as JWT issuer and audience")
	fs.DurationVar(&c.AccessTokenTTL, "access-token-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-token-ttl", c.RefreshTokenTTL, "Refresh token lifetime")
	fs.DurationVar(&c.TokenLeeway, "token-leeway", c.TokenLeeway, "Clock skew tolerated on token time checks")
	fs.IntVar(&c.MaxPageSize, "max-page-size", c.MaxPageSize, "Max page size of listings")
	fs.StringVar(&c.AdminUsername, "admin-username", c.AdminUsername, "Admin to create on start if missing")
	fs.StringVar(&c.AdminPassword, "admin-password", c.AdminPassword, "Password of the admin created on start")

	return fs.Parse(args)
}

// Validate checks options that have no usable default
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if len(c.SecretKey) < minSecretKeyLen {
		errs = append(errs, fmt.Errorf("secret key must be at least %d characters", minSecretKeyLen))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.TokenLeeway < 0 {
		errs = append(errs, errors.New("token leeway must not be negative"))
	}
	if c.MaxPageSize < 1 {
		errs = append(errs, errors.New("max page size must be positive"))
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("admin username and password must be set together"))
	}

	return errors.Join(errs...)
}
