package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/errs"
	"crmdash/internal/usecase/refresh"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Datasource DatasourceConfig `mapstructure:"datasource"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Refresh    RefreshConfig    `mapstructure:"refresh"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	QuotaBytes int64  `mapstructure:"quota_bytes"`
}

type DatasourceConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	CommentsEndpoint string        `mapstructure:"comments_endpoint"`
	TasksEndpoint    string        `mapstructure:"tasks_endpoint"`
	Source           string        `mapstructure:"source"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type IdentityConfig struct {
	EmployeeID string `mapstructure:"employee_id" toml:"employee_id"`
	Email      string `mapstructure:"email" toml:"email"`
	Team       string `mapstructure:"team" toml:"team"`
	Profile    string `mapstructure:"profile" toml:"-"`
}

type RefreshConfig struct {
	AutoEnabled bool          `mapstructure:"auto_enabled"`
	Interval    time.Duration `mapstructure:"interval"`
}

type CacheConfig struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			logging.Debug(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if profile := strings.TrimSpace(cfg.Identity.Profile); profile != "" {
		identity, err := loadProfile(profile)
		if err != nil {
			return Config{}, err
		}
		cfg.Identity = mergeIdentity(cfg.Identity, identity)
		logging.Info(logCtx, "identity profile loaded", slog.String("path", profile))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Debug(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.Duration("refresh_interval", cfg.Refresh.Interval),
	)

	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage.dsn is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Storage.QuotaBytes < 0 {
		return errors.New("storage.quota_bytes must not be negative")
	}
	if strings.TrimSpace(c.Datasource.Endpoint) == "" {
		return errors.New("datasource.endpoint is required")
	}
	if err := refresh.ValidateInterval(c.Refresh.Interval); err != nil {
		return errs.Wrapf(err, "refresh.interval must be one of %v", refresh.SupportedIntervals())
	}
	if c.Cache.HealthCheckInterval <= 0 {
		return errors.New("cache.health_check_interval must be positive")
	}
	return nil
}

// loadProfile reads a TOML identity profile:
//
//	employee_id = "emp1"
//	email = "a@x.com"
//	team = "sales"
func loadProfile(path string) (IdentityConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return IdentityConfig{}, errs.Wrapf(err, "read identity profile %q", path)
	}
	var identity IdentityConfig
	if err := toml.Unmarshal(raw, &identity); err != nil {
		return IdentityConfig{}, errs.Wrapf(err, "decode identity profile %q", path)
	}
	return identity, nil
}

// mergeIdentity lets non-empty profile fields override the config section.
func mergeIdentity(base IdentityConfig, profile IdentityConfig) IdentityConfig {
	if v := strings.TrimSpace(profile.EmployeeID); v != "" {
		base.EmployeeID = v
	}
	if v := strings.TrimSpace(profile.Email); v != "" {
		base.Email = v
	}
	if v := strings.TrimSpace(profile.Team); v != "" {
		base.Team = v
	}
	return base
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crmdash")
	v.SetDefault("app.env", "local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", ".crmdash/dashboard.log")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", ".crmdash/cache.sqlite")
	v.SetDefault("storage.quota_bytes", 5<<20)
	v.SetDefault("datasource.endpoint", "http://127.0.0.1:8089/api/method/crm.api.leads.get_leads")
	v.SetDefault("datasource.comments_endpoint", "")
	v.SetDefault("datasource.tasks_endpoint", "")
	v.SetDefault("datasource.source", "crm-dashboard")
	v.SetDefault("datasource.timeout", "15s")
	v.SetDefault("identity.employee_id", "")
	v.SetDefault("identity.email", "")
	v.SetDefault("identity.team", "")
	v.SetDefault("identity.profile", "")
	v.SetDefault("refresh.auto_enabled", true)
	v.SetDefault("refresh.interval", "5m")
	v.SetDefault("cache.health_check_interval", "1h")
}
