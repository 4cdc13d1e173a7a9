package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"crmdash/internal/bootstrap/config"
	"crmdash/internal/bootstrap/database"
	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
	"crmdash/internal/infrastructure/clock"
	"crmdash/internal/infrastructure/datasource"
	"crmdash/internal/infrastructure/persistence/sqlite/model"
	sqliteuow "crmdash/internal/infrastructure/persistence/sqlite/uow"
	"crmdash/internal/infrastructure/storage"
	"crmdash/internal/ports"
	"crmdash/internal/usecase/leadcache"
	"crmdash/internal/usecase/leads"
	"crmdash/internal/usecase/refresh"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideStorage),
	fx.Provide(provideClock),
	fx.Provide(leadcache.NewPrometheusMetrics),
	fx.Provide(provideCache),
	fx.Provide(provideMonitor),
	fx.Provide(provideDatasource),
	fx.Provide(provideIdentity),
	fx.Provide(provideLeadService),
	fx.Provide(provideScheduler),
	fx.Provide(provideApp),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func isSQLite(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

// provideDatabase yields a nil handle for the memory driver.
func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	if !isSQLite(cfg.Storage.Driver) {
		return nil, nil
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(&model.CacheKV{}, &model.CacheMeta{}); err != nil {
		return nil, fmt.Errorf("migrate cache table: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideClock() ports.Clock {
	return clock.System{}
}

type storageResult struct {
	fx.Out

	Storage ports.Storage
	Work    ports.UnitOfWork
}

func provideStorage(cfg config.Config, db *gorm.DB) storageResult {
	if db == nil {
		mem := storage.NewMemoryStorage(cfg.Storage.QuotaBytes)
		return storageResult{Storage: mem, Work: mem}
	}
	return storageResult{
		Storage: storage.NewSQLiteStorage(db, cfg.Storage.QuotaBytes),
		Work:    sqliteuow.NewUnitOfWork(db),
	}
}

func provideCache(store ports.Storage, work ports.UnitOfWork, clk ports.Clock, metrics *leadcache.PrometheusMetrics) *leadcache.Store {
	return leadcache.New(store, work, clk, metrics, leadcache.Options{})
}

func provideMonitor(cache *leadcache.Store, cfg config.Config) *leadcache.Monitor {
	return leadcache.NewMonitor(cache, cfg.Cache.HealthCheckInterval)
}

func provideDatasource(cfg config.Config) (*datasource.Client, error) {
	return datasource.NewClient(datasource.Options{
		Endpoint:         cfg.Datasource.Endpoint,
		CommentsEndpoint: cfg.Datasource.CommentsEndpoint,
		TasksEndpoint:    cfg.Datasource.TasksEndpoint,
		Source:           cfg.Datasource.Source,
		Timeout:          cfg.Datasource.Timeout,
	}, nil)
}

func provideIdentity(cfg config.Config) lead.Identity {
	return lead.Identity{
		EmployeeID: strings.TrimSpace(cfg.Identity.EmployeeID),
		Email:      strings.TrimSpace(cfg.Identity.Email),
		Team:       strings.TrimSpace(cfg.Identity.Team),
	}
}

func provideLeadService(cache *leadcache.Store, client *datasource.Client, clk ports.Clock, cfg config.Config) *leads.Service {
	options := []leads.Option{leads.WithFetchTimeout(cfg.Datasource.Timeout)}
	if client.HasComments() {
		options = append(options, leads.WithCommentSource(client))
	}
	if client.HasTasks() {
		options = append(options, leads.WithTaskSource(client))
	}
	return leads.NewService(cache, client, clk, options...)
}

func provideScheduler(svc *leads.Service, identity lead.Identity, cfg config.Config, clk ports.Clock) *refresh.Scheduler {
	return refresh.New(svc, identity, refresh.Options{
		AutoRefresh: cfg.Refresh.AutoEnabled,
		Interval:    cfg.Refresh.Interval,
		Clock:       clk,
	})
}

type appParams struct {
	fx.In

	Config    config.Config
	DB        *gorm.DB
	Identity  lead.Identity
	Clock     ports.Clock
	Metrics   *leadcache.PrometheusMetrics
	Cache     *leadcache.Store
	Monitor   *leadcache.Monitor
	Leads     *leads.Service
	Scheduler *refresh.Scheduler
}

func provideApp(p appParams) *App {
	return &App{
		Config:    p.Config,
		DB:        p.DB,
		Identity:  p.Identity,
		Clock:     p.Clock,
		Metrics:   p.Metrics,
		Cache:     p.Cache,
		Monitor:   p.Monitor,
		Leads:     p.Leads,
		Scheduler: p.Scheduler,
	}
}
