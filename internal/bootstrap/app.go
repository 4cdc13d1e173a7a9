package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crmdash/internal/bootstrap/config"
	"crmdash/internal/bootstrap/logging"
	"crmdash/internal/domain/lead"
	"crmdash/internal/errs"
	"crmdash/internal/infrastructure/persistence/sqlite/model"
	"crmdash/internal/ports"
	"crmdash/internal/usecase/leadcache"
	"crmdash/internal/usecase/leads"
	"crmdash/internal/usecase/refresh"
)

const schemaVersionKey = "schema_version"

// App is the wired application handed to every command. DB is nil when the
// memory storage driver is configured.
type App struct {
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

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	if a.DB == nil {
		logging.Info(logCtx, "memory storage driver has no schema to migrate")
		return nil
	}

	logging.Info(logCtx, "start schema migration")
	if err := a.DB.WithContext(ctx).AutoMigrate(&model.CacheKV{}, &model.CacheMeta{}); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	meta := model.CacheMeta{Key: schemaVersionKey, Value: strconv.Itoa(leadcache.SchemaVersion)}
	if err := a.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error; err != nil {
		return errs.Wrap(err, "record schema version")
	}

	logging.Info(logCtx, "schema migration completed", slog.Int("schema_version", leadcache.SchemaVersion))
	return nil
}

// SchemaVersion reports the envelope version recorded by InitSchema. ok is
// false for the memory driver or an uninitialized database.
func (a *App) SchemaVersion(ctx context.Context) (string, bool) {
	if ctx == nil || a.DB == nil {
		return "", false
	}
	var meta model.CacheMeta
	err := a.DB.WithContext(ctx).Where("key = ?", schemaVersionKey).Limit(1).Find(&meta).Error
	if err != nil || meta.ID == 0 {
		return "", false
	}
	return meta.Value, true
}

// RequireIdentity reports whether commands that scope the cache can run.
func (a *App) RequireIdentity() error {
	if err := a.Identity.Validate(); err != nil {
		return errs.Wrap(err, "set identity.employee_id and identity.email (or CRM_IDENTITY_EMPLOYEE_ID / CRM_IDENTITY_EMAIL)")
	}
	return nil
}
