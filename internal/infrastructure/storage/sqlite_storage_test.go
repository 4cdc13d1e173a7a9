package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"crmdash/internal/infrastructure/persistence/sqlite/model"
	"crmdash/internal/infrastructure/persistence/sqlite/uow"
	"crmdash/internal/ports"
)

func setupSQLiteStorage(t *testing.T, quotaBytes int64) (*SQLiteStorage, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(&model.CacheKV{}); err != nil {
		t.Fatalf("auto migrate cache_kv: %v", err)
	}

	return NewSQLiteStorage(db, quotaBytes), db
}

func TestSQLiteStorageSetGetRemove(t *testing.T) {
	store, _ := setupSQLiteStorage(t, 0)
	ctx := context.Background()

	if err := store.Set(ctx, "crm_leads_cache", `{"v":1}`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, found, err := store.Get(ctx, "crm_leads_cache")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != `{"v":1}` {
		t.Fatalf("Get() = %q, found=%v", value, found)
	}

	if err := store.Set(ctx, "crm_leads_cache", `{"v":2}`); err != nil {
		t.Fatalf("Set(update) error = %v", err)
	}
	value, found, err = store.Get(ctx, "crm_leads_cache")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != `{"v":2}` {
		t.Fatalf("Get() after update = %q, found=%v", value, found)
	}

	if err := store.Remove(ctx, "crm_leads_cache"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	_, found, err = store.Get(ctx, "crm_leads_cache")
	if err != nil {
		t.Fatalf("Get() after remove error = %v", err)
	}
	if found {
		t.Fatalf("Get() expected found=false after remove")
	}
}

func TestSQLiteStorageRejectsEmptyKey(t *testing.T) {
	store, _ := setupSQLiteStorage(t, 0)
	ctx := context.Background()

	if err := store.Set(ctx, "", "v"); err == nil {
		t.Fatalf("Set() expected error for empty key")
	}
	if _, _, err := store.Get(ctx, " "); err == nil {
		t.Fatalf("Get() expected error for empty key")
	}
	if err := store.Remove(ctx, ""); err == nil {
		t.Fatalf("Remove() expected error for empty key")
	}
}

func TestSQLiteStorageSizeEstimateAndQuota(t *testing.T) {
	store, _ := setupSQLiteStorage(t, 40)
	ctx := context.Background()

	// key "a" + value "0123456789" = 11 chars = 22 bytes
	if err := store.Set(ctx, "a", "0123456789"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	size, err := store.SizeEstimate(ctx)
	if err != nil {
		t.Fatalf("SizeEstimate() error = %v", err)
	}
	if size != 22 {
		t.Fatalf("SizeEstimate() = %d, want 22", size)
	}

	err = store.Set(ctx, "b", "0123456789")
	if !errors.Is(err, ports.ErrQuotaExceeded) {
		t.Fatalf("Set(over quota) error = %v, want ErrQuotaExceeded", err)
	}

	// Overwriting an existing key only counts the replacement.
	if err := store.Set(ctx, "a", "01234567890123456"); err != nil {
		t.Fatalf("Set(replace) error = %v", err)
	}
}

func TestSQLiteStorageUnitOfWorkRollback(t *testing.T) {
	store, db := setupSQLiteStorage(t, 0)
	ctx := context.Background()
	work := uow.NewUnitOfWork(db)

	if err := store.Set(ctx, "k1", "before"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	failure := errors.New("second write failed")
	err := work.WithTx(ctx, func(txCtx context.Context) error {
		if err := store.Set(txCtx, "k1", "after"); err != nil {
			return err
		}
		if err := store.Set(txCtx, "k2", "new"); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("WithTx() error = %v, want %v", err, failure)
	}

	value, _, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "before" {
		t.Fatalf("k1 = %q after rollback, want before", value)
	}
	if _, found, _ := store.Get(ctx, "k2"); found {
		t.Fatalf("k2 should not exist after rollback")
	}
}
