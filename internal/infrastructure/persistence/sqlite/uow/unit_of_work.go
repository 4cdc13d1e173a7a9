package uow

import (
	"context"

	"gorm.io/gorm"

	"crmdash/internal/ports"
)

// UnitOfWork runs storage writes inside one gorm transaction. SQLiteStorage
// picks the transaction up from the context, so every Set/Remove made through
// the callback context commits or rolls back together.
type UnitOfWork struct {
	db *gorm.DB
}

var _ ports.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx))
	})
}
