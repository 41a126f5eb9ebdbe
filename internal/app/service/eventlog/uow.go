package eventlog

import (
	"context"

	"gorm.io/gorm"
)

// UnitOfWork scopes a log append and the state mutations paired with it
// to one database transaction: "the fact was recorded" and "the side
// effect was applied" commit or roll back together. State mutation
// helpers across the pipeline take a *UnitOfWork instead of a bare
// *gorm.DB so they cannot run outside an active scope.
type UnitOfWork struct {
	tx *gorm.DB
}

func (u *UnitOfWork) Tx() *gorm.DB { return u.tx }

// Run executes fn inside a transaction. Any error aborts the whole
// unit; nothing is partially applied.
func Run(ctx context.Context, db *gorm.DB, fn func(uow *UnitOfWork) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&UnitOfWork{tx: tx})
	})
}
