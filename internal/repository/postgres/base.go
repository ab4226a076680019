package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
)

const (
	pgExclusionViolation  = "23P01"
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type txKey struct{}

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// conn returns the transaction bound to ctx, or the pool.
func (r *BaseRepository) conn(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}

// WithinTransaction executes fn within a transaction. Nested calls join the
// outer transaction.
func (r *BaseRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LockPractitioner takes a transaction-scoped advisory lock keyed on the practitioner.
func (r *BaseRepository) LockPractitioner(ctx context.Context, practitionerID uuid.UUID) error {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	if !ok {
		return errors.New("practitioner lock requires a transaction")
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, practitionerID.String()); err != nil {
		return fmt.Errorf("failed to lock practitioner schedule: %w", err)
	}
	return nil
}

// translate maps driver errors onto application errors.
func translate(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgExclusionViolation:
			return apperrors.Conflict("time slot overlaps an existing appointment")
		case pgUniqueViolation:
			return apperrors.Conflict("%s already exists", resource)
		case pgForeignKeyViolation:
			return apperrors.NewValidation(fmt.Sprintf("%s references a missing record", resource), err)
		}
	}
	return err
}
