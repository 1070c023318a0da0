package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonathan/storm-crm/internal/records"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries implements records.Tx on top of a querier. Over the pool it only serves reads.
type queries struct {
	q querier
}

var _ records.Tx = queries{}

// SQLSTATE codes translated at the store boundary
const (
	sqlStateCheckViolation      = "23514"
	sqlStateForeignKeyViolation = "23503"
)

// translateError maps Postgres constraint failures onto the records error taxonomy.
func translateError(err error, kind string, id uuid.UUID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateCheckViolation:
			return &records.ConstraintViolation{Field: pgErr.ConstraintName, Value: pgErr.Detail}
		case sqlStateForeignKeyViolation:
			return records.NotFoundError(kind, id)
		}
	}
	return err
}

// GetRow retrieves a row by id
func (db *DB) GetRow(ctx context.Context, rowID uuid.UUID) (*records.Row, error) {
	return db.read.GetRow(ctx, rowID)
}

// ListRecentRows retrieves rows newest first
func (db *DB) ListRecentRows(ctx context.Context, page records.Page) ([]records.Row, error) {
	return db.read.ListRecentRows(ctx, page)
}

// GetRowset retrieves a rowset by id
func (db *DB) GetRowset(ctx context.Context, rowsetID uuid.UUID) (*records.Rowset, error) {
	return db.read.GetRowset(ctx, rowsetID)
}

// ListRowsetRows retrieves the rows of a rowset in position order
func (db *DB) ListRowsetRows(ctx context.Context, rowsetID uuid.UUID) ([]records.Row, error) {
	return db.read.ListRowsetRows(ctx, rowsetID)
}

// GetRun retrieves an intake run by id
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*records.IntakeRun, error) {
	return db.read.GetRun(ctx, runID)
}

// FindRunByOperation retrieves the latest run for an operation id in the given status
func (db *DB) FindRunByOperation(ctx context.Context, operationID string, status records.RunStatus) (*records.IntakeRun, error) {
	return db.read.FindRunByOperation(ctx, operationID, status)
}

// ListRunArtifacts retrieves the artifacts captured for a run
func (db *DB) ListRunArtifacts(ctx context.Context, runID uuid.UUID) ([]records.IntakeArtifact, error) {
	return db.read.ListRunArtifacts(ctx, runID)
}

// ListRunRowsets retrieves the rowsets produced by a run
func (db *DB) ListRunRowsets(ctx context.Context, runID uuid.UUID) ([]records.Rowset, error) {
	return db.read.ListRunRowsets(ctx, runID)
}
