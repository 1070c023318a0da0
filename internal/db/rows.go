package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/storm-crm/internal/records"
)

// -----------------------------------------------------------------------------
// Rowsets
// -----------------------------------------------------------------------------

const rowsetColumns = `id, run_id, artifact_id, stage, schema_version, storage_location, row_count, created_at`

func scanRowset(row pgx.Row) (*records.Rowset, error) {
	var rs records.Rowset
	var stage, location string
	if err := row.Scan(&rs.ID, &rs.RunID, &rs.ArtifactID, &stage, &rs.SchemaVersion,
		&location, &rs.RowCount, &rs.CreatedAt); err != nil {
		return nil, err
	}
	rs.Stage = records.Stage(stage)
	rs.StorageLocation = records.StorageLocation(location)
	return &rs, nil
}

// CreateRowset inserts an empty rowset
func (q queries) CreateRowset(ctx context.Context, in records.RowsetInput) (uuid.UUID, error) {
	if err := records.CheckRowsetInput(in); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err := q.q.Exec(ctx,
		`INSERT INTO rowsets (id, run_id, artifact_id, stage, schema_version, storage_location, row_count)
		 VALUES ($1, $2, $3, $4, $5, $6, 0)`,
		id, in.RunID, in.ArtifactID, string(in.Stage), in.SchemaVersion, string(in.StorageLocation),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create rowset: %w", translateError(err, "run or artifact", id))
	}
	return id, nil
}

// FindReusableRowset returns the most recently created rowset for the schema and stage, or nil
func (q queries) FindReusableRowset(ctx context.Context, schemaVersion string, stage records.Stage) (*records.Rowset, error) {
	rs, err := scanRowset(q.q.QueryRow(ctx,
		`SELECT `+rowsetColumns+` FROM rowsets
		 WHERE schema_version = $1 AND stage = $2
		 ORDER BY created_at DESC, seq DESC
		 LIMIT 1`,
		schemaVersion, string(stage)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find reusable rowset: %w", err)
	}
	return rs, nil
}

// AdvisoryLock takes a transaction-scoped advisory lock on the hash of key
func (q queries) AdvisoryLock(ctx context.Context, key string) error {
	if _, err := q.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to take advisory lock %q: %w", key, err)
	}
	return nil
}

// GetRowset retrieves a rowset by id
func (q queries) GetRowset(ctx context.Context, rowsetID uuid.UUID) (*records.Rowset, error) {
	rs, err := scanRowset(q.q.QueryRow(ctx,
		`SELECT `+rowsetColumns+` FROM rowsets WHERE id = $1`, rowsetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, records.NotFoundError("rowset", rowsetID)
		}
		return nil, fmt.Errorf("failed to get rowset: %w", err)
	}
	return rs, nil
}

// ListRunRowsets retrieves the rowsets of a run in creation order
func (q queries) ListRunRowsets(ctx context.Context, runID uuid.UUID) ([]records.Rowset, error) {
	rows, err := q.q.Query(ctx,
		`SELECT `+rowsetColumns+` FROM rowsets WHERE run_id = $1 ORDER BY created_at, seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rowsets: %w", err)
	}
	defer rows.Close()

	var rowsets []records.Rowset
	for rows.Next() {
		rs, err := scanRowset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rowset: %w", err)
		}
		rowsets = append(rowsets, *rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list rowsets: %w", err)
	}
	return rowsets, nil
}

// -----------------------------------------------------------------------------
// Rows
// -----------------------------------------------------------------------------

const rowColumns = `id, rowset_id, position_index, status, content, created_at`

func scanRow(row pgx.Row) (*records.Row, error) {
	var r records.Row
	var status string
	var content []byte
	if err := row.Scan(&r.ID, &r.RowsetID, &r.PositionIndex, &status, &content, &r.CreatedAt); err != nil {
		return nil, err
	}
	doc, err := records.NormalizeDocument(content)
	if err != nil {
		return nil, fmt.Errorf("row %s: %w", r.ID, err)
	}
	r.Status = records.RowStatus(status)
	r.Content = doc
	return &r, nil
}

// AppendRow inserts a row at the next position of its rowset and bumps the rowset's
// row_count. The UPDATE takes the rowset's row lock first, so concurrent appends to the
// same rowset queue up behind it and compute their positions one at a time.
func (q queries) AppendRow(ctx context.Context, rowsetID uuid.UUID, content records.Document, status records.RowStatus) (*records.Row, error) {
	if err := records.CheckRowStatus(status); err != nil {
		return nil, err
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row content: %w", err)
	}

	var rowCount int
	err = q.q.QueryRow(ctx,
		`UPDATE rowsets SET row_count = row_count + 1 WHERE id = $1 RETURNING row_count`,
		rowsetID,
	).Scan(&rowCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, records.NotFoundError("rowset", rowsetID)
		}
		return nil, fmt.Errorf("failed to increment row count: %w", err)
	}

	row := records.Row{
		ID:       uuid.New(),
		RowsetID: rowsetID,
		Status:   status,
		Content:  content.Clone(),
	}
	err = q.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(position_index) + 1, 0) FROM rows WHERE rowset_id = $1`,
		rowsetID,
	).Scan(&row.PositionIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to compute row position: %w", err)
	}

	err = q.q.QueryRow(ctx,
		`INSERT INTO rows (id, rowset_id, position_index, status, content)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		row.ID, rowsetID, row.PositionIndex, string(status), contentJSON,
	).Scan(&row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert row: %w", translateError(err, "rowset", rowsetID))
	}
	return &row, nil
}

// FindRowByField returns the newest row of a schema version whose top-level string field
// equals value, ignoring case, or nil
func (q queries) FindRowByField(ctx context.Context, schemaVersion, field, value string) (*records.Row, error) {
	if err := records.CheckField(schemaVersion, field); err != nil {
		return nil, err
	}
	row, err := scanRow(q.q.QueryRow(ctx,
		`SELECT r.id, r.rowset_id, r.position_index, r.status, r.content, r.created_at
		 FROM rows r
		 JOIN rowsets rs ON rs.id = r.rowset_id
		 WHERE rs.schema_version = $1 AND lower(r.content->>$2) = lower($3)
		 ORDER BY r.created_at DESC, r.seq DESC
		 LIMIT 1`,
		schemaVersion, field, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find row: %w", err)
	}
	return row, nil
}

// GetRow retrieves a row by id
func (q queries) GetRow(ctx context.Context, rowID uuid.UUID) (*records.Row, error) {
	row, err := scanRow(q.q.QueryRow(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE id = $1`, rowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, records.NotFoundError("row", rowID)
		}
		return nil, fmt.Errorf("failed to get row: %w", err)
	}
	return row, nil
}

// ListRecentRows retrieves rows newest first
func (q queries) ListRecentRows(ctx context.Context, page records.Page) ([]records.Row, error) {
	page = page.Clamp()
	return q.listRows(ctx,
		`SELECT `+rowColumns+` FROM rows
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $1 OFFSET $2`,
		page.Limit, page.Offset)
}

// ListRowsetRows retrieves the rows of a rowset in position order
func (q queries) ListRowsetRows(ctx context.Context, rowsetID uuid.UUID) ([]records.Row, error) {
	if _, err := q.GetRowset(ctx, rowsetID); err != nil {
		return nil, err
	}
	return q.listRows(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE rowset_id = $1 ORDER BY position_index`,
		rowsetID)
}

func (q queries) listRows(ctx context.Context, sql string, args ...any) ([]records.Row, error) {
	rows, err := q.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	out := []records.Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	return out, nil
}
