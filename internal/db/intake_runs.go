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
// Intake Runs
// -----------------------------------------------------------------------------

const runColumns = `id, operation_id, correlation_id, source_system, status, error_message, created_at, completed_at`

func scanRun(row pgx.Row) (*records.IntakeRun, error) {
	var run records.IntakeRun
	var status string
	if err := row.Scan(&run.ID, &run.OperationID, &run.CorrelationID, &run.SourceSystem,
		&status, &run.ErrorMessage, &run.CreatedAt, &run.CompletedAt); err != nil {
		return nil, err
	}
	run.Status = records.RunStatus(status)
	return &run, nil
}

// BeginRun inserts a run in RECEIVED state
func (q queries) BeginRun(ctx context.Context, in records.RunInput) (uuid.UUID, error) {
	if err := records.CheckRunInput(in); err != nil {
		return uuid.Nil, err
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}

	var id uuid.UUID
	err := q.q.QueryRow(ctx,
		`INSERT INTO intake_runs (id, operation_id, correlation_id, source_system, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		in.ID, in.OperationID, in.CorrelationID, in.SourceSystem, string(records.RunReceived),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run: %w", translateError(err, "run", in.ID))
	}
	return id, nil
}

// UpdateRunStatus moves a RECEIVED run to a terminal status. Transitions out of a terminal
// status are ignored.
func (q queries) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status records.RunStatus, errMsg string) error {
	if !status.Terminal() {
		return nil
	}

	tag, err := q.q.Exec(ctx,
		`UPDATE intake_runs
		 SET status = $2, error_message = NULLIF($3, ''), completed_at = clock_timestamp()
		 WHERE id = $1 AND status = $4`,
		runID, string(status), errMsg, string(records.RunReceived),
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", translateError(err, "run", runID))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM intake_runs WHERE id = $1)`, runID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check run: %w", err)
	}
	if !exists {
		return records.NotFoundError("run", runID)
	}
	return nil
}

// MarkRunFailed records a run as FAILED, inserting it when the original insert was rolled
// back. A run that already reached a terminal status keeps it.
func (q queries) MarkRunFailed(ctx context.Context, in records.RunInput, errMsg string) error {
	if err := records.CheckRunInput(in); err != nil {
		return err
	}
	_, err := q.q.Exec(ctx,
		`INSERT INTO intake_runs (id, operation_id, correlation_id, source_system, status, error_message, completed_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), clock_timestamp())
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, error_message = EXCLUDED.error_message, completed_at = EXCLUDED.completed_at
		 WHERE intake_runs.status = $7`,
		in.ID, in.OperationID, in.CorrelationID, in.SourceSystem, string(records.RunFailed), errMsg,
		string(records.RunReceived),
	)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id
func (q queries) GetRun(ctx context.Context, runID uuid.UUID) (*records.IntakeRun, error) {
	run, err := scanRun(q.q.QueryRow(ctx,
		`SELECT `+runColumns+` FROM intake_runs WHERE id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, records.NotFoundError("run", runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// FindRunByOperation returns the most recent run with the operation id and status, or nil.
// An empty status matches any run.
func (q queries) FindRunByOperation(ctx context.Context, operationID string, status records.RunStatus) (*records.IntakeRun, error) {
	run, err := scanRun(q.q.QueryRow(ctx,
		`SELECT `+runColumns+` FROM intake_runs
		 WHERE operation_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC
		 LIMIT 1`, operationID, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find run: %w", err)
	}
	return run, nil
}

// -----------------------------------------------------------------------------
// Intake Artifacts
// -----------------------------------------------------------------------------

// RecordArtifact stores the raw payload of a run verbatim
func (q queries) RecordArtifact(ctx context.Context, artifactID, runID uuid.UUID, payload json.RawMessage) (uuid.UUID, error) {
	if artifactID == uuid.Nil {
		artifactID = uuid.New()
	}

	var id uuid.UUID
	err := q.q.QueryRow(ctx,
		`INSERT INTO intake_artifacts (id, run_id, payload, content_type, status)
		 VALUES ($1, $2, $3, 'application/json', $4)
		 RETURNING id`,
		artifactID, runID, string(payload), string(records.ArtifactReceived),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record artifact: %w", translateError(err, "run", runID))
	}
	return id, nil
}

// MarkArtifactProcessed flags an artifact as interpreted into rows
func (q queries) MarkArtifactProcessed(ctx context.Context, artifactID uuid.UUID) error {
	tag, err := q.q.Exec(ctx,
		`UPDATE intake_artifacts SET status = $2 WHERE id = $1`,
		artifactID, string(records.ArtifactProcessed),
	)
	if err != nil {
		return fmt.Errorf("failed to update artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return records.NotFoundError("artifact", artifactID)
	}
	return nil
}

// ListRunArtifacts retrieves the artifacts of a run in capture order
func (q queries) ListRunArtifacts(ctx context.Context, runID uuid.UUID) ([]records.IntakeArtifact, error) {
	rows, err := q.q.Query(ctx,
		`SELECT id, run_id, payload::text, content_type, status, created_at
		 FROM intake_artifacts
		 WHERE run_id = $1
		 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []records.IntakeArtifact
	for rows.Next() {
		var a records.IntakeArtifact
		var payload, status string
		if err := rows.Scan(&a.ID, &a.RunID, &payload, &a.ContentType, &status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Payload = json.RawMessage(payload)
		a.Status = records.ArtifactStatus(status)
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return artifacts, nil
}
