// Package intake runs contact ingestion. An ingestion opens an intake run, captures the raw
// payload as an artifact, and stores the interpreted contact as a row of a fresh rowset, all
// in one store transaction.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/storm-crm/internal/logger"
	"github.com/jonathan/storm-crm/internal/records"
	"github.com/jonathan/storm-crm/internal/schemas"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultManualMaxRows = 500
	DefaultManualMaxAge  = 24 * time.Hour
	DefaultSourceSystem  = "ui_manual"

	// failureTimeout bounds the follow-up transaction that records a failed run.
	failureTimeout = 5 * time.Second
)

// Progress steps reported through Config.OnProgress.
const (
	StepReplay         = "replay"
	StepCheckDuplicate = "check_duplicate"
	StepBeginRun       = "begin_run"
	StepRecordArtifact = "record_artifact"
	StepCreateRowset   = "create_rowset"
	StepAppendRow      = "append_row"
	StepCommit         = "commit"
	StepFailed         = "failed"
)

// ProgressEvent represents one completed step of an ingestion.
type ProgressEvent struct {
	Step    string    `json:"step"`
	Message string    `json:"message"`
	RunID   uuid.UUID `json:"run_id"`
}

// ProgressCallback is called as an ingestion advances. It runs inside the store
// transaction and must not block.
type ProgressCallback func(event ProgressEvent)

// Config holds the tunables of a Pipeline. Zero values fall back to the defaults.
type Config struct {
	SchemaVersion       string
	Timeout             time.Duration
	ManualMaxRows       int
	ManualMaxAge        time.Duration
	DefaultSourceSystem string
	OnProgress          ProgressCallback
}

func (c Config) withDefaults() Config {
	if c.SchemaVersion == "" {
		c.SchemaVersion = schemas.CurrentVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ManualMaxRows <= 0 {
		c.ManualMaxRows = DefaultManualMaxRows
	}
	if c.ManualMaxAge <= 0 {
		c.ManualMaxAge = DefaultManualMaxAge
	}
	if c.DefaultSourceSystem == "" {
		c.DefaultSourceSystem = DefaultSourceSystem
	}
	return c
}

// Submission is one contact handed to the pipeline.
type Submission struct {
	// Content is the interpreted contact document stored as the row.
	Content records.Document
	// Payload is the request body exactly as received. When empty, Content is marshaled.
	Payload json.RawMessage

	SourceSystem   string
	OperationID    string
	CorrelationID  string
	IdempotencyKey string
}

// Result identifies everything an ingestion wrote.
type Result struct {
	RunID      uuid.UUID `json:"run_id"`
	ArtifactID uuid.UUID `json:"artifact_id"`
	RowsetID   uuid.UUID `json:"rowset_id"`
	RowID      uuid.UUID `json:"row_id"`
	Replayed   bool      `json:"replayed,omitempty"`
}

// QuickAddResult identifies a manually entered row.
type QuickAddResult struct {
	RowsetID      uuid.UUID `json:"rowset_id"`
	RowID         uuid.UUID `json:"row_id"`
	PositionIndex int       `json:"position_index"`
	NewRowset     bool      `json:"new_rowset"`
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithClock overrides the time source used to age manual rowsets.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline ingests contacts into a records.Store.
type Pipeline struct {
	store records.Store
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
}

// New creates a Pipeline. A nil log discards output.
func New(store records.Store, cfg Config, log *logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	p := &Pipeline{
		store: store,
		cfg:   cfg.withDefaults(),
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Ingest records the submission as a new intake run with one artifact, one ORIGINAL
// rowset, and one row. Either all of it is committed or none of it is, in which case the
// run is recorded FAILED and a *PipelineError is returned.
func (p *Pipeline) Ingest(ctx context.Context, sub Submission) (*Result, error) {
	return p.ingest(ctx, sub, false)
}

// IngestIfAbsent is Ingest but fails with a *DuplicateError, wrapped in a *PipelineError,
// when a row of the current schema already carries the submission's email.
func (p *Pipeline) IngestIfAbsent(ctx context.Context, sub Submission) (*Result, error) {
	return p.ingest(ctx, sub, true)
}

func (p *Pipeline) ingest(ctx context.Context, sub Submission, unique bool) (*Result, error) {
	content, payload, err := prepare(sub)
	if err != nil {
		return nil, err
	}

	run := records.RunInput{
		ID:            uuid.New(),
		OperationID:   sub.OperationID,
		CorrelationID: sub.CorrelationID,
		SourceSystem:  sub.SourceSystem,
	}
	if sub.IdempotencyKey != "" {
		run.OperationID = sub.IdempotencyKey
	}
	if run.OperationID == "" {
		run.OperationID = "op-" + uuid.NewString()
	}
	if run.CorrelationID == "" {
		run.CorrelationID = uuid.NewString()
	}
	if run.SourceSystem == "" {
		run.SourceSystem = p.cfg.DefaultSourceSystem
	}
	artifactID := uuid.New()

	log := p.log.With("run_id", run.ID, "operation_id", run.OperationID, "correlation_id", run.CorrelationID)

	tctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var res *Result
	err = p.store.InTx(tctx, func(tx records.Tx) error {
		if sub.IdempotencyKey != "" {
			replay, err := p.replay(tctx, tx, run.OperationID)
			if err != nil {
				return err
			}
			if replay != nil {
				p.emit(StepReplay, "returning committed run", replay.RunID)
				res = replay
				return nil
			}
		}

		if unique {
			if err := p.checkAbsent(tctx, tx, content); err != nil {
				return err
			}
			p.emit(StepCheckDuplicate, "no existing contact", run.ID)
		}

		if _, err := tx.BeginRun(tctx, run); err != nil {
			return fmt.Errorf("failed to begin run: %w", err)
		}
		p.emit(StepBeginRun, "run received", run.ID)

		if _, err := tx.RecordArtifact(tctx, artifactID, run.ID, payload); err != nil {
			return fmt.Errorf("failed to record artifact: %w", err)
		}
		p.emit(StepRecordArtifact, "payload captured", run.ID)

		rowsetID, err := tx.CreateRowset(tctx, records.RowsetInput{
			RunID:           &run.ID,
			ArtifactID:      &artifactID,
			Stage:           records.StageOriginal,
			SchemaVersion:   p.cfg.SchemaVersion,
			StorageLocation: records.StorageInline,
		})
		if err != nil {
			return fmt.Errorf("failed to create rowset: %w", err)
		}
		p.emit(StepCreateRowset, "rowset created", run.ID)

		row, err := tx.AppendRow(tctx, rowsetID, content, records.RowOK)
		if err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
		p.emit(StepAppendRow, "contact stored", run.ID)

		if err := tx.MarkArtifactProcessed(tctx, artifactID); err != nil {
			return fmt.Errorf("failed to mark artifact processed: %w", err)
		}
		if err := tx.UpdateRunStatus(tctx, run.ID, records.RunCommitted, ""); err != nil {
			return fmt.Errorf("failed to commit run: %w", err)
		}

		res = &Result{RunID: run.ID, ArtifactID: artifactID, RowsetID: rowsetID, RowID: row.ID}
		return nil
	})
	if err != nil {
		cause := err
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			cause = fmt.Errorf("%w after %s: %v", ErrTimeout, p.cfg.Timeout, err)
		}
		p.markFailed(ctx, log, run, cause)
		p.emit(StepFailed, cause.Error(), run.ID)
		return nil, &PipelineError{RunID: run.ID, Cause: cause}
	}

	if res.Replayed {
		log.Info("idempotent replay", "original_run_id", res.RunID)
		return res, nil
	}
	p.emit(StepCommit, "run committed", run.ID)
	log.Info("contact ingested", "rowset_id", res.RowsetID, "row_id", res.RowID, "source_system", run.SourceSystem)
	return res, nil
}

// replay returns the result of the latest COMMITTED run for operationID, or nil. The
// advisory lock keeps two submissions with one key from both passing the check.
func (p *Pipeline) replay(ctx context.Context, tx records.Tx, operationID string) (*Result, error) {
	if err := tx.AdvisoryLock(ctx, "operation:"+operationID); err != nil {
		return nil, err
	}
	prior, err := tx.FindRunByOperation(ctx, operationID, records.RunCommitted)
	if err != nil {
		return nil, fmt.Errorf("failed to look up operation: %w", err)
	}
	if prior == nil {
		return nil, nil
	}

	res := &Result{RunID: prior.ID, Replayed: true}
	artifacts, err := tx.ListRunArtifacts(ctx, prior.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load replayed artifacts: %w", err)
	}
	if len(artifacts) > 0 {
		res.ArtifactID = artifacts[0].ID
	}
	rowsets, err := tx.ListRunRowsets(ctx, prior.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load replayed rowsets: %w", err)
	}
	if len(rowsets) > 0 {
		res.RowsetID = rowsets[0].ID
		rows, err := tx.ListRowsetRows(ctx, res.RowsetID)
		if err != nil {
			return nil, fmt.Errorf("failed to load replayed rows: %w", err)
		}
		if len(rows) > 0 {
			res.RowID = rows[0].ID
		}
	}
	return res, nil
}

func (p *Pipeline) checkAbsent(ctx context.Context, tx records.Tx, content records.Document) error {
	email := strings.TrimSpace(content.String("email"))
	if email == "" {
		return nil
	}
	if err := tx.AdvisoryLock(ctx, "email:"+strings.ToLower(email)); err != nil {
		return err
	}
	existing, err := tx.FindRowByField(ctx, p.cfg.SchemaVersion, "email", email)
	if err != nil {
		return fmt.Errorf("failed to check for existing contact: %w", err)
	}
	if existing != nil {
		return &DuplicateError{Email: email, RowID: existing.ID}
	}
	return nil
}

// markFailed records the run as FAILED in its own transaction. It runs detached from the
// caller's cancellation so a timed out ingestion still leaves its audit record.
func (p *Pipeline) markFailed(ctx context.Context, log *logger.Logger, run records.RunInput, cause error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureTimeout)
	defer cancel()

	err := p.store.InTx(fctx, func(tx records.Tx) error {
		return tx.MarkRunFailed(fctx, run, cause.Error())
	})
	if err != nil {
		log.Error("failed to record failed run", "error", err, "cause", cause)
		return
	}
	log.Warn("ingestion failed", "error", cause)
}

// QuickAdd appends a manually entered contact to the current MANUAL rowset, opening a new
// one when none exists or the latest is full or too old. No intake run is recorded.
func (p *Pipeline) QuickAdd(ctx context.Context, content records.Document) (*QuickAddResult, error) {
	if content == nil {
		return nil, &PipelineError{Cause: errors.New("content is required")}
	}

	tctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var res QuickAddResult
	err := p.store.InTx(tctx, func(tx records.Tx) error {
		lockKey := "rowset-selection:" + p.cfg.SchemaVersion + ":" + string(records.StageManual)
		if err := tx.AdvisoryLock(tctx, lockKey); err != nil {
			return err
		}

		rs, err := tx.FindReusableRowset(tctx, p.cfg.SchemaVersion, records.StageManual)
		if err != nil {
			return err
		}
		rowsetID := uuid.Nil
		if rs != nil && p.reusable(rs) {
			rowsetID = rs.ID
		} else {
			rowsetID, err = tx.CreateRowset(tctx, records.RowsetInput{
				Stage:           records.StageManual,
				SchemaVersion:   p.cfg.SchemaVersion,
				StorageLocation: records.StorageInline,
			})
			if err != nil {
				return fmt.Errorf("failed to create manual rowset: %w", err)
			}
			res.NewRowset = true
		}

		row, err := tx.AppendRow(tctx, rowsetID, content, records.RowOK)
		if err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
		res.RowsetID = rowsetID
		res.RowID = row.ID
		res.PositionIndex = row.PositionIndex
		return nil
	})
	if err != nil {
		cause := err
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			cause = fmt.Errorf("%w after %s: %v", ErrTimeout, p.cfg.Timeout, err)
		}
		p.log.Warn("quick add failed", "error", cause)
		return nil, &PipelineError{Cause: cause}
	}

	p.log.Info("contact added manually", "rowset_id", res.RowsetID, "row_id", res.RowID,
		"position_index", res.PositionIndex, "new_rowset", res.NewRowset)
	return &res, nil
}

func (p *Pipeline) reusable(rs *records.Rowset) bool {
	if rs.RowCount >= p.cfg.ManualMaxRows {
		return false
	}
	return p.now().Sub(rs.CreatedAt) <= p.cfg.ManualMaxAge
}

func (p *Pipeline) emit(step, message string, runID uuid.UUID) {
	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(ProgressEvent{Step: step, Message: message, RunID: runID})
	}
}

// prepare fills in whichever of content and payload the submission left out.
func prepare(sub Submission) (records.Document, json.RawMessage, error) {
	content := sub.Content
	payload := sub.Payload
	switch {
	case content == nil && len(payload) == 0:
		return nil, nil, &PipelineError{Cause: errors.New("submission has no content")}
	case content == nil:
		doc, err := records.NormalizeDocument(payload)
		if err != nil {
			return nil, nil, &PipelineError{Cause: fmt.Errorf("invalid payload: %w", err)}
		}
		content = doc
	case len(payload) == 0:
		b, err := json.Marshal(content)
		if err != nil {
			return nil, nil, &PipelineError{Cause: fmt.Errorf("failed to encode payload: %w", err)}
		}
		payload = b
	}
	return content, payload, nil
}
