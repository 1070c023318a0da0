// Package memstore provides an in-memory transactional implementation of records.Store.
// A transaction works on a copy of the state which replaces the live state on commit, so a
// failed transaction leaves nothing behind. Transactions are serialized by a single mutex.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/storm-crm/internal/records"
)

type runEntry struct {
	run records.IntakeRun
	seq int64
}

type artifactEntry struct {
	artifact records.IntakeArtifact
	seq      int64
}

type rowsetEntry struct {
	rowset records.Rowset
	seq    int64
}

type rowEntry struct {
	row records.Row
	seq int64
}

type state struct {
	seq          int64
	runs         map[uuid.UUID]runEntry
	artifacts    map[uuid.UUID]artifactEntry
	rowsets      map[uuid.UUID]rowsetEntry
	rows         map[uuid.UUID]rowEntry
	rowsByRowset map[uuid.UUID][]uuid.UUID
}

func newState() state {
	return state{
		runs:         make(map[uuid.UUID]runEntry),
		artifacts:    make(map[uuid.UUID]artifactEntry),
		rowsets:      make(map[uuid.UUID]rowsetEntry),
		rows:         make(map[uuid.UUID]rowEntry),
		rowsByRowset: make(map[uuid.UUID][]uuid.UUID),
	}
}

// clone copies every map. Entries are values; row content is never mutated in place.
func (s state) clone() state {
	out := newState()
	out.seq = s.seq
	for k, v := range s.runs {
		out.runs[k] = v
	}
	for k, v := range s.artifacts {
		out.artifacts[k] = v
	}
	for k, v := range s.rowsets {
		out.rowsets[k] = v
	}
	for k, v := range s.rows {
		out.rows[k] = v
	}
	for k, v := range s.rowsByRowset {
		out.rowsByRowset[k] = append([]uuid.UUID(nil), v...)
	}
	return out
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for created/completed timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is an in-memory records.Store.
type Store struct {
	mu  sync.RWMutex
	st  state
	now func() time.Time
}

var _ records.Store = (*Store)(nil)

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx runs fn against a private copy of the state and publishes the copy only when fn
// succeeds and ctx is still live.
func (s *Store) InTx(ctx context.Context, fn func(tx records.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.st.clone()
	tx := &memTx{view: view{st: &cp}, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = cp
	return nil
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() {}

func (s *Store) read() (view, func()) {
	s.mu.RLock()
	return view{st: &s.st}, s.mu.RUnlock
}

// GetRow returns a row by id
func (s *Store) GetRow(ctx context.Context, rowID uuid.UUID) (*records.Row, error) {
	v, done := s.read()
	defer done()
	return v.GetRow(ctx, rowID)
}

// ListRecentRows lists rows newest first
func (s *Store) ListRecentRows(ctx context.Context, page records.Page) ([]records.Row, error) {
	v, done := s.read()
	defer done()
	return v.ListRecentRows(ctx, page)
}

// GetRowset returns a rowset by id
func (s *Store) GetRowset(ctx context.Context, rowsetID uuid.UUID) (*records.Rowset, error) {
	v, done := s.read()
	defer done()
	return v.GetRowset(ctx, rowsetID)
}

// ListRowsetRows lists the rows of a rowset in position order
func (s *Store) ListRowsetRows(ctx context.Context, rowsetID uuid.UUID) ([]records.Row, error) {
	v, done := s.read()
	defer done()
	return v.ListRowsetRows(ctx, rowsetID)
}

// GetRun returns a run by id
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*records.IntakeRun, error) {
	v, done := s.read()
	defer done()
	return v.GetRun(ctx, runID)
}

// FindRunByOperation returns the latest run carrying operationID in status, or nil
func (s *Store) FindRunByOperation(ctx context.Context, operationID string, status records.RunStatus) (*records.IntakeRun, error) {
	v, done := s.read()
	defer done()
	return v.FindRunByOperation(ctx, operationID, status)
}

// ListRunArtifacts lists the artifacts of a run
func (s *Store) ListRunArtifacts(ctx context.Context, runID uuid.UUID) ([]records.IntakeArtifact, error) {
	v, done := s.read()
	defer done()
	return v.ListRunArtifacts(ctx, runID)
}

// ListRunRowsets lists the rowsets of a run
func (s *Store) ListRunRowsets(ctx context.Context, runID uuid.UUID) ([]records.Rowset, error) {
	v, done := s.read()
	defer done()
	return v.ListRunRowsets(ctx, runID)
}

// view implements records.Reader over one state.
type view struct {
	st *state
}

func (v view) GetRow(_ context.Context, rowID uuid.UUID) (*records.Row, error) {
	e, ok := v.st.rows[rowID]
	if !ok {
		return nil, records.NotFoundError("row", rowID)
	}
	row := copyRow(e.row)
	return &row, nil
}

func (v view) ListRecentRows(_ context.Context, page records.Page) ([]records.Row, error) {
	page = page.Clamp()
	entries := make([]rowEntry, 0, len(v.st.rows))
	for _, e := range v.st.rows {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].row.CreatedAt.Equal(entries[j].row.CreatedAt) {
			return entries[i].row.CreatedAt.After(entries[j].row.CreatedAt)
		}
		return entries[i].seq > entries[j].seq
	})

	if page.Offset >= len(entries) {
		return []records.Row{}, nil
	}
	end := min(page.Offset+page.Limit, len(entries))
	out := make([]records.Row, 0, end-page.Offset)
	for _, e := range entries[page.Offset:end] {
		out = append(out, copyRow(e.row))
	}
	return out, nil
}

func (v view) GetRowset(_ context.Context, rowsetID uuid.UUID) (*records.Rowset, error) {
	e, ok := v.st.rowsets[rowsetID]
	if !ok {
		return nil, records.NotFoundError("rowset", rowsetID)
	}
	rs := e.rowset
	return &rs, nil
}

func (v view) ListRowsetRows(_ context.Context, rowsetID uuid.UUID) ([]records.Row, error) {
	if _, ok := v.st.rowsets[rowsetID]; !ok {
		return nil, records.NotFoundError("rowset", rowsetID)
	}
	ids := v.st.rowsByRowset[rowsetID]
	out := make([]records.Row, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRow(v.st.rows[id].row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionIndex < out[j].PositionIndex })
	return out, nil
}

func (v view) GetRun(_ context.Context, runID uuid.UUID) (*records.IntakeRun, error) {
	e, ok := v.st.runs[runID]
	if !ok {
		return nil, records.NotFoundError("run", runID)
	}
	run := e.run
	return &run, nil
}

func (v view) FindRunByOperation(_ context.Context, operationID string, status records.RunStatus) (*records.IntakeRun, error) {
	var (
		found *records.IntakeRun
		best  int64
	)
	for _, e := range v.st.runs {
		if e.run.OperationID != operationID || (status != "" && e.run.Status != status) {
			continue
		}
		if e.seq > best {
			run := e.run
			found, best = &run, e.seq
		}
	}
	return found, nil
}

func (v view) ListRunArtifacts(_ context.Context, runID uuid.UUID) ([]records.IntakeArtifact, error) {
	var entries []artifactEntry
	for _, e := range v.st.artifacts {
		if e.artifact.RunID == runID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]records.IntakeArtifact, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.artifact)
	}
	return out, nil
}

func (v view) ListRunRowsets(_ context.Context, runID uuid.UUID) ([]records.Rowset, error) {
	var entries []rowsetEntry
	for _, e := range v.st.rowsets {
		if e.rowset.RunID != nil && *e.rowset.RunID == runID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]records.Rowset, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.rowset)
	}
	return out, nil
}

// memTx is a records.Tx over a private state copy.
type memTx struct {
	view
	now func() time.Time
}

func (tx *memTx) CreateRowset(_ context.Context, in records.RowsetInput) (uuid.UUID, error) {
	if err := records.CheckRowsetInput(in); err != nil {
		return uuid.Nil, err
	}
	if in.RunID != nil {
		if _, ok := tx.st.runs[*in.RunID]; !ok {
			return uuid.Nil, records.NotFoundError("run", *in.RunID)
		}
	}
	if in.ArtifactID != nil {
		if _, ok := tx.st.artifacts[*in.ArtifactID]; !ok {
			return uuid.Nil, records.NotFoundError("artifact", *in.ArtifactID)
		}
	}

	id := uuid.New()
	tx.st.rowsets[id] = rowsetEntry{
		rowset: records.Rowset{
			ID:              id,
			RunID:           in.RunID,
			ArtifactID:      in.ArtifactID,
			Stage:           in.Stage,
			SchemaVersion:   in.SchemaVersion,
			StorageLocation: in.StorageLocation,
			CreatedAt:       tx.now(),
		},
		seq: tx.st.next(),
	}
	return id, nil
}

func (tx *memTx) FindReusableRowset(_ context.Context, schemaVersion string, stage records.Stage) (*records.Rowset, error) {
	var (
		found *records.Rowset
		best  int64
	)
	for _, e := range tx.st.rowsets {
		if e.rowset.SchemaVersion == schemaVersion && e.rowset.Stage == stage && e.seq > best {
			rs := e.rowset
			found, best = &rs, e.seq
		}
	}
	return found, nil
}

// AdvisoryLock is a no-op: the store mutex already serializes transactions.
func (tx *memTx) AdvisoryLock(context.Context, string) error {
	return nil
}

func (tx *memTx) AppendRow(_ context.Context, rowsetID uuid.UUID, content records.Document, status records.RowStatus) (*records.Row, error) {
	if err := records.CheckRowStatus(status); err != nil {
		return nil, err
	}
	rs, ok := tx.st.rowsets[rowsetID]
	if !ok {
		return nil, records.NotFoundError("rowset", rowsetID)
	}

	position := 0
	for _, id := range tx.st.rowsByRowset[rowsetID] {
		if p := tx.st.rows[id].row.PositionIndex; p+1 > position {
			position = p + 1
		}
	}

	row := records.Row{
		ID:            uuid.New(),
		RowsetID:      rowsetID,
		PositionIndex: position,
		Status:        status,
		Content:       content.Clone(),
		CreatedAt:     tx.now(),
	}
	tx.st.rows[row.ID] = rowEntry{row: row, seq: tx.st.next()}
	tx.st.rowsByRowset[rowsetID] = append(tx.st.rowsByRowset[rowsetID], row.ID)
	rs.rowset.RowCount++
	tx.st.rowsets[rowsetID] = rs

	out := copyRow(row)
	return &out, nil
}

func (tx *memTx) FindRowByField(_ context.Context, schemaVersion, field, value string) (*records.Row, error) {
	if err := records.CheckField(schemaVersion, field); err != nil {
		return nil, err
	}
	var (
		found *records.Row
		best  int64
	)
	for _, e := range tx.st.rows {
		rs, ok := tx.st.rowsets[e.row.RowsetID]
		if !ok || rs.rowset.SchemaVersion != schemaVersion {
			continue
		}
		if strings.EqualFold(e.row.Content.String(field), value) && e.seq > best {
			row := copyRow(e.row)
			found, best = &row, e.seq
		}
	}
	return found, nil
}

func (tx *memTx) BeginRun(_ context.Context, in records.RunInput) (uuid.UUID, error) {
	if err := records.CheckRunInput(in); err != nil {
		return uuid.Nil, err
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if _, exists := tx.st.runs[in.ID]; exists {
		return uuid.Nil, fmt.Errorf("failed to create run: run %s already exists", in.ID)
	}
	tx.st.runs[in.ID] = runEntry{
		run: records.IntakeRun{
			ID:            in.ID,
			OperationID:   in.OperationID,
			CorrelationID: in.CorrelationID,
			SourceSystem:  in.SourceSystem,
			Status:        records.RunReceived,
			CreatedAt:     tx.now(),
		},
		seq: tx.st.next(),
	}
	return in.ID, nil
}

func (tx *memTx) RecordArtifact(_ context.Context, artifactID, runID uuid.UUID, payload json.RawMessage) (uuid.UUID, error) {
	if _, ok := tx.st.runs[runID]; !ok {
		return uuid.Nil, records.NotFoundError("run", runID)
	}
	if artifactID == uuid.Nil {
		artifactID = uuid.New()
	}
	tx.st.artifacts[artifactID] = artifactEntry{
		artifact: records.IntakeArtifact{
			ID:          artifactID,
			RunID:       runID,
			Payload:     append(json.RawMessage(nil), payload...),
			ContentType: "application/json",
			Status:      records.ArtifactReceived,
			CreatedAt:   tx.now(),
		},
		seq: tx.st.next(),
	}
	return artifactID, nil
}

func (tx *memTx) MarkArtifactProcessed(_ context.Context, artifactID uuid.UUID) error {
	e, ok := tx.st.artifacts[artifactID]
	if !ok {
		return records.NotFoundError("artifact", artifactID)
	}
	e.artifact.Status = records.ArtifactProcessed
	tx.st.artifacts[artifactID] = e
	return nil
}

func (tx *memTx) UpdateRunStatus(_ context.Context, runID uuid.UUID, status records.RunStatus, errMsg string) error {
	e, ok := tx.st.runs[runID]
	if !ok {
		return records.NotFoundError("run", runID)
	}
	if !e.run.Status.CanTransition(status) {
		return nil
	}
	now := tx.now()
	e.run.Status = status
	e.run.CompletedAt = &now
	if errMsg != "" {
		e.run.ErrorMessage = &errMsg
	}
	tx.st.runs[runID] = e
	return nil
}

func (tx *memTx) MarkRunFailed(ctx context.Context, in records.RunInput, errMsg string) error {
	if _, ok := tx.st.runs[in.ID]; !ok {
		if _, err := tx.BeginRun(ctx, in); err != nil {
			return err
		}
	}
	return tx.UpdateRunStatus(ctx, in.ID, records.RunFailed, errMsg)
}

func copyRow(r records.Row) records.Row {
	r.Content = r.Content.Clone()
	return r
}
