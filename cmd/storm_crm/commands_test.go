package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jonathan/storm-crm/internal/config"
	"github.com/jonathan/storm-crm/internal/intake"
	"github.com/jonathan/storm-crm/internal/logger"
	"github.com/jonathan/storm-crm/internal/memstore"
	"github.com/jonathan/storm-crm/internal/records"
)

// useMemoryStore points every command at one shared in-memory store.
func useMemoryStore(t *testing.T) *memstore.Store {
	t.Helper()
	t.Setenv("STORE_DRIVER", config.DriverMemory)
	t.Setenv("LOG_MODE", "dev")

	store := memstore.New()
	orig := openStore
	openStore = func(context.Context, *config.Config) (records.Store, error) { return store, nil }
	t.Cleanup(func() { openStore = orig })
	return store
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(args ...string) (string, error) {
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// idFromOutput extracts the uuid printed after prefix at the start of a line.
func idFromOutput(t *testing.T, out, prefix string) uuid.UUID {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			fields := strings.Fields(rest)
			require.NotEmpty(t, fields, line)
			id, err := uuid.Parse(fields[0])
			require.NoError(t, err)
			return id
		}
	}
	t.Fatalf("no %q line in output:\n%s", prefix, out)
	return uuid.Nil
}

func TestIngestThenGet(t *testing.T) {
	useMemoryStore(t)

	out, err := execute("ingest", "--email", "ada@example.com", "--first-name", "Ada", "--company", "Engines")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Successfully ingested contact")
	rowID := idFromOutput(t, out, "Row: ")

	out, err = execute("get", rowID.String())
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "ada@example.com", got["email"])
	assert.Equal(t, "Ada", got["first_name"])
	assert.Equal(t, "Engines", got["company_name"])
	assert.Equal(t, rowID.String(), got["row_id"])
	assert.NotContains(t, got, "last_name")

	out, err = execute("get", rowID.String(), "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "CONTACT")
	assert.Equal(t, rowID, idFromOutput(t, out, "│ Row: "))
}

func TestIngest_FromFileKeepsPayload(t *testing.T) {
	store := useMemoryStore(t)
	body := `{"email": "grace@example.com",  "last_name": "Hopper"}`
	path := filepath.Join(t.TempDir(), "contact.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	out, err := execute("ingest", "--file", path, "--source", "import_job")
	require.NoError(t, err, out)
	runID := idFromOutput(t, out, "Run: ")

	run, err := store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "import_job", run.SourceSystem)
	assert.Equal(t, records.RunCommitted, run.Status)

	artifacts, err := store.ListRunArtifacts(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, body, string(artifacts[0].Payload))
}

func TestIngest_FromFileAcceptsNullOptionalFields(t *testing.T) {
	store := useMemoryStore(t)
	path := filepath.Join(t.TempDir(), "contact.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"email":"a@b.com","first_name":null}`), 0o600))

	out, err := execute("ingest", "--file", path)
	require.NoError(t, err, out)

	row, err := store.GetRow(context.Background(), idFromOutput(t, out, "Row: "))
	require.NoError(t, err)
	assert.Equal(t, records.Document{"email": "a@b.com"}, row.Content)
}

func TestIngest_RejectsInvalidContact(t *testing.T) {
	store := useMemoryStore(t)

	_, err := execute("ingest", "--email", "not-an-email")
	require.Error(t, err)

	rows, err := store.ListRecentRows(context.Background(), records.Page{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIngest_FlagRules(t *testing.T) {
	useMemoryStore(t)

	_, err := execute("ingest")
	assert.Error(t, err, "email or file is required")

	_, err = execute("ingest", "--email", "a@b.co", "--file", "x.json")
	assert.Error(t, err)

	_, err = execute("ingest", "--email", "a@b.co", "--quick", "--if-absent")
	assert.Error(t, err)
}

func TestIngest_IfAbsent(t *testing.T) {
	useMemoryStore(t)

	_, err := execute("ingest", "--email", "a@b.co", "--if-absent")
	require.NoError(t, err)

	_, err = execute("ingest", "--email", "A@b.co", "--if-absent")
	var dup *intake.DuplicateError
	assert.True(t, errors.As(err, &dup), "got %v", err)
}

func TestIngest_IdempotencyKey(t *testing.T) {
	useMemoryStore(t)

	first, err := execute("ingest", "--email", "a@b.co", "--idempotency-key", "batch-7")
	require.NoError(t, err)
	second, err := execute("ingest", "--email", "a@b.co", "--idempotency-key", "batch-7")
	require.NoError(t, err)

	assert.Contains(t, second, "already ingested")
	assert.Equal(t, idFromOutput(t, first, "Row: "), idFromOutput(t, second, "Row: "))
}

func TestIngest_QuickSharesRowset(t *testing.T) {
	store := useMemoryStore(t)

	_, err := execute("ingest", "--email", "one@example.com", "--quick")
	require.NoError(t, err)
	out, err := execute("ingest", "--email", "two@example.com", "--quick", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "CONTACT ADDED")
	assert.Contains(t, out, "Position: 1")

	rows, err := store.ListRecentRows(context.Background(), records.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, rows[0].RowsetID, rows[1].RowsetID)
}

func TestIngest_VerboseShowsProgress(t *testing.T) {
	useMemoryStore(t)

	out, err := execute("ingest", "--email", "a@b.co", "-v")
	require.NoError(t, err)

	assert.Contains(t, out, intake.StepBeginRun)
	assert.Contains(t, out, intake.StepCommit)
	assert.Contains(t, out, "CONTACT INGESTED")
}

func TestList(t *testing.T) {
	useMemoryStore(t)
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := execute("ingest", "--email", email)
		require.NoError(t, err)
	}

	out, err := execute("list", "--limit", "2")
	require.NoError(t, err)

	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "c@example.com", list[0]["email"])
	assert.Equal(t, "b@example.com", list[1]["email"])

	out, err = execute("list", "--offset", "10", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "No contacts at offset 10")
}

func TestRun(t *testing.T) {
	useMemoryStore(t)
	out, err := execute("ingest", "--email", "a@b.co")
	require.NoError(t, err)
	runID := idFromOutput(t, out, "Run: ")

	out, err = execute("run", runID.String())
	require.NoError(t, err)

	var got struct {
		Run       records.IntakeRun        `json:"run"`
		Artifacts []records.IntakeArtifact `json:"artifacts"`
		Rowsets   []records.Rowset         `json:"rowsets"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, records.RunCommitted, got.Run.Status)
	assert.Len(t, got.Artifacts, 1)
	assert.Len(t, got.Rowsets, 1)
}

func TestGet_Errors(t *testing.T) {
	useMemoryStore(t)

	_, err := execute("get", "nope")
	assert.ErrorContains(t, err, "invalid row ID")

	_, err = execute("get", uuid.NewString())
	assert.ErrorContains(t, err, "not found")

	_, err = execute("run", uuid.NewString())
	assert.ErrorContains(t, err, "not found")
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	useMemoryStore(t)

	_, err := execute("migrate", "up")

	assert.ErrorContains(t, err, "require the postgres store")
}

func TestStoreFlagOverridesEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := execute("migrate", "version", "--store", "memory")

	assert.ErrorContains(t, err, "configured store is memory")
}

func TestPipelineConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.ManualMaxRows = 7

	pc := pipelineConfig(&cfg)

	assert.Equal(t, 10*time.Second, pc.Timeout)
	assert.Equal(t, 7, pc.ManualMaxRows)
	assert.Equal(t, 24*time.Hour, pc.ManualMaxAge)
	assert.Equal(t, "ui_manual", pc.DefaultSourceSystem)
}

type flakyStore struct {
	*memstore.Store
	pings atomic.Int32
}

// Ping fails on the second and third call.
func (s *flakyStore) Ping(context.Context) error {
	n := s.pings.Add(1)
	if n == 2 || n == 3 {
		return errors.New("connection refused")
	}
	return nil
}

func TestWatchStore_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.FromZap(zap.New(core), true)
	store := &flakyStore{Store: memstore.New()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchStore(ctx, store, log, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return store.pings.Load() >= 5 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, logs.FilterMessage("store unreachable").Len())
	assert.Equal(t, 1, logs.FilterMessage("store reachable again").Len())
}
