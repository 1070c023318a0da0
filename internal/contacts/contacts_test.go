package contacts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storm-crm/internal/memstore"
	"github.com/jonathan/storm-crm/internal/records"
	"github.com/jonathan/storm-crm/internal/schemas"
)

func seed(t *testing.T, store *memstore.Store, docs ...records.Document) []records.Row {
	t.Helper()
	var out []records.Row
	err := store.InTx(context.Background(), func(tx records.Tx) error {
		rowsetID, err := tx.CreateRowset(context.Background(), records.RowsetInput{
			Stage:           records.StageManual,
			SchemaVersion:   schemas.CurrentVersion,
			StorageLocation: records.StorageInline,
		})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			row, err := tx.AppendRow(context.Background(), rowsetID, doc, records.RowOK)
			if err != nil {
				return err
			}
			out = append(out, *row)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestGetByID_RoundTrip(t *testing.T) {
	store := memstore.New()
	doc := records.Document{"email": "ada@example.com", "first_name": "Ada", "company_name": "Analytical Engines"}
	rows := seed(t, store, doc)
	svc := NewService(store)

	view, err := svc.GetByID(context.Background(), rows[0].ID)
	require.NoError(t, err)

	want := ContactView{
		"email":        "ada@example.com",
		"first_name":   "Ada",
		"company_name": "Analytical Engines",
		"row_id":       rows[0].ID.String(),
	}
	if diff := cmp.Diff(want, view); diff != "" {
		t.Errorf("GetByID mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, rows[0].ID.String(), view.RowID())
}

func TestGetByID_DoesNotMutateStoredContent(t *testing.T) {
	store := memstore.New()
	rows := seed(t, store, records.Document{"email": "a@b.co"})
	svc := NewService(store)

	view, err := svc.GetByID(context.Background(), rows[0].ID)
	require.NoError(t, err)
	view["email"] = "changed@b.co"

	row, err := store.GetRow(context.Background(), rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", row.Content.String("email"))
	_, hasRowID := row.Content["row_id"]
	assert.False(t, hasRowID)
}

func TestGetByID_NotFound(t *testing.T) {
	svc := NewService(memstore.New())

	_, err := svc.GetByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, records.ErrNotFound))
}

func TestList_Summaries(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store := memstore.New(memstore.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	rows := seed(t, store,
		records.Document{"email": "first@example.com", "first_name": "First"},
		records.Document{"email": "second@example.com", "last_name": "Second", "company_name": "X"},
	)
	svc := NewService(store)

	got, err := svc.List(context.Background(), records.Page{Limit: 10})
	require.NoError(t, err)

	want := []ContactSummaryView{
		{RowID: rows[1].ID, Email: "second@example.com", LastName: "Second"},
		{RowID: rows[0].ID, Email: "first@example.com", FirstName: "First"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

func TestList_Pagination(t *testing.T) {
	store := memstore.New()
	docs := make([]records.Document, 120)
	for i := range docs {
		docs[i] = records.Document{"email": fmt.Sprintf("c%03d@example.com", i)}
	}
	rows := seed(t, store, docs...)
	svc := NewService(store)

	page, err := svc.List(context.Background(), records.Page{Limit: 50, Offset: 50})
	require.NoError(t, err)
	require.Len(t, page, 50)
	for i, s := range page {
		// newest first: rank 51 is the 70th inserted row
		assert.Equal(t, rows[69-i].ID, s.RowID)
	}
}

func TestList_ClampsLimit(t *testing.T) {
	store := memstore.New()
	docs := make([]records.Document, 120)
	for i := range docs {
		docs[i] = records.Document{"email": fmt.Sprintf("c%03d@example.com", i)}
	}
	seed(t, store, docs...)
	svc := NewService(store)

	big, err := svc.List(context.Background(), records.Page{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, big, records.MaxLimit)

	small, err := svc.List(context.Background(), records.Page{Limit: 0})
	require.NoError(t, err)
	assert.Len(t, small, 1)

	empty, err := svc.List(context.Background(), records.Page{Limit: 10, Offset: 500})
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}
