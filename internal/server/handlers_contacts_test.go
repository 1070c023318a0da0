package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storm-crm/internal/records"
	"github.com/jonathan/storm-crm/internal/types"
)

func postContact(s *testServer, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return s.do(req)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCreateContact_RoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"email":"ada@example.com","first_name":"Ada","last_name":"Lovelace","company_name":"Engines"}`

	w := postContact(s, "/contacts", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[types.IngestResponse](t, w)
	assert.Equal(t, "ok", created.Status)
	assert.NotEqual(t, uuid.Nil, created.RunID)
	assert.NotEqual(t, uuid.Nil, created.ArtifactID)
	assert.NotEqual(t, uuid.Nil, created.RowsetID)

	w = s.do(httptest.NewRequest(http.MethodGet, "/contacts/"+created.RowID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]any](t, w)

	want := map[string]any{
		"email":        "ada@example.com",
		"first_name":   "Ada",
		"last_name":    "Lovelace",
		"company_name": "Engines",
		"row_id":       created.RowID.String(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("contact mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateContact_StoresPayloadVerbatim(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{ "first_name" : "Ada",   "email":"ada@example.com" }`

	w := postContact(s, "/contacts", body, map[string]string{
		"X-Source-System":  "web_form",
		"X-Correlation-ID": "corr-42",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[types.IngestResponse](t, w)

	artifacts, err := s.store.ListRunArtifacts(context.Background(), created.RunID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, body, string(artifacts[0].Payload))

	run, err := s.store.GetRun(context.Background(), created.RunID)
	require.NoError(t, err)
	assert.Equal(t, "web_form", run.SourceSystem)
	assert.Equal(t, "corr-42", run.CorrelationID)
}

func TestCreateContact_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed json", body: `{"email":`},
		{name: "missing email", body: `{"first_name":"Ada"}`},
		{name: "bad email", body: `{"email":"not-an-email"}`},
		{name: "unknown field", body: `{"email":"a@b.co","phone":"555"}`},
		{name: "wrong type", body: `{"email":"a@b.co","first_name":7}`},
		{name: "null email", body: `{"email":null}`},
		{name: "not an object", body: `["a@b.co"]`},
		{name: "name too long", body: fmt.Sprintf(`{"email":"a@b.co","last_name":%q}`, strings.Repeat("x", 201))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)

			w := postContact(s, "/contacts", tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := decode[map[string]any](t, w)
			assert.Equal(t, "validation failed", resp["error"])
			assert.NotEmpty(t, resp["details"])

			rows, err := s.store.ListRecentRows(context.Background(), records.Page{Limit: 10})
			require.NoError(t, err)
			assert.Empty(t, rows, "nothing is stored for a rejected submission")
		})
	}
}

func TestCreateContact_NullOptionalFields(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"email":"a@b.com","first_name":null,"last_name":"B","company_name":null}`

	w := postContact(s, "/contacts", body, nil)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[types.IngestResponse](t, w)

	row, err := s.store.GetRow(context.Background(), resp.RowID)
	require.NoError(t, err)
	assert.Equal(t, records.Document{"email": "a@b.com", "last_name": "B"}, row.Content)

	artifacts, err := s.store.ListRunArtifacts(context.Background(), resp.RunID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, body, string(artifacts[0].Payload))
}

func TestCreateContact_IdempotentReplay(t *testing.T) {
	s := newTestServer(t, nil)
	headers := map[string]string{"Idempotency-Key": "form-submit-1"}

	first := postContact(s, "/contacts", `{"email":"a@b.co"}`, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	second := postContact(s, "/contacts", `{"email":"a@b.co"}`, headers)
	require.Equal(t, http.StatusOK, second.Code)

	a := decode[types.IngestResponse](t, first)
	b := decode[types.IngestResponse](t, second)
	assert.True(t, b.Replayed)
	assert.Equal(t, a.RowID, b.RowID)
	assert.Equal(t, a.RunID, b.RunID)
}

func TestCreateContact_IfAbsentConflict(t *testing.T) {
	s := newTestServer(t, nil)

	first := postContact(s, "/contacts?if_absent=true", `{"email":"a@b.co"}`, nil)
	require.Equal(t, http.StatusCreated, first.Code)
	created := decode[types.IngestResponse](t, first)

	second := postContact(s, "/contacts?if_absent=true", `{"email":"A@B.CO"}`, nil)
	assert.Equal(t, http.StatusConflict, second.Code)
	resp := decode[map[string]any](t, second)
	assert.Equal(t, created.RowID.String(), resp["row_id"])

	// without the flag duplicates are accepted
	third := postContact(s, "/contacts", `{"email":"a@b.co"}`, nil)
	assert.Equal(t, http.StatusCreated, third.Code)
}

func TestQuickAdd_ReusesRowset(t *testing.T) {
	s := newTestServer(t, nil)

	first := postContact(s, "/contacts/quick", `{"email":"one@example.com"}`, nil)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := postContact(s, "/contacts/quick", `{"email":"two@example.com"}`, nil)
	require.Equal(t, http.StatusCreated, second.Code)

	a := decode[types.QuickAddResponse](t, first)
	b := decode[types.QuickAddResponse](t, second)
	assert.Equal(t, a.RowsetID, b.RowsetID)
	assert.Equal(t, 0, a.PositionIndex)
	assert.Equal(t, 1, b.PositionIndex)

	w := s.do(httptest.NewRequest(http.MethodGet, "/contacts/"+b.RowID.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestQuickAdd_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	w := postContact(s, "/contacts/quick", `{"email":"bad"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetContact_InvalidID(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/contacts/not-a-uuid", nil)
	req.SetPathValue("row_id", "not-a-uuid")
	w := httptest.NewRecorder()
	s.handleGetContact(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[map[string]string](t, w)
	assert.Contains(t, resp["error"], "Invalid row ID")
}

func TestGetContact_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(httptest.NewRequest(http.MethodGet, "/contacts/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[map[string]string](t, w)
	assert.Equal(t, "Contact not found", resp["error"])
}

func TestListContacts_Pagination(t *testing.T) {
	s := newTestServer(t, nil)
	ids := make([]uuid.UUID, 0, 120)
	for i := 0; i < 120; i++ {
		w := postContact(s, "/contacts", fmt.Sprintf(`{"email":"c%03d@example.com"}`, i), nil)
		require.Equal(t, http.StatusCreated, w.Code)
		ids = append(ids, decode[types.IngestResponse](t, w).RowID)
	}

	w := s.do(httptest.NewRequest(http.MethodGet, "/contacts?limit=50&offset=50", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Contacts []struct {
			RowID uuid.UUID `json:"row_id"`
			Email string    `json:"email"`
		} `json:"contacts"`
		Count  int `json:"count"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 50, resp.Count)
	assert.Equal(t, 50, resp.Limit)
	assert.Equal(t, 50, resp.Offset)
	require.Len(t, resp.Contacts, 50)
	for i, c := range resp.Contacts {
		assert.Equal(t, ids[69-i], c.RowID)
		assert.Equal(t, fmt.Sprintf("c%03d@example.com", 69-i), c.Email)
	}
}

func TestListContacts_QueryDefaults(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{query: "", wantLimit: 50, wantOffset: 0},
		{query: "?limit=500", wantLimit: 100, wantOffset: 0},
		{query: "?limit=0", wantLimit: 1, wantOffset: 0},
		{query: "?limit=abc&offset=-3", wantLimit: 50, wantOffset: 0},
		{query: "?limit=5&offset=7", wantLimit: 5, wantOffset: 7},
	}

	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := s.do(httptest.NewRequest(http.MethodGet, "/contacts"+tt.query, nil))
			require.Equal(t, http.StatusOK, w.Code)

			resp := decode[map[string]any](t, w)
			assert.EqualValues(t, tt.wantLimit, resp["limit"])
			assert.EqualValues(t, tt.wantOffset, resp["offset"])
			assert.EqualValues(t, 0, resp["count"])
			assert.Equal(t, []any{}, resp["contacts"])
		})
	}
}

func TestGetRun_AuditView(t *testing.T) {
	s := newTestServer(t, nil)
	w := postContact(s, "/contacts", `{"email":"a@b.co"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[types.IngestResponse](t, w)

	w = s.do(httptest.NewRequest(http.MethodGet, "/runs/"+created.RunID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	run := decode[types.RunResponse](t, w)
	assert.Equal(t, "COMMITTED", run.Status)
	require.Len(t, run.Artifacts, 1)
	assert.Equal(t, "PROCESSED", run.Artifacts[0].Status)
	require.Len(t, run.Rowsets, 1)
	assert.Equal(t, created.RowsetID, run.Rowsets[0].ID)
	assert.Equal(t, 1, run.Rowsets[0].RowCount)
}

func TestGetRun_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(httptest.NewRequest(http.MethodGet, "/runs/nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/runs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
