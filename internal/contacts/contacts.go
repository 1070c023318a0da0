// Package contacts is the read side of the CRM: it projects stored rows into contact views.
package contacts

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/storm-crm/internal/records"
)

// ContactView is a stored contact document plus its row id.
type ContactView map[string]any

// RowID returns the row id carried by the view.
func (v ContactView) RowID() string {
	s, _ := v["row_id"].(string)
	return s
}

// ContactSummaryView is one entry of a contact listing.
type ContactSummaryView struct {
	RowID     uuid.UUID `json:"row_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
}

// Service answers contact queries from a records.Reader.
type Service struct {
	reader records.Reader
}

// NewService creates a Service
func NewService(reader records.Reader) *Service {
	return &Service{reader: reader}
}

// GetByID returns the contact stored in rowID. A missing row yields an error matching
// records.ErrNotFound.
func (s *Service) GetByID(ctx context.Context, rowID uuid.UUID) (ContactView, error) {
	row, err := s.reader.GetRow(ctx, rowID)
	if err != nil {
		return nil, err
	}
	view := ContactView(row.Content.Clone())
	if view == nil {
		view = ContactView{}
	}
	view["row_id"] = row.ID.String()
	return view, nil
}

// List returns contacts newest first. The page is clamped to the store's limits.
func (s *Service) List(ctx context.Context, page records.Page) ([]ContactSummaryView, error) {
	rows, err := s.reader.ListRecentRows(ctx, page.Clamp())
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	out := make([]ContactSummaryView, 0, len(rows))
	for _, row := range rows {
		out = append(out, Summarize(row))
	}
	return out, nil
}

// Summarize projects a row into its listing entry.
func Summarize(row records.Row) ContactSummaryView {
	return ContactSummaryView{
		RowID:     row.ID,
		Email:     row.Content.String("email"),
		FirstName: row.Content.String("first_name"),
		LastName:  row.Content.String("last_name"),
	}
}
