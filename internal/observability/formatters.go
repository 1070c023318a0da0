// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/storm-crm/internal/contacts"
	"github.com/jonathan/storm-crm/internal/intake"
	"github.com/jonathan/storm-crm/internal/records"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintProgress outputs one pipeline step as a single line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(event intake.ProgressEvent) {
	marker := "✓"
	if event.Step == intake.StepFailed {
		marker = "✗"
	}
	fmt.Fprintf(p.out, "  %s %-16s %s\n", marker, event.Step, event.Message)
}

// PrintIngestResult outputs the identifiers written by an ingestion.
func (p *Printer) PrintIngestResult(res *intake.Result) {
	if res == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", res.RunID))
	sb.WriteString(fmt.Sprintf("Artifact: %s\n", res.ArtifactID))
	sb.WriteString(fmt.Sprintf("Rowset:   %s\n", res.RowsetID))
	sb.WriteString(fmt.Sprintf("Row:      %s", res.RowID))
	if res.Replayed {
		sb.WriteString("\n\n(replayed an earlier submission)")
	}

	p.printBox("CONTACT INGESTED", sb.String())
}

// PrintQuickAddResult outputs where a manually entered contact landed.
func (p *Printer) PrintQuickAddResult(res *intake.QuickAddResult) {
	if res == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Rowset:   %s", res.RowsetID))
	if res.NewRowset {
		sb.WriteString(" (new)")
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Row:      %s\n", res.RowID))
	sb.WriteString(fmt.Sprintf("Position: %d", res.PositionIndex))

	p.printBox("CONTACT ADDED", sb.String())
}

// PrintContact outputs a contact: its row id, then one field per line in key order.
func (p *Printer) PrintContact(view contacts.ContactView) {
	if view == nil {
		return
	}

	keys := make([]string, 0, len(view))
	width := 0
	for k := range view {
		if k == "row_id" {
			continue
		}
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Row: %s", view.RowID()))
	for _, k := range keys {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%-*s  %v", width+1, k+":", view[k]))
	}

	p.printBox("CONTACT", sb.String())
}

// PrintContactList outputs a page of contact summaries.
func (p *Printer) PrintContactList(list []contacts.ContactSummaryView, page records.Page) {
	if len(list) == 0 {
		p.printBox("CONTACTS", fmt.Sprintf("No contacts at offset %d", page.Offset))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Showing %d from offset %d:\n\n", len(list), page.Offset))
	for i, c := range list {
		name := strings.TrimSpace(c.FirstName + " " + c.LastName)
		if name == "" {
			name = "-"
		}
		sb.WriteString(fmt.Sprintf("%s  %s\n", c.RowID.String()[:8], c.Email))
		sb.WriteString(fmt.Sprintf("          %s", name))
		if i < len(list)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("CONTACTS", sb.String())
}

// PrintRun outputs the audit view of an intake run.
func (p *Printer) PrintRun(run *records.IntakeRun, artifacts []records.IntakeArtifact, rowsets []records.Rowset) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:         %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("Status:      %s\n", run.Status))
	sb.WriteString(fmt.Sprintf("Operation:   %s\n", run.OperationID))
	sb.WriteString(fmt.Sprintf("Correlation: %s\n", run.CorrelationID))
	sb.WriteString(fmt.Sprintf("Source:      %s", run.SourceSystem))
	if run.ErrorMessage != nil {
		sb.WriteString(fmt.Sprintf("\nError:       %s", *run.ErrorMessage))
	}

	if len(artifacts) > 0 {
		sb.WriteString("\n\nArtifacts:")
		count := min(len(artifacts), maxItemsToShow)
		for i := 0; i < count; i++ {
			a := artifacts[i]
			sb.WriteString(fmt.Sprintf("\n  • %s %s (%d bytes)", a.ID.String()[:8], a.Status, len(a.Payload)))
		}
		if len(artifacts) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("\n  ... and %d more", len(artifacts)-maxItemsToShow))
		}
	}

	if len(rowsets) > 0 {
		sb.WriteString("\n\nRowsets:")
		count := min(len(rowsets), maxItemsToShow)
		for i := 0; i < count; i++ {
			rs := rowsets[i]
			sb.WriteString(fmt.Sprintf("\n  • %s %s %d rows", rs.ID.String()[:8], rs.Stage, rs.RowCount))
		}
		if len(rowsets) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("\n  ... and %d more", len(rowsets)-maxItemsToShow))
		}
	}

	p.printBox("INTAKE RUN", sb.String())
}

// PrintError outputs a failed command, including the run id when one was opened.
func (p *Printer) PrintError(err error) {
	if err == nil {
		return
	}

	var sb strings.Builder
	var pe *intake.PipelineError
	var dup *intake.DuplicateError
	switch {
	case errors.As(err, &dup):
		sb.WriteString("Contact already exists\n")
		sb.WriteString(fmt.Sprintf("Row: %s", dup.RowID))
	case errors.As(err, &pe):
		if pe.RunID != uuid.Nil {
			sb.WriteString(fmt.Sprintf("Run: %s\n", pe.RunID))
		}
		sb.WriteString(fmt.Sprintf("%v", pe.Cause))
	default:
		sb.WriteString(err.Error())
	}

	p.printBox("⚠ FAILED", sb.String())
}
