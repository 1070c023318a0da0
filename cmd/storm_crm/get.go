package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/storm-crm/internal/contacts"
	"github.com/jonathan/storm-crm/internal/observability"
	"github.com/jonathan/storm-crm/internal/records"
)

var getVerbose bool

var getCmd = &cobra.Command{
	Use:   "get <row_id>",
	Short: "Print one contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var runCmd = &cobra.Command{
	Use:   "run <run_id>",
	Short: "Print the audit trail of an intake run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	getCmd.Flags().BoolVarP(&getVerbose, "verbose", "v", false, "Print a formatted box instead of JSON")
	runCmd.Flags().BoolVarP(&getVerbose, "verbose", "v", false, "Print a formatted box instead of JSON")
	rootCmd.AddCommand(getCmd, runCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	rowID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid row ID %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	view, err := contacts.NewService(e.store).GetByID(ctx, rowID)
	if errors.Is(err, records.ErrNotFound) {
		return fmt.Errorf("contact %s not found", rowID)
	}
	if err != nil {
		return err
	}

	if getVerbose {
		observability.NewPrinter(cmd.OutOrStdout()).PrintContact(view)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), view)
}

func runRun(cmd *cobra.Command, args []string) error {
	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	run, err := e.store.GetRun(ctx, runID)
	if errors.Is(err, records.ErrNotFound) {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return err
	}
	artifacts, err := e.store.ListRunArtifacts(ctx, runID)
	if err != nil {
		return err
	}
	rowsets, err := e.store.ListRunRowsets(ctx, runID)
	if err != nil {
		return err
	}

	if getVerbose {
		observability.NewPrinter(cmd.OutOrStdout()).PrintRun(run, artifacts, rowsets)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"run":       run,
		"artifacts": artifacts,
		"rowsets":   rowsets,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
