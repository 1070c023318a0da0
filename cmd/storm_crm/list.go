package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/storm-crm/internal/contacts"
	"github.com/jonathan/storm-crm/internal/observability"
	"github.com/jonathan/storm-crm/internal/records"
)

var (
	listLimit   int
	listOffset  int
	listVerbose bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts newest first",
	RunE:  runList,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", records.DefaultLimit, "Maximum contacts to list (1-100)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Contacts to skip")
	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "Print a formatted box instead of JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	page := records.Page{Limit: listLimit, Offset: listOffset}.Clamp()
	list, err := contacts.NewService(e.store).List(ctx, page)
	if err != nil {
		return err
	}

	if listVerbose {
		observability.NewPrinter(cmd.OutOrStdout()).PrintContactList(list, page)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), list)
}
