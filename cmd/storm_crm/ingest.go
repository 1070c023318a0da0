package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/storm-crm/internal/intake"
	"github.com/jonathan/storm-crm/internal/observability"
	"github.com/jonathan/storm-crm/internal/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one contact",
	Long: `Ingest one contact through the intake pipeline, either from flags or from a JSON file.
The payload is stored verbatim as an artifact of a new intake run. With --quick the contact
is appended to the shared manual rowset instead.`,
	RunE: runIngest,
}

var (
	ingestEmail          string
	ingestFirstName      string
	ingestLastName       string
	ingestCompany        string
	ingestFile           string
	ingestSource         string
	ingestIdempotencyKey string
	ingestIfAbsent       bool
	ingestQuick          bool
	ingestVerbose        bool
)

func init() {
	ingestCmd.Flags().StringVarP(&ingestEmail, "email", "e", "", "Contact email")
	ingestCmd.Flags().StringVar(&ingestFirstName, "first-name", "", "Contact first name")
	ingestCmd.Flags().StringVar(&ingestLastName, "last-name", "", "Contact last name")
	ingestCmd.Flags().StringVar(&ingestCompany, "company", "", "Contact company name")
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "Path to a JSON contact document")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "cli", "Source system recorded on the run")
	ingestCmd.Flags().StringVar(&ingestIdempotencyKey, "idempotency-key", "", "Replay key; repeating it returns the first result")
	ingestCmd.Flags().BoolVar(&ingestIfAbsent, "if-absent", false, "Fail when a contact with the same email exists")
	ingestCmd.Flags().BoolVar(&ingestQuick, "quick", false, "Append to the shared manual rowset")
	ingestCmd.Flags().BoolVarP(&ingestVerbose, "verbose", "v", false, "Show pipeline progress and formatted results")

	ingestCmd.MarkFlagsMutuallyExclusive("email", "file")
	ingestCmd.MarkFlagsOneRequired("email", "file")
	ingestCmd.MarkFlagsMutuallyExclusive("quick", "if-absent")
	ingestCmd.MarkFlagsMutuallyExclusive("quick", "idempotency-key")

	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	body, err := ingestBody()
	if err != nil {
		return err
	}

	contact, err := types.ParseContact(body)
	if err != nil {
		return fmt.Errorf("invalid contact: %w", err)
	}

	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()
	printer := observability.NewPrinter(out)
	pcfg := pipelineConfig(e.cfg)
	if ingestVerbose {
		pcfg.OnProgress = printer.PrintProgress
	}
	pipeline := intake.New(e.store, pcfg, e.log)

	if ingestQuick {
		res, err := pipeline.QuickAdd(ctx, contact.Document())
		if err != nil {
			if ingestVerbose {
				printer.PrintError(err)
			}
			return err
		}
		if ingestVerbose {
			printer.PrintQuickAddResult(res)
			return nil
		}
		fmt.Fprintf(out, "Successfully added contact\n")
		fmt.Fprintf(out, "Row: %s\n", res.RowID)
		return nil
	}

	sub := intake.Submission{
		Content:        contact.Document(),
		Payload:        body,
		SourceSystem:   ingestSource,
		IdempotencyKey: ingestIdempotencyKey,
	}
	ingest := pipeline.Ingest
	if ingestIfAbsent {
		ingest = pipeline.IngestIfAbsent
	}
	res, err := ingest(ctx, sub)
	if err != nil {
		if ingestVerbose {
			printer.PrintError(err)
		}
		return err
	}

	if ingestVerbose {
		printer.PrintIngestResult(res)
		return nil
	}
	if res.Replayed {
		fmt.Fprintf(out, "Contact already ingested under this idempotency key\n")
	} else {
		fmt.Fprintf(out, "Successfully ingested contact\n")
	}
	fmt.Fprintf(out, "Run: %s\n", res.RunID)
	fmt.Fprintf(out, "Row: %s\n", res.RowID)
	return nil
}

// ingestBody returns the file contents, or a document built from the contact flags.
func ingestBody() ([]byte, error) {
	if ingestFile != "" {
		body, err := os.ReadFile(ingestFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read contact file: %w", err)
		}
		return body, nil
	}

	doc := map[string]string{"email": ingestEmail}
	if ingestFirstName != "" {
		doc["first_name"] = ingestFirstName
	}
	if ingestLastName != "" {
		doc["last_name"] = ingestLastName
	}
	if ingestCompany != "" {
		doc["company_name"] = ingestCompany
	}
	return json.Marshal(doc)
}
