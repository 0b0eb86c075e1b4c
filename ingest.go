package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github/itish2003/pdfqa/services"
)

var errIngestFailures = errors.New("some files could not be ingested")

func NewIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <directory>",
		Short: "Ingest every PDF in a directory",
		Long:  `Extract, chunk, embed and index every *.pdf directly inside the directory.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	report, err := a.indexer.IngestDirectory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	if err := printReport(cmd, report, asJSON); err != nil {
		return err
	}
	if report.Outcome == services.OutcomePartial {
		return errIngestFailures
	}
	return nil
}

func printReport(cmd *cobra.Command, report *services.IngestReport, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"outcome":      report.Outcome,
			"processed":    report.Processed,
			"failed_files": report.FailedFiles,
		})
	}

	switch report.Outcome {
	case services.OutcomeNoFiles:
		fmt.Fprintln(out, "No PDF files found in the directory")
	case services.OutcomePartial:
		fmt.Fprintf(out, "Completed with some failures: %d succeeded, %d failed\n", report.Processed, len(report.FailedFiles))
		for _, name := range report.FailedFiles {
			fmt.Fprintf(out, "  failed: %s\n", name)
		}
	default:
		fmt.Fprintf(out, "Successfully processed all files (%d)\n", report.Processed)
	}
	return nil
}
