package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github/itish2003/pdfqa/services"
)

func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the ingested documents",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}
	cmd.Flags().Bool("sources", false, "Print the retrieved chunks with their scores")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	answer, err := ask(cmd.Context(), a, strings.Join(args, " "))
	if err != nil {
		return err
	}
	showSources, _ := cmd.Flags().GetBool("sources")
	asJSON, _ := cmd.Flags().GetBool("json")
	return printAnswer(cmd, answer, showSources, asJSON)
}

// ask provisions the index first so a fresh store answers from an empty
// context instead of failing the search.
func ask(ctx context.Context, a *app, question string) (*services.Answer, error) {
	if err := a.indexer.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	return a.rag.Answer(ctx, question)
}

func printAnswer(cmd *cobra.Command, answer *services.Answer, showSources, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		payload := map[string]any{
			"answer":           answer.Answer,
			"source_documents": answer.SourceDocuments,
		}
		if showSources {
			matches := make([]map[string]any, 0, len(answer.Matches))
			for _, m := range answer.Matches {
				matches = append(matches, map[string]any{"id": m.ID, "score": m.Score, "text": m.Text, "metadata": m.Metadata})
			}
			payload["matches"] = matches
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintln(out, answer.Answer)
	if showSources {
		fmt.Fprintln(out, "\nSources:")
		for _, m := range answer.Matches {
			fmt.Fprintf(out, "  %.4f  %v p.%v  %s\n", m.Score, m.Metadata[services.MetaSource], m.Metadata[services.MetaPage], firstLine(m.Text))
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 80 {
		s = string(r[:80]) + "..."
	}
	return s
}
