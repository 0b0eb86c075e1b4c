package main

import (
	"context"

	"github.com/spf13/cobra"

	"github/itish2003/pdfqa/services"
)

func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <directory>",
		Short: "Ingest a directory and keep it indexed as PDFs are added or changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			return services.NewWatcher(a.indexer).Watch(cmd.Context(), args[0])
		},
	}
}
