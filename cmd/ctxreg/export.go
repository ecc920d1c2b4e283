package main

import (
	"context"
	"fmt"
	"os"

	regsync "github.com/alfredjeanlab/ctxreg/internal/sync"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Write a JSONL snapshot of every record",
	GroupID: "registry",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		src := regsync.SourceFunc(regClient.ListAll)

		if out == "" || out == "-" {
			if err := regsync.ExportJSONL(context.Background(), src, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("exporting: %w", err)
			}
			return nil
		}

		snap, err := regsync.TakeSnapshot(context.Background(), src)
		if err != nil {
			return fmt.Errorf("exporting: %w", err)
		}
		if err := os.WriteFile(out, snap.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s (digest %s)\n", snap.Summary(), out, snap.ShortDigest())
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
}
