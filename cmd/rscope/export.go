package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rscope/internal/export"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export definitions and inclusions as a SCIP index",
	Long: `Write a SCIP index with one document per workspace file: a definition
occurrence for every exported symbol and an import occurrence at every
inclusion call site.

Examples:
  rscope export -o index.scip`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "index.scip", "Output file")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := openEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := os.Create(exportOutput)
	if err != nil {
		return fmt.Errorf("creating %s: %w", exportOutput, err)
	}
	files := eng.Files()
	if err := export.WriteSCIP(f, eng, files); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %d documents to %s\n", len(files), exportOutput)
	return nil
}
