package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rscope/internal/diagnostics"
)

var checkFormat string

var checkCmd = &cobra.Command{
	Use:   "check [FILE...]",
	Short: "Report cross-file diagnostics",
	Long: `Report missing files, circular dependencies, ambiguous parents, chain
depth overflows and unresolved call sites. Without arguments every
workspace file is checked.

The exit status is 2 when an error-severity diagnostic was reported.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := openEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer cleanup()

	var uris []string
	for _, arg := range args {
		uri, err := fileURI(arg)
		if err != nil {
			return err
		}
		uris = append(uris, uri)
	}
	if len(args) == 0 {
		uris = eng.Files()
	}

	results := make([]fileDiagnostics, 0, len(uris))
	for _, uri := range uris {
		diags := eng.Diagnostics(uri)
		if len(diags) == 0 {
			continue
		}
		results = append(results, fileDiagnostics{File: rel(uri), Diagnostics: diags})
	}

	errs := 0
	if checkFormat == "json" {
		for _, r := range results {
			for _, d := range r.Diagnostics {
				if d.Severity == diagnostics.SeverityError {
					errs++
				}
			}
		}
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		errs = printDiagnostics(results)
		fmt.Printf("%d files checked, %d with diagnostics\n", len(uris), len(results))
	}

	if errs > 0 {
		return errDiagnostics
	}
	return nil
}
