package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"rscope/internal/scope"
)

var scopeFormat string

var scopeCmd = &cobra.Command{
	Use:   "scope FILE LINE COLUMN",
	Short: "List the symbols visible at a position",
	Long: `Resolve the scope at a position and list every visible symbol with the
file and position that defines it. LINE and COLUMN are 1-based; COLUMN
counts UTF-16 code units.

Examples:
  rscope scope analysis.R 42 1
  rscope scope R/plots.R 10 5 --format json`,
	Args: cobra.ExactArgs(3),
	RunE: runScope,
}

func init() {
	scopeCmd.Flags().StringVar(&scopeFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(scopeCmd)
}

// ScopeResponseCLI is the output of the scope command.
type ScopeResponseCLI struct {
	File          string         `json:"file"`
	Line          uint32         `json:"line"`
	Column        uint32         `json:"column"`
	Symbols       []scope.Symbol `json:"symbols"`
	DepthExceeded int            `json:"depthExceeded,omitempty"`
}

func runScope(cmd *cobra.Command, args []string) error {
	uri, err := fileURI(args[0])
	if err != nil {
		return err
	}
	line, err := oneBased("LINE", args[1])
	if err != nil {
		return err
	}
	col, err := oneBased("COLUMN", args[2])
	if err != nil {
		return err
	}

	eng, cleanup, err := openEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer cleanup()

	res := eng.Scope(uri, line, col)
	resp := ScopeResponseCLI{
		File:          rel(uri),
		Line:          line + 1,
		Column:        col + 1,
		Symbols:       make([]scope.Symbol, 0, len(res.Symbols)),
		DepthExceeded: len(res.DepthExceeded),
	}
	for _, sym := range res.Symbols {
		sym.SourceURI = rel(sym.SourceURI)
		resp.Symbols = append(resp.Symbols, sym)
	}
	sort.Slice(resp.Symbols, func(i, j int) bool { return resp.Symbols[i].Name < resp.Symbols[j].Name })

	if scopeFormat == "json" {
		return printJSON(resp)
	}

	fmt.Printf("%d symbols visible at %s:%d:%d\n", len(resp.Symbols), resp.File, resp.Line, resp.Column)
	for _, sym := range resp.Symbols {
		origin := fmt.Sprintf("%s:%d:%d", sym.SourceURI, sym.DefinedLine+1, sym.DefinedColumn+1)
		if sym.Declared {
			origin += " (declared)"
		}
		fmt.Printf("  %-30s %-9s %s\n", sym.Name, sym.Kind, origin)
	}
	if resp.DepthExceeded > 0 {
		fmt.Printf("\nwarning: maximum chain depth reached %d time(s); some symbols may be missing\n", resp.DepthExceeded)
	}
	return nil
}
