package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rscope/internal/graph"
	"rscope/internal/textpos"
)

var (
	depsDump   bool
	depsFormat string
)

var depsCmd = &cobra.Command{
	Use:   "deps [FILE]",
	Short: "Show the inclusion graph around a file",
	Long: `Show the files a file includes and the files that include it.

Examples:
  rscope deps analysis.R
  rscope deps --dump          # every edge of the workspace graph`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeps,
}

func init() {
	depsCmd.Flags().BoolVar(&depsDump, "dump", false, "Print every edge of the dependency graph")
	depsCmd.Flags().StringVar(&depsFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(depsCmd)
}

// EdgeCLI is one edge in deps output.
type EdgeCLI struct {
	File     string `json:"file"`
	Line     uint32 `json:"line,omitempty"`
	Origin   string `json:"origin"`
	Site     string `json:"site"`
	Local    bool   `json:"local,omitempty"`
	Chdir    bool   `json:"chdir,omitempty"`
	Backward bool   `json:"backward,omitempty"`
}

// DepsResponseCLI is the output of the deps command.
type DepsResponseCLI struct {
	File       string    `json:"file"`
	Includes   []EdgeCLI `json:"includes"`
	IncludedBy []EdgeCLI `json:"includedBy"`
	Parent     string    `json:"parent,omitempty"`
	Dependents []string  `json:"dependents"`
}

func runDeps(cmd *cobra.Command, args []string) error {
	if !depsDump && len(args) == 0 {
		return fmt.Errorf("a FILE argument is required unless --dump is given")
	}

	eng, cleanup, err := openEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer cleanup()

	g := eng.Graph()
	if depsDump {
		fmt.Print(g.Dump())
		return nil
	}

	uri, err := fileURI(args[0])
	if err != nil {
		return err
	}
	// resolving scope at the end pulls the file and its neighbours in
	eng.Scope(uri, textpos.EOF.Line, textpos.EOF.Column)

	resp := DepsResponseCLI{File: rel(uri)}
	for _, e := range g.Children(uri) {
		resp.Includes = append(resp.Includes, edgeCLI(e.Child, e))
	}
	for _, e := range g.Parents(uri) {
		resp.IncludedBy = append(resp.IncludedBy, edgeCLI(e.Parent, e))
	}
	if pr := eng.ResolveParent(uri); pr.Kind != graph.ParentNone {
		resp.Parent = rel(pr.Selected.Parent)
	}
	for _, d := range g.TransitiveDependents(uri, cfg.CrossFile.MaxBackwardDepth) {
		resp.Dependents = append(resp.Dependents, rel(d))
	}

	if depsFormat == "json" {
		return printJSON(resp)
	}

	fmt.Println(resp.File)
	printEdges("Includes", resp.Includes)
	printEdges("Included by", resp.IncludedBy)
	if resp.Parent != "" {
		fmt.Printf("Selected parent: %s\n", resp.Parent)
	}
	fmt.Printf("Transitive dependents: %d\n", len(resp.Dependents))
	for _, d := range resp.Dependents {
		fmt.Printf("  %s\n", d)
	}
	return nil
}

func edgeCLI(file string, e graph.Edge) EdgeCLI {
	out := EdgeCLI{
		File:     rel(file),
		Origin:   e.Origin.String(),
		Site:     e.Site.String(),
		Local:    e.Local,
		Chdir:    e.Chdir,
		Backward: e.Backward,
	}
	if e.CallSite != nil && !e.CallSite.IsEOF() {
		out.Line = e.CallSite.Line + 1
	}
	return out
}

func printEdges(title string, edges []EdgeCLI) {
	fmt.Printf("%s (%d):\n", title, len(edges))
	for _, e := range edges {
		line := "?"
		if e.Line > 0 {
			line = fmt.Sprint(e.Line)
		}
		fmt.Printf("  %-40s line %-5s %s/%s\n", e.File, line, e.Origin, e.Site)
	}
}
