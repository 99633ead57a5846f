package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"rscope/internal/diagnostics"
	"rscope/internal/engine"
	"rscope/internal/paths"
	"rscope/internal/storage"
)

// openEngine builds an engine for the workspace, opens the persistent
// store when enabled and runs the initial scan. The returned func releases
// everything.
func openEngine(ctx context.Context, publish engine.PublishFunc) (*engine.Engine, func(), error) {
	var store *storage.FileStore
	if cfg.Index.Persist {
		s, err := storage.OpenFileStore(cfg.IndexPath(workspaceRoot), logger)
		if err != nil {
			return nil, nil, err
		}
		store = s
	}
	closeStore := func() {
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close index store", "error", err.Error())
			}
		}
	}

	eng, err := engine.New(cfg, workspaceRoot, engine.Options{Logger: logger, Publish: publish, Store: store})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("Engine shutdown incomplete", "error", err.Error())
		}
		closeStore()
	}
	if err := eng.Start(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("indexing workspace: %w", err)
	}
	return eng, cleanup, nil
}

// fileURI turns a command-line path into a document URI.
func fileURI(arg string) (string, error) {
	p := arg
	if !filepath.IsAbs(p) {
		p = filepath.Join(workspaceRoot, p)
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("cannot read %s: %w", arg, err)
	}
	return paths.URIFromPath(filepath.Clean(p)), nil
}

// oneBased parses a 1-based line or column argument into a 0-based value.
func oneBased(name, arg string) (uint32, error) {
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, arg)
	}
	return uint32(n - 1), nil
}

func rel(uri string) string {
	return paths.RelativeURI(uri, workspaceRoot)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// fileDiagnostics is one file's diagnostics in command output.
type fileDiagnostics struct {
	File        string                   `json:"file"`
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics"`
}

// printDiagnostics writes compiler-style lines and returns the number of
// error-severity diagnostics.
func printDiagnostics(results []fileDiagnostics) int {
	errs := 0
	for _, r := range results {
		diags := append([]diagnostics.Diagnostic(nil), r.Diagnostics...)
		sort.SliceStable(diags, func(i, j int) bool {
			return diags[i].Range.Start.Less(diags[j].Range.Start)
		})
		for _, d := range diags {
			if d.Severity == diagnostics.SeverityError {
				errs++
			}
			fmt.Printf("%s:%d:%d: %s: %s [%s]\n",
				r.File, d.Range.Start.Line+1, d.Range.Start.Column+1, d.Severity, d.Message, d.Kind)
		}
	}
	return errs
}
