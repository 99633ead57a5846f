package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"rscope/internal/engine"
	"rscope/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-check files as they change on disk",
	Long: `Poll the workspace for changed, created and deleted files and print the
diagnostics of each changed file and of the files that depend on it.
Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, cleanup, err := openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	wc := watcher.Config{
		PollInterval: time.Duration(cfg.Watch.PollIntervalMs) * time.Millisecond,
		Debounce:     time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
		Extensions:   cfg.Index.Extensions,
	}
	w := watcher.New(workspaceRoot, wc, logger, recheck(ctx, eng))
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Printf("Watching %s (%d files). Press Ctrl+C to stop.\n", workspaceRoot, len(eng.Files()))
	<-ctx.Done()
	return nil
}

// recheck forwards a batch to the engine, waits for the reindex to settle
// and prints the diagnostics of every touched file and its dependents.
func recheck(ctx context.Context, eng *engine.Engine) watcher.ChangeHandler {
	dispatch := watcher.Dispatch(eng, logger)
	return func(events []watcher.Event) {
		touched := map[string]bool{}
		collect := func() {
			for _, ev := range events {
				for _, d := range eng.Graph().TransitiveDependents(ev.URI, cfg.CrossFile.MaxBackwardDepth) {
					touched[d] = true
				}
				if ev.Type != watcher.EventDelete {
					touched[ev.URI] = true
				}
			}
		}
		collect()
		dispatch(events)
		if err := eng.WaitIdle(ctx); err != nil {
			return
		}
		collect()

		uris := make([]string, 0, len(touched))
		for u := range touched {
			uris = append(uris, u)
		}
		sort.Strings(uris)

		fmt.Printf("[%s] %d change(s), rechecking %d file(s)\n",
			time.Now().Format("15:04:05"), len(events), len(uris))
		var results []fileDiagnostics
		for _, u := range uris {
			if diags := eng.Diagnostics(u); len(diags) > 0 {
				results = append(results, fileDiagnostics{File: rel(u), Diagnostics: diags})
			}
		}
		printDiagnostics(results)
	}
}
