package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"rscope/internal/config"
	"rscope/internal/index"
	"rscope/internal/workspace"
)

var indexStatus bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the persistent workspace index",
	Long: `Scan the workspace and store every file's content and extracted facts in
the SQLite index at index.path, so later runs only re-read files whose
size or modification time changed.

Examples:
  rscope index
  rscope index --status     # is the stored index still fresh?`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexStatus, "status", false, "Report index freshness without rebuilding")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	dir := filepath.Join(workspaceRoot, config.Dir)
	if indexStatus {
		return showIndexStatus(cmd, dir)
	}

	lock, err := index.AcquireLock(dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	// the scan runs explicitly below so its result can be recorded
	cfg.Index.Persist = true
	cfg.CrossFile.IndexWorkspace = false
	eng, cleanup, err := openEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := eng.Scan(cmd.Context())
	if err != nil {
		return err
	}

	meta := &index.Meta{
		CreatedAt: time.Now(),
		FileCount: res.Files,
		Reused:    res.Reused,
		Failed:    res.Failed,
		Duration:  res.Duration.Round(time.Millisecond).String(),
		Store:     rel(cfg.IndexPath(workspaceRoot)),
	}
	if err := meta.Save(dir); err != nil {
		return err
	}

	fmt.Printf("Indexed %d files (%d reused, %d failed, %d pruned) in %s\n",
		res.Files, res.Reused, res.Failed, res.Pruned, meta.Duration)
	fmt.Printf("Store: %s\n", cfg.IndexPath(workspaceRoot))
	return nil
}

func showIndexStatus(cmd *cobra.Command, dir string) error {
	meta, err := index.LoadMeta(dir)
	if err != nil {
		return err
	}
	if meta == nil {
		fmt.Println("No index found. Run 'rscope index' to build one.")
		return nil
	}
	files, err := workspace.Discover(cmd.Context(), workspaceRoot, cfg.Index.Extensions)
	if err != nil {
		return err
	}
	var newest time.Time
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}

	fresh := meta.CheckFreshness(newest, len(files))
	fmt.Printf("Last scan: %s (%d files, %s)\n", meta.Age(time.Now()), meta.FileCount, meta.Duration)
	if fresh.Fresh {
		fmt.Println("Status: fresh")
	} else {
		fmt.Printf("Status: stale (%s)\n", fresh.Reason)
	}
	return nil
}
