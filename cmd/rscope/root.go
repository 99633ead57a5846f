package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"rscope/internal/config"
	"rscope/internal/slogutil"
	"rscope/internal/version"
)

var (
	rootFlag   string
	configFlag string
	verbosity  int
	quiet      bool

	// set by setup for every command
	workspaceRoot string
	cfg           *config.Config
	logger        *slog.Logger
	logCloser     io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "rscope",
	Short: "rscope - cross-file scope resolution for R workspaces",
	Long: `rscope follows source() calls and @lsp-* directives across the files of an
R workspace and answers which symbols are visible at any position.

It powers diagnostics for missing files, circular dependencies and
ambiguous parents, and can export what it resolved as a SCIP index.`,
	Version:            version.Version,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.SetVersionTemplate("rscope version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: <root>/.rscope/config.{json,yaml,toml})")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug, -vvv trace)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Disable logging")
}

// setup resolves the workspace root, loads .env and the configuration and
// builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	root := rootFlag
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}
	workspaceRoot = abs

	if err := godotenv.Load(filepath.Join(workspaceRoot, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if configFlag != "" {
		cfg, err = config.LoadConfigFromPath(configFlag)
	} else {
		cfg, err = config.LoadConfig(workspaceRoot)
	}
	if err != nil {
		return err
	}

	logger, logCloser, err = newLogger(cmd, cfg.Logging)
	return err
}

func teardown(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// newLogger writes to stderr at the level chosen by -v/-q, or the
// configured level when neither flag is given. A configured log file
// receives every record at the configured level as well.
func newLogger(cmd *cobra.Command, lc config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := slogutil.LevelFromString(lc.Level)
	if quiet || cmd.Flags().Changed("verbose") {
		level = slogutil.LevelFromVerbosity(verbosity, quiet)
	}
	stderr := slogutil.NewLogger(os.Stderr, level)
	if lc.File == "" {
		return stderr, nil, nil
	}

	path := lc.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspaceRoot, path)
	}
	file, closer, err := slogutil.NewFileLoggerWithRotation(path, slogutil.LevelFromString(lc.Level), lc.MaxSize, lc.MaxBackups)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return slogutil.NewTeeLogger(stderr.Handler(), file.Handler()), closer, nil
}
