package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rscope/internal/config"
)

var (
	configFormat string
	configForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage rscope configuration",
	Long:  "View and manage rscope configuration stored in .rscope/config.{json,yaml,toml}",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, the config file and
environment overrides are applied.

Examples:
  rscope config show                 # JSON
  rscope config show --format yaml
  rscope config show --format toml`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	Args:  cobra.NoArgs,
	Run:   runConfigEnv,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to .rscope/config.json",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "json", "Output format (json, yaml, toml)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEnvCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	switch configFormat {
	case "json":
		return printJSON(cfg)
	case "yaml", "toml":
		m, err := configMap(cfg)
		if err != nil {
			return err
		}
		if configFormat == "yaml" {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(m); err != nil {
				return fmt.Errorf("failed to encode YAML: %w", err)
			}
			return enc.Close()
		}
		if err := toml.NewEncoder(os.Stdout).Encode(m); err != nil {
			return fmt.Errorf("failed to encode TOML: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", configFormat)
	}
}

// configMap renders cfg with its JSON key names so every output format
// uses the keys the config file accepts.
func configMap(c *config.Config) (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return integers(m).(map[string]interface{}), nil
}

// integers turns whole float64 values back into ints.
func integers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, x := range t {
			t[k] = integers(x)
		}
		return t
	case []interface{}:
		for i, x := range t {
			t[i] = integers(x)
		}
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
	}
	return v
}

func runConfigEnv(cmd *cobra.Command, args []string) {
	vars := config.SupportedEnvVars()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("Supported environment variables (also read from <root>/.env):")
	for _, k := range keys {
		value := os.Getenv(vars[k])
		if value == "" {
			value = "(unset)"
		}
		fmt.Printf("  %-26s %-34s %s\n", vars[k], k, value)
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(workspaceRoot, config.Dir, "config.json")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(workspaceRoot); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
