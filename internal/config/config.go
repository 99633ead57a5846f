package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"rscope/internal/diagnostics"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// SupportedConfigVersions lists the schema versions LoadConfig accepts.
var SupportedConfigVersions = []int{1}

// Dir is the per-workspace directory holding config and index files.
const Dir = ".rscope"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RSCOPE"

// envBindings maps config keys to the environment variables that override
// them.
var envBindings = map[string]string{
	"logging.level":                    "RSCOPE_LOG_LEVEL",
	"logging.file":                     "RSCOPE_LOG_FILE",
	"crossFile.assumeCallSite":         "RSCOPE_ASSUME_CALL_SITE",
	"crossFile.revalidationDebounceMs": "RSCOPE_DEBOUNCE_MS",
	"crossFile.maxChainDepth":          "RSCOPE_MAX_CHAIN_DEPTH",
	"index.persist":                    "RSCOPE_INDEX_PERSIST",
}

// Config represents the complete rscope configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	CrossFile   CrossFileConfig   `json:"crossFile" mapstructure:"crossFile"`
	Diagnostics DiagnosticsConfig `json:"diagnostics" mapstructure:"diagnostics"`
	Cache       CacheConfig       `json:"cache" mapstructure:"cache"`
	Index       IndexConfig       `json:"index" mapstructure:"index"`
	Watch       WatchConfig       `json:"watch" mapstructure:"watch"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
}

// CrossFileConfig controls graph traversal, scope resolution and
// revalidation.
type CrossFileConfig struct {
	MaxBackwardDepth           int            `json:"maxBackwardDepth" mapstructure:"maxBackwardDepth"`
	MaxForwardDepth            int            `json:"maxForwardDepth" mapstructure:"maxForwardDepth"`
	MaxChainDepth              int            `json:"maxChainDepth" mapstructure:"maxChainDepth"`
	AssumeCallSite             string         `json:"assumeCallSite" mapstructure:"assumeCallSite"`
	MaxRevalidationsPerTrigger int            `json:"maxRevalidationsPerTrigger" mapstructure:"maxRevalidationsPerTrigger"`
	RevalidationDebounceMs     int            `json:"revalidationDebounceMs" mapstructure:"revalidationDebounceMs"`
	OnDemand                   OnDemandConfig `json:"onDemand" mapstructure:"onDemand"`
	IndexWorkspace             bool           `json:"indexWorkspace" mapstructure:"indexWorkspace"`
}

// OnDemandConfig controls background indexing of files that are not open
type OnDemandConfig struct {
	Enabled            bool `json:"enabled" mapstructure:"enabled"`
	MaxQueueSize       int  `json:"maxQueueSize" mapstructure:"maxQueueSize"`
	MaxTransitiveDepth int  `json:"maxTransitiveDepth" mapstructure:"maxTransitiveDepth"`
}

// DiagnosticsConfig holds the severity of each cross-file diagnostic.
// Accepted values are error, warning, information (or info), hint and off.
type DiagnosticsConfig struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	MissingFile        string `json:"missingFile" mapstructure:"missingFile"`
	CircularDependency string `json:"circularDependency" mapstructure:"circularDependency"`
	MaxChainDepth      string `json:"maxChainDepth" mapstructure:"maxChainDepth"`
	AmbiguousParent    string `json:"ambiguousParent" mapstructure:"ambiguousParent"`
	RedundantDirective string `json:"redundantDirective" mapstructure:"redundantDirective"`
	UnresolvedCallSite string `json:"unresolvedCallSite" mapstructure:"unresolvedCallSite"`
}

// CacheConfig contains cache capacities
type CacheConfig struct {
	MetadataCapacity       int `json:"metadataCapacity" mapstructure:"metadataCapacity"`
	ArtifactsCapacity      int `json:"artifactsCapacity" mapstructure:"artifactsCapacity"`
	ParentCapacity         int `json:"parentCapacity" mapstructure:"parentCapacity"`
	WorkspaceIndexCapacity int `json:"workspaceIndexCapacity" mapstructure:"workspaceIndexCapacity"`
	ExistenceTtlMs         int `json:"existenceTtlMs" mapstructure:"existenceTtlMs"`
}

// IndexConfig contains workspace index settings
type IndexConfig struct {
	Persist     bool     `json:"persist" mapstructure:"persist"`
	Path        string   `json:"path" mapstructure:"path"`
	Extensions  []string `json:"extensions" mapstructure:"extensions"`
	ScanWorkers int      `json:"scanWorkers" mapstructure:"scanWorkers"`
}

// WatchConfig contains polling watcher settings
type WatchConfig struct {
	PollIntervalMs int `json:"pollIntervalMs" mapstructure:"pollIntervalMs"`
	DebounceMs     int `json:"debounceMs" mapstructure:"debounceMs"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		CrossFile: CrossFileConfig{
			MaxBackwardDepth:           10,
			MaxForwardDepth:            10,
			MaxChainDepth:              20,
			AssumeCallSite:             "end",
			MaxRevalidationsPerTrigger: 10,
			RevalidationDebounceMs:     200,
			OnDemand: OnDemandConfig{
				Enabled:            true,
				MaxQueueSize:       50,
				MaxTransitiveDepth: 2,
			},
			IndexWorkspace: true,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:            true,
			MissingFile:        "warning",
			CircularDependency: "error",
			MaxChainDepth:      "warning",
			AmbiguousParent:    "warning",
			RedundantDirective: "hint",
			UnresolvedCallSite: "warning",
		},
		Cache: CacheConfig{
			MetadataCapacity:       1000,
			ArtifactsCapacity:      1000,
			ParentCapacity:         1000,
			WorkspaceIndexCapacity: 5000,
			ExistenceTtlMs:         2000,
		},
		Index: IndexConfig{
			Persist:     false,
			Path:        filepath.Join(Dir, "index.db"),
			Extensions:  []string{".R", ".r"},
			ScanWorkers: 4,
		},
		Watch: WatchConfig{
			PollIntervalMs: 1000,
			DebounceMs:     300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from .rscope/config.{json,yaml,toml}
// under the workspace root. A missing file yields the defaults; keys the
// file leaves out keep their default values. Environment overrides apply
// either way.
func LoadConfig(workspaceRoot string) (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(filepath.Join(workspaceRoot, Dir))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return decode(v)
}

// LoadConfigFromPath loads configuration from an explicit file. The format
// follows the file extension.
func LoadConfigFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	def := DefaultConfig()
	defaults := map[string]interface{}{
		"logging.level":                    def.Logging.Level,
		"logging.file":                     def.Logging.File,
		"crossFile.assumeCallSite":         def.CrossFile.AssumeCallSite,
		"crossFile.revalidationDebounceMs": def.CrossFile.RevalidationDebounceMs,
		"crossFile.maxChainDepth":          def.CrossFile.MaxChainDepth,
		"index.persist":                    def.Index.Persist,
	}
	for key, env := range envBindings {
		v.SetDefault(key, defaults[key])
		_ = v.BindEnv(key, env)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	// slices are decoded element-wise into the existing value
	if v.IsSet("index.extensions") {
		cfg.Index.Extensions = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// SupportedEnvVars returns the environment variables LoadConfig honours,
// keyed by config key.
func SupportedEnvVars() map[string]string {
	out := make(map[string]string, len(envBindings))
	for k, v := range envBindings {
		out[k] = v
	}
	return out
}

// Save writes the configuration to .rscope/config.json
func (c *Config) Save(workspaceRoot string) error {
	dir := filepath.Join(workspaceRoot, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	supported := false
	for _, v := range SupportedConfigVersions {
		if c.Version == v {
			supported = true
		}
	}
	if !supported {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported version %d", c.Version)}
	}

	positive := []struct {
		field string
		value int
	}{
		{"crossFile.maxBackwardDepth", c.CrossFile.MaxBackwardDepth},
		{"crossFile.maxForwardDepth", c.CrossFile.MaxForwardDepth},
		{"crossFile.maxChainDepth", c.CrossFile.MaxChainDepth},
		{"crossFile.maxRevalidationsPerTrigger", c.CrossFile.MaxRevalidationsPerTrigger},
		{"crossFile.onDemand.maxQueueSize", c.CrossFile.OnDemand.MaxQueueSize},
		{"cache.metadataCapacity", c.Cache.MetadataCapacity},
		{"cache.artifactsCapacity", c.Cache.ArtifactsCapacity},
		{"cache.parentCapacity", c.Cache.ParentCapacity},
		{"cache.workspaceIndexCapacity", c.Cache.WorkspaceIndexCapacity},
		{"index.scanWorkers", c.Index.ScanWorkers},
		{"watch.pollIntervalMs", c.Watch.PollIntervalMs},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigError{Field: p.field, Message: fmt.Sprintf("must be positive, got %d", p.value)}
		}
	}

	nonNegative := []struct {
		field string
		value int
	}{
		{"crossFile.revalidationDebounceMs", c.CrossFile.RevalidationDebounceMs},
		{"crossFile.onDemand.maxTransitiveDepth", c.CrossFile.OnDemand.MaxTransitiveDepth},
		{"cache.existenceTtlMs", c.Cache.ExistenceTtlMs},
		{"watch.debounceMs", c.Watch.DebounceMs},
		{"logging.maxBackups", c.Logging.MaxBackups},
	}
	for _, p := range nonNegative {
		if p.value < 0 {
			return &ConfigError{Field: p.field, Message: fmt.Sprintf("must not be negative, got %d", p.value)}
		}
	}

	switch c.CrossFile.AssumeCallSite {
	case "end", "start":
	default:
		return &ConfigError{Field: "crossFile.assumeCallSite", Message: fmt.Sprintf("must be \"end\" or \"start\", got %q", c.CrossFile.AssumeCallSite)}
	}

	if _, err := c.Diagnostics.Policy(); err != nil {
		return err
	}

	if len(c.Index.Extensions) == 0 {
		return &ConfigError{Field: "index.extensions", Message: "at least one extension is required"}
	}
	for _, ext := range c.Index.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return &ConfigError{Field: "index.extensions", Message: fmt.Sprintf("extension %q must start with a dot", ext)}
		}
	}
	if c.Index.Persist && c.Index.Path == "" {
		return &ConfigError{Field: "index.path", Message: "required when index.persist is set"}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}
	return nil
}

// Policy converts the configured severities. With diagnostics disabled
// every kind is off.
func (d DiagnosticsConfig) Policy() (diagnostics.Policy, error) {
	settings := []struct {
		field string
		kind  diagnostics.Kind
		value string
	}{
		{"diagnostics.missingFile", diagnostics.KindMissingFile, d.MissingFile},
		{"diagnostics.circularDependency", diagnostics.KindCircularDependency, d.CircularDependency},
		{"diagnostics.maxChainDepth", diagnostics.KindMaxChainDepth, d.MaxChainDepth},
		{"diagnostics.ambiguousParent", diagnostics.KindAmbiguousParent, d.AmbiguousParent},
		{"diagnostics.redundantDirective", diagnostics.KindRedundantDirective, d.RedundantDirective},
		{"diagnostics.unresolvedCallSite", diagnostics.KindUnresolvedCallSite, d.UnresolvedCallSite},
	}
	policy := diagnostics.DefaultPolicy()
	for _, s := range settings {
		if s.value == "" {
			continue
		}
		sev, err := diagnostics.ParseSeverity(s.value)
		if err != nil {
			return nil, &ConfigError{Field: s.field, Message: err.Error()}
		}
		policy[s.kind] = sev
	}
	if !d.Enabled {
		for k := range policy {
			policy[k] = diagnostics.SeverityOff
		}
	}
	return policy, nil
}

// RevalidationDebounce returns the revalidation debounce as a duration.
func (c *Config) RevalidationDebounce() time.Duration {
	return time.Duration(c.CrossFile.RevalidationDebounceMs) * time.Millisecond
}

// ExistenceTTL returns how long file existence checks are cached.
func (c *Config) ExistenceTTL() time.Duration {
	return time.Duration(c.Cache.ExistenceTtlMs) * time.Millisecond
}

// IndexPath returns the index database path, resolved against the
// workspace root when relative.
func (c *Config) IndexPath(workspaceRoot string) string {
	if filepath.IsAbs(c.Index.Path) {
		return c.Index.Path
	}
	return filepath.Join(workspaceRoot, c.Index.Path)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
