package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rscope/internal/diagnostics"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.CrossFile.MaxChainDepth != 20 {
		t.Errorf("MaxChainDepth = %d, want 20", cfg.CrossFile.MaxChainDepth)
	}
	if cfg.CrossFile.AssumeCallSite != "end" {
		t.Errorf("AssumeCallSite = %q, want %q", cfg.CrossFile.AssumeCallSite, "end")
	}
	if cfg.CrossFile.MaxRevalidationsPerTrigger != 10 {
		t.Errorf("MaxRevalidationsPerTrigger = %d, want 10", cfg.CrossFile.MaxRevalidationsPerTrigger)
	}
	if cfg.CrossFile.RevalidationDebounceMs != 200 {
		t.Errorf("RevalidationDebounceMs = %d, want 200", cfg.CrossFile.RevalidationDebounceMs)
	}
	if cfg.CrossFile.OnDemand.MaxQueueSize != 50 {
		t.Errorf("OnDemand.MaxQueueSize = %d, want 50", cfg.CrossFile.OnDemand.MaxQueueSize)
	}
	if cfg.Cache.WorkspaceIndexCapacity != 5000 {
		t.Errorf("WorkspaceIndexCapacity = %d, want 5000", cfg.Cache.WorkspaceIndexCapacity)
	}
	if len(cfg.Index.Extensions) != 2 {
		t.Errorf("Extensions = %v, want [.R .r]", cfg.Index.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"zero chain depth", func(c *Config) { c.CrossFile.MaxChainDepth = 0 }, "crossFile.maxChainDepth"},
		{"bad call site", func(c *Config) { c.CrossFile.AssumeCallSite = "middle" }, "crossFile.assumeCallSite"},
		{"start call site", func(c *Config) { c.CrossFile.AssumeCallSite = "start" }, ""},
		{"negative debounce", func(c *Config) { c.CrossFile.RevalidationDebounceMs = -1 }, "crossFile.revalidationDebounceMs"},
		{"bad severity", func(c *Config) { c.Diagnostics.MissingFile = "loud" }, "diagnostics.missingFile"},
		{"zero capacity", func(c *Config) { c.Cache.ArtifactsCapacity = 0 }, "cache.artifactsCapacity"},
		{"no extensions", func(c *Config) { c.Index.Extensions = nil }, "index.extensions"},
		{"extension without dot", func(c *Config) { c.Index.Extensions = []string{"R"} }, "index.extensions"},
		{"persist without path", func(c *Config) { c.Index.Persist = true; c.Index.Path = "" }, "index.path"},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.field)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "version", Message: "unsupported version 99"}
	want := "config error in field 'version': unsupported version 99"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDiagnosticsPolicy(t *testing.T) {
	d := DefaultConfig().Diagnostics
	d.RedundantDirective = "off"
	d.AmbiguousParent = "info"

	policy, err := d.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if policy[diagnostics.KindRedundantDirective] != diagnostics.SeverityOff {
		t.Errorf("redundant-directive = %v, want off", policy[diagnostics.KindRedundantDirective])
	}
	if policy[diagnostics.KindAmbiguousParent] != diagnostics.SeverityInformation {
		t.Errorf("ambiguous-parent = %v, want information", policy[diagnostics.KindAmbiguousParent])
	}
	if policy[diagnostics.KindCircularDependency] != diagnostics.SeverityError {
		t.Errorf("circular-dependency = %v, want error", policy[diagnostics.KindCircularDependency])
	}

	d.Enabled = false
	policy, _ = d.Policy()
	for kind, sev := range policy {
		if sev != diagnostics.SeverityOff {
			t.Errorf("%s = %v with diagnostics disabled, want off", kind, sev)
		}
	}
}

func TestLoadConfig_Default(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d (default)", cfg.Version, CurrentVersion)
	}
	if cfg.Cache.MetadataCapacity != 1000 {
		t.Errorf("MetadataCapacity = %d, want 1000 (default)", cfg.Cache.MetadataCapacity)
	}
}

func writeConfig(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "config.json", `{
			"crossFile": {"maxChainDepth": 7, "assumeCallSite": "start"},
			"index": {"extensions": [".R"]}
		}`},
		{"yaml", "config.yaml", "crossFile:\n  maxChainDepth: 7\n  assumeCallSite: start\nindex:\n  extensions: [\".R\"]\n"},
		{"toml", "config.toml", "[crossFile]\nmaxChainDepth = 7\nassumeCallSite = \"start\"\n\n[index]\nextensions = [\".R\"]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, tt.file, tt.content)

			cfg, err := LoadConfig(root)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if cfg.CrossFile.MaxChainDepth != 7 {
				t.Errorf("MaxChainDepth = %d, want 7", cfg.CrossFile.MaxChainDepth)
			}
			if cfg.CrossFile.AssumeCallSite != "start" {
				t.Errorf("AssumeCallSite = %q, want %q", cfg.CrossFile.AssumeCallSite, "start")
			}
			if len(cfg.Index.Extensions) != 1 || cfg.Index.Extensions[0] != ".R" {
				t.Errorf("Extensions = %v, want [.R]", cfg.Index.Extensions)
			}
			// keys left out keep their defaults
			if cfg.CrossFile.MaxRevalidationsPerTrigger != 10 {
				t.Errorf("MaxRevalidationsPerTrigger = %d, want 10", cfg.CrossFile.MaxRevalidationsPerTrigger)
			}
			if cfg.Diagnostics.CircularDependency != "error" {
				t.Errorf("CircularDependency = %q, want %q", cfg.Diagnostics.CircularDependency, "error")
			}
		})
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.json", "{not json")

	if _, err := LoadConfig(root); err == nil {
		t.Error("LoadConfig() should fail on malformed JSON")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RSCOPE_LOG_LEVEL", "debug")
	t.Setenv("RSCOPE_ASSUME_CALL_SITE", "start")
	t.Setenv("RSCOPE_DEBOUNCE_MS", "25")

	root := t.TempDir()
	writeConfig(t, root, "config.json", `{"crossFile": {"revalidationDebounceMs": 500}}`)

	cfg, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.CrossFile.AssumeCallSite != "start" {
		t.Errorf("AssumeCallSite = %q, want %q", cfg.CrossFile.AssumeCallSite, "start")
	}
	if cfg.CrossFile.RevalidationDebounceMs != 25 {
		t.Errorf("RevalidationDebounceMs = %d, want 25", cfg.CrossFile.RevalidationDebounceMs)
	}
}

func TestLoadConfigFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("watch:\n  debounceMs: 50\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfigFromPath(path)
	if err != nil {
		t.Fatalf("LoadConfigFromPath() error = %v", err)
	}
	if cfg.Watch.DebounceMs != 50 {
		t.Errorf("Watch.DebounceMs = %d, want 50", cfg.Watch.DebounceMs)
	}

	if _, err := LoadConfigFromPath(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadConfigFromPath() should fail for a missing file")
	}
}

func TestConfig_Save(t *testing.T) {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.Cache.ParentCapacity = 42
	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() after save error = %v", err)
	}
	if loaded.Cache.ParentCapacity != 42 {
		t.Errorf("Loaded ParentCapacity = %d, want 42", loaded.Cache.ParentCapacity)
	}
}

func TestSupportedEnvVars(t *testing.T) {
	vars := SupportedEnvVars()
	for key, env := range vars {
		if !strings.HasPrefix(env, EnvPrefix+"_") {
			t.Errorf("env var %s for %s lacks the %s_ prefix", env, key, EnvPrefix)
		}
	}
	if vars["logging.level"] != "RSCOPE_LOG_LEVEL" {
		t.Errorf("logging.level env = %q, want RSCOPE_LOG_LEVEL", vars["logging.level"])
	}
}

func TestIndexPath(t *testing.T) {
	cfg := DefaultConfig()
	root := filepath.Join(string(filepath.Separator), "ws")
	if got, want := cfg.IndexPath(root), filepath.Join(root, Dir, "index.db"); got != want {
		t.Errorf("IndexPath() = %q, want %q", got, want)
	}
}
