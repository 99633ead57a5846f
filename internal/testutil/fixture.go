// Package testutil materialises workspace fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"gopkg.in/yaml.v3"

	"rscope/internal/paths"
)

// Fixture is the YAML shape of a workspace:
//
//	files:
//	  main.R: |
//	    source("utils.R")
//	  utils.R: |
//	    helper <- function() 1
type Fixture struct {
	Files map[string]string `yaml:"files"`
	Open  []string          `yaml:"open,omitempty"`
}

// Workspace is a fixture written to a temporary directory.
type Workspace struct {
	t       *testing.T
	Root    string
	Fixture Fixture
}

// LoadWorkspace parses text and writes every file under a fresh temp dir.
func LoadWorkspace(t *testing.T, text string) *Workspace {
	t.Helper()

	var fx Fixture
	if err := yaml.Unmarshal([]byte(text), &fx); err != nil {
		t.Fatalf("Failed to parse workspace fixture: %v", err)
	}
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to resolve temp dir: %v", err)
	}
	ws := &Workspace{t: t, Root: root, Fixture: fx}
	for _, rel := range ws.Files() {
		ws.Write(rel, fx.Files[rel])
	}
	return ws
}

// Files lists the fixture's relative paths in sorted order.
func (w *Workspace) Files() []string {
	names := make([]string, 0, len(w.Fixture.Files))
	for name := range w.Fixture.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the absolute path of rel.
func (w *Workspace) Path(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// URI returns the file URI of rel.
func (w *Workspace) URI(rel string) string {
	return paths.URIFromPath(w.Path(rel))
}

// Content returns the fixture text of rel.
func (w *Workspace) Content(rel string) string {
	return w.Fixture.Files[rel]
}

// Write creates or replaces rel on disk.
func (w *Workspace) Write(rel, content string) {
	w.t.Helper()
	p := w.Path(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		w.t.Fatalf("Failed to create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		w.t.Fatalf("Failed to write %s: %v", rel, err)
	}
	if w.Fixture.Files == nil {
		w.Fixture.Files = make(map[string]string)
	}
	w.Fixture.Files[rel] = content
}

// Remove deletes rel from disk.
func (w *Workspace) Remove(rel string) {
	w.t.Helper()
	if err := os.Remove(w.Path(rel)); err != nil {
		w.t.Fatalf("Failed to remove %s: %v", rel, err)
	}
	delete(w.Fixture.Files, rel)
}
