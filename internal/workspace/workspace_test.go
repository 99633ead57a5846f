package workspace

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	rerrors "rscope/internal/errors"
	"rscope/internal/storage"
	"rscope/internal/testutil"
)

const fixture = `
files:
  main.R: |
    source("R/util.R")
    x <- helper()
  R/util.R: |
    helper <- function() 1
  R/lower.r: |
    y <- 2
  notes.txt: |
    not R
  .hidden/secret.R: |
    z <- 3
  renv/library.R: |
    lib <- 1
  build/generated.R: |
    gen <- 1
  scratch.R: |
    tmp <- 1
  .gitignore: |
    build/
    scratch.R
`

func rel(t *testing.T, root string, files []string) []string {
	t.Helper()
	out := make([]string, len(files))
	for i, f := range files {
		r, err := filepath.Rel(root, f)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = filepath.ToSlash(r)
	}
	return out
}

func TestDiscover(t *testing.T) {
	ws := testutil.LoadWorkspace(t, fixture)
	files, err := Discover(context.Background(), ws.Root, []string{".R", ".r"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{"R/lower.r", "R/util.R", "main.R"}
	if got := rel(t, ws.Root, files); !reflect.DeepEqual(got, want) {
		t.Errorf("Discover = %v, want %v", got, want)
	}
}

func TestDiscoverExtensionFilter(t *testing.T) {
	ws := testutil.LoadWorkspace(t, fixture)
	files, err := Discover(context.Background(), ws.Root, []string{".r"})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got := rel(t, ws.Root, files); !reflect.DeepEqual(got, []string{"R/lower.r"}) {
		t.Errorf("Discover(.r) = %v", got)
	}
}

func TestScanIndexesAndBumpsVersionOnce(t *testing.T) {
	ws := testutil.LoadWorkspace(t, fixture)
	ix, err := NewIndex(ws.Root, Options{Workers: 2})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}

	res, err := ix.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Files != 3 || res.Failed != 0 {
		t.Errorf("Scan result = %+v", res)
	}
	if ix.Version() != 1 || res.Version != 1 {
		t.Errorf("Version = %d (result %d), want 1", ix.Version(), res.Version)
	}

	content, ok := ix.Content(ws.URI("R/util.R"))
	if !ok || content != ws.Content("R/util.R") {
		t.Errorf("Content(util) = %q, %v", content, ok)
	}
	facts, ok := ix.Facts(ws.URI("main.R"))
	if !ok || len(facts.Meta.Sources) != 1 || facts.Meta.Sources[0].Path != "R/util.R" {
		t.Errorf("Facts(main) = %+v, %v", facts, ok)
	}
	if ix.Contains(ws.URI("scratch.R")) {
		t.Error("gitignored file was indexed")
	}
}

func TestIndexFileMissing(t *testing.T) {
	ws := testutil.LoadWorkspace(t, fixture)
	ix, err := NewIndex(ws.Root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = ix.IndexFile(ws.URI("nope.R"))
	if rerrors.CodeOf(err) != rerrors.FileNotFound {
		t.Errorf("IndexFile(missing) code = %v, want %v", rerrors.CodeOf(err), rerrors.FileNotFound)
	}
	if ix.Version() != 0 {
		t.Errorf("IndexFile must not bump the version")
	}
}

func TestIndexFileRefreshesAndRemove(t *testing.T) {
	ws := testutil.LoadWorkspace(t, fixture)
	ix, err := NewIndex(ws.Root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	uri := ws.URI("R/util.R")
	if _, err := ix.IndexFile(uri); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}

	ws.Write("R/util.R", "helper <- function() 2\nother <- 1\n")
	e, err := ix.IndexFile(uri)
	if err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if len(e.Facts.Syntax.Definitions) != 2 {
		t.Errorf("definitions after refresh = %d, want 2", len(e.Facts.Syntax.Definitions))
	}

	if !ix.Remove(uri) {
		t.Error("Remove of indexed file = false")
	}
	if _, ok := ix.Content(uri); ok {
		t.Error("removed file still has content")
	}
}

func TestScanReusesStoredRecords(t *testing.T) {
	ws := testutil.LoadWorkspace(t, fixture)
	store, err := storage.OpenFileStore(filepath.Join(ws.Root, ".rscope", "index.db"), nil)
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	defer store.Close()

	first, err := NewIndex(ws.Root, Options{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Scan(context.Background()); err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	// a stale mtime forces a reread of this one file
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(ws.Path("main.R"), past, past); err != nil {
		t.Fatal(err)
	}

	second, err := NewIndex(ws.Root, Options{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	res, err := second.Scan(context.Background())
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if res.Reused != 2 {
		t.Errorf("Reused = %d, want 2", res.Reused)
	}
	facts, ok := second.Facts(ws.URI("R/util.R"))
	if !ok || len(facts.Syntax.Definitions) != 1 || facts.Syntax.Definitions[0].Name != "helper" {
		t.Errorf("reused facts = %+v, %v", facts, ok)
	}

	ws.Remove("R/lower.r")
	third, err := NewIndex(ws.Root, Options{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	res, err = third.Scan(context.Background())
	if err != nil {
		t.Fatalf("third Scan: %v", err)
	}
	if res.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", res.Pruned)
	}
}

func TestScanCancelled(t *testing.T) {
	ws := testutil.LoadWorkspace(t, fixture)
	ix, err := NewIndex(ws.Root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ix.Scan(ctx); err == nil {
		t.Error("Scan with cancelled context should fail")
	}
	if ix.Version() != 0 {
		t.Error("cancelled scan must not bump the version")
	}
}
