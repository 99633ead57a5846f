// Package workspace keeps the parsed state of files that are not open in
// the editor and discovers them on disk.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	rerrors "rscope/internal/errors"
	"rscope/internal/metadata"
	"rscope/internal/paths"
	"rscope/internal/slogutil"
	"rscope/internal/storage"
)

// Entry is one indexed file.
type Entry struct {
	URI       string
	Size      int64
	ModTime   time.Time
	Content   string
	Facts     *metadata.Facts
	IndexedAt time.Time
}

// Options configures an Index.
type Options struct {
	Capacity   int
	Extensions []string
	Workers    int
	Store      *storage.FileStore
	Logger     *slog.Logger
}

// Index caches facts for workspace files. Its version counter increases
// each time a scan or a batch of background indexing completes, and is a
// fingerprint input for every derived cache.
type Index struct {
	root       string
	entries    *lru.Cache[string, *Entry]
	version    atomic.Uint64
	extensions []string
	workers    int
	store      *storage.FileStore
	logger     *slog.Logger
}

// NewIndex creates an empty index rooted at root.
func NewIndex(root string, opts Options) (*Index, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = 5000
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".R", ".r"}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slogutil.NewDiscardLogger()
	}
	entries, err := lru.New[string, *Entry](opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create workspace index: %w", err)
	}
	return &Index{
		root:       root,
		entries:    entries,
		extensions: opts.Extensions,
		workers:    opts.Workers,
		store:      opts.Store,
		logger:     opts.Logger,
	}, nil
}

// Version returns the workspace index version.
func (ix *Index) Version() uint64 {
	return ix.version.Load()
}

// BumpVersion increments and returns the version.
func (ix *Index) BumpVersion() uint64 {
	return ix.version.Add(1)
}

// Get returns the entry for uri.
func (ix *Index) Get(uri string) (*Entry, bool) {
	return ix.entries.Peek(uri)
}

// Content returns the indexed text of uri.
func (ix *Index) Content(uri string) (string, bool) {
	e, ok := ix.entries.Peek(uri)
	if !ok {
		return "", false
	}
	return e.Content, true
}

// Facts returns the indexed facts of uri.
func (ix *Index) Facts(uri string) (*metadata.Facts, bool) {
	e, ok := ix.entries.Peek(uri)
	if !ok {
		return nil, false
	}
	return e.Facts, true
}

// Contains reports whether uri is indexed.
func (ix *Index) Contains(uri string) bool {
	return ix.entries.Contains(uri)
}

// Len returns the number of indexed files.
func (ix *Index) Len() int {
	return ix.entries.Len()
}

// URIs lists indexed files in sorted order.
func (ix *Index) URIs() []string {
	uris := ix.entries.Keys()
	sort.Strings(uris)
	return uris
}

// Remove drops uri from the index and the store.
func (ix *Index) Remove(uri string) bool {
	present := ix.entries.Remove(uri)
	if ix.store != nil {
		if err := ix.store.Delete(uri); err != nil {
			ix.logger.Warn("Failed to delete stored index entry", "uri", uri, "error", err.Error())
		}
	}
	return present
}

// IndexFile reads uri from disk, extracts its facts and stores the entry.
// A stored record with the same size and modification time is reused
// without reading the file. The version is not bumped.
func (ix *Index) IndexFile(uri string) (*Entry, error) {
	e, reused, err := ix.load(uri)
	if err != nil {
		return nil, err
	}
	ix.entries.Add(uri, e)
	if !reused && ix.store != nil {
		if err := ix.store.Put(ix.record(e)); err != nil {
			ix.logger.Warn("Failed to persist index entry", "uri", uri, "error", err.Error())
		}
	}
	return e, nil
}

func (ix *Index) load(uri string) (*Entry, bool, error) {
	path, err := paths.PathFromURI(uri)
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, rerrors.NewRscopeError(rerrors.FileNotFound, "file not found: "+path, err)
		}
		return nil, false, rerrors.NewRscopeError(rerrors.ContentUnavailable, "cannot stat "+path, err)
	}
	if info.IsDir() {
		return nil, false, rerrors.NewRscopeError(rerrors.FileNotFound, "not a file: "+path, nil)
	}

	if ix.store != nil {
		if e, ok := ix.fromStore(uri, info); ok {
			return e, true, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, rerrors.NewRscopeError(rerrors.ContentUnavailable, "cannot read "+path, err)
	}
	text := string(data)
	return &Entry{
		URI:       uri,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Content:   text,
		Facts:     metadata.Extract(text),
		IndexedAt: time.Now(),
	}, false, nil
}

func (ix *Index) fromStore(uri string, info os.FileInfo) (*Entry, bool) {
	rec, err := ix.store.Get(uri)
	if err != nil {
		ix.logger.Warn("Failed to read stored index entry", "uri", uri, "error", err.Error())
		return nil, false
	}
	if rec == nil || !rec.Fresh(info.Size(), info.ModTime()) {
		return nil, false
	}
	var facts metadata.Facts
	if err := json.Unmarshal(rec.Facts, &facts); err != nil || facts.Meta == nil || facts.Syntax == nil {
		ix.logger.Debug("Discarding undecodable stored facts", "uri", uri)
		return nil, false
	}
	return &Entry{
		URI:       uri,
		Size:      rec.Size,
		ModTime:   rec.ModTime,
		Content:   rec.Content,
		Facts:     &facts,
		IndexedAt: rec.IndexedAt,
	}, true
}

func (ix *Index) record(e *Entry) *storage.FileRecord {
	facts, err := json.Marshal(e.Facts)
	if err != nil {
		facts = nil
	}
	return &storage.FileRecord{
		URI:         e.URI,
		Size:        e.Size,
		ModTime:     e.ModTime,
		ContentHash: e.Facts.ContentHash,
		Content:     e.Content,
		Facts:       facts,
		IndexedAt:   e.IndexedAt,
	}
}

// ScanResult summarises a full workspace scan.
type ScanResult struct {
	Files    int           `json:"files"`
	Reused   int           `json:"reused"`
	Failed   int           `json:"failed"`
	Pruned   int           `json:"pruned"`
	Duration time.Duration `json:"duration"`
	Version  uint64        `json:"version"`
}

// Scan discovers and indexes every workspace file in parallel, then bumps
// the version once. Files that fail to index are logged and counted.
func (ix *Index) Scan(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	files, err := Discover(ctx, ix.root, ix.extensions)
	if err != nil {
		return ScanResult{}, fmt.Errorf("discover workspace files: %w", err)
	}

	var (
		mu     sync.Mutex
		fresh  []*storage.FileRecord
		reused atomic.Int64
		failed atomic.Int64
	)
	indexed := make(map[string]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for _, path := range files {
		uri := paths.URIFromPath(path)
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			e, wasReused, err := ix.load(uri)
			if err != nil {
				failed.Add(1)
				ix.logger.Warn("Failed to index file", "uri", uri, "error", err.Error())
				return nil
			}
			ix.entries.Add(uri, e)

			mu.Lock()
			defer mu.Unlock()
			indexed[uri] = true
			if wasReused {
				reused.Add(1)
			} else if ix.store != nil {
				fresh = append(fresh, ix.record(e))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, err
	}

	result := ScanResult{
		Files:  len(indexed),
		Reused: int(reused.Load()),
		Failed: int(failed.Load()),
	}
	if ix.store != nil {
		if err := ix.store.PutAll(fresh); err != nil {
			ix.logger.Warn("Failed to persist scanned files", "count", len(fresh), "error", err.Error())
		}
		pruned, err := ix.store.Prune(indexed)
		if err != nil {
			ix.logger.Warn("Failed to prune index store", "error", err.Error())
		}
		result.Pruned = pruned
	}
	result.Version = ix.BumpVersion()
	result.Duration = time.Since(start)

	ix.logger.Info("Workspace scan complete",
		"files", result.Files,
		"reused", result.Reused,
		"failed", result.Failed,
		"duration", result.Duration,
		"version", result.Version)
	return result, nil
}
