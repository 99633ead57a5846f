// Package engine wires the cross-file analysis together: the workspace
// index, the dependency graph, the scope resolver and its caches, the
// background indexer and the revalidation scheduler.
//
// Resolution problems never surface as Go errors. They become diagnostics,
// and a panic while analysing one file degrades that file to "no data".
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"rscope/internal/cache"
	"rscope/internal/config"
	"rscope/internal/content"
	"rscope/internal/diagnostics"
	rerrors "rscope/internal/errors"
	"rscope/internal/graph"
	"rscope/internal/indexer"
	"rscope/internal/metadata"
	"rscope/internal/revalidate"
	"rscope/internal/scope"
	"rscope/internal/slogutil"
	"rscope/internal/storage"
	"rscope/internal/workspace"
)

// PublishFunc receives diagnostics for an open document.
type PublishFunc func(uri string, version int32, diags []diagnostics.Diagnostic)

// Options carries the optional collaborators of an Engine.
type Options struct {
	Logger  *slog.Logger
	Publish PublishFunc
	// Store persists index entries between runs. The caller owns it.
	Store *storage.FileStore
}

// syncState records the inputs of the last graph update of a file. seq
// orders updates planned concurrently; a plan older than the stored one is
// dropped.
type syncState struct {
	contentHash uint64
	version     uint64
	workingDir  string
	seq         uint64
}

// Engine is the cross-file analysis facade.
type Engine struct {
	cfg     *config.Config
	root    string
	logger  *slog.Logger
	publish PublishFunc
	policy  diagnostics.Policy
	assume  graph.CallSitePolicy

	index    *workspace.Index
	content  *content.Provider
	graph    *graph.Graph
	indexer  *indexer.Indexer
	sched    *revalidate.Scheduler
	activity *revalidate.Activity

	metadata  *cache.Cache[string, *metadata.Facts]
	artifacts *cache.Cache[string, *scope.Artifacts]
	parents   *cache.Cache[string, graph.ParentResolution]

	// writeMu guards synced and graphDiags and serializes applying graph
	// updates. Paths and call sites are resolved before it is taken;
	// readers of the graph go through the graph's own lock.
	writeMu    sync.RWMutex
	syncSeq    atomic.Uint64
	synced     map[string]syncState
	graphDiags map[string][]diagnostics.Diagnostic

	// editMu is held from a buffer swap until the file's new interface hash
	// is stored in interfaces, so concurrent readers refreshing caches
	// cannot hide a change.
	editMu     sync.Mutex
	interfaces map[string]uint64

	closeOnce sync.Once
}

// New creates an engine for the workspace at root. A nil cfg means the
// defaults.
func New(cfg *config.Config, root string, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, rerrors.NewRscopeError(rerrors.ConfigInvalid, err.Error(), err)
	}
	policy, err := cfg.Diagnostics.Policy()
	if err != nil {
		return nil, rerrors.NewRscopeError(rerrors.ConfigInvalid, err.Error(), err)
	}
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
		}
		root = abs
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	index, err := workspace.NewIndex(root, workspace.Options{
		Capacity:   cfg.Cache.WorkspaceIndexCapacity,
		Extensions: cfg.Index.Extensions,
		Workers:    cfg.Index.ScanWorkers,
		Store:      opts.Store,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		root:       root,
		logger:     logger,
		publish:    opts.Publish,
		policy:     policy,
		assume:     graph.CallSitePolicy(cfg.CrossFile.AssumeCallSite),
		index:      index,
		content:    content.NewProvider(index, cfg.Cache.WorkspaceIndexCapacity, cfg.ExistenceTTL(), logger),
		graph:      graph.New(logger),
		activity:   revalidate.NewActivity(revalidate.DefaultMaxRecent),
		synced:     make(map[string]syncState),
		graphDiags: make(map[string][]diagnostics.Diagnostic),
		interfaces: make(map[string]uint64),
	}

	if e.metadata, err = cache.New[string, *metadata.Facts]("metadata", cfg.Cache.MetadataCapacity, logger); err != nil {
		return nil, err
	}
	if e.artifacts, err = cache.New[string, *scope.Artifacts]("artifacts", cfg.Cache.ArtifactsCapacity, logger); err != nil {
		return nil, err
	}
	if e.parents, err = cache.New[string, graph.ParentResolution]("parent", cfg.Cache.ParentCapacity, logger); err != nil {
		return nil, err
	}

	e.sched = revalidate.NewScheduler(revalidate.Config{
		Debounce:      cfg.RevalidationDebounce(),
		MaxPerTrigger: cfg.CrossFile.MaxRevalidationsPerTrigger,
	}, revalidate.Hooks{
		Version: e.content.Version,
		Compute: e.computeDiagnostics,
		Publish: e.publishDiagnostics,
	}, e.activity, logger)

	e.indexer = indexer.New(e.indexJob, indexer.Config{
		QueueSize:          cfg.CrossFile.OnDemand.MaxQueueSize,
		MaxTransitiveDepth: cfg.CrossFile.OnDemand.MaxTransitiveDepth,
		OnIdle:             e.onIndexerIdle,
	}, logger)

	return e, nil
}

// Start launches the background indexer and, when workspace indexing is
// enabled, scans the workspace.
func (e *Engine) Start(ctx context.Context) error {
	e.indexer.Start()
	if !e.cfg.CrossFile.IndexWorkspace || e.root == "" {
		return nil
	}
	_, err := e.Scan(ctx)
	return err
}

// Scan indexes every workspace file and rebuilds the graph from them.
func (e *Engine) Scan(ctx context.Context) (workspace.ScanResult, error) {
	res, err := e.index.Scan(ctx)
	if err != nil {
		return res, err
	}

	uris := e.index.URIs()
	for _, u := range uris {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e.syncGraph(u, true)
	}
	// files synced before their parents inherited no working directory
	for _, u := range uris {
		if len(e.graph.Parents(u)) > 0 {
			e.syncGraph(u, true)
		}
	}

	e.logger.Info("Workspace indexed",
		"files", res.Files,
		"reused", res.Reused,
		"failed", res.Failed,
		"edges", e.graph.Stats()["edges"],
		"version", e.index.Version(),
	)
	return res, nil
}

// Close cancels pending revalidations and stops the indexer.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.sched.Close()
		err = e.indexer.Stop(5 * time.Second)
	})
	return err
}

// Files lists the indexed workspace files.
func (e *Engine) Files() []string {
	return e.index.URIs()
}

// Graph returns the dependency graph.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Root returns the absolute workspace root.
func (e *Engine) Root() string {
	return e.root
}

// Config returns the configuration in use.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// IndexVersion returns the workspace index version.
func (e *Engine) IndexVersion() uint64 {
	return e.index.Version()
}

// WaitIdle blocks until the background indexer has drained its queue and
// no revalidation is in flight, or ctx is done.
func (e *Engine) WaitIdle(ctx context.Context) error {
	if err := e.indexer.WaitIdle(ctx); err != nil {
		return err
	}
	return e.sched.Wait(ctx)
}

// Stats reports cache, graph, indexer and scheduler counters.
func (e *Engine) Stats() map[string]interface{} {
	caches := []cache.Stats{e.metadata.Stats(), e.artifacts.Stats(), e.parents.Stats()}
	return map[string]interface{}{
		"indexVersion": e.index.Version(),
		"indexedFiles": e.index.Len(),
		"graph":        e.graph.Stats(),
		"caches":       caches,
		"indexer":      e.indexer.Stats(),
		"revalidation": e.sched.Stats(),
	}
}

func (e *Engine) recoverPanic(op, uri string) {
	if r := recover(); r != nil {
		e.logger.Error("Analysis failed",
			"op", op,
			"uri", uri,
			"panic", fmt.Sprint(r),
		)
	}
}
