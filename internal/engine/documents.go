package engine

import (
	"context"

	rerrors "rscope/internal/errors"
	"rscope/internal/indexer"
	"rscope/internal/revalidate"
)

// DidOpen records an editor buffer and schedules its diagnostics.
func (e *Engine) DidOpen(uri string, version int32, text string) []*revalidate.Task {
	e.editMu.Lock()
	defer e.editMu.Unlock()
	e.content.Open(uri, version, text)
	e.activity.Touch(uri)
	return e.afterChangeLocked(uri, true)
}

// DidChange replaces an editor buffer. Changes older than the buffer are
// ignored.
func (e *Engine) DidChange(uri string, version int32, text string) []*revalidate.Task {
	e.editMu.Lock()
	defer e.editMu.Unlock()
	if !e.content.Update(uri, version, text) {
		e.logger.Debug("Ignoring stale document change", "uri", uri, "version", version)
		return nil
	}
	e.activity.Touch(uri)
	return e.afterChangeLocked(uri, false)
}

// DidClose drops an editor buffer. The file falls back to its indexed or
// on-disk content, so open dependents are revalidated if that changes its
// interface.
func (e *Engine) DidClose(uri string) []*revalidate.Task {
	e.editMu.Lock()
	defer e.editMu.Unlock()
	e.content.Close(uri)
	e.sched.Forget(uri)
	return e.afterChangeLocked(uri, false)
}

// OnDocumentChanged runs the revalidation pipeline for uri. The file
// itself is always rediagnosed; open files that depend on it are
// revalidated only when its interface hash changed.
func (e *Engine) OnDocumentChanged(uri string, version int32) []*revalidate.Task {
	if cur, ok := e.content.Version(uri); ok && version < cur {
		e.logger.Debug("Change notification older than buffer", "uri", uri, "version", version, "current", cur)
	}
	return e.afterChange(uri, false)
}

// SetActivity records the active and visible documents, which order
// revalidation when a trigger exceeds its cap.
func (e *Engine) SetActivity(active string, visible []string) {
	e.activity.Update(active, visible)
}

// afterChange compares uri's interface hash before and after the change
// and schedules revalidations. opening marks a first look at a document,
// where a missing previous hash does not count as a change.
func (e *Engine) afterChange(uri string, opening bool) []*revalidate.Task {
	e.editMu.Lock()
	defer e.editMu.Unlock()
	return e.afterChangeLocked(uri, opening)
}

// afterChangeLocked runs with editMu held. The previous interface hash is
// the one stored by the last call for uri, never the artifacts cache,
// which any reader may have refreshed since the buffer changed.
func (e *Engine) afterChangeLocked(uri string, opening bool) (tasks []*revalidate.Task) {
	defer e.recoverPanic("revalidate", uri)

	edgesChanged := e.syncGraph(uri, false)
	art, ok := e.artifactsFor(uri)

	old, known := e.interfaces[uri]
	changed := false
	switch {
	case !ok:
		changed = known
		delete(e.interfaces, uri)
	case known:
		changed = old != art.InterfaceHash
	default:
		changed = !opening
	}
	if ok {
		e.interfaces[uri] = art.InterfaceHash
	}

	reqs := []revalidate.Request{{URI: uri}}
	if changed {
		for _, d := range e.affected(uri) {
			reqs = append(reqs, revalidate.Request{URI: d, Force: true})
		}
	}

	// children declaring uri as their parent inherit its working directory
	// and call sites; they need another look only when either moved
	for _, c := range e.graph.BackwardChildren(uri) {
		wd := e.syncedWorkingDir(c)
		if e.syncGraph(c, true) || e.syncedWorkingDir(c) != wd {
			reqs = append(reqs, revalidate.Request{URI: c, Force: true})
		}
	}

	e.logger.Debug("Document changed",
		"uri", uri,
		"interfaceChanged", changed,
		"edgesChanged", edgesChanged,
		"requests", len(reqs),
	)
	return e.sched.Trigger(uri, reqs)
}

// affected returns the open files whose scope depends on uri: the files
// including it and the files inheriting from it.
func (e *Engine) affected(uri string) []string {
	var out []string
	seen := map[string]bool{uri: true}
	add := func(list []string) {
		for _, u := range list {
			if seen[u] || !e.content.IsOpen(u) {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	up := e.graph.WalkDependents(uri, e.cfg.CrossFile.MaxBackwardDepth)
	if len(up.Cycle) > 0 {
		e.logger.Debug("Dependents form a cycle", "uri", uri, "via", up.Cycle)
	}
	add(up.Files)
	add(e.graph.TransitiveDependencies(uri, e.cfg.CrossFile.MaxForwardDepth))
	return out
}

// OnFileChangedOnDisk queues uri for reindexing. Open documents are
// authoritative and only have their existence entry refreshed.
func (e *Engine) OnFileChangedOnDisk(uri string) error {
	e.content.Forget(uri)
	if e.content.IsOpen(uri) {
		return nil
	}
	_, err := e.indexer.Submit(uri, 0, indexer.ReasonDiskChange)
	return err
}

// OnFileDeleted removes uri from the index and the graph and revalidates
// the open files that depended on it.
func (e *Engine) OnFileDeleted(uri string) []*revalidate.Task {
	affected := e.affected(uri)

	e.editMu.Lock()
	delete(e.interfaces, uri)
	e.editMu.Unlock()

	e.index.Remove(uri)
	e.content.Forget(uri)
	e.graph.RemoveFile(uri)
	e.writeMu.Lock()
	delete(e.synced, uri)
	delete(e.graphDiags, uri)
	e.writeMu.Unlock()
	v := e.index.BumpVersion()

	e.logger.Debug("File deleted", "uri", uri, "affected", len(affected), "version", v)
	reqs := make([]revalidate.Request, 0, len(affected))
	for _, u := range affected {
		reqs = append(reqs, revalidate.Request{URI: u, Force: true})
	}
	return e.sched.Trigger(uri, reqs)
}

// indexJob is the background indexer handler.
func (e *Engine) indexJob(ctx context.Context, job *indexer.Job) ([]string, error) {
	if _, err := e.index.IndexFile(job.URI); err != nil {
		if job.Reason == indexer.ReasonDiskChange && rerrors.CodeOf(err) == rerrors.FileNotFound {
			e.OnFileDeleted(job.URI)
			return nil, nil
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if job.Reason == indexer.ReasonDiskChange {
		e.index.BumpVersion()
		e.afterChange(job.URI, false)
	} else {
		e.syncGraph(job.URI, true)
	}

	var next []string
	for _, n := range e.neighbours(job.URI) {
		if !e.content.IsOpen(n) && !e.index.Contains(n) {
			next = append(next, n)
		}
	}
	return next, nil
}

// onIndexerIdle publishes a batch of background indexing as one new
// workspace index version.
func (e *Engine) onIndexerIdle(completed int) {
	v := e.index.BumpVersion()
	e.logger.Debug("Background indexing idle", "completed", completed, "version", v)
}
