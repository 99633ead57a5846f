// Package content answers "what is in this file" and "does it exist" for
// the graph and the resolver. Open editor buffers win over the workspace
// index, which wins over the filesystem.
package content

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"rscope/internal/paths"
	"rscope/internal/slogutil"
)

// IndexSource is the workspace index view the provider consults for files
// that are not open.
type IndexSource interface {
	Content(uri string) (string, bool)
}

// Document is an open editor buffer.
type Document struct {
	URI     string
	Version int32
	Text    string
}

// Provider serves file content and existence checks.
type Provider struct {
	mu     sync.RWMutex
	docs   map[string]Document
	index  IndexSource
	exists *expirable.LRU[string, bool]
	logger *slog.Logger
}

// NewProvider creates a provider. Existence answers from the filesystem
// are cached for ttl.
func NewProvider(index IndexSource, capacity int, ttl time.Duration, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	if capacity <= 0 {
		capacity = 1000
	}
	return &Provider{
		docs:   make(map[string]Document),
		index:  index,
		exists: expirable.NewLRU[string, bool](capacity, nil, ttl),
		logger: logger,
	}
}

// Open records an editor buffer.
func (p *Provider) Open(uri string, version int32, text string) {
	p.mu.Lock()
	p.docs[uri] = Document{URI: uri, Version: version, Text: text}
	p.mu.Unlock()
	p.exists.Remove(uri)
}

// Update replaces the buffer text. Versions older than the current one are
// ignored and reported as false.
func (p *Provider) Update(uri string, version int32, text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.docs[uri]; ok && version < cur.Version {
		p.logger.Debug("Ignoring stale document update",
			"uri", uri, "version", version, "current", cur.Version)
		return false
	}
	p.docs[uri] = Document{URI: uri, Version: version, Text: text}
	return true
}

// Close drops the buffer; later reads fall through to the index or disk.
func (p *Provider) Close(uri string) {
	p.mu.Lock()
	delete(p.docs, uri)
	p.mu.Unlock()
	p.exists.Remove(uri)
}

func (p *Provider) IsOpen(uri string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.docs[uri]
	return ok
}

// Document returns the open buffer for uri.
func (p *Provider) Document(uri string) (Document, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.docs[uri]
	return d, ok
}

// Version returns the open buffer's version.
func (p *Provider) Version(uri string) (int32, bool) {
	d, ok := p.Document(uri)
	return d.Version, ok
}

// OpenURIs lists open documents in sorted order.
func (p *Provider) OpenURIs() []string {
	p.mu.RLock()
	uris := make([]string, 0, len(p.docs))
	for uri := range p.docs {
		uris = append(uris, uri)
	}
	p.mu.RUnlock()
	sort.Strings(uris)
	return uris
}

// Read returns the content of uri from the first layer that has it.
func (p *Provider) Read(uri string) (string, bool) {
	if d, ok := p.Document(uri); ok {
		return d.Text, true
	}
	if p.index != nil {
		if text, ok := p.index.Content(uri); ok {
			return text, true
		}
	}
	return p.ReadDisk(uri)
}

// ReadDisk reads uri from the filesystem, bypassing buffers and the index.
func (p *Provider) ReadDisk(uri string) (string, bool) {
	path, err := paths.PathFromURI(uri)
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.exists.Add(uri, false)
		return "", false
	}
	p.exists.Add(uri, true)
	return string(data), true
}

// Exists reports whether uri names a readable file. Open buffers and
// indexed files answer without touching the filesystem; otherwise a cached
// stat result is used while it is younger than the TTL.
func (p *Provider) Exists(uri string) bool {
	if p.IsOpen(uri) {
		return true
	}
	if p.index != nil {
		if _, ok := p.index.Content(uri); ok {
			return true
		}
	}
	if known, ok := p.exists.Get(uri); ok {
		return known
	}
	found := false
	if path, err := paths.PathFromURI(uri); err == nil {
		info, err := os.Stat(path)
		found = err == nil && !info.IsDir()
	}
	p.exists.Add(uri, found)
	return found
}

// Forget drops any cached existence answer for uri.
func (p *Provider) Forget(uri string) {
	p.exists.Remove(uri)
}
