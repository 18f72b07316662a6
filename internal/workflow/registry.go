package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"comfy-cockpit/backend/internal/logging"
)

// ManifestFilename is the per-workflow manifest name the registry looks for.
const ManifestFilename = "manifest.json"

// Workflow pairs a loaded manifest with its template. The template is loaned
// read-only to callers; only Apply may produce a mutable copy.
type Workflow struct {
	Manifest *Manifest
	Template Template
	Dir      string
}

// Info is the listing view of a workflow.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// LoadFailure records why a single workflow directory failed to load.
// Failures are isolated: one broken manifest never blocks the others.
type LoadFailure struct {
	ID  string
	Err error
}

// Registry discovers workflow directories under a root, loads and validates
// (manifest, template) pairs, and serves them from an in-memory cache.
//
// The cache is read-mostly. Reload builds a complete replacement map and
// swaps it under the write lock, so concurrent readers never observe a
// half-rebuilt cache.
type Registry struct {
	root string
	log  *logging.Logger

	mu       sync.RWMutex
	cache    map[string]*Workflow
	failures []LoadFailure
}

// NewRegistry creates a registry over the given workflows root and performs
// the initial scan.
func NewRegistry(root string, log *logging.Logger) *Registry {
	r := &Registry{root: root, log: log}
	r.Reload()
	return r
}

// Reload discards the cache entirely, re-scans the root, and rebuilds. There
// is deliberately no partial invalidation: workflows are added rarely and by
// hand, and a full rescan avoids stale-cache bugs.
func (r *Registry) Reload() {
	cache := make(map[string]*Workflow)
	var failures []LoadFailure

	entries, err := os.ReadDir(r.root)
	if err != nil {
		// Missing root is an empty registry, not a crash.
		r.log.Warn("workflow root not readable: %v", err)
		entries = nil
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		wf, err := r.loadWorkflow(filepath.Join(r.root, id), id)
		if err != nil {
			failures = append(failures, LoadFailure{ID: id, Err: err})
			r.log.Warn("skipping workflow %q: %v", id, err)
			continue
		}
		if wf == nil {
			// Not a workflow directory (no manifest); ignore quietly.
			continue
		}
		cache[id] = wf
	}

	r.mu.Lock()
	r.cache = cache
	r.failures = failures
	r.mu.Unlock()

	r.log.Info("workflow registry loaded: %d workflows, %d failures", len(cache), len(failures))
}

// loadWorkflow loads one directory. A directory without a manifest file is
// skipped (nil, nil); anything else that goes wrong is that workflow's
// isolated failure.
func (r *Registry) loadWorkflow(dir, id string) (*Workflow, error) {
	manifestPath := filepath.Join(dir, ManifestFilename)
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, nil
	}

	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	// Identity invariant: the manifest must agree with its directory name,
	// otherwise Get(id) would serve a workflow that calls itself something
	// else.
	if manifest.ID != id {
		return nil, &ManifestError{
			Path:   manifestPath,
			Detail: fmt.Sprintf("manifest id %q does not match directory name %q", manifest.ID, id),
		}
	}

	template, err := LoadTemplate(filepath.Join(dir, manifest.TemplateFile))
	if err != nil {
		return nil, err
	}

	// Soft validation: a patch target pointing at a missing node is most
	// likely a half-updated template during development. Warn, don't block.
	for name, spec := range manifest.Params {
		if _, ok := template[spec.Patch.NodeID]; !ok {
			r.log.Warn("workflow %q: parameter %q patches node %q which is not in the template",
				id, name, spec.Patch.NodeID)
		}
	}

	return &Workflow{Manifest: manifest, Template: template, Dir: dir}, nil
}

// List enumerates loaded workflows sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.cache))
	for _, wf := range r.cache {
		infos = append(infos, Info{
			ID:          wf.Manifest.ID,
			Name:        wf.Manifest.Name,
			Description: wf.Manifest.Description,
			Version:     wf.Manifest.Version,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Get returns the cached workflow for id.
func (r *Registry) Get(id string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.cache[id]
	if !ok {
		return nil, &WorkflowNotFoundError{ID: id}
	}
	return wf, nil
}

// Failures returns the per-id load failures from the most recent scan, for
// the operator-facing diagnostics surface.
func (r *Registry) Failures() []LoadFailure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LoadFailure, len(r.failures))
	copy(out, r.failures)
	return out
}
