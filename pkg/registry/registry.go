// Package registry keeps the catalogue of device models: in-memory lookup
// plus JSON files on disk.
package registry

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fleetsim/fleetsim/pkg/logging"
	"github.com/fleetsim/fleetsim/pkg/model"
)

// Registry maps model IDs to device models. Models are immutable once
// registered; re-registration replaces the entry.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]*model.DeviceModel
	dir     string
	persist bool
	log     *slog.Logger
}

// Options configures a registry.
type Options struct {
	// Dir is the model directory scanned by LoadDir and targeted by writes.
	Dir string

	// Persist writes registered models back to Dir as {id}.json.
	Persist bool

	Logger *slog.Logger
}

// New creates an empty registry.
func New(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		models:  make(map[string]*model.DeviceModel),
		dir:     opts.Dir,
		persist: opts.Persist,
		log:     log,
	}
}

// LoadDir loads every *.json file under the configured directory,
// recursively. Files that fail to parse or validate are logged and skipped;
// one broken file never blocks startup. The file base name is informational:
// the id inside the JSON is authoritative.
func (r *Registry) LoadDir() error {
	if r.dir == "" {
		return nil
	}
	if _, err := os.Stat(r.dir); err != nil {
		r.log.Warn("device model path does not exist", "path", r.dir)
		return nil
	}

	loaded := 0
	err := filepath.WalkDir(r.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			r.log.Error("failed to read device model", "path", path, "error", err)
			return nil
		}

		var m model.DeviceModel
		if err := json.Unmarshal(raw, &m); err != nil {
			r.log.Error("failed to parse device model", "path", path, "error", err)
			return nil
		}
		if err := m.Validate(); err != nil {
			r.log.Error("invalid device model", "path", path, "error", err)
			return nil
		}

		r.mu.Lock()
		r.models[m.ID] = &m
		r.mu.Unlock()
		loaded++
		r.log.Info("loaded device model", "id", m.ID, "path", path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan model directory %s: %w", r.dir, err)
	}

	r.log.Info("device model registry initialized", "models", loaded)
	return nil
}

// Register adds a model, replacing any previous registration of the same id.
// With persistence enabled the model is also written to {id}.json.
func (r *Registry) Register(m *model.DeviceModel) error {
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.models[m.ID] = m
	r.mu.Unlock()

	if r.persist && r.dir != "" {
		if err := r.writeFile(m); err != nil {
			// Persistence is best effort; the in-memory registration stands.
			r.log.Warn("failed to persist device model", "id", m.ID, "error", err)
		}
	}

	r.log.Info("registered device model", "id", m.ID)
	return nil
}

func (r *Registry) writeFile(m *model.DeviceModel) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.dir, m.ID+".json"), raw, 0o644)
}

// Get returns a model by id, or nil when unknown.
func (r *Registry) Get(id string) *model.DeviceModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[id]
}

// List returns all models sorted by id.
func (r *Registry) List() []*model.DeviceModel {
	r.mu.RLock()
	out := make([]*model.DeviceModel, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
