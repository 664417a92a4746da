package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"llmd/internal/common/fsutil"
	"llmd/pkg/types"
)

// Registry resolves model ids to servable entries. Entries come from a
// manifest file, from built-in presets, or from scanning the models
// directory; local weight paths are resolved against modelsDir.
type Registry struct {
	mu        sync.RWMutex
	modelsDir string
	manifest  string
	models    []types.Model
}

// manifestDoc is the on-disk manifest shape.
type manifestDoc struct {
	Models []types.Model `json:"models" yaml:"models" toml:"models"`
}

// Load builds a registry from modelsDir and an optional manifest path.
// With an empty manifest the built-in presets plus any directories found
// under modelsDir are used.
func Load(modelsDir, manifest string) (*Registry, error) {
	dir, err := fsutil.ExpandHome(modelsDir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	r := &Registry{modelsDir: abs, manifest: manifest}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the manifest (or presets) and rescans the models dir.
// Safe to call concurrently with readers.
func (r *Registry) Reload() error {
	var entries []types.Model
	if r.manifest != "" {
		doc, err := readManifest(r.manifest)
		if err != nil {
			return err
		}
		entries = doc.Models
	} else {
		entries = Presets()
	}
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		m := &entries[i]
		if m.ID == "" {
			return fmt.Errorf("manifest entry %d has no id", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		if m.Path == "" {
			m.Path = r.LocalPath(*m)
		}
	}
	// Directories under modelsDir that look like downloaded weights but are
	// not in the manifest become anonymous entries so they stay servable.
	for _, m := range scanDir(r.modelsDir) {
		if !seen[m.ID] {
			entries = append(entries, m)
			seen[m.ID] = true
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	r.mu.Lock()
	r.models = entries
	r.mu.Unlock()
	return nil
}

// ModelsDir returns the resolved weights directory.
func (r *Registry) ModelsDir() string { return r.modelsDir }

// Models returns a copy of the current entries.
func (r *Registry) Models() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Model, len(r.models))
	copy(out, r.models)
	return out
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (types.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.ID == id || m.ServedName == id {
			return m, true
		}
	}
	return types.Model{}, false
}

// LocalPath returns where weights for m live under the models dir.
func (r *Registry) LocalPath(m types.Model) string {
	rev := m.Revision
	if rev == "" {
		rev = "main"
	}
	return filepath.Join(r.modelsDir, m.ID, rev)
}

// Downloaded reports whether the entry's weights are present locally. A
// model directory is considered complete when it contains config.json,
// mirroring the launcher's preflight check.
func (r *Registry) Downloaded(m types.Model) bool {
	return fsutil.PathExists(filepath.Join(m.Path, "config.json"))
}

func readManifest(path string) (manifestDoc, error) {
	var doc manifestDoc
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &doc)
	case ".json":
		err = json.Unmarshal(b, &doc)
	case ".toml":
		err = toml.Unmarshal(b, &doc)
	default:
		return doc, fmt.Errorf("unsupported manifest extension: %s", ext)
	}
	if err != nil {
		return doc, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return doc, nil
}

// scanDir lists <dir>/<id>/<revision> layouts holding a config.json.
func scanDir(dir string) []types.Model {
	var out []types.Model
	ids, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, idEnt := range ids {
		if !idEnt.IsDir() {
			continue
		}
		revs, err := os.ReadDir(filepath.Join(dir, idEnt.Name()))
		if err != nil {
			continue
		}
		for _, revEnt := range revs {
			if !revEnt.IsDir() {
				continue
			}
			p := filepath.Join(dir, idEnt.Name(), revEnt.Name())
			if !fsutil.PathExists(filepath.Join(p, "config.json")) {
				continue
			}
			out = append(out, types.Model{
				ID:       idEnt.Name(),
				Revision: revEnt.Name(),
				Path:     p,
			})
			break // first revision wins
		}
	}
	return out
}
