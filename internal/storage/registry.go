package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

// Registry is the persistent idempotency ledger mapping a source item to the
// artifact derived from it. It is append-only during normal operation.
type Registry interface {
	// Lookup returns the entry for a source filename.
	Lookup(source string) (models.RegistryEntry, bool)
	// Has reports whether a source filename has been recorded.
	Has(source string) bool
	// Append records a new entry. Appending an already-recorded source is a no-op.
	Append(entry models.RegistryEntry) error
	// Entries returns all entries in insertion order.
	Entries() []models.RegistryEntry
	// Len returns the number of entries.
	Len() int
}

// fileRegistry implements Registry backed by a single JSON document.
type fileRegistry struct {
	path    string
	mu      sync.Mutex
	entries []models.RegistryEntry
	index   map[string]int
}

// NewRegistry opens the registry at path, migrating the legacy flat-list
// format if found. A missing file yields an empty registry.
func NewRegistry(path string) (Registry, error) {
	r := &fileRegistry{path: path, index: make(map[string]int)}
	migrated, err := r.load()
	if err != nil {
		return nil, err
	}
	if migrated {
		if err := r.save(); err != nil {
			return nil, fmt.Errorf("saving migrated registry: %w", err)
		}
	}
	return r, nil
}

// load reads the registry file into memory. It reports whether the file was
// in the legacy format.
func (r *fileRegistry) load() (migrated bool, err error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading registry: %w", err)
	}
	if len(data) == 0 {
		return false, nil
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return false, fmt.Errorf("parsing registry: %w", err)
	}

	r.entries = nil
	r.index = make(map[string]int)

	if _, ok := shape["processed_files"]; ok {
		var doc models.RegistryFile
		if err := json.Unmarshal(data, &doc); err != nil {
			return false, fmt.Errorf("parsing registry: %w", err)
		}
		for _, e := range doc.ProcessedFiles {
			r.add(e)
		}
		return false, nil
	}

	if _, ok := shape["processed"]; ok {
		var legacy models.LegacyRegistryFile
		if err := json.Unmarshal(data, &legacy); err != nil {
			return false, fmt.Errorf("parsing legacy registry: %w", err)
		}
		for _, name := range legacy.Processed {
			r.add(models.RegistryEntry{
				Filename:    name,
				ProcessedAt: models.MigratedTimestamp,
				PlanCreated: "Plan_" + name,
			})
		}
		return true, nil
	}

	return false, nil
}

func (r *fileRegistry) add(e models.RegistryEntry) {
	if _, ok := r.index[e.Filename]; ok {
		return
	}
	r.index[e.Filename] = len(r.entries)
	r.entries = append(r.entries, e)
}

func (r *fileRegistry) save() error {
	data, err := json.MarshalIndent(models.RegistryFile{ProcessedFiles: r.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	if err := writeFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return nil
}

func (r *fileRegistry) Lookup(source string) (models.RegistryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[source]
	if !ok {
		return models.RegistryEntry{}, false
	}
	return r.entries[i], true
}

func (r *fileRegistry) Has(source string) bool {
	_, ok := r.Lookup(source)
	return ok
}

// Append merges any entries written by another process since load, adds the
// new entry and persists the result under an exclusive file lock.
func (r *fileRegistry) Append(entry models.RegistryEntry) error {
	if entry.ProcessedAt == "" {
		entry.ProcessedAt = time.Now().Format(models.TimeFormat)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	unlock, err := lockFile(r.path + ".lock")
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	mine := r.entries
	if _, err := r.load(); err != nil {
		r.entries, r.index = nil, make(map[string]int)
		for _, e := range mine {
			r.add(e)
		}
		return err
	}
	for _, e := range mine {
		r.add(e)
	}
	if _, ok := r.index[entry.Filename]; ok {
		return nil
	}
	r.add(entry)
	return r.save()
}

func (r *fileRegistry) Entries() []models.RegistryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.RegistryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *fileRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
