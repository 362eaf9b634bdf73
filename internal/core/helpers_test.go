package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/internal/storage"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// testVault is a temporary vault with a real record store and registry.
type testVault struct {
	root     string
	store    storage.RecordStore
	registry storage.Registry
}

func testFolderConfig() models.FolderConfig {
	return models.FolderConfig{
		Inbox:         "Inbox",
		NeedsAction:   "Needs_Action",
		NeedsApproval: "Needs_Approval",
		Done:          "Done",
		Actions:       "Actions",
		Logs:          "Logs",
	}
}

func newTestVault(t *testing.T) *testVault {
	t.Helper()
	root := t.TempDir()
	store := storage.NewRecordStore(root, testFolderConfig())
	if err := store.EnsureFolders(); err != nil {
		t.Fatalf("EnsureFolders: %v", err)
	}
	reg, err := storage.NewRegistry(filepath.Join(root, "Logs", "processed.json"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return &testVault{root: root, store: store, registry: reg}
}

func (v *testVault) reopenRegistry(t *testing.T) {
	t.Helper()
	reg, err := storage.NewRegistry(filepath.Join(v.root, "Logs", "processed.json"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	v.registry = reg
}

func (v *testVault) dropInbox(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(v.store.Dir(models.FolderInbox), name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing inbox item: %v", err)
	}
}

func (v *testVault) ingestor(pipeline string) Ingestor {
	return NewIngestor(v.store, v.registry, NewKeywordClassifier(), NewTemplateManager(v.root),
		IngestorConfig{Pipeline: pipeline, SourcePrefix: "Inbox"}, zerolog.Nop(), nil)
}

// putRecord writes a record with the given header fields into folder f.
func (v *testVault) putRecord(t *testing.T, f models.Folder, name string, fields map[string]string, created time.Time) *models.TaskRecord {
	t.Helper()
	rec := models.NewTaskRecord(name)
	rec.Folder = f
	rec.Header.Set(models.KeyStatus, string(models.StatusPending))
	rec.Stamp(models.KeyCreatedAt, created)
	for k, val := range fields {
		rec.Header.Set(k, val)
	}
	rec.Body = "\n# " + name + "\n"
	if err := v.store.Create(rec); err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	return rec
}

func (v *testVault) mustRead(t *testing.T, f models.Folder, name string) *models.TaskRecord {
	t.Helper()
	rec, err := v.store.Read(f, name)
	if err != nil {
		t.Fatalf("reading %s from %s: %v", name, f, err)
	}
	return rec
}

func (v *testVault) assertIn(t *testing.T, f models.Folder, name string) {
	t.Helper()
	got, ok := v.store.Locate(name)
	if !ok {
		t.Fatalf("%s not found in any folder", name)
	}
	if got != f {
		t.Fatalf("%s is in %s, want %s", name, got, f)
	}
}

// recordingCapability records the order of executed records and returns
// the queued errors in turn.
type recordingCapability struct {
	mu     sync.Mutex
	names  []string
	errors []error
}

func (c *recordingCapability) Execute(_ context.Context, rec *models.TaskRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, rec.Name)
	if len(c.errors) == 0 {
		return nil
	}
	err := c.errors[0]
	c.errors = c.errors[1:]
	return err
}

func (c *recordingCapability) executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// sleepRecorder is a Sleeper that records requested delays without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func allCapabilities(c Capability) map[string]Capability {
	return map[string]Capability{
		ActionGeneric:    c,
		ActionEmail:      c,
		ActionSocialPost: c,
		ActionWebhook:    c,
	}
}

// memEvents collects events in memory.
type memEvents struct {
	mu     sync.Mutex
	events []string
}

func (m *memEvents) LogEvent(eventType, record string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType+":"+record)
	return nil
}

func (m *memEvents) has(eventType, record string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e == eventType+":"+record {
			return true
		}
	}
	return false
}
