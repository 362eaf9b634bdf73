package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

func testFolders() models.FolderConfig {
	return models.FolderConfig{
		Inbox:         "Inbox",
		NeedsAction:   "Needs_Action",
		NeedsApproval: "Needs_Approval",
		Done:          "Done",
		Actions:       "Actions",
		Logs:          "Logs",
	}
}

func newTestStore(t *testing.T) RecordStore {
	t.Helper()
	s := NewRecordStore(t.TempDir(), testFolders())
	require.NoError(t, s.EnsureFolders())
	return s
}

func newRecord(name string, f models.Folder) *models.TaskRecord {
	rec := models.NewTaskRecord(name)
	rec.Folder = f
	rec.Header.Set(models.KeyStatus, string(models.StatusPending))
	rec.Body = "\n# " + name + "\n"
	return rec
}

func TestRecordStore_CreateAndRead(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord("Plan_a.md", models.FolderNeedsAction)
	rec.Header.Set(models.KeyPriority, "high")
	require.NoError(t, s.Create(rec))

	got, err := s.Read(models.FolderNeedsAction, "Plan_a.md")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, got.Priority())
	assert.Equal(t, models.StatusPending, got.Status())
	assert.Equal(t, rec.Body, got.Body)
	assert.False(t, got.ModTime.IsZero())
}

func TestRecordStore_CreateConflictAcrossFolders(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(newRecord("task_x.md", models.FolderDone)))

	err := s.Create(newRecord("task_x.md", models.FolderNeedsAction))
	require.ErrorIs(t, err, ErrConflict)

	names, err := s.Names(models.FolderNeedsAction)
	require.NoError(t, err)
	assert.Empty(t, names, "no temp file or duplicate may remain")
}

func TestRecordStore_MoveNeverOverwrites(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord("a.md", models.FolderNeedsAction)
	require.NoError(t, s.Create(rec))

	// Simulate a stray file with the same name already in Done.
	stray := filepath.Join(s.Dir(models.FolderDone), "a.md")
	require.NoError(t, os.WriteFile(stray, []byte("other"), 0o644))

	err := s.Move(rec, models.FolderDone)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, models.FolderNeedsAction, rec.Folder)

	data, err := os.ReadFile(stray)
	require.NoError(t, err)
	assert.Equal(t, "other", string(data))

	_, err = s.Read(models.FolderNeedsAction, "a.md")
	assert.NoError(t, err, "source must stay in place after a failed move")
}

func TestRecordStore_Relocate(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord("a.md", models.FolderNeedsAction)
	require.NoError(t, s.Create(rec))

	require.NoError(t, rec.Transition(models.StatusAwaitingApproval))
	require.NoError(t, s.Relocate(rec, models.FolderNeedsApproval))

	f, ok := s.Locate("a.md")
	require.True(t, ok)
	assert.Equal(t, models.FolderNeedsApproval, f)

	got, err := s.Read(models.FolderNeedsApproval, "a.md")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingApproval, got.Status())

	_, err = s.Read(models.FolderNeedsAction, "a.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordStore_NamesSkipsHiddenAndDirs(t *testing.T) {
	s := newTestStore(t)
	inbox := s.Dir(models.FolderInbox)
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "b.md"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, ".hidden"), []byte("h"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(inbox, "sub"), 0o755))

	names, err := s.Names(models.FolderInbox)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.md"}, names)
}

func TestRecordStore_MoveMissing(t *testing.T) {
	s := newTestStore(t)
	rec := newRecord("ghost.md", models.FolderNeedsAction)
	err := s.Move(rec, models.FolderDone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordStore_EnsureFoldersCreatesLogs(t *testing.T) {
	root := t.TempDir()
	s := NewRecordStore(root, testFolders())
	require.NoError(t, s.EnsureFolders())

	info, err := os.Stat(filepath.Join(root, "Logs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
