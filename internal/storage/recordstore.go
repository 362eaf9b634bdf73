package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/valter-silva-au/vaultq/pkg/models"
)

var (
	// ErrConflict is returned when a write or move targets a filename that
	// already exists.
	ErrConflict = models.ErrRecordConflict
	// ErrNotFound is returned when a record does not exist in the given folder.
	ErrNotFound = models.ErrRecordNotFound
)

// RecordStore manages task record files resident in the lifecycle folders.
// A record's folder is the authoritative signal of its state; moving a record
// between folders is an atomic rename that never overwrites.
type RecordStore interface {
	// Root returns the vault root directory.
	Root() string
	// Dir returns the absolute directory for a folder.
	Dir(f models.Folder) string
	// EnsureFolders creates every lifecycle folder, the inbox and the logs folder.
	EnsureFolders() error
	// Names lists the regular, non-hidden file names in a folder, sorted.
	Names(f models.Folder) ([]string, error)
	// ReadRaw returns the raw bytes of a file in a folder.
	ReadRaw(f models.Folder, name string) ([]byte, error)
	// Read loads and parses a record.
	Read(f models.Folder, name string) (*models.TaskRecord, error)
	// Create writes a new record, failing with ErrConflict if its name exists
	// in any lifecycle folder.
	Create(rec *models.TaskRecord) error
	// Save rewrites a record in place in its current folder.
	Save(rec *models.TaskRecord) error
	// Move renames a record into another folder.
	Move(rec *models.TaskRecord, to models.Folder) error
	// Relocate saves the record in place and then moves it.
	Relocate(rec *models.TaskRecord, to models.Folder) error
	// Locate returns the lifecycle folder containing name.
	Locate(name string) (models.Folder, bool)
}

// fileRecordStore implements RecordStore on the local filesystem.
type fileRecordStore struct {
	root    string
	folders models.FolderConfig
}

// NewRecordStore creates a RecordStore rooted at root with the given folder names.
func NewRecordStore(root string, folders models.FolderConfig) RecordStore {
	return &fileRecordStore{root: root, folders: folders}
}

func (s *fileRecordStore) Root() string {
	return s.root
}

func (s *fileRecordStore) Dir(f models.Folder) string {
	return filepath.Join(s.root, s.folders.Name(f))
}

func (s *fileRecordStore) path(f models.Folder, name string) string {
	return filepath.Join(s.Dir(f), name)
}

func (s *fileRecordStore) EnsureFolders() error {
	for _, f := range append([]models.Folder{models.FolderInbox}, models.LifecycleFolders...) {
		if err := os.MkdirAll(s.Dir(f), 0o755); err != nil {
			return fmt.Errorf("creating folder %s: %w", s.folders.Name(f), err)
		}
	}
	if s.folders.Logs != "" {
		if err := os.MkdirAll(filepath.Join(s.root, s.folders.Logs), 0o755); err != nil {
			return fmt.Errorf("creating folder %s: %w", s.folders.Logs, err)
		}
	}
	return nil
}

func (s *fileRecordStore) Names(f models.Folder) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(f))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", s.folders.Name(f), err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileRecordStore) ReadRaw(f models.Folder, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(f, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, s.folders.Name(f), name)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

func (s *fileRecordStore) Read(f models.Folder, name string) (*models.TaskRecord, error) {
	data, err := s.ReadRaw(f, name)
	if err != nil {
		return nil, err
	}
	rec := DecodeRecord(name, f, data)
	if info, err := os.Stat(s.path(f, name)); err == nil {
		rec.ModTime = info.ModTime()
	}
	return rec, nil
}

func (s *fileRecordStore) Create(rec *models.TaskRecord) error {
	if existing, ok := s.Locate(rec.Name); ok {
		return fmt.Errorf("%w: %s is in %s", ErrConflict, rec.Name, s.folders.Name(existing))
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	dir := s.Dir(rec.Folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating folder %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", rec.Name, werr)
	}
	if err := renameNoReplace(tmpName, s.path(rec.Folder, rec.Name)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *fileRecordStore) Save(rec *models.TaskRecord) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path(rec.Folder, rec.Name), data, 0o644); err != nil {
		return fmt.Errorf("saving %s: %w", rec.Name, err)
	}
	return nil
}

func (s *fileRecordStore) Move(rec *models.TaskRecord, to models.Folder) error {
	if rec.Folder == to {
		return nil
	}
	if err := os.MkdirAll(s.Dir(to), 0o755); err != nil {
		return fmt.Errorf("creating folder %s: %w", s.folders.Name(to), err)
	}
	src := s.path(rec.Folder, rec.Name)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, s.folders.Name(rec.Folder), rec.Name)
		}
		return fmt.Errorf("checking %s: %w", rec.Name, err)
	}
	if err := renameNoReplace(src, s.path(to, rec.Name)); err != nil {
		return fmt.Errorf("moving %s to %s: %w", rec.Name, s.folders.Name(to), err)
	}
	rec.Folder = to
	return nil
}

func (s *fileRecordStore) Relocate(rec *models.TaskRecord, to models.Folder) error {
	if err := s.Save(rec); err != nil {
		return err
	}
	return s.Move(rec, to)
}

func (s *fileRecordStore) Locate(name string) (models.Folder, bool) {
	for _, f := range models.LifecycleFolders {
		if _, err := os.Lstat(s.path(f, name)); err == nil {
			return f, true
		}
	}
	return "", false
}

func dirOf(path string) string {
	return filepath.Dir(path)
}
