package core

import "github.com/valter-silva-au/vaultq/pkg/models"

// RecordStore is the view of the task record store used by core services.
// This interface is defined locally in core to avoid importing storage.
type RecordStore interface {
	Dir(f models.Folder) string
	Names(f models.Folder) ([]string, error)
	ReadRaw(f models.Folder, name string) ([]byte, error)
	Read(f models.Folder, name string) (*models.TaskRecord, error)
	Create(rec *models.TaskRecord) error
	Save(rec *models.TaskRecord) error
	Move(rec *models.TaskRecord, to models.Folder) error
	Relocate(rec *models.TaskRecord, to models.Folder) error
	Locate(name string) (models.Folder, bool)
}

// IngestRegistry is the idempotency ledger consulted by the Ingestor.
// This interface is defined locally in core to avoid importing storage.
type IngestRegistry interface {
	Lookup(source string) (models.RegistryEntry, bool)
	Has(source string) bool
	Append(entry models.RegistryEntry) error
	Len() int
}
