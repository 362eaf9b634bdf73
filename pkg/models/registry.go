package models

// RegistryEntry records that a source item has produced its derived artifact.
// The JSON shape matches processed.json written by earlier versions.
type RegistryEntry struct {
	Filename    string `json:"filename"`
	ProcessedAt string `json:"processed_at"`
	PlanCreated string `json:"plan_created"`
}

// RegistryFile is the persisted registry document.
type RegistryFile struct {
	ProcessedFiles []RegistryEntry `json:"processed_files"`
}

// LegacyRegistryFile is the older flat-list registry format.
type LegacyRegistryFile struct {
	Processed []string `json:"processed"`
}

// MigratedTimestamp marks entries converted from the legacy format.
const MigratedTimestamp = "unknown (migrated)"
