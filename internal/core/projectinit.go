package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/valter-silva-au/vaultq/pkg/models"
	"gopkg.in/yaml.v3"
)

// InitConfig holds the parameters for initializing a vault.
type InitConfig struct {
	BasePath string
	// Config is written to .vaultq.yaml and decides the folder layout.
	// DefaultConfig is used when nil.
	Config *models.Config
}

// InitResult holds a summary of what was created vs. skipped.
type InitResult struct {
	Created []string
	Skipped []string
}

// VaultInitializer lays out a new vault: the lifecycle folders, the
// configuration file and the dashboard.
type VaultInitializer interface {
	Init(config InitConfig) (*InitResult, error)
}

type vaultInitializer struct{}

// NewVaultInitializer creates a new VaultInitializer.
func NewVaultInitializer() VaultInitializer {
	return &vaultInitializer{}
}

// Init is safe to run on an existing vault: files and directories that
// already exist are skipped and not overwritten.
func (vi *vaultInitializer) Init(config InitConfig) (*InitResult, error) {
	cfg := config.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	result := &InitResult{}
	vault := filepath.Join(config.BasePath, cfg.VaultRoot)

	// The base directory belongs to the user; it is made if missing but is
	// not part of the vault layout reported back.
	if err := os.MkdirAll(config.BasePath, 0o750); err != nil {
		return nil, fmt.Errorf("initializing vault: creating directory %s: %w", config.BasePath, err)
	}

	dirs := []string{vault}
	for _, name := range []string{
		cfg.Folders.Inbox,
		cfg.Folders.NeedsAction,
		cfg.Folders.NeedsApproval,
		cfg.Folders.Done,
		cfg.Folders.Actions,
		cfg.Folders.Logs,
	} {
		dirs = append(dirs, filepath.Join(vault, name))
	}
	for _, dir := range dirs {
		created, err := ensureDir(dir)
		if err != nil {
			return nil, fmt.Errorf("initializing vault: creating directory %s: %w", dir, err)
		}
		if created {
			result.Created = append(result.Created, dir)
		} else {
			result.Skipped = append(result.Skipped, dir)
		}
	}

	configPath := filepath.Join(config.BasePath, ConfigFileName)
	if err := writeFileIfNotExists(configPath, func() ([]byte, error) {
		return renderConfig(cfg)
	}, result); err != nil {
		return nil, err
	}

	dashboardPath := filepath.Join(vault, cfg.DashboardFile)
	if err := writeFileIfNotExists(dashboardPath, func() ([]byte, error) {
		return []byte(DefaultDashboard), nil
	}, result); err != nil {
		return nil, err
	}

	return result, nil
}

// renderConfig serializes cfg for .vaultq.yaml. Secrets stay in the
// environment and are never written.
func renderConfig(cfg *models.Config) ([]byte, error) {
	out := *cfg
	out.Email.Password = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}
	header := "# vaultq configuration. Every key can be overridden with a VAULTQ_ environment\n" +
		"# variable, e.g. VAULTQ_APPROVAL_TIMEOUT=30m or VAULTQ_EMAIL_PASSWORD.\n"
	return append([]byte(header), data...), nil
}

// ensureDir creates a directory if it does not exist. Returns true if created.
func ensureDir(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return false, err
	}
	return true, nil
}

// writeFileIfNotExists writes content from contentFn if the file does not exist.
// It records created/skipped in the result.
func writeFileIfNotExists(path string, contentFn func() ([]byte, error), result *InitResult) error {
	if _, err := os.Stat(path); err == nil {
		result.Skipped = append(result.Skipped, path)
		return nil
	}
	content, err := contentFn()
	if err != nil {
		return fmt.Errorf("initializing vault: generating content for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("initializing vault: writing %s: %w", path, err)
	}
	result.Created = append(result.Created, path)
	return nil
}
