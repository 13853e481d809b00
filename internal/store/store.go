package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Store is the sqlite-backed catalog: LCSH terms, catalog entries, and
// annotation sessions. Dir is the catalog directory; the database file lives
// inside it.
type Store struct {
	Dir string
}

// DefaultDir resolves the catalog directory: ANNOTATOR_DIR, then the
// directory named by the global config, then ~/.annotator/catalog.
func DefaultDir() (string, error) {
	if v := strings.TrimSpace(os.Getenv("ANNOTATOR_DIR")); v != "" {
		return v, nil
	}
	if cfg, err := LoadConfig(); err == nil && strings.TrimSpace(cfg.CatalogDir) != "" {
		return strings.TrimSpace(cfg.CatalogDir), nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "catalog"), nil
}

func (s Store) Ensure() error {
	dir := strings.TrimSpace(s.Dir)
	if dir == "" {
		return errors.New("store: dir is empty")
	}
	return os.MkdirAll(filepath.Clean(dir), 0o755)
}

func (s Store) sqlitePath() string {
	return filepath.Join(filepath.Clean(strings.TrimSpace(s.Dir)), "catalog.sqlite")
}
