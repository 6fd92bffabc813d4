package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DatabaseMetadata identifies the embedding model a database was built
// with, persisted as metadata.json alongside demongrep.bolt, fts/, and
// filemeta.bin. Search and sync both consult it to detect a model change
// before trusting the dense store's vectors.
type DatabaseMetadata struct {
	ModelShortName string    `json:"model_short_name"`
	ModelName      string    `json:"model_name"`
	Dimensions     int       `json:"dimensions"`
	IndexedAt      time.Time `json:"indexed_at"`
}

// LoadDatabaseMetadata reads metadata.json at path. A missing file returns
// (nil, nil): a brand new database has no metadata yet.
func LoadDatabaseMetadata(path string) (*DatabaseMetadata, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read database metadata %s: %w", path, err)
	}
	var meta DatabaseMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse database metadata %s: %w", path, err)
	}
	return &meta, nil
}

// Save writes metadata as indented JSON, atomically: a temp file in the
// same directory, then a rename over the target.
func (m *DatabaseMetadata) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode database metadata: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".metadata-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp database metadata: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp database metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp database metadata: %w", err)
	}
	return os.Rename(tmpPath, path)
}
