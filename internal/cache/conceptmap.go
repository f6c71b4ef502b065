package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/ronbun/internal/models"
)

// ErrNotFound reports a missing cache entry or concept map.
var ErrNotFound = models.ErrNotFound

func (s *Store) conceptMapPath(id string) string {
	return filepath.Join(s.conceptMapsDir, NormalizeID(id)+".json")
}

// SaveConceptMap writes the concept map for id to its side file and returns
// the path. The payload must be valid JSON.
func (s *Store) SaveConceptMap(id string, payload json.RawMessage) (string, error) {
	if !json.Valid(payload) {
		return "", fmt.Errorf("concept map for %s is not valid JSON", NormalizeID(id))
	}
	path := s.conceptMapPath(id)
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to write concept map: %w", err)
	}
	return path, nil
}

// LoadConceptMap reads the concept map for id. Missing maps return ErrNotFound.
func (s *Store) LoadConceptMap(id string) (json.RawMessage, error) {
	data, err := os.ReadFile(s.conceptMapPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("concept map for %s: %w", NormalizeID(id), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read concept map: %w", err)
	}
	return json.RawMessage(data), nil
}

// DeleteConceptMap removes the concept map file for id if present.
func (s *Store) DeleteConceptMap(id string) error {
	err := os.Remove(s.conceptMapPath(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
