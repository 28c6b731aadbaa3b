package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store exposes persona retrieval.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the configured personas.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// LoadFile reads personas from a YAML file. The file holds either a list of
// personas or a single persona document.
func LoadFile(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var items []Persona
	if err := yaml.Unmarshal(raw, &items); err != nil {
		var single Persona
		if singleErr := yaml.Unmarshal(raw, &single); singleErr != nil {
			return nil, fmt.Errorf("parse persona file %s: %w", path, err)
		}
		items = []Persona{single}
	}

	for i, item := range items {
		if item.ID == "" || item.Name == "" {
			return nil, fmt.Errorf("persona #%d in %s: id and name are required", i, path)
		}
	}
	return items, nil
}
