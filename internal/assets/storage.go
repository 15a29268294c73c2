// Package assets stores captured HTTP responses in named, versioned generations.
//
// Each generation is a directory under the storage root. Generations are
// created by populating them with a fixed list of resources and are removed
// wholesale when a newer one is activated.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const manifestFile = "manifest.yaml"

// Manifest records a generation's lifecycle on disk.
type Manifest struct {
	Name        string     `yaml:"name"`
	CreatedAt   time.Time  `yaml:"created_at"`
	ActivatedAt *time.Time `yaml:"activated_at,omitempty"`
	Shell       []string   `yaml:"shell"`
}

// Activated reports whether the generation finished its activation phase.
func (m Manifest) Activated() bool {
	return m.ActivatedAt != nil
}

// Storage holds every generation under a root directory.
type Storage struct {
	root string
}

// NewStorage creates a storage rooted at root. Call Init before use.
func NewStorage(root string) *Storage {
	return &Storage{root: root}
}

// Init ensures the root directory exists
func (s *Storage) Init() error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *Storage) dir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid generation name: %q", name)
	}
	return filepath.Join(s.root, name), nil
}

// Open opens the named generation, creating it if needed.
func (s *Storage) Open(name string) (*Generation, error) {
	dir, err := s.dir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create generation %s: %w", name, err)
	}
	return &Generation{name: name, dir: dir}, nil
}

// Has reports whether the named generation exists.
func (s *Storage) Has(name string) bool {
	dir, err := s.dir(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Names lists every generation, sorted.
func (s *Storage) Names() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named generation and everything in it.
func (s *Storage) Delete(name string) error {
	dir, err := s.dir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete generation %s: %w", name, err)
	}
	return nil
}

// LatestActivated returns the most recently activated generation, or nil when
// none has completed activation.
func (s *Storage) LatestActivated() (*Generation, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}

	var latest *Generation
	var latestAt time.Time
	for _, name := range names {
		gen, err := s.Open(name)
		if err != nil {
			return nil, err
		}
		m, err := gen.ReadManifest()
		if err != nil || !m.Activated() {
			continue
		}
		if latest == nil || m.ActivatedAt.After(latestAt) {
			latest = gen
			latestAt = *m.ActivatedAt
		}
	}
	return latest, nil
}

// ReadManifest loads the generation's manifest.
func (g *Generation) ReadManifest() (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(g.dir, manifestFile))
	if err != nil {
		return m, fmt.Errorf("reading manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing manifest YAML: %w", err)
	}
	return m, nil
}

// WriteManifest replaces the generation's manifest.
func (g *Generation) WriteManifest(m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest YAML: %w", err)
	}
	return g.write(filepath.Join(g.dir, manifestFile), data)
}
