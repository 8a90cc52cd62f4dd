package notebooksync

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Manifest describes the base snapshot: the remote content as of the last sync.
type Manifest struct {
	Source   string            `yaml:"source"`
	SyncedAt time.Time         `yaml:"synced_at"`
	Files    map[string]string `yaml:"files"`
}

func manifestFromSnapshot(source string, at time.Time, snap Snapshot) *Manifest {
	m := &Manifest{Source: source, SyncedAt: at.UTC(), Files: map[string]string{}}
	for p, e := range snap {
		m.Files[p] = e.Digest
	}
	return m
}

// LoadManifest returns an empty manifest when none was written yet.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{Files: map[string]string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	return m, nil
}

func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Matches reports whether the manifest describes exactly snap.
func (m *Manifest) Matches(snap Snapshot) bool {
	if len(m.Files) != len(snap) {
		return false
	}
	for p, e := range snap {
		if m.Files[p] != e.Digest {
			return false
		}
	}
	return true
}
