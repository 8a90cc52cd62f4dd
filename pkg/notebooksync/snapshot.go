package notebooksync

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

var ignoredNames = map[string]bool{
	".git":               true,
	".ipynb_checkpoints": true,
	NoUpdateMarker:       true,
	".DS_Store":          true,
	"__pycache__":        true,
}

// Entry is one regular file of a tree.
type Entry struct {
	Digest string
	Mode   fs.FileMode
}

// Snapshot maps slash separated relative paths to entries.
type Snapshot map[string]Entry

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fileDigest streams path through the hasher so large datasets are never held in memory.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Scan walks root, skipping ignored names and the excluded absolute paths. A missing root is an
// empty snapshot.
func Scan(root string, exclude ...string) (Snapshot, error) {
	snap := Snapshot{}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return snap, nil
	}
	excluded := map[string]bool{}
	for _, e := range exclude {
		if abs, err := filepath.Abs(e); err == nil {
			excluded[abs] = true
		}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && ignoredNames[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if abs, _ := filepath.Abs(path); excluded[abs] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		sum, err := fileDigest(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		snap[filepath.ToSlash(rel)] = Entry{Digest: sum, Mode: info.Mode().Perm()}
		return nil
	})
	return snap, err
}

// Equal reports whether both snapshots hold the same paths with the same content.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s) != len(o) {
		return false
	}
	for p, e := range s {
		if oe, ok := o[p]; !ok || oe.Digest != e.Digest {
			return false
		}
	}
	return true
}
