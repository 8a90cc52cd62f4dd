package marker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// File is a liveness marker kept as a file holding the last activity time. The culler side
// reads it with Read.
type File struct {
	Path string

	mu sync.Mutex
}

func NewFile(path string) *File {
	return &File{Path: path}
}

// ReportActivity records at, unless the marker already holds a later time.
func (f *File) ReportActivity(ctx context.Context, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if prev, err := Read(f.Path); err == nil && prev.After(at) {
		at = prev
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create marker directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return fmt.Errorf("cannot create marker: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(at.UTC().Format(time.RFC3339Nano) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write marker: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(tmp.Name(), at, at); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("cannot replace marker: %w", err)
	}
	return nil
}

// Read returns the time recorded in the marker at path: the later of its content and its mtime,
// so a plain `touch` by another writer counts as activity too.
func Read(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	last := info.ModTime()
	if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data))); err == nil && t.After(last) {
		last = t
	}
	return last, nil
}
