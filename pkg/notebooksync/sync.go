package notebooksync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-logr/logr"
)

// NoUpdateMarker in the home directory disables the sync entirely.
const NoUpdateMarker = ".no-notebook-update.txt"

// Syncer pulls remote notebook content into the user's notebook directory with a
// three-way merge against the remote content of the previous sync.
type Syncer struct {
	Log         logr.Logger
	Source      Source
	NotebookDir string
	HomeDir     string
	// StateDir holds the base snapshot and its manifest.
	StateDir string
	DryRun   bool
	Now      func() time.Time
}

type Result struct {
	Skipped   bool
	Changes   []Change
	Conflicts []SyncConflict
}

func (r *Result) add(c Change) {
	r.Changes = append(r.Changes, c)
}

func (r *Result) conflict(c SyncConflict) {
	r.Conflicts = append(r.Conflicts, c)
}

// Count returns the number of changes with the given action.
func (r *Result) Count(action Action) int {
	n := 0
	for _, c := range r.Changes {
		if c.Action == action {
			n++
		}
	}
	return n
}

func (s *Syncer) baseDir() string {
	return filepath.Join(s.StateDir, "base")
}

func (s *Syncer) manifestPath() string {
	return filepath.Join(s.StateDir, "manifest.yaml")
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	log := s.Log.WithValues("source", s.Source.String(), "notebookDir", s.NotebookDir)
	res := &Result{}

	if _, err := os.Stat(filepath.Join(s.HomeDir, NoUpdateMarker)); err == nil {
		log.Info("notebook update disabled by marker file", "marker", filepath.Join(s.HomeDir, NoUpdateMarker))
		res.Skipped = true
		return res, nil
	}

	remoteRoot, err := s.Source.Checkout(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch remote content: %w", err)
	}
	remote, err := Scan(remoteRoot)
	if err != nil {
		return nil, fmt.Errorf("cannot scan remote content: %w", err)
	}

	manifest, err := LoadManifest(s.manifestPath())
	if err != nil {
		return nil, err
	}
	base, err := Scan(s.baseDir())
	if err != nil {
		return nil, fmt.Errorf("cannot scan base snapshot: %w", err)
	}
	baseValid := manifest.Matches(base)
	if !baseValid {
		if len(base) > 0 || len(manifest.Files) > 0 {
			log.Info("base snapshot does not match its manifest, merging without base")
		}
		base = Snapshot{}
	}

	local, err := Scan(s.NotebookDir, s.StateDir, remoteRoot)
	if err != nil {
		return nil, fmt.Errorf("cannot scan notebooks: %w", err)
	}

	now := s.now()
	baseTree := tree{root: s.baseDir(), snap: base}
	localTree := tree{root: s.NotebookDir, snap: local}
	remoteTree := tree{root: remoteRoot, snap: remote}

	var errs []error
	for _, p := range union(base, local, remote) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.mergeFile(p, baseTree, localTree, remoteTree, now, res); err != nil {
			log.Error(err, "cannot sync file", "path", p)
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}

	for _, c := range res.Conflicts {
		log.Info("kept local changes over conflicting remote changes", "path", c.Path, "regions", c.Regions, "binary", c.Binary)
	}
	for _, c := range res.Changes {
		if c.Action != ActionKept {
			log.V(1).Info("synced", "path", c.Path, "action", c.Action, "renamedTo", c.RenamedTo)
		}
	}

	if len(errs) > 0 {
		// leave the base alone so failed files are merged again next time
		return res, errors.Join(errs...)
	}
	if !s.DryRun && (!baseValid || !manifest.Matches(remote)) {
		if err := s.updateBase(remoteTree, now); err != nil {
			return res, fmt.Errorf("cannot update base snapshot: %w", err)
		}
	}

	log.Info("notebook sync finished",
		"added", res.Count(ActionAdded), "updated", res.Count(ActionUpdated), "merged", res.Count(ActionMerged),
		"restored", res.Count(ActionRestored), "renamed", res.Count(ActionRenamed), "deleted", res.Count(ActionDeleted),
		"conflicts", len(res.Conflicts))
	return res, nil
}

func union(snaps ...Snapshot) []string {
	seen := map[string]bool{}
	var paths []string
	for _, snap := range snaps {
		for p := range snap {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)
	return paths
}

// updateBase replaces the base snapshot by a copy of the remote tree.
func (s *Syncer) updateBase(remote tree, now time.Time) error {
	next := s.baseDir() + ".new"
	if err := os.RemoveAll(next); err != nil {
		return err
	}
	for p, e := range remote.snap {
		if err := copyFile(filepath.Join(remote.root, filepath.FromSlash(p)), filepath.Join(next, filepath.FromSlash(p)), e.Mode); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(next, 0755); err != nil {
		return err
	}
	if err := os.RemoveAll(s.baseDir()); err != nil {
		return err
	}
	if err := os.Rename(next, s.baseDir()); err != nil {
		return err
	}
	return manifestFromSnapshot(s.Source.String(), now, remote.snap).Save(s.manifestPath())
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
