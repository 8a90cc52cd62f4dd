package notebooksync

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

type Action string

const (
	ActionAdded    Action = "added"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionMerged   Action = "merged"
	ActionRestored Action = "restored"
	ActionRenamed  Action = "renamed"
	ActionKept     Action = "kept"
)

type Change struct {
	Path   string
	Action Action
	// RenamedTo is the new name of the local file for ActionRenamed.
	RenamedTo string
}

// SyncConflict is a file where local and remote changed the same lines. It is resolved in
// favour of the local lines and reported, never returned as an error.
type SyncConflict struct {
	Path    string
	Regions int
	Binary  bool
}

// TimestampLayout is appended to the stem of a local file that collides with a new remote file.
const TimestampLayout = "20060102150405"

type tree struct {
	root string
	snap Snapshot
}

func (t tree) has(p string) bool {
	_, ok := t.snap[p]
	return ok
}

func (t tree) digest(p string) string {
	return t.snap[p].Digest
}

func (t tree) read(p string) ([]byte, error) {
	return os.ReadFile(filepath.Join(t.root, filepath.FromSlash(p)))
}

// collisionName returns "<stem>_<timestamp><ext>", made unique within local.
func collisionName(p string, now time.Time, exists func(string) bool) string {
	dir, file := path.Split(p)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	name := dir + stem + "_" + now.Format(TimestampLayout) + ext
	for i := 1; exists(name); i++ {
		name = fmt.Sprintf("%s%s_%s_%d%s", dir, stem, now.Format(TimestampLayout), i, ext)
	}
	return name
}

// mergeFile applies the precedence rules to one path of the union of the three trees.
func (s *Syncer) mergeFile(p string, base, local, remote tree, now time.Time, res *Result) error {
	b, l, r := base.digest(p), local.digest(p), remote.digest(p)
	hasB, hasL, hasR := base.has(p), local.has(p), remote.has(p)

	switch {
	case hasB && !hasL && hasR:
		// deleted locally, still upstream
		return s.copyRemote(p, remote, ActionRestored, res)
	case hasL == hasR && l == r:
		return nil
	case hasB == hasR && b == r:
		// only local changed
		if hasL {
			res.add(Change{Path: p, Action: ActionKept})
		}
		return nil
	case hasB == hasL && b == l:
		// only remote changed
		if !hasR {
			return s.remove(p, res)
		}
		action := ActionUpdated
		if !hasL {
			action = ActionAdded
		}
		return s.copyRemote(p, remote, action, res)
	case !hasB && hasL && hasR:
		return s.renameAndCopy(p, local, remote, now, res)
	case hasL && !hasR:
		// removed upstream, edited locally
		res.add(Change{Path: p, Action: ActionKept})
		return nil
	}
	return s.merge(p, base, local, remote, res)
}

func (s *Syncer) merge(p string, base, local, remote tree, res *Result) error {
	baseData, err := base.read(p)
	if err != nil {
		return err
	}
	localData, err := local.read(p)
	if err != nil {
		return err
	}
	remoteData, err := remote.read(p)
	if err != nil {
		return err
	}

	if isBinary(baseData) || isBinary(localData) || isBinary(remoteData) {
		res.conflict(SyncConflict{Path: p, Binary: true})
		res.add(Change{Path: p, Action: ActionKept})
		return nil
	}

	merged, regions := merge3(baseData, localData, remoteData)
	if regions > 0 {
		res.conflict(SyncConflict{Path: p, Regions: regions})
	}
	if bytes.Equal(merged, localData) {
		res.add(Change{Path: p, Action: ActionKept})
		return nil
	}
	if err := s.write(p, merged, local.snap[p].Mode); err != nil {
		return err
	}
	res.add(Change{Path: p, Action: ActionMerged})
	return nil
}

func (s *Syncer) copyRemote(p string, remote tree, action Action, res *Result) error {
	data, err := remote.read(p)
	if err != nil {
		return err
	}
	if err := s.write(p, data, remote.snap[p].Mode); err != nil {
		return err
	}
	res.add(Change{Path: p, Action: action})
	return nil
}

func (s *Syncer) renameAndCopy(p string, local, remote tree, now time.Time, res *Result) error {
	target := collisionName(p, now, func(name string) bool {
		_, err := os.Lstat(filepath.Join(local.root, filepath.FromSlash(name)))
		return err == nil
	})
	if !s.DryRun {
		if err := os.Rename(filepath.Join(local.root, filepath.FromSlash(p)), filepath.Join(local.root, filepath.FromSlash(target))); err != nil {
			return err
		}
	}
	res.add(Change{Path: p, Action: ActionRenamed, RenamedTo: target})
	return s.copyRemote(p, remote, ActionAdded, res)
}

func (s *Syncer) write(p string, data []byte, mode os.FileMode) error {
	if s.DryRun {
		return nil
	}
	dst := filepath.Join(s.NotebookDir, filepath.FromSlash(p))
	if current, err := os.ReadFile(dst); err == nil && bytes.Equal(current, data) {
		return nil
	}
	// notebooks stay writable by their owner whatever the upstream mode
	mode |= 0600
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode)
}

func (s *Syncer) remove(p string, res *Result) error {
	res.add(Change{Path: p, Action: ActionDeleted})
	if s.DryRun {
		return nil
	}
	dst := filepath.Join(s.NotebookDir, filepath.FromSlash(p))
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	// prune directories the removal left empty
	for dir := filepath.Dir(dst); dir != filepath.Clean(s.NotebookDir); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}
