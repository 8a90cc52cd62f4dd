package notebooksync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// Source makes the remote content available as a local directory tree.
type Source interface {
	Checkout(ctx context.Context) (string, error)
	String() string
}

// DirSource is remote content already present on disk, e.g. baked into the image.
type DirSource string

func (d DirSource) Checkout(ctx context.Context) (string, error) {
	info, err := os.Stat(string(d))
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", string(d))
	}
	return string(d), nil
}

func (d DirSource) String() string {
	return string(d)
}

// GitSource keeps a shallow clone of a branch in Dir and updates it with the git CLI.
type GitSource struct {
	Log    logr.Logger
	URL    string
	Branch string
	Dir    string
	Git    string
}

func (g *GitSource) String() string {
	return g.URL + "@" + g.Branch
}

func (g *GitSource) run(ctx context.Context, args ...string) error {
	bin := g.Git
	if bin == "" {
		bin = "git"
	}
	g.Log.Info("running", "command", bin, "args", args)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", bin, strings.Join(args, " "), err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

func (g *GitSource) Checkout(ctx context.Context) (string, error) {
	branch := g.Branch
	if branch == "" {
		branch = "main"
	}
	if _, err := os.Stat(filepath.Join(g.Dir, ".git")); err == nil {
		if err := g.run(ctx, "-C", g.Dir, "fetch", "--depth", "1", "origin", branch); err != nil {
			return "", err
		}
		if err := g.run(ctx, "-C", g.Dir, "reset", "--hard", "FETCH_HEAD"); err != nil {
			return "", err
		}
		if err := g.run(ctx, "-C", g.Dir, "clean", "-fdx"); err != nil {
			return "", err
		}
		return g.Dir, nil
	}

	if err := os.MkdirAll(filepath.Dir(g.Dir), 0755); err != nil {
		return "", err
	}
	if err := os.RemoveAll(g.Dir); err != nil {
		return "", err
	}
	if err := g.run(ctx, "clone", "--depth", "1", "--branch", branch, g.URL, g.Dir); err != nil {
		return "", err
	}
	return g.Dir, nil
}
