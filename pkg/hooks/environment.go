package hooks

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultEnvironment = "notebook"
	DefaultCondaDir    = "/opt/conda"
)

// Environment is the conda environment used by both the login shell and the notebook kernel.
type Environment struct {
	Name   string
	Prefix string
}

// ResolveEnvironment reads NOTEBOOK_ENV (then CONDA_ENV) and CONDA_DIR.
func ResolveEnvironment(getenv func(string) string) Environment {
	name := getenv("NOTEBOOK_ENV")
	if name == "" {
		name = getenv("CONDA_ENV")
	}
	if name == "" {
		name = DefaultEnvironment
	}
	condaDir := getenv("CONDA_DIR")
	if condaDir == "" {
		condaDir = DefaultCondaDir
	}
	prefix := filepath.Join(condaDir, "envs", name)
	if name == "base" {
		prefix = condaDir
	}
	return Environment{Name: name, Prefix: prefix}
}

func (e Environment) BinDir() string {
	return filepath.Join(e.Prefix, "bin")
}

// Exists reports whether the environment prefix is installed.
func (e Environment) Exists() bool {
	info, err := os.Stat(e.Prefix)
	return err == nil && info.IsDir()
}

// Environ returns base with the environment activated: its bin directory first on PATH and
// the conda activation variables set.
func (e Environment) Environ(base []string) []string {
	out := make([]string, 0, len(base)+2)
	path := ""
	for _, kv := range base {
		switch {
		case strings.HasPrefix(kv, "PATH="):
			path = strings.TrimPrefix(kv, "PATH=")
		case strings.HasPrefix(kv, "CONDA_DEFAULT_ENV="), strings.HasPrefix(kv, "CONDA_PREFIX="):
		default:
			out = append(out, kv)
		}
	}
	if path == "" {
		path = e.BinDir()
	} else {
		path = e.BinDir() + string(os.PathListSeparator) + path
	}
	return append(out, "PATH="+path, "CONDA_DEFAULT_ENV="+e.Name, "CONDA_PREFIX="+e.Prefix)
}
