package hooks

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

const LandingPage = "introduction.md"

// PlaceLanding copies introduction.md from scriptsDir into notebookDir. It returns false when
// there is no landing page to place. An identical existing copy is left untouched.
func PlaceLanding(scriptsDir string, notebookDir string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(scriptsDir, LandingPage))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	dst := filepath.Join(notebookDir, LandingPage)
	if current, err := os.ReadFile(dst); err == nil && bytes.Equal(current, data) {
		return true, nil
	}
	if err := os.MkdirAll(notebookDir, 0755); err != nil {
		return false, fmt.Errorf("cannot create %s: %w", notebookDir, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return false, fmt.Errorf("cannot place landing page: %w", err)
	}
	return true, nil
}
