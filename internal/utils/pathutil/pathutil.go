package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a leading "~" to the current user's home directory,
// so config values like "~/.kousei/models" work the same as absolute paths.
// Paths without the tilde prefix come back unchanged.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
