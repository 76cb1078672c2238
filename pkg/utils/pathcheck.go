package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// System directories no step may touch regardless of other rules.
var forbiddenRoots = []string{
	"/System", "/Library", "/usr", "/bin", "/sbin", "/etc", "/var", "/private",
}

// ValidatePath resolves path and checks it against the access policy:
// anywhere under the user home (when allowHome) or under the sandbox is
// allowed, system directories and the filesystem root are always rejected.
// Returns the resolved absolute path.
func ValidatePath(path string, sandboxDir string, allowHome bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}

	expanded := ExpandHome(path)
	resolved, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	resolved = filepath.Clean(resolved)

	if allowHome {
		if home, err := os.UserHomeDir(); err == nil && isWithin(resolved, home) {
			return resolved, nil
		}
	}

	if sandboxDir != "" {
		sandbox, err := filepath.Abs(ExpandHome(sandboxDir))
		if err == nil && isWithin(resolved, sandbox) {
			return resolved, nil
		}
	}

	for _, root := range forbiddenRoots {
		if isWithin(resolved, root) {
			return "", fmt.Errorf("access to system directory %s is not allowed", root)
		}
	}
	if resolved == "/" {
		return "", fmt.Errorf("access to filesystem root is not allowed")
	}

	return "", fmt.Errorf("path %s is not in the allowed range", resolved)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func isWithin(path string, root string) bool {
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
