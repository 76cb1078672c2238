package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathHomeAllowed(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	resolved, err := ValidatePath(filepath.Join(home, "Documents", "report.txt"), "", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Documents", "report.txt"), resolved)
}

func TestValidatePathTildeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	resolved, err := ValidatePath("~/Downloads/file.pdf", "", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Downloads", "file.pdf"), resolved)
}

func TestValidatePathSandboxAllowed(t *testing.T) {
	sandbox := t.TempDir()

	resolved, err := ValidatePath(filepath.Join(sandbox, "downloads", "a.png"), sandbox, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sandbox, "downloads", "a.png"), resolved)
}

func TestValidatePathRejections(t *testing.T) {
	sandbox := t.TempDir()

	tests := []struct {
		name      string
		path      string
		allowHome bool
		wantErr   string
	}{
		{name: "system directory", path: "/etc/passwd", allowHome: true, wantErr: "system directory"},
		{name: "usr tree", path: "/usr/local/bin/tool", allowHome: true, wantErr: "system directory"},
		{name: "filesystem root", path: "/", allowHome: true, wantErr: "not allowed"},
		{name: "outside all ranges", path: "/opt/data/x", allowHome: false, wantErr: "allowed range"},
		{name: "empty path", path: "", allowHome: true, wantErr: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidatePath(tt.path, sandbox, tt.allowHome)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidatePathHomeDisallowedWithoutFlag(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	_, err = ValidatePath(filepath.Join(home, "Documents", "x.txt"), "", false)
	assert.Error(t, err)
}
