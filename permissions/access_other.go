//go:build !unix

package permissions

import (
	"os"
	"path/filepath"
)

func canRead(path string) bool {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return false
	}
	return f.Close() == nil
}

func canWriteDir(dir string) bool {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, ".posecam-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return false
	}
	return os.Remove(filepath.Clean(name)) == nil
}
