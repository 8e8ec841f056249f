//go:build unix

package permissions

import (
	"os"

	"golang.org/x/sys/unix"
)

func canRead(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}

func canWriteDir(dir string) bool {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false
	}
	return unix.Access(dir, unix.W_OK|unix.X_OK) == nil
}
