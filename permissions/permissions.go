// Package permissions asks for the device access posecam needs: capturing from the camera and
// writing recordings to the media library.
package permissions

import (
	"context"
	"strings"
)

// Status is the answer to a permission request.
type Status int

// The possible answers. Undetermined means the request was never answered.
const (
	Undetermined Status = iota
	Granted
	Denied
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Undetermined:
		fallthrough
	default:
		return "undetermined"
	}
}

// Requester asks for the two permissions. Each call blocks until answered or ctx is done.
type Requester interface {
	RequestCamera(ctx context.Context) (Status, error)
	RequestMediaLibrary(ctx context.Context) (Status, error)
}

// Static answers every request with fixed statuses.
type Static struct {
	Camera       Status
	MediaLibrary Status
}

// GrantAll is a Static requester that grants everything.
var GrantAll = Static{Camera: Granted, MediaLibrary: Granted}

// RequestCamera returns the fixed camera status.
func (s Static) RequestCamera(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Undetermined, err
	}
	return s.Camera, nil
}

// RequestMediaLibrary returns the fixed media library status.
func (s Static) RequestMediaLibrary(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Undetermined, err
	}
	return s.MediaLibrary, nil
}

// FilesystemRequester derives permissions from what the process may access: the camera source
// must be readable and the media directory writable.
type FilesystemRequester struct {
	CameraSource string
	MediaDir     string
}

// NewFilesystemRequester returns a FilesystemRequester for the given camera source and recording
// directory.
func NewFilesystemRequester(cameraSource, mediaDir string) *FilesystemRequester {
	return &FilesystemRequester{CameraSource: cameraSource, MediaDir: mediaDir}
}

// RequestCamera grants access when the camera source is readable. URLs and device names that are
// not filesystem paths, such as avfoundation indices, are always granted.
func (r *FilesystemRequester) RequestCamera(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Undetermined, err
	}
	if !isPath(r.CameraSource) {
		return Granted, nil
	}
	if canRead(r.CameraSource) {
		return Granted, nil
	}
	return Denied, nil
}

// RequestMediaLibrary grants access when the media directory exists, or can be created, and is
// writable.
func (r *FilesystemRequester) RequestMediaLibrary(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Undetermined, err
	}
	if r.MediaDir == "" {
		return Denied, nil
	}
	if canWriteDir(r.MediaDir) {
		return Granted, nil
	}
	return Denied, nil
}

func isPath(source string) bool {
	if source == "" || strings.Contains(source, "://") {
		return false
	}
	return strings.HasPrefix(source, "/") || strings.HasPrefix(source, ".")
}
