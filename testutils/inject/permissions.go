package inject

import (
	"context"

	"go.viam.com/posecam/permissions"
)

// Permissions is an injected permissions requester.
type Permissions struct {
	permissions.Requester
	RequestCameraFunc       func(ctx context.Context) (permissions.Status, error)
	RequestMediaLibraryFunc func(ctx context.Context) (permissions.Status, error)
}

// RequestCamera calls the injected RequestCamera or the real version.
func (p *Permissions) RequestCamera(ctx context.Context) (permissions.Status, error) {
	if p.RequestCameraFunc == nil {
		return p.Requester.RequestCamera(ctx)
	}
	return p.RequestCameraFunc(ctx)
}

// RequestMediaLibrary calls the injected RequestMediaLibrary or the real version.
func (p *Permissions) RequestMediaLibrary(ctx context.Context) (permissions.Status, error) {
	if p.RequestMediaLibraryFunc == nil {
		return p.Requester.RequestMediaLibrary(ctx)
	}
	return p.RequestMediaLibraryFunc(ctx)
}
