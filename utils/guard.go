package utils

// Guard undoes partial construction when a constructor bails out early. Register a cleanup for
// each resource as it is acquired, defer OnFail, and call Success once everything is in place:
//
//	guard := NewGuard(model.Delete)
//	defer guard.OnFail()
//	...
//	guard.Add(interpreter.Delete)
//	...
//	guard.Success()
type Guard struct {
	cleanups []func()
	success  bool
}

// NewGuard returns a Guard holding the given cleanups.
func NewGuard(cleanups ...func()) *Guard {
	return &Guard{cleanups: cleanups}
}

// Add registers another cleanup. Cleanups run in reverse order of registration.
func (g *Guard) Add(cleanup func()) {
	g.cleanups = append(g.cleanups, cleanup)
}

// OnFail runs the cleanups unless Success was called.
func (g *Guard) OnFail() {
	if g.success {
		return
	}
	for i := len(g.cleanups) - 1; i >= 0; i-- {
		g.cleanups[i]()
	}
}

// Success keeps the resources.
func (g *Guard) Success() {
	g.success = true
}
