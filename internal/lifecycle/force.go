package lifecycle

import "sync"

// ForceAuthorization is the process-wide override that lets a single push
// use force. It exists for audit: the reason travels with the grant.
type ForceAuthorization struct {
	Granted bool
	Reason  string
}

var (
	forceMu    sync.Mutex
	forceState ForceAuthorization
)

// CurrentForceAuthorization returns the ambient authorization state.
func CurrentForceAuthorization() ForceAuthorization {
	forceMu.Lock()
	defer forceMu.Unlock()
	return forceState
}

// authorizeForce grants force authorization and returns a restore func
// that reinstates the exact prior state. The grant is process-wide, so
// callers must hold it only for the duration of a single push call and
// must run restore on every exit path.
func authorizeForce(reason string) (restore func()) {
	forceMu.Lock()
	prior := forceState
	forceState = ForceAuthorization{Granted: true, Reason: reason}
	forceMu.Unlock()
	return func() {
		forceMu.Lock()
		forceState = prior
		forceMu.Unlock()
	}
}
