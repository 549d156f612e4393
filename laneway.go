// Package laneway provides a minimal public API for embedding the WU
// coordinator in custom orchestration.
//
// Most automation should shell out to the lw binary; this package exports
// only the types and constructors needed by Go programs that want to run
// lifecycle operations in-process.
package laneway

import (
	"github.com/steveyegge/laneway/internal/lifecycle"
	"github.com/steveyegge/laneway/internal/resolver"
	"github.com/steveyegge/laneway/internal/types"
)

// Core types for working with WUs
type (
	Record  = types.Record
	Lane    = types.Lane
	Status  = types.Status
	Context = types.Context
)

// Status constants
const (
	StatusReady      = types.StatusReady
	StatusInProgress = types.StatusInProgress
	StatusBlocked    = types.StatusBlocked
	StatusDone       = types.StatusDone
)

// Lifecycle entry points
type (
	Manager       = lifecycle.Manager
	ManagerOption = lifecycle.Option
)

var (
	NewManager  = lifecycle.NewManager
	NewResolver = resolver.New
	WithRemote  = lifecycle.WithRemote
	WithStore   = lifecycle.WithStore
)

// ErrWuNotFound is returned when a WU id resolves to no record.
var ErrWuNotFound = types.ErrWuNotFound
