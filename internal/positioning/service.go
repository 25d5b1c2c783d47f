// ============================================================================
// Pacemaker Positioning Service Interface
// ============================================================================
//
// Package: internal/positioning
// File: service.go
// Purpose: Defines the contract the run controller consumes for position fixes.
//
// Motivation:
//   The controller must not care where samples come from. A device receiver,
//   a recorded GPX file replayed at speed, or a synthetic route all provide
//   the same five operations.
//
// ============================================================================

package positioning

import (
	"context"
	"errors"

	"github.com/ChuLiYu/pacemaker/pkg/types"
)

// ErrNoFix is returned when no position is available right now.
var ErrNoFix = errors.New("positioning: no fix available")

// Permissions is the outcome of a permission request. Background is never
// granted without Foreground.
type Permissions struct {
	Foreground bool `json:"foreground"`
	Background bool `json:"background"`
}

// Service defines the positioning collaborator.
type Service interface {
	// RequestPermissions asks for foreground and background location access.
	RequestPermissions(ctx context.Context) (Permissions, error)

	// CurrentFix returns a single fix, or ErrNoFix.
	CurrentFix(ctx context.Context) (*types.PositionSample, error)

	// StartStream begins delivering samples. Calling it while already
	// streaming returns the same channel. The channel is closed when the
	// stream stops or runs out of samples.
	StartStream(ctx context.Context) (<-chan types.PositionSample, error)

	// StopStream stops delivering samples. Stopping a stopped stream is a no-op.
	StopStream() error

	// DrainBuffered returns samples captured while the consumer was
	// suspended, in capture order, and clears them.
	DrainBuffered(ctx context.Context) ([]types.PositionSample, error)
}

// Suspender is implemented by services that can simulate the host process
// moving to the background: samples are buffered instead of delivered until
// Foreground is called.
type Suspender interface {
	Suspend()
	Foreground()
}
