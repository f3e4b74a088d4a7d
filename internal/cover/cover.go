package cover

import (
	"context"
)

const (
	CoverOpenState    = "open"
	CoverClosedState  = "closed"
	CoverOpeningState = "opening"
	CoverClosingState = "closing"
)

// Update is a read-only snapshot of a cover published to observers.
// TiltPosition is nil for covers without tilt support.
type Update struct {
	State        string
	Position     int
	TiltPosition *int
}

type UpdateHandler func(u Update)

// Cover positions are expressed as percent open: 100 is fully open,
// 0 is fully closed.
type Cover interface {
	Name() string
	FullOpenPosition() int
	FullClosePosition() int

	Position() int
	State() string
	SupportsTilt() bool
	TiltPosition() (int, bool)

	OnUpdate(h UpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, position int) error
	SetTiltPosition(ctx context.Context, position int) error
}

// Restorable is a cover without position feedback. Its estimated position
// can be seeded once from persisted state.
type Restorable interface {
	Cover

	ResetPosition(position int) error
	ResetTiltPosition(position int) error
}
