// Package travel estimates the position of a motorized cover from elapsed
// time. There is no position feedback: the estimate is derived from the
// configured full-travel durations and the wall clock.
package travel

import (
	"time"
)

type Direction int

const (
	DirectionNone Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "none"
	}
}

const (
	// PositionUp is the extreme reached by traveling up (fully retracted).
	PositionUp = 0.0
	// PositionDown is the extreme reached by traveling down (fully extended).
	PositionDown = 100.0
)

// Calculator tracks a single motion axis. Position is computed on demand
// from the travel start time, never accumulated tick by tick.
//
// A Calculator is not safe for concurrent use; the owning controller
// serializes access.
type Calculator struct {
	timeUp   time.Duration
	timeDown time.Duration

	now func() time.Time

	position      float64
	direction     Direction
	startTime     time.Time
	startPosition float64
	target        float64
	hasTarget     bool
}

// NewCalculator returns an idle calculator at position 0 (fully up).
func NewCalculator(timeUp, timeDown time.Duration) *Calculator {
	return &Calculator{
		timeUp:   timeUp,
		timeDown: timeDown,
		now:      time.Now,
	}
}

// SetClock replaces the wall clock source. Used by tests.
func (c *Calculator) SetClock(now func() time.Time) {
	c.now = now
}

// SetPosition seeds the estimate while idle. Ignored while traveling.
func (c *Calculator) SetPosition(position float64) {
	if c.IsTraveling() {
		return
	}
	c.position = clamp(position, PositionUp, PositionDown)
}

// StartTravelUp begins travel toward the up extreme (0).
func (c *Calculator) StartTravelUp() {
	c.startTravel(DirectionUp)
}

// StartTravelDown begins travel toward the down extreme (100).
func (c *Calculator) StartTravelDown() {
	c.startTravel(DirectionDown)
}

// StartTravel begins travel toward an explicit target position. The
// direction follows from comparing the target to the current position;
// a target equal to the current position is a no-op.
func (c *Calculator) StartTravel(target float64) {
	target = clamp(target, PositionUp, PositionDown)
	current := c.CurrentPosition()

	switch {
	case target < current:
		c.startTravel(DirectionUp)
	case target > current:
		c.startTravel(DirectionDown)
	default:
		return
	}

	c.target = target
	c.hasTarget = true
}

func (c *Calculator) startTravel(direction Direction) {
	c.position = c.CurrentPosition()
	c.direction = direction
	c.startTime = c.now()
	c.startPosition = c.position
	c.hasTarget = false
}

// Stop freezes the position at its current computed value and clears the
// travel state. Calling Stop on an idle calculator is a no-op.
func (c *Calculator) Stop() {
	c.position = c.CurrentPosition()
	c.direction = DirectionNone
	c.startTime = time.Time{}
	c.hasTarget = false
}

// CurrentPosition returns the position estimate, linearly interpolated
// from elapsed travel time while moving.
func (c *Calculator) CurrentPosition() float64 {
	if !c.IsTraveling() {
		return c.position
	}

	elapsed := c.now().Sub(c.startTime)
	if elapsed < 0 {
		// Clock jumped backwards. Hold the start position until real
		// time catches up rather than running the estimate away.
		elapsed = 0
	}

	full := c.travelTime(c.direction)

	var fraction float64
	if full <= 0 {
		fraction = 1
	} else {
		fraction = float64(elapsed) / float64(full)
		if fraction > 1 {
			fraction = 1
		}
	}

	delta := fraction * (PositionDown - PositionUp)

	var position float64
	if c.direction == DirectionDown {
		position = c.startPosition + delta
	} else {
		position = c.startPosition - delta
	}

	position = clamp(position, PositionUp, PositionDown)

	if c.hasTarget {
		if c.direction == DirectionDown && position > c.target {
			position = c.target
		}
		if c.direction == DirectionUp && position < c.target {
			position = c.target
		}
	}

	return position
}

func (c *Calculator) IsTraveling() bool {
	return c.direction != DirectionNone
}

// Direction reports the active travel direction, DirectionNone when idle.
func (c *Calculator) Direction() Direction {
	return c.direction
}

// PositionReached reports whether travel has logically completed: the
// estimate has hit the target, or the extreme in the travel direction,
// even if Stop has not been called yet. An idle calculator has always
// reached its position.
func (c *Calculator) PositionReached() bool {
	if !c.IsTraveling() {
		return true
	}

	current := c.CurrentPosition()
	if c.hasTarget {
		return current == c.target
	}
	if c.direction == DirectionDown {
		return current == PositionDown
	}
	return current == PositionUp
}

func (c *Calculator) IsOpen() bool {
	return c.CurrentPosition() == PositionUp
}

func (c *Calculator) IsClosed() bool {
	return c.CurrentPosition() == PositionDown
}

func (c *Calculator) travelTime(direction Direction) time.Duration {
	if direction == DirectionUp {
		return c.timeUp
	}
	return c.timeDown
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
