// Package timebased implements a cover whose position is estimated from
// elapsed travel time and whose motor is driven by momentary selector
// pulses. Physical switch presses observed through a listener are
// mirrored into the estimate.
package timebased

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jkaflik/cover2mqtt/internal/cover"
	"github.com/jkaflik/cover2mqtt/internal/cover/pulse"
	"github.com/jkaflik/cover2mqtt/internal/cover/travel"
)

const DefaultTickInterval = 100 * time.Millisecond

type toggleDirection int

const (
	toggleUp toggleDirection = iota
	toggleDown
)

func (d toggleDirection) opposite() toggleDirection {
	if d == toggleUp {
		return toggleDown
	}
	return toggleUp
}

// Cover estimates travel (and optionally tilt) by time. The calculators
// hold positions in the internal convention, 0 up/open and 100
// down/closed; the public surface speaks percent open.
//
// The tick loop and external event callbacks both mutate estimator
// state; a single mutex serializes them with user commands.
type Cover struct {
	name   string
	travel *travel.Calculator
	tilt   *travel.Calculator
	pulser *pulse.Pulser

	tickInterval time.Duration

	mu sync.Mutex
	// lastToggle is the direction of the last pulse sent. The actuator
	// has no stop signal: stop is simulated by pulsing the opposite
	// direction, which this remembers.
	lastToggle    toggleDirection
	cancelTick    context.CancelFunc
	updateHandler cover.UpdateHandler
}

// NewCover builds a time-based cover. tilt may be nil for covers
// without a tilt axis.
func NewCover(name string, travelCalc, tiltCalc *travel.Calculator, pulser *pulse.Pulser) *Cover {
	return &Cover{
		name:         name,
		travel:       travelCalc,
		tilt:         tiltCalc,
		pulser:       pulser,
		tickInterval: DefaultTickInterval,
	}
}

// SetTickInterval overrides the refresh period. Used by tests.
func (c *Cover) SetTickInterval(interval time.Duration) {
	c.tickInterval = interval
}

func (c *Cover) Name() string {
	return c.name
}

func (c *Cover) FullOpenPosition() int {
	return 100
}

func (c *Cover) FullClosePosition() int {
	return 0
}

func (c *Cover) SupportsTilt() bool {
	return c.tilt != nil
}

func (c *Cover) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return positionFromInternal(c.travel.CurrentPosition())
}

func (c *Cover) TiltPosition() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tilt == nil {
		return 0, false
	}
	return positionFromInternal(c.tilt.CurrentPosition()), true
}

func (c *Cover) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stateLocked()
}

func (c *Cover) OnUpdate(h cover.UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.updateHandler = h
}

// ResetPosition seeds the travel estimate from persisted state, as
// percent open. Ignored while traveling.
func (c *Cover) ResetPosition(position int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logrus.Debugf("%s: reset position to %d", c.name, position)
	c.travel.SetPosition(internalFromPosition(position))
	return nil
}

func (c *Cover) ResetTiltPosition(position int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tilt == nil {
		return errors.Errorf("%s: tilt is not supported", c.name)
	}

	logrus.Debugf("%s: reset tilt position to %d", c.name, position)
	c.tilt.SetPosition(internalFromPosition(position))
	return nil
}

func (c *Cover) Open(ctx context.Context) error {
	logrus.Infof("%s: open", c.name)

	c.mu.Lock()
	if c.travel.IsOpen() {
		c.mu.Unlock()
		return nil
	}

	c.travel.StartTravelUp()
	c.tiltBeforeTravelLocked(travel.DirectionUp)
	c.startTickerLocked()
	c.lastToggle = toggleUp
	u := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(u)
	return c.pulser.PushUp(ctx)
}

func (c *Cover) Close(ctx context.Context) error {
	logrus.Infof("%s: close", c.name)

	c.mu.Lock()
	if c.travel.IsClosed() {
		c.mu.Unlock()
		return nil
	}

	c.travel.StartTravelDown()
	c.tiltBeforeTravelLocked(travel.DirectionDown)
	c.startTickerLocked()
	c.lastToggle = toggleDown
	u := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(u)
	return c.pulser.PushDown(ctx)
}

// Stop freezes the estimate and pulses the direction opposite to the
// last toggle, which halts the motor.
func (c *Cover) Stop(ctx context.Context) error {
	logrus.Infof("%s: stop", c.name)

	c.mu.Lock()
	c.handleStopLocked()
	dir := c.lastToggle.opposite()
	c.lastToggle = dir
	u := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(u)
	return c.pushToggle(ctx, dir)
}

func (c *Cover) SetPosition(ctx context.Context, position int) error {
	logrus.Infof("%s: set position to %d", c.name, position)

	c.mu.Lock()
	current := positionFromInternal(c.travel.CurrentPosition())

	var direction travel.Direction
	switch {
	case position < current:
		direction = travel.DirectionDown
	case position > current:
		direction = travel.DirectionUp
	default:
		c.mu.Unlock()
		logrus.Debugf("%s: already on position %d", c.name, position)
		return nil
	}

	c.travel.StartTravel(internalFromPosition(position))
	c.tiltBeforeTravelLocked(direction)
	c.startTickerLocked()
	dir := toggleFromDirection(direction)
	c.lastToggle = dir
	u := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(u)
	return c.pushToggle(ctx, dir)
}

func (c *Cover) SetTiltPosition(ctx context.Context, position int) error {
	logrus.Infof("%s: set tilt position to %d", c.name, position)

	c.mu.Lock()
	if c.tilt == nil {
		c.mu.Unlock()
		return errors.Errorf("%s: tilt is not supported", c.name)
	}

	current := positionFromInternal(c.tilt.CurrentPosition())

	var direction travel.Direction
	switch {
	case position < current:
		direction = travel.DirectionDown
	case position > current:
		direction = travel.DirectionUp
	default:
		c.mu.Unlock()
		return nil
	}

	c.tilt.StartTravel(internalFromPosition(position))
	c.startTickerLocked()
	dir := toggleFromDirection(direction)
	c.lastToggle = dir
	u := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(u)
	return c.pushToggle(ctx, dir)
}

// OnExternalOn mirrors a physical "close" press: a press while closing
// stops the motion, a press from open or opening starts closing. The
// switch already drove the motor, so no pulse is sent.
func (c *Cover) OnExternalOn() {
	c.mu.Lock()
	switch c.stateLocked() {
	case cover.CoverClosingState:
		logrus.Debugf("%s: external on stops closing", c.name)
		c.handleStopLocked()
	case cover.CoverOpeningState, cover.CoverOpenState:
		logrus.Debugf("%s: external on starts closing", c.name)
		c.travel.StartTravelDown()
		c.tiltBeforeTravelLocked(travel.DirectionDown)
		c.startTickerLocked()
	}
	u := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(u)
}

// OnExternalOff mirrors a physical "open" press.
func (c *Cover) OnExternalOff() {
	c.mu.Lock()
	state := c.stateLocked()
	switch {
	case state == cover.CoverOpeningState:
		logrus.Debugf("%s: external off stops opening", c.name)
		c.handleStopLocked()
	case state == cover.CoverClosingState || state == cover.CoverClosedState || !c.travel.IsOpen():
		logrus.Debugf("%s: external off starts opening", c.name)
		c.travel.StartTravelUp()
		c.tiltBeforeTravelLocked(travel.DirectionUp)
		c.startTickerLocked()
	}
	u := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(u)
}

// handleStopLocked freezes the estimators and cancels the tick loop
// without touching the actuator.
func (c *Cover) handleStopLocked() {
	if c.travel.IsTraveling() {
		c.travel.Stop()
	}
	if c.tilt != nil && c.tilt.IsTraveling() {
		c.tilt.Stop()
	}
	c.stopTickerLocked()
}

// tiltBeforeTravelLocked snaps the tilt estimate to the extreme implied
// by the travel direction. The slats flip before the cover itself
// meaningfully moves, so this is a direct set, not a timed travel.
func (c *Cover) tiltBeforeTravelLocked(direction travel.Direction) {
	if c.tilt == nil {
		return
	}

	if direction == travel.DirectionUp {
		c.tilt.SetPosition(travel.PositionUp)
	} else {
		c.tilt.SetPosition(travel.PositionDown)
	}
}

func (c *Cover) startTickerLocked() {
	if c.cancelTick != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelTick = cancel
	go c.tickLoop(ctx)
}

func (c *Cover) stopTickerLocked() {
	if c.cancelTick == nil {
		return
	}

	c.cancelTick()
	c.cancelTick = nil
}

func (c *Cover) tickLoop(ctx context.Context) {
	logrus.Debugf("%s: tick loop started", c.name)
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Debugf("%s: tick loop cancelled", c.name)
			return
		case <-ticker.C:
			if c.tick(ctx) {
				logrus.Debugf("%s: tick loop finished", c.name)
				return
			}
		}
	}
}

// tick publishes the current estimate and, when all configured axes
// have reached their target, freezes them and pulses the stop exactly
// once, asynchronously.
func (c *Cover) tick(ctx context.Context) (done bool) {
	c.mu.Lock()
	if ctx.Err() != nil {
		// Cancelled between the ticker firing and the lock; a command
		// already took over this travel episode.
		c.mu.Unlock()
		return true
	}

	reached := c.positionReachedLocked()
	var stopDir toggleDirection
	if reached {
		c.travel.Stop()
		if c.tilt != nil {
			c.tilt.Stop()
		}
		c.stopTickerLocked()
		stopDir = c.lastToggle.opposite()
		c.lastToggle = stopDir
	}
	u := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(u)

	if reached {
		go func() {
			if err := c.pushToggle(context.Background(), stopDir); err != nil {
				logrus.Errorf("%s: auto stop pulse failed: %s", c.name, err)
			}
		}()
	}

	return reached
}

func (c *Cover) positionReachedLocked() bool {
	return c.travel.PositionReached() && (c.tilt == nil || c.tilt.PositionReached())
}

func (c *Cover) stateLocked() string {
	if c.travelingInLocked(travel.DirectionUp) {
		return cover.CoverOpeningState
	}
	if c.travelingInLocked(travel.DirectionDown) {
		return cover.CoverClosingState
	}
	if c.travel.IsClosed() {
		return cover.CoverClosedState
	}
	return cover.CoverOpenState
}

func (c *Cover) travelingInLocked(direction travel.Direction) bool {
	if c.travel.IsTraveling() && c.travel.Direction() == direction {
		return true
	}
	return c.tilt != nil && c.tilt.IsTraveling() && c.tilt.Direction() == direction
}

func (c *Cover) snapshotLocked() cover.Update {
	u := cover.Update{
		State:    c.stateLocked(),
		Position: positionFromInternal(c.travel.CurrentPosition()),
	}
	if c.tilt != nil {
		tilt := positionFromInternal(c.tilt.CurrentPosition())
		u.TiltPosition = &tilt
	}
	return u
}

func (c *Cover) publish(u cover.Update) {
	c.mu.Lock()
	handler := c.updateHandler
	c.mu.Unlock()

	if handler != nil {
		handler(u)
	}
}

func (c *Cover) pushToggle(ctx context.Context, dir toggleDirection) error {
	if dir == toggleUp {
		return c.pulser.PushUp(ctx)
	}
	return c.pulser.PushDown(ctx)
}

func toggleFromDirection(direction travel.Direction) toggleDirection {
	if direction == travel.DirectionUp {
		return toggleUp
	}
	return toggleDown
}

func positionFromInternal(p float64) int {
	return 100 - int(math.Round(p))
}

func internalFromPosition(p int) float64 {
	return float64(100 - p)
}
