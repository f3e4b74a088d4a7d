// Package pulse emulates a momentary switch press against a two-state
// selector actuator: neutral, then the directional option, then neutral
// again. The actuator is stateful, so the three steps are issued strictly
// in order and each is awaited before the next.
package pulse

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Selector asserts a named option on an external selector entity.
type Selector interface {
	Select(ctx context.Context, option string) error
}

type Pulser struct {
	selector Selector

	upOption      string
	downOption    string
	neutralOption string

	// width is how long the directional option is held before the
	// neutral reset. Pulse width matters to the actuator.
	width time.Duration
}

func NewPulser(selector Selector, upOption, downOption, neutralOption string, width time.Duration) *Pulser {
	return &Pulser{
		selector:      selector,
		upOption:      upOption,
		downOption:    downOption,
		neutralOption: neutralOption,
		width:         width,
	}
}

// PushUp pulses the option bound to upward motion.
func (p *Pulser) PushUp(ctx context.Context) error {
	return p.push(ctx, p.upOption)
}

// PushDown pulses the option bound to downward motion.
func (p *Pulser) PushDown(ctx context.Context) error {
	return p.push(ctx, p.downOption)
}

func (p *Pulser) push(ctx context.Context, option string) error {
	if err := p.selector.Select(ctx, p.neutralOption); err != nil {
		return errors.Wrapf(err, "pulse %s: neutral reset failed", option)
	}
	if err := p.selector.Select(ctx, option); err != nil {
		return errors.Wrapf(err, "pulse %s: assert failed", option)
	}

	p.hold(ctx)

	if err := p.selector.Select(ctx, p.neutralOption); err != nil {
		return errors.Wrapf(err, "pulse %s: release failed", option)
	}

	return nil
}

func (p *Pulser) hold(ctx context.Context) {
	if p.width <= 0 {
		return
	}

	after := time.After(p.width)
	select {
	case <-after:
	case <-ctx.Done():
		// fall through to the neutral release anyway
	}
}

// Dumb is a selector that only logs. Useful for dry runs and tests.
type Dumb struct {
	Name string

	Selected []string
}

func (d *Dumb) Select(_ context.Context, option string) error {
	logrus.Warnf("%s: dumb selector set to %s", d.Name, option)
	d.Selected = append(d.Selected, option)
	return nil
}
