package pulse

import (
	"context"

	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
	"github.com/warthog618/go-gpiocdev"
)

type SetPin interface {
	High() error
	Low() error
}

type Mcp23017Pin struct {
	device *mcp23017.Device
	pin    uint8
}

func NewMcp23017Pin(device *mcp23017.Device, pin uint8) (p *Mcp23017Pin, err error) {
	p = &Mcp23017Pin{}
	p.device = device
	p.pin = pin
	err = p.device.PinMode(pin, mcp23017.OUTPUT)
	return p, err
}

func (m *Mcp23017Pin) High() error {
	return m.device.DigitalWrite(m.pin, mcp23017.HIGH)
}

func (m *Mcp23017Pin) Low() error {
	return m.device.DigitalWrite(m.pin, mcp23017.LOW)
}

type GpiodPin struct {
	line *gpiocdev.Line
}

func NewGpiodPin(chip string, offset int) (*GpiodPin, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, errors.Wrapf(err, "gpiod: request %s:%d failed", chip, offset)
	}
	return &GpiodPin{line: line}, nil
}

func (g *GpiodPin) High() error {
	return g.line.SetValue(1)
}

func (g *GpiodPin) Low() error {
	return g.line.SetValue(0)
}

func (g *GpiodPin) Close() error {
	return g.line.Close()
}

// Wired drives selector options through output pins: each non-neutral
// option maps to one pin, the neutral option releases all of them.
type Wired struct {
	Pins         map[string]SetPin
	Neutral      string
	NormalClosed bool
}

func (w *Wired) Select(_ context.Context, option string) error {
	if option == w.Neutral {
		for name, pin := range w.Pins {
			if err := w.release(pin); err != nil {
				return errors.Wrapf(err, "wired: release %s failed", name)
			}
		}
		return nil
	}

	pin, ok := w.Pins[option]
	if !ok {
		return errors.Errorf("wired: %s is not a wired option", option)
	}

	if err := w.assert(pin); err != nil {
		return errors.Wrapf(err, "wired: assert %s failed", option)
	}

	return nil
}

func (w *Wired) assert(pin SetPin) error {
	if w.NormalClosed {
		return pin.Low()
	}
	return pin.High()
}

func (w *Wired) release(pin SetPin) error {
	if w.NormalClosed {
		return pin.High()
	}
	return pin.Low()
}
