package listener

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SwitchPosition selects which rocker of a paired physical switch the
// cover listens to.
type SwitchPosition string

const (
	SwitchPositionLeft  SwitchPosition = "left"
	SwitchPositionRight SwitchPosition = "right"
)

// Switch binds one physical paired switch. Each switch exposes four
// press sensors, two per rocker; Inverted swaps which button of the
// rocker counts as "on".
type Switch struct {
	DeviceID string
	Position SwitchPosition
	Inverted bool
}

// NewSwitchListener synthesizes on/off trigger entities for a set of
// paired switches and builds a listener over them. A switch whose
// synthesized ids are malformed is logged and skipped.
func NewSwitchListener(switches []Switch) (*Listener, error) {
	var onIDs, offIDs []string
	for _, sw := range switches {
		onID, offID, err := sw.entityPair()
		if err != nil {
			logrus.Errorf("listener: skipping switch %s: %s", sw.DeviceID, err)
			continue
		}
		onIDs = append(onIDs, onID)
		offIDs = append(offIDs, offID)
	}

	return NewTriggerListener(onIDs, offIDs)
}

func (s Switch) entityPair() (onID, offID string, err error) {
	onID, err = s.entityID(true)
	if err != nil {
		return "", "", err
	}
	offID, err = s.entityID(false)
	if err != nil {
		return "", "", err
	}
	return onID, offID, nil
}

// entityID derives the press sensor id for the on or off action:
// binary_sensor.<device>_<position code><action code>_pressed with
// position code a/b for left/right and action code o for on, i for off,
// swapped when the switch is inverted.
func (s Switch) entityID(on bool) (string, error) {
	var positionCode string
	switch s.Position {
	case SwitchPositionLeft:
		positionCode = "a"
	case SwitchPositionRight:
		positionCode = "b"
	default:
		return "", errors.Errorf("%q is not a valid switch position", s.Position)
	}

	actionCode := "o"
	if on == s.Inverted {
		actionCode = "i"
	}

	id := fmt.Sprintf("binary_sensor.%s_%s%s_pressed", s.DeviceID, positionCode, actionCode)
	if !ValidEntityID(id) {
		return "", errors.Errorf("%q is not a valid entity id", id)
	}

	return id, nil
}
