package pulse

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type failingSelector struct {
	failOn int
	calls  int
}

func (s *failingSelector) Select(_ context.Context, option string) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("selector gone")
	}
	return nil
}

func TestPulserSequence(t *testing.T) {
	selector := &Dumb{Name: "test"}
	pulser := NewPulser(selector, "BO", "BI", "None", 0)

	assert.NoError(t, pulser.PushUp(context.Background()))
	assert.Equal(t, []string{"None", "BO", "None"}, selector.Selected)

	selector.Selected = nil
	assert.NoError(t, pulser.PushDown(context.Background()))
	assert.Equal(t, []string{"None", "BI", "None"}, selector.Selected)
}

func TestPulserHoldsForWidth(t *testing.T) {
	selector := &Dumb{Name: "test"}
	width := 10 * time.Millisecond
	pulser := NewPulser(selector, "BO", "BI", "None", width)

	start := time.Now()
	assert.NoError(t, pulser.PushUp(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), width)
}

func TestPulserSurfacesStepError(t *testing.T) {
	for failOn, step := range map[int]string{1: "neutral reset", 2: "assert", 3: "release"} {
		selector := &failingSelector{failOn: failOn}
		pulser := NewPulser(selector, "BO", "BI", "None", 0)

		err := pulser.PushDown(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), step)
	}
}

type fakePin struct {
	high bool
}

func (p *fakePin) High() error {
	p.high = true
	return nil
}

func (p *fakePin) Low() error {
	p.high = false
	return nil
}

func TestWiredSelector(t *testing.T) {
	up := &fakePin{}
	down := &fakePin{}
	wired := &Wired{
		Pins:    map[string]SetPin{"BO": up, "BI": down},
		Neutral: "None",
	}

	assert.NoError(t, wired.Select(context.Background(), "BO"))
	assert.True(t, up.high)

	assert.NoError(t, wired.Select(context.Background(), "None"))
	assert.False(t, up.high)
	assert.False(t, down.high)

	assert.Error(t, wired.Select(context.Background(), "AO"))
}

func TestWiredSelectorNormalClosed(t *testing.T) {
	pin := &fakePin{}
	wired := &Wired{
		Pins:         map[string]SetPin{"BO": pin},
		Neutral:      "None",
		NormalClosed: true,
	}

	assert.NoError(t, wired.Select(context.Background(), "BO"))
	assert.False(t, pin.high)

	assert.NoError(t, wired.Select(context.Background(), "None"))
	assert.True(t, pin.high)
}
