// Package listener maps state changes of external entities (trigger
// sensors or physical switch buttons) to abstract on/off events for a
// single consumer.
package listener

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StateEvent is one observed state transition of an external entity.
type StateEvent struct {
	EntityID string
	State    string
}

// EventSource delivers state transitions for a set of entities. The
// returned function unsubscribes; it must tolerate being called once.
type EventSource interface {
	SubscribeStates(entityIDs []string, h func(e StateEvent)) (unsubscribe func(), err error)
}

// Listener dispatches on/off callbacks for entity transitions to "on".
// An entity transitioning to any other state is ignored, as is any
// entity outside both sets.
type Listener struct {
	onEntityIDs  map[string]struct{}
	offEntityIDs map[string]struct{}

	unsubscribe     func()
	unsubscribeOnce sync.Once
}

// NewTriggerListener builds a listener from explicit on/off trigger
// entity id sets.
func NewTriggerListener(onEntityIDs, offEntityIDs []string) (*Listener, error) {
	for _, id := range append(append([]string{}, onEntityIDs...), offEntityIDs...) {
		if !ValidEntityID(id) {
			return nil, errors.Errorf("listener: %q is not a valid entity id", id)
		}
	}

	return &Listener{
		onEntityIDs:  toSet(onEntityIDs),
		offEntityIDs: toSet(offEntityIDs),
	}, nil
}

// EntityIDs returns the union of both sets.
func (l *Listener) EntityIDs() []string {
	ids := make([]string, 0, len(l.onEntityIDs)+len(l.offEntityIDs))
	for id := range l.onEntityIDs {
		ids = append(ids, id)
	}
	for id := range l.offEntityIDs {
		if _, ok := l.onEntityIDs[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Attach subscribes to the source and starts dispatching to the given
// callbacks. Attach may be called once per listener.
func (l *Listener) Attach(source EventSource, onEvent, offEvent func()) error {
	unsubscribe, err := source.SubscribeStates(l.EntityIDs(), func(e StateEvent) {
		l.dispatch(e, onEvent, offEvent)
	})
	if err != nil {
		return errors.Wrap(err, "listener: subscribe failed")
	}

	l.unsubscribe = unsubscribe
	return nil
}

// Detach unsubscribes from the source. Safe to call more than once.
func (l *Listener) Detach() {
	if l.unsubscribe == nil {
		return
	}
	l.unsubscribeOnce.Do(l.unsubscribe)
}

func (l *Listener) dispatch(e StateEvent, onEvent, offEvent func()) {
	if e.State != "on" {
		return
	}

	if _, ok := l.onEntityIDs[e.EntityID]; ok {
		logrus.Debugf("listener: %s triggered on event", e.EntityID)
		onEvent()
	}
	if _, ok := l.offEntityIDs[e.EntityID]; ok {
		logrus.Debugf("listener: %s triggered off event", e.EntityID)
		offEvent()
	}
}

// ValidEntityID reports whether id has the <domain>.<object_id> shape.
func ValidEntityID(id string) bool {
	domain, object, found := strings.Cut(id, ".")
	return found && domain != "" && object != "" && !strings.Contains(object, ".")
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
