package metrics

import (
	"github.com/cloudkiln/kiln/internal/provision"
)

// Observer mirrors provisioning events into the registry. It is meant to be
// chained in front of another observer so logging keeps working.
type Observer struct {
	next provision.Observer
}

// NewObserver wraps next with metric recording. A nil next is replaced with
// the no-op observer.
func NewObserver(next provision.Observer) *Observer {
	if next == nil {
		next = provision.NopObserver{}
	}
	return &Observer{next: next}
}

func (o *Observer) Event(event provision.Event) {
	resourceEventsTotal.WithLabelValues(string(event.Type)).Inc()
	o.next.Event(event)
}

func (o *Observer) Progress(phase string, current, total int) {
	if phase == "converge" {
		resourcesDesired.Set(float64(total))
		resourcesApplied.Set(float64(current))
	}
	o.next.Progress(phase, current, total)
}
