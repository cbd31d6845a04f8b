package provision

import (
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
)

type recordedEvents struct {
	events   []Event
	progress int
}

func (r *recordedEvents) Event(e Event) { r.events = append(r.events, e) }

func (r *recordedEvents) Progress(string, int, int) { r.progress++ }

func TestMultiObserverFansOut(t *testing.T) {
	a := &recordedEvents{}
	b := &recordedEvents{}
	m := MultiObserver{a, b}

	m.Event(Event{Type: EventResourceReady, Resource: "net", Message: "ready"})
	m.Progress("converge", 1, 2)

	for _, o := range []*recordedEvents{a, b} {
		assert.Len(t, o.events, 1)
		assert.Equal(t, EventResourceReady, o.events[0].Type)
		assert.Equal(t, 1, o.progress)
	}
}

func TestLogObserverCarriesEventFields(t *testing.T) {
	var lines []string
	log := funcr.NewJSON(func(obj string) { lines = append(lines, obj) }, funcr.Options{})

	o := NewLogObserver(log)
	o.Event(Event{
		Type:     EventResourceCreated,
		Resource: "net",
		Message:  "created",
		Fields:   map[string]string{"handle": "Network-0001"},
	})

	if assert.Len(t, lines, 1) {
		assert.Contains(t, lines[0], `"msg":"created"`)
		assert.Contains(t, lines[0], `"type":"resource.created"`)
		assert.Contains(t, lines[0], `"resource":"net"`)
		assert.Contains(t, lines[0], `"handle":"Network-0001"`)
	}
}
