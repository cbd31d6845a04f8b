package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloudkiln/kiln/internal/provision"
)

// ConsoleObserver prints provisioning events as they happen, one line each.
type ConsoleObserver struct {
	mu      sync.Mutex
	w       io.Writer
	current int
	total   int
}

func NewConsoleObserver(w io.Writer) *ConsoleObserver {
	return &ConsoleObserver{w: w}
}

func (o *ConsoleObserver) Event(event provision.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prefix := ""
	if event.Resource != "" && o.total > 0 {
		prefix = dimStyle.Render(fmt.Sprintf("[%d/%d] ", o.current, o.total))
	}

	line := string(event.Type)
	if event.Resource != "" {
		line = event.Resource + ": " + eventVerb(event.Type)
	}
	if event.Message != "" {
		line += " " + dimStyle.Render("("+event.Message+")")
	}
	fmt.Fprintln(o.w, prefix+eventStyle(event.Type).Render(line))
}

func (o *ConsoleObserver) Progress(phase string, current, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current, o.total = current, total
}

func eventVerb(t provision.EventType) string {
	switch t {
	case provision.EventResourceCreating:
		return "creating"
	case provision.EventResourceCreated:
		return "created"
	case provision.EventResourceExists:
		return "already exists, adopting"
	case provision.EventResourceUpdating:
		return "updating"
	case provision.EventResourceUpdated:
		return "updated"
	case provision.EventResourceDeleting:
		return "deleting"
	case provision.EventResourceDeleted:
		return "deleted"
	case provision.EventResourceReady:
		return "ready"
	case provision.EventResourceDegraded:
		return "degraded"
	case provision.EventResourceFailed:
		return "failed"
	case provision.EventResourceSkipped:
		return "skipped"
	case provision.EventDestroyPending:
		return "no longer declared, run destroy to remove"
	default:
		return string(t)
	}
}

func eventStyle(t provision.EventType) lipgloss.Style {
	switch t {
	case provision.EventResourceReady, provision.EventRunCompleted:
		return readyStyle
	case provision.EventResourceFailed, provision.EventRunFailed:
		return failedStyle
	case provision.EventResourceDegraded, provision.EventResourceSkipped, provision.EventDestroyPending:
		return warningStyle
	default:
		return dimStyle
	}
}
