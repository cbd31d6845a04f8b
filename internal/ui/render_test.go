package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudkiln/kiln/internal/provision"
	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/rollout"
)

func TestRenderPlanListsActionsAndSummary(t *testing.T) {
	plan := &provision.Plan{Actions: []provision.Action{
		{ResourceID: "net", Kind: resource.KindNetwork, Type: provision.ActionCreate, Reason: "not recorded in state"},
		{ResourceID: "subnet", Kind: resource.KindSubnet, Type: provision.ActionNoop, Reason: "up to date"},
		{ResourceID: "old", Kind: resource.KindNodeGroup, Type: provision.ActionDestroy, Reason: "no longer declared"},
	}}

	out := RenderPlan(plan)
	assert.Contains(t, out, "net")
	assert.Contains(t, out, "not recorded in state")
	assert.Contains(t, out, "1 to create")
	assert.Contains(t, out, "1 undeclared")
}

func TestRenderPlanNoChanges(t *testing.T) {
	plan := &provision.Plan{Actions: []provision.Action{
		{ResourceID: "net", Kind: resource.KindNetwork, Type: provision.ActionNoop, Reason: "up to date"},
	}}

	out := RenderPlan(plan)
	assert.Contains(t, out, "No changes")
}

func TestRenderResources(t *testing.T) {
	spec := &resource.NetworkSpec{CIDR: "10.0.0.0/16", Zone: "eu-central"}
	r := &resource.Resource{ID: "net", Kind: resource.KindNetwork, Spec: spec}
	r.SetStatus(resource.StatusReady, "network active")

	out := RenderResources([]*resource.Resource{r})
	assert.Contains(t, out, "net")
	assert.Contains(t, out, "Ready")
	assert.Contains(t, out, "network active")

	assert.Contains(t, RenderResources(nil), "empty")
}

func TestRenderRevisions(t *testing.T) {
	out := RenderRevisions([]*rollout.Revision{
		{Number: 2, Image: "app:v2", Replicas: 3, Status: rollout.StatusLive},
		{Number: 1, Image: "app:v1", Replicas: 3, Status: rollout.StatusSuperseded, Reason: "superseded by revision 2"},
	})
	assert.Contains(t, out, "app:v2")
	assert.Contains(t, out, "Live")
	assert.Contains(t, out, "superseded by revision 2")
}

func TestConsoleObserverPrintsEvents(t *testing.T) {
	var buf bytes.Buffer
	obs := NewConsoleObserver(&buf)

	obs.Progress("converge", 1, 2)
	obs.Event(provision.Event{Type: provision.EventResourceCreating, Resource: "net"})
	obs.Event(provision.Event{Type: provision.EventResourceReady, Resource: "net", Message: "network active"})

	out := buf.String()
	assert.Contains(t, out, "net: creating")
	assert.Contains(t, out, "net: ready")
	assert.Contains(t, out, "network active")
	assert.Contains(t, out, "[1/2]")
}
