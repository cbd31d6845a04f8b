// Package ui renders plans, resource state and rollout history for the
// terminal. Output degrades to plain text when stdout is not a TTY.
package ui

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/cloudkiln/kiln/internal/provision"
	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/rollout"
)

// RenderPlan formats a plan as an action list plus a one-line summary.
func RenderPlan(plan *provision.Plan) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Plan") + "\n\n")

	for _, a := range plan.Actions {
		mark, style := actionGlyph(a.Type)
		b.WriteString(fmt.Sprintf("  %s %s (%s)\n",
			style.Render(mark),
			a.ResourceID,
			dimStyle.Render(a.Reason)))
	}

	counts := plan.Counts()
	b.WriteString("\n" + summaryLine(counts) + "\n")
	if !plan.Changes() {
		b.WriteString(dimStyle.Render("No changes. Infrastructure matches the document.") + "\n")
	}
	return b.String()
}

func actionGlyph(t provision.ActionType) (string, lipgloss.Style) {
	switch t {
	case provision.ActionCreate:
		return createMark, readyStyle
	case provision.ActionUpdate:
		return updateMark, warningStyle
	case provision.ActionReplace:
		return replaceMark, warningStyle
	case provision.ActionDestroy:
		return destroyMark, failedStyle
	default:
		return noopMark, dimStyle
	}
}

func summaryLine(counts map[provision.ActionType]int) string {
	return fmt.Sprintf("%d to create, %d to update, %d to replace, %d unchanged, %d undeclared",
		counts[provision.ActionCreate],
		counts[provision.ActionUpdate],
		counts[provision.ActionReplace],
		counts[provision.ActionNoop],
		counts[provision.ActionDestroy])
}

// RenderResources formats recorded resource state as a table.
func RenderResources(resources []*resource.Resource) string {
	if len(resources) == 0 {
		return dimStyle.Render("State is empty.") + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Resources") + "\n\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tKIND\tSTATUS\tDETAIL")
	for _, r := range resources {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
			r.ID, r.Kind, statusStyle(r.Status).Render(string(r.Status)), r.StatusDetail)
	}
	tw.Flush()
	return b.String()
}

func statusStyle(s resource.Status) lipgloss.Style {
	switch s {
	case resource.StatusReady:
		return readyStyle
	case resource.StatusError:
		return failedStyle
	case resource.StatusDegraded:
		return warningStyle
	default:
		return dimStyle
	}
}

// RenderRevisions formats rollout history, newest first.
func RenderRevisions(revisions []*rollout.Revision) string {
	if len(revisions) == 0 {
		return dimStyle.Render("No revisions recorded.") + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Revisions") + "\n\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  REV\tIMAGE\tREPLICAS\tSTATUS\tREASON")
	for _, rev := range revisions {
		fmt.Fprintf(tw, "  %d\t%s\t%d\t%s\t%s\n",
			rev.Number, rev.Image, rev.Replicas,
			revisionStyle(rev.Status).Render(string(rev.Status)), rev.Reason)
	}
	tw.Flush()
	return b.String()
}

func revisionStyle(s rollout.Status) lipgloss.Style {
	switch s {
	case rollout.StatusLive:
		return readyStyle
	case rollout.StatusRolledBack, rollout.StatusFailed:
		return failedStyle
	case rollout.StatusPending, rollout.StatusProgressing, rollout.StatusVerifying:
		return warningStyle
	default:
		return dimStyle
	}
}
