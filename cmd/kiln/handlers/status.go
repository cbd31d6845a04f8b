package handlers

import (
	"context"
	"fmt"
	"sort"

	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/ui"
)

// Status prints recorded resource state and rollout history.
func Status(ctx context.Context) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	store, err := newStore(ctx, rt)
	if err != nil {
		return err
	}
	defer store.Close()

	resources, err := store.List(ctx)
	if err != nil {
		return err
	}
	resource.SortByID(resources)
	fmt.Fprint(stdout, ui.RenderResources(resources))

	revisions, err := store.ListRevisions(ctx)
	if err != nil {
		return err
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].Number > revisions[j].Number })
	fmt.Fprint(stdout, "\n"+ui.RenderRevisions(revisions))

	return nil
}

// RolloutStatus prints the revision history alone, newest first.
func RolloutStatus(ctx context.Context) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	store, err := newStore(ctx, rt)
	if err != nil {
		return err
	}
	defer store.Close()

	revisions, err := store.ListRevisions(ctx)
	if err != nil {
		return err
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].Number > revisions[j].Number })
	fmt.Fprint(stdout, ui.RenderRevisions(revisions))

	return nil
}
