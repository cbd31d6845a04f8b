package handlers

import (
	"context"
	"fmt"

	"github.com/cloudkiln/kiln/internal/cloud"
	"github.com/cloudkiln/kiln/internal/provision"
	"github.com/cloudkiln/kiln/internal/ui"
)

// Plan diffs the document against recorded state and prints the actions a
// converge would take. Planning never contacts the provider and never locks.
func Plan(ctx context.Context, configPath string) error {
	doc, err := loadDoc(configPath)
	if err != nil {
		return err
	}
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	desired, err := desiredResources(doc)
	if err != nil {
		return err
	}

	store, err := newStore(ctx, rt)
	if err != nil {
		return err
	}
	defer store.Close()

	prov := provision.New(store, cloud.Unconfigured("planning never calls the provider"))
	plan, err := prov.Plan(ctx, desired)
	if err != nil {
		return err
	}

	fmt.Fprint(stdout, ui.RenderPlan(plan))
	return nil
}
