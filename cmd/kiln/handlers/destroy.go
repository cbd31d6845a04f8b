package handlers

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/cloudkiln/kiln/internal/provision"
)

// confirmDestroy asks for interactive confirmation. Replaced in tests.
var confirmDestroy = func(ctx context.Context, count int) (bool, error) {
	confirmed := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Destroy all %d recorded resources?", count)).
			Description("This removes every resource in reverse dependency order and cannot be undone.").
			Value(&confirmed),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return false, err
	}
	return confirmed, nil
}

// Destroy removes every recorded resource in reverse dependency order.
// Unless yes is set it asks for confirmation first. The document supplies
// the same run settings apply uses; timeouts and retries must not change
// between the run that built a resource and the run that removes it.
func Destroy(ctx context.Context, configPath string, yes bool) error {
	doc, err := loadDoc(configPath)
	if err != nil {
		return err
	}
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	serveMetrics(rt)

	store, err := newStore(ctx, rt)
	if err != nil {
		return err
	}
	defer store.Close()

	recorded, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(recorded) == 0 {
		fmt.Fprintln(stdout, "State is empty, nothing to destroy.")
		return nil
	}

	if !yes {
		ok, err := confirmDestroy(ctx, len(recorded))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(stdout, "Destroy canceled.")
			return nil
		}
	}

	provider, err := newProvider(rt)
	if err != nil {
		return err
	}

	prov := provision.New(store, provider,
		provision.WithObserver(runObserver(rt)),
		provision.WithSettings(doc.ProvisionSettings()))

	if err := prov.Destroy(ctx); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "\nAll resources destroyed.")
	return nil
}
