package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudkiln/kiln/internal/state"
)

// Unlock force-releases a stale state lock. Only for runs that died without
// unlocking; unlocking a live run invites concurrent mutation.
func Unlock(ctx context.Context) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	store, err := newStore(ctx, rt)
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := store.ForceUnlock(ctx)
	if errors.Is(err, state.ErrNotFound) {
		fmt.Fprintln(stdout, "State is not locked.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Released lock held by %s since %s.\n",
		info.HolderID, info.AcquiredAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
