package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/srs"
	"github.com/kioku-app/kioku/internal/store"
)

// Engine re-derives stored item state from the ledger. It is safe to abandon
// and restart at any point: replay is idempotent and writes only the final
// result.
type Engine struct {
	sched *srs.Scheduler
	store *store.Store
}

// NewEngine creates a replay engine over the given store.
func NewEngine(sched *srs.Scheduler, st *store.Store) *Engine {
	return &Engine{sched: sched, store: st}
}

// ReplayItem recomputes and persists the state for one (user, item) from its
// full event history. The stored status intent and its LWW timestamp are
// preserved; everything else is overwritten with the fold result, which also
// repairs any corrupt cached state.
func (e *Engine) ReplayItem(ctx context.Context, userID, itemID string) (model.ItemMemoryState, error) {
	events, err := e.store.EventsForItem(ctx, userID, itemID)
	if err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("replay item: %w", err)
	}

	baseline, err := e.store.GetItemState(ctx, userID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		baseline = model.NewItemMemoryState(userID, itemID)
	} else if err != nil {
		// A row that fails to load is treated as corrupt cached state:
		// fall back to the fixed baseline and rebuild from the ledger.
		baseline = model.NewItemMemoryState(userID, itemID)
	}

	result := Replay(e.sched, baseline, events)
	if err := e.store.PutItemState(ctx, result); err != nil {
		return model.ItemMemoryState{}, fmt.Errorf("replay item: %w", err)
	}
	return result, nil
}

// ReplayAll recomputes every item the user has events for. Returns the number
// of items replayed.
func (e *Engine) ReplayAll(ctx context.Context, userID string) (int, error) {
	items, err := e.store.ItemIDsForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("replay all: %w", err)
	}
	for _, itemID := range items {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := e.ReplayItem(ctx, userID, itemID); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}
