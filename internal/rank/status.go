package rank

import (
	"fmt"

	"github.com/kioku-app/kioku/internal/model"
)

// Transition validates an explicit user-driven status change. Replay-driven
// changes (Learning to Known on graduation, Known back to Learning on a
// lapse) never go through here; they fall out of the deterministic fold.
//
// Allowed explicit transitions:
//
//	any      -> Ignored    (user suppresses the item)
//	Ignored  -> Learning   (user reactivates)
func Transition(from, to model.Status) error {
	if from == to {
		return nil
	}
	switch {
	case to == model.StatusIgnored:
		return nil
	case from == model.StatusIgnored && to == model.StatusLearning:
		return nil
	}
	return fmt.Errorf("status transition %s -> %s not allowed", from, to)
}
