// Package lifecycle defines the legal states of a content item and the
// transitions between them. The relation is static: every status change
// in the pipeline goes through Guard, so an illegal move is a
// programming error surfaced immediately, not a silent no-op.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/repost-agent/internal/models"
)

// ErrIllegalTransition is returned by Guard for a move the state
// machine does not allow.
var ErrIllegalTransition = errors.New("lifecycle: illegal status transition")

// transitions maps each state to the states reachable from it. Every
// state may additionally move to RemovedFromView (explicit removal).
var transitions = map[models.StatusKind][]models.StatusKind{
	models.StatusWaiting:   {models.StatusPending},
	models.StatusPending:   {models.StatusQueued, models.StatusRejected},
	models.StatusQueued:    {models.StatusPending, models.StatusPublished, models.StatusFailed},
	models.StatusRejected:  {models.StatusPending},
	models.StatusPublished: {},
	models.StatusFailed:    {},
}

// CanTransition reports whether moving from one lifecycle state to
// another is legal. Visibility (shown/hidden) is not part of the
// relation: toggling it is always allowed within a state.
func CanTransition(from, to models.StatusKind) bool {
	if from == to {
		return true
	}
	if to == models.StatusRemovedFromView {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Guard returns ErrIllegalTransition (annotated with both states) if
// the move is not allowed.
func Guard(from, to models.StatusKind) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Terminal reports whether only removal is reachable from the state.
func Terminal(kind models.StatusKind) bool {
	return kind == models.StatusPublished || kind == models.StatusFailed
}
