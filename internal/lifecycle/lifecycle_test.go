package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/repost-agent/internal/models"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to models.StatusKind }{
		{models.StatusWaiting, models.StatusPending},
		{models.StatusPending, models.StatusQueued},
		{models.StatusPending, models.StatusRejected},
		{models.StatusQueued, models.StatusPending},
		{models.StatusQueued, models.StatusPublished},
		{models.StatusQueued, models.StatusFailed},
		{models.StatusRejected, models.StatusPending},
	}
	for _, tc := range allowed {
		require.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	forbidden := []struct{ from, to models.StatusKind }{
		{models.StatusWaiting, models.StatusQueued},
		{models.StatusWaiting, models.StatusRejected},
		{models.StatusPending, models.StatusPublished},
		{models.StatusRejected, models.StatusQueued},
		{models.StatusPublished, models.StatusPending},
		{models.StatusPublished, models.StatusQueued},
		{models.StatusFailed, models.StatusQueued},
	}
	for _, tc := range forbidden {
		require.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestCanTransitionSelfAndRemoval(t *testing.T) {
	all := []models.StatusKind{
		models.StatusWaiting, models.StatusPending, models.StatusQueued,
		models.StatusPublished, models.StatusRejected, models.StatusFailed,
	}
	for _, kind := range all {
		require.True(t, CanTransition(kind, kind), "%s stays put", kind)
		require.True(t, CanTransition(kind, models.StatusRemovedFromView),
			"%s is always removable", kind)
	}
}

func TestGuardAnnotatesStates(t *testing.T) {
	err := Guard(models.StatusWaiting, models.StatusQueued)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Contains(t, err.Error(), "waiting -> queued")

	require.NoError(t, Guard(models.StatusPending, models.StatusQueued))
}

func TestTerminal(t *testing.T) {
	require.True(t, Terminal(models.StatusPublished))
	require.True(t, Terminal(models.StatusFailed))
	require.False(t, Terminal(models.StatusQueued))
	require.False(t, Terminal(models.StatusRejected), "rejections can be undone")
}

func TestSessionBeginEnd(t *testing.T) {
	var s Session

	state, subject := s.State()
	require.Equal(t, SessionIdle, state)
	require.Empty(t, subject)

	require.NoError(t, s.Begin(SessionAwaitingCaption, "abc"))

	state, subject = s.State()
	require.Equal(t, SessionAwaitingCaption, state)
	require.Equal(t, "abc", subject)

	err := s.Begin(SessionProcessing, "def")
	require.Error(t, err, "only one interaction at a time")
	require.Contains(t, err.Error(), "awaiting_caption")

	s.End()
	require.NoError(t, s.Begin(SessionProcessing, "def"))
}
