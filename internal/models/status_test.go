package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentStatusRoundTrip(t *testing.T) {
	statuses := []ContentStatus{
		{Kind: StatusWaiting},
		{Kind: StatusRemovedFromView},
		{Kind: StatusPending},
		{Kind: StatusPending, Shown: true},
		{Kind: StatusQueued},
		{Kind: StatusQueued, Shown: true},
		{Kind: StatusPublished},
		{Kind: StatusPublished, Shown: true},
		{Kind: StatusRejected, Shown: true},
		{Kind: StatusFailed},
	}

	for _, status := range statuses {
		parsed, err := ParseContentStatus(status.String())
		require.NoError(t, err, status.String())
		require.Equal(t, status, parsed)
	}
}

func TestContentStatusParseUnknown(t *testing.T) {
	_, err := ParseContentStatus("archived")
	require.Error(t, err)

	_, err = ParseContentStatus("queued")
	require.Error(t, err, "states with visibility need the suffix")
}

func TestContentStatusScanValue(t *testing.T) {
	status := ContentStatus{Kind: StatusQueued, Shown: true}

	raw, err := status.Value()
	require.NoError(t, err)
	require.Equal(t, "queued_shown", raw)

	var scanned ContentStatus
	require.NoError(t, scanned.Scan("queued_shown"))
	require.Equal(t, status, scanned)

	require.NoError(t, scanned.Scan([]byte("rejected_hidden")))
	require.Equal(t, ContentStatus{Kind: StatusRejected}, scanned)

	require.Error(t, scanned.Scan(42))
}

func TestWithShownSkipsVisibilityFreeStates(t *testing.T) {
	waiting := ContentStatus{Kind: StatusWaiting}
	require.Equal(t, waiting, waiting.WithShown(true))

	removed := ContentStatus{Kind: StatusRemovedFromView}
	require.Equal(t, removed, removed.WithShown(true))

	pending := ContentStatus{Kind: StatusPending}
	require.True(t, pending.WithShown(true).Shown)
	require.False(t, pending.WithShown(true).WithShown(false).Shown)
}
