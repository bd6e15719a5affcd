package scheduler

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/storage"
	"github.com/repost-agent/internal/storage/sqlite"
	"github.com/repost-agent/pkg/logger"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	log := &logger.Logger{Logger: zerolog.Nop()}
	return NewWithClock(log, func() time.Time { return testNow }, rand.New(rand.NewSource(1)))
}

func newTestAccount(t *testing.T) storage.AccountStore {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { _ = repo.Close() })
	return repo.Account("testaccount")
}

func testSettings() *models.AccountSettings {
	return &models.AccountSettings{
		Username:                "testaccount",
		CanPost:                 true,
		PostingInterval:         150,
		RandomIntervalVariance:  30,
		RejectedContentLifespan: 180,
		PostedContentLifespan:   180,
		TimezoneOffset:          2,
		CurrentPage:             1,
		PageSize:                8,
	}
}

func seedQueued(t *testing.T, tx storage.Tx, shortcode string, at time.Time) {
	t.Helper()
	require.NoError(t, tx.SaveQueued(&models.QueuedContent{
		OriginalShortcode: shortcode,
		URL:               "https://example.com/" + shortcode,
		WillPostAt:        at,
	}))
	require.NoError(t, tx.SaveContent(&models.ContentItem{
		OriginalShortcode: shortcode,
		URL:               "https://example.com/" + shortcode,
		Status:            models.ContentStatus{Kind: models.StatusQueued, Shown: true},
		AddedAt:           at.Add(-time.Hour),
		LastUpdatedAt:     at.Add(-time.Hour),
	}))
}

func TestNextSlotNoHistory(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		slot, err := sched.NextSlot(tx, settings)
		require.NoError(t, err)
		require.WithinDuration(t, testNow.Add(firstPostDelay), slot, time.Second)
		return nil
	})
	require.NoError(t, err)
}

func TestNextSlotIgnoresStaleHistory(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		// Older than one posting interval: must not constrain the slot.
		require.NoError(t, tx.SavePublished(&models.PublishedContent{
			OriginalShortcode: "old",
			URL:               "https://example.com/old",
			PublishedAt:       testNow.Add(-200 * time.Minute),
		}))

		slot, err := sched.NextSlot(tx, settings)
		require.NoError(t, err)
		require.WithinDuration(t, testNow.Add(firstPostDelay), slot, time.Second)
		return nil
	})
	require.NoError(t, err)
}

func TestNextSlotFillsEarliestGap(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		require.NoError(t, tx.SavePublished(&models.PublishedContent{
			OriginalShortcode: "p1",
			URL:               "https://example.com/p1",
			PublishedAt:       testNow,
		}))
		seedQueued(t, tx, "q1", testNow.Add(400*time.Minute))

		slot, err := sched.NextSlot(tx, settings)
		require.NoError(t, err)

		// Slot lands inside the 400-minute gap, one jittered interval
		// after the first timestamp.
		interval := settings.PostingIntervalDuration()
		variance := settings.VarianceDuration()
		require.True(t, !slot.Before(testNow.Add(interval-variance)),
			"slot %v earlier than interval minus variance", slot)
		require.True(t, !slot.After(testNow.Add(interval+variance)),
			"slot %v later than interval plus variance", slot)
		return nil
	})
	require.NoError(t, err)
}

func TestNextSlotAppendsWhenNoGap(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	last := testNow.Add(150 * time.Minute)
	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		seedQueued(t, tx, "q1", testNow)
		seedQueued(t, tx, "q2", last)

		slot, err := sched.NextSlot(tx, settings)
		require.NoError(t, err)

		interval := settings.PostingIntervalDuration()
		variance := settings.VarianceDuration()
		require.True(t, !slot.Before(last.Add(interval-variance)),
			"slot %v not after the last queued entry", slot)
		require.True(t, !slot.After(last.Add(interval+variance)),
			"slot %v overshoots the last queued entry", slot)
		return nil
	})
	require.NoError(t, err)
}

func TestNextSlotZeroVarianceIsExact(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()
	settings.RandomIntervalVariance = 0

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		seedQueued(t, tx, "q1", testNow)

		slot, err := sched.NextSlot(tx, settings)
		require.NoError(t, err)
		require.WithinDuration(t, testNow.Add(settings.PostingIntervalDuration()), slot, time.Second)
		return nil
	})
	require.NoError(t, err)
}

func TestRemoveFromQueueRebalancesTail(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	t0 := testNow.Add(10 * time.Minute)
	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		seedQueued(t, tx, "q1", t0)
		seedQueued(t, tx, "q2", t0.Add(150*time.Minute))
		seedQueued(t, tx, "q3", t0.Add(300*time.Minute))

		require.NoError(t, sched.RemoveFromQueue(tx, settings, "q2"))

		_, err := tx.QueuedByShortcode("q2")
		require.ErrorIs(t, err, storage.ErrNotFound)

		queue, err := tx.ContentQueue()
		require.NoError(t, err)
		require.Len(t, queue, 2)

		// The entry before the removed one keeps its slot; the tail is
		// recomputed to close the hole.
		require.WithinDuration(t, t0, queue[0].WillPostAt, time.Second)
		gap := queue[1].WillPostAt.Sub(queue[0].WillPostAt)
		interval := settings.PostingIntervalDuration()
		variance := settings.VarianceDuration()
		require.True(t, gap >= interval-variance, "gap %v too small", gap)
		require.True(t, gap <= interval+variance, "gap %v too large", gap)

		// Rebalanced items get their update stamp touched.
		item, err := tx.ContentByShortcode("q3")
		require.NoError(t, err)
		require.WithinDuration(t, testNow, item.LastUpdatedAt, time.Second)
		return nil
	})
	require.NoError(t, err)
}

func TestRemoveFromQueueMissingIsNoop(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		seedQueued(t, tx, "q1", testNow.Add(time.Hour))

		require.NoError(t, sched.RemoveFromQueue(tx, settings, "missing"))

		queue, err := tx.ContentQueue()
		require.NoError(t, err)
		require.Len(t, queue, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestAmendQueueShiftsWholeQueue(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		seedQueued(t, tx, "q1", testNow.Add(-300*time.Second))
		seedQueued(t, tx, "q2", testNow.Add(-100*time.Second))
		seedQueued(t, tx, "q3", testNow.Add(500*time.Second))

		require.NoError(t, sched.AmendQueue(tx, settings))

		queue, err := tx.ContentQueue()
		require.NoError(t, err)
		require.Len(t, queue, 3)

		// Everything shifts by the first entry's overdue delta so that
		// relative spacing survives the outage.
		require.WithinDuration(t, testNow, queue[0].WillPostAt, time.Second)
		require.WithinDuration(t, testNow.Add(200*time.Second), queue[1].WillPostAt, time.Second)
		require.WithinDuration(t, testNow.Add(800*time.Second), queue[2].WillPostAt, time.Second)
		return nil
	})
	require.NoError(t, err)
}

func TestAmendQueueSingleOverdueLeftAlone(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	due := testNow.Add(-10 * time.Minute)
	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		seedQueued(t, tx, "q1", due)
		seedQueued(t, tx, "q2", testNow.Add(140*time.Minute))

		require.NoError(t, sched.AmendQueue(tx, settings))

		entry, err := tx.QueuedByShortcode("q1")
		require.NoError(t, err)
		require.WithinDuration(t, due, entry.WillPostAt, time.Second)
		return nil
	})
	require.NoError(t, err)
}

func TestPublishNow(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		seedQueued(t, tx, "q1", testNow.Add(3*time.Hour))
		seedQueued(t, tx, "q2", testNow.Add(6*time.Hour))

		require.NoError(t, sched.PublishNow(tx, settings, "q1"))

		entry, err := tx.QueuedByShortcode("q1")
		require.NoError(t, err)
		require.WithinDuration(t, testNow.Add(publishNowDelay), entry.WillPostAt, time.Second)

		// The rest of the queue is untouched.
		other, err := tx.QueuedByShortcode("q2")
		require.NoError(t, err)
		require.WithinDuration(t, testNow.Add(6*time.Hour), other.WillPostAt, time.Second)
		return nil
	})
	require.NoError(t, err)
}

func TestPublishNowMissingEntry(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		return sched.PublishNow(tx, settings, "missing")
	})
	require.ErrorIs(t, err, storage.ErrBrokenInvariant)
}

func TestDeferDueReslotsAndHides(t *testing.T) {
	sched := newTestScheduler(t)
	account := newTestAccount(t)
	settings := testSettings()

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		seedQueued(t, tx, "q1", testNow.Add(-10*time.Minute))

		require.NoError(t, sched.DeferDue(tx, settings))

		entry, err := tx.QueuedByShortcode("q1")
		require.NoError(t, err)
		require.True(t, entry.WillPostAt.After(testNow), "entry still due after defer")

		item, err := tx.ContentByShortcode("q1")
		require.NoError(t, err)
		require.Equal(t, models.StatusQueued, item.Status.Kind)
		require.False(t, item.Status.Shown)
		return nil
	})
	require.NoError(t, err)
}
