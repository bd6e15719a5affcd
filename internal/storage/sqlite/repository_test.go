package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/storage"
)

func newTestStore(t *testing.T) storage.AccountStore {
	t.Helper()
	repo, err := New(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { repo.Close() })

	account := repo.Account("testaccount")
	require.NoError(t, account.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.SaveSettings(&models.AccountSettings{
			Username:        "testaccount",
			CanPost:         true,
			PostingInterval: 150,
			TimezoneOffset:  2,
			CurrentPage:     1,
			PageSize:        8,
		})
	}))
	return account
}

func inTx(t *testing.T, account storage.AccountStore, fn func(tx storage.Tx)) {
	t.Helper()
	require.NoError(t, account.WithTx(context.Background(), func(tx storage.Tx) error {
		fn(tx)
		return nil
	}))
}

func TestTransactionRollsBackAsAWhole(t *testing.T) {
	account := newTestStore(t)
	boom := errors.New("boom")

	err := account.WithTx(context.Background(), func(tx storage.Tx) error {
		require.NoError(t, tx.SaveContent(&models.ContentItem{
			OriginalShortcode: "abc",
			URL:               "https://example.com/abc",
			Status:            models.ContentStatus{Kind: models.StatusWaiting},
			AddedAt:           time.Now(),
		}))
		require.NoError(t, tx.SaveQueued(&models.QueuedContent{
			OriginalShortcode: "abc",
			URL:               "https://example.com/abc",
			WillPostAt:        time.Now().Add(time.Hour),
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	inTx(t, account, func(tx storage.Tx) {
		_, err := tx.ContentByShortcode("abc")
		require.ErrorIs(t, err, storage.ErrNotFound)

		exists, err := tx.ExistsInQueue("abc")
		require.NoError(t, err)
		require.False(t, exists, "queue write must roll back with the item")
	})
}

func TestLookupsMapMissingRowsToErrNotFound(t *testing.T) {
	account := newTestStore(t)

	inTx(t, account, func(tx storage.Tx) {
		_, err := tx.ContentByShortcode("nope")
		require.ErrorIs(t, err, storage.ErrNotFound)

		_, err = tx.ContentByMessageID(12345)
		require.ErrorIs(t, err, storage.ErrNotFound)

		_, err = tx.QueuedByShortcode("nope")
		require.ErrorIs(t, err, storage.ErrNotFound)

		_, err = tx.RejectedByShortcode("nope")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestExistsAnywhereChecksEveryCollection(t *testing.T) {
	account := newTestStore(t)

	inTx(t, account, func(tx storage.Tx) {
		require.NoError(t, tx.SaveContent(&models.ContentItem{
			OriginalShortcode: "in_content",
			URL:               "u",
			Status:            models.ContentStatus{Kind: models.StatusWaiting},
		}))
		require.NoError(t, tx.SavePublished(&models.PublishedContent{
			OriginalShortcode: "in_published", URL: "u", PublishedAt: time.Now(),
		}))
		require.NoError(t, tx.SaveRejected(&models.RejectedContent{
			OriginalShortcode: "in_rejected", URL: "u", RejectedAt: time.Now(),
		}))
		require.NoError(t, tx.SaveFailed(&models.FailedContent{
			OriginalShortcode: "in_failed", URL: "u", FailedAt: time.Now(),
		}))
		require.NoError(t, tx.SaveDuplicate(&models.DuplicateContent{
			OriginalShortcode: "in_duplicate",
		}))

		for _, shortcode := range []string{
			"in_content", "in_published", "in_rejected", "in_failed", "in_duplicate",
		} {
			exists, err := tx.ExistsAnywhere(shortcode)
			require.NoError(t, err)
			require.True(t, exists, shortcode)
		}

		exists, err := tx.ExistsAnywhere("never_seen")
		require.NoError(t, err)
		require.False(t, exists)
	})
}

func TestAccountsAreIsolated(t *testing.T) {
	repo, err := New(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	defer repo.Close()

	first := repo.Account("first")
	require.NoError(t, first.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.SaveContent(&models.ContentItem{
			OriginalShortcode: "abc",
			URL:               "u",
			Status:            models.ContentStatus{Kind: models.StatusWaiting},
		})
	}))

	second := repo.Account("second")
	require.NoError(t, second.WithTx(context.Background(), func(tx storage.Tx) error {
		exists, err := tx.ExistsAnywhere("abc")
		require.NoError(t, err)
		require.False(t, exists, "content of other accounts must be invisible")
		return nil
	}))
}

func TestContentQueueOrdersByPostTime(t *testing.T) {
	account := newTestStore(t)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	inTx(t, account, func(tx storage.Tx) {
		for shortcode, offset := range map[string]time.Duration{
			"third": 3 * time.Hour, "first": time.Hour, "second": 2 * time.Hour,
		} {
			require.NoError(t, tx.SaveQueued(&models.QueuedContent{
				OriginalShortcode: shortcode, URL: "u", WillPostAt: base.Add(offset),
			}))
		}
	})

	inTx(t, account, func(tx storage.Tx) {
		queue, err := tx.ContentQueue()
		require.NoError(t, err)
		require.Len(t, queue, 3)
		require.Equal(t, "first", queue[0].OriginalShortcode)
		require.Equal(t, "second", queue[1].OriginalShortcode)
		require.Equal(t, "third", queue[2].OriginalShortcode)
	})
}

func TestNextMessageIDAfterExistingItems(t *testing.T) {
	account := newTestStore(t)

	inTx(t, account, func(tx storage.Tx) {
		require.NoError(t, tx.SaveContent(&models.ContentItem{
			OriginalShortcode: "abc",
			MessageID:         5000,
			URL:               "u",
			Status:            models.ContentStatus{Kind: models.StatusPending, Shown: true},
		}))
	})

	inTx(t, account, func(tx storage.Tx) {
		id, err := tx.NextMessageID()
		require.NoError(t, err)
		require.Equal(t, int64(6000), id)
	})
}

func TestNextMessageIDSeedsFromLocalClock(t *testing.T) {
	account := newTestStore(t)

	// 10:20:30 UTC is 12:20:30 at the account's +2 offset.
	old := nowFunc
	nowFunc = func() time.Time {
		return time.Date(2026, 9, 1, 10, 20, 30, 0, time.UTC)
	}
	defer func() { nowFunc = old }()

	inTx(t, account, func(tx storage.Tx) {
		id, err := tx.NextMessageID()
		require.NoError(t, err)
		require.Equal(t, int64(12*3600+20*60+30), id)
	})
}

func TestSaveContentUpserts(t *testing.T) {
	account := newTestStore(t)

	inTx(t, account, func(tx storage.Tx) {
		require.NoError(t, tx.SaveContent(&models.ContentItem{
			OriginalShortcode: "abc",
			URL:               "u",
			Caption:           "before",
			Status:            models.ContentStatus{Kind: models.StatusWaiting},
		}))
	})
	inTx(t, account, func(tx storage.Tx) {
		item, err := tx.ContentByShortcode("abc")
		require.NoError(t, err)
		item.Caption = "after"
		require.NoError(t, tx.SaveContent(item))
	})

	inTx(t, account, func(tx storage.Tx) {
		item, err := tx.ContentByShortcode("abc")
		require.NoError(t, err)
		require.Equal(t, "after", item.Caption)

		items, err := tx.ListContent()
		require.NoError(t, err)
		require.Len(t, items, 1, "save must update in place, not duplicate")
	})
}
