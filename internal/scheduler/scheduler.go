// Package scheduler assigns and maintains the "will post at" times of
// queued content. Slots are gap-filling: a new slot lands in the
// earliest idle interval wide enough for one post, so a backlog catches
// up instead of piling onto the end of the queue.
package scheduler

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/storage"
	"github.com/repost-agent/pkg/logger"
)

const (
	// firstPostDelay is used when no recent history constrains the
	// schedule: the first post goes out almost immediately.
	firstPostDelay = time.Minute
	// publishNowDelay is the grace window for the manual override.
	publishNowDelay = 30 * time.Second
)

// Scheduler computes posting slots for one or more accounts. The clock
// and RNG are injected so tests are deterministic.
type Scheduler struct {
	log *logger.Logger
	now func() time.Time
	rng *rand.Rand
}

// New creates a scheduler with the wall clock and a seeded RNG.
func New(log *logger.Logger) *Scheduler {
	return NewWithClock(log, time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithClock creates a scheduler with an explicit clock and RNG.
func NewWithClock(log *logger.Logger, now func() time.Time, rng *rand.Rand) *Scheduler {
	return &Scheduler{
		log: log.WithComponent("scheduler"),
		now: now,
		rng: rng,
	}
}

// NextSlot computes the next available posting time given the account's
// published history and current queue.
//
// Timestamps older than one posting interval are ignored; among the
// remaining ones the earliest gap wider than interval+variance is
// filled. Without such a gap the slot goes after the last timestamp, or
// nearly immediately when there is no relevant history at all.
func (s *Scheduler) NextSlot(tx storage.Tx, settings *models.AccountSettings) (time.Time, error) {
	published, err := tx.ListPublished()
	if err != nil {
		return time.Time{}, err
	}
	queue, err := tx.ContentQueue()
	if err != nil {
		return time.Time{}, err
	}

	now := settings.NowIn(s.now())

	times := make([]time.Time, 0, len(published)+len(queue))
	for _, entry := range published {
		times = append(times, entry.PublishedAt)
	}
	for _, entry := range queue {
		times = append(times, entry.WillPostAt)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	interval := settings.PostingIntervalDuration()
	variance := settings.VarianceDuration()

	// Stale history does not constrain new scheduling.
	cutoff := now.Add(-interval)
	relevant := times[:0]
	for _, t := range times {
		if !t.Before(cutoff) {
			relevant = append(relevant, t)
		}
	}

	effective := interval + s.jitter(variance)

	for i := 0; i+1 < len(relevant); i++ {
		gap := relevant[i+1].Sub(relevant[i])
		if gap > interval+variance {
			slot := relevant[i].Add(effective)
			s.log.Debug().Time("slot", slot).Msg("Gap found, filling it")
			return slot, nil
		}
	}

	if len(relevant) == 0 {
		slot := now.Add(firstPostDelay)
		s.log.Debug().Time("slot", slot).Msg("No recent posts, scheduling shortly")
		return slot, nil
	}

	slot := relevant[len(relevant)-1].Add(effective)
	s.log.Debug().Time("slot", slot).Msg("No gap found, appending to queue")
	return slot, nil
}

// jitter returns a uniformly random offset in [-variance, +variance],
// at second resolution.
func (s *Scheduler) jitter(variance time.Duration) time.Duration {
	varSec := int(variance / time.Second)
	if varSec <= 0 {
		return 0
	}
	return time.Duration(s.rng.Intn(2*varSec+1)-varSec) * time.Second
}

// RemoveFromQueue deletes the entry for shortcode and recomputes the
// slot of every entry that was scheduled at or after it, so the hole
// does not collapse downstream posts into a burst. Entries scheduled
// before the removed one keep their slots. A shortcode that is not
// queued is a no-op.
func (s *Scheduler) RemoveFromQueue(tx storage.Tx, settings *models.AccountSettings, shortcode string) error {
	removed, err := tx.QueuedByShortcode(shortcode)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := tx.DeleteQueued(shortcode); err != nil {
		return err
	}

	queue, err := tx.ContentQueue()
	if err != nil {
		return err
	}

	now := settings.NowIn(s.now())
	for _, entry := range queue {
		if entry.WillPostAt.Before(removed.WillPostAt) {
			continue
		}
		slot, err := s.NextSlot(tx, settings)
		if err != nil {
			return err
		}
		entry.WillPostAt = slot
		if err := tx.SaveQueued(entry); err != nil {
			return err
		}

		item, err := tx.ContentByShortcode(entry.OriginalShortcode)
		if err != nil {
			return fmt.Errorf("queued entry %s has no content item: %w",
				entry.OriginalShortcode, errors.Join(storage.ErrBrokenInvariant, err))
		}
		item.LastUpdatedAt = now
		if err := tx.SaveContent(item); err != nil {
			return err
		}
	}

	s.log.Info().Str("shortcode", shortcode).Int("rebalanced", len(queue)).
		Msg("Removed entry from queue")
	return nil
}

// AmendQueue repairs the queue after a long outage: when more than one
// entry is already overdue, every entry is shifted by the first entry's
// overdue delta so relative spacing is preserved instead of all overdue
// posts firing at once.
func (s *Scheduler) AmendQueue(tx storage.Tx, settings *models.AccountSettings) error {
	queue, err := tx.ContentQueue()
	if err != nil {
		return err
	}
	if len(queue) == 0 {
		return nil
	}

	now := settings.NowIn(s.now())
	overdue := 0
	for _, entry := range queue {
		if entry.WillPostAt.Before(now) {
			overdue++
		}
	}
	if overdue <= 1 {
		return nil
	}

	delta := now.Sub(queue[0].WillPostAt)
	for _, entry := range queue {
		entry.WillPostAt = entry.WillPostAt.Add(delta)
		if err := tx.SaveQueued(entry); err != nil {
			return err
		}
	}

	s.log.Info().Int("entries", len(queue)).Dur("delta", delta).
		Msg("Amended queue after outage")
	return nil
}

// PublishNow pulls a single entry forward to post within seconds. The
// rest of the queue is deliberately left untouched.
func (s *Scheduler) PublishNow(tx storage.Tx, settings *models.AccountSettings, shortcode string) error {
	entry, err := tx.QueuedByShortcode(shortcode)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: no queued entry for %s", storage.ErrBrokenInvariant, shortcode)
	}
	if err != nil {
		return err
	}

	entry.WillPostAt = settings.NowIn(s.now()).Add(publishNowDelay)
	return tx.SaveQueued(entry)
}

// DeferDue pushes every already-due entry to a freshly computed slot.
// Used while posting is paused: due entries must be recomputed when
// posting resumes, never fired late.
func (s *Scheduler) DeferDue(tx storage.Tx, settings *models.AccountSettings) error {
	queue, err := tx.ContentQueue()
	if err != nil {
		return err
	}

	now := settings.NowIn(s.now())
	for _, entry := range queue {
		if !entry.WillPostAt.Before(now) {
			continue
		}
		slot, err := s.NextSlot(tx, settings)
		if err != nil {
			return err
		}
		entry.WillPostAt = slot
		if err := tx.SaveQueued(entry); err != nil {
			return err
		}

		item, err := tx.ContentByShortcode(entry.OriginalShortcode)
		if err != nil {
			return fmt.Errorf("queued entry %s has no content item: %w",
				entry.OriginalShortcode, errors.Join(storage.ErrBrokenInvariant, err))
		}
		item.Status = models.ContentStatus{Kind: models.StatusQueued}
		item.LastUpdatedAt = now
		if err := tx.SaveContent(item); err != nil {
			return err
		}
	}
	return nil
}

// Now exposes the scheduler's clock in the account's timezone.
func (s *Scheduler) Now(settings *models.AccountSettings) time.Time {
	return settings.NowIn(s.now())
}
