package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/repost-agent/internal/lifecycle"
	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/paginator"
	"github.com/repost-agent/internal/storage"
)

// Outcome is the result of a publish attempt reported back by the
// publisher loop.
type Outcome int

const (
	OutcomePublished Outcome = iota
	// OutcomePublishedUnverified means the platform accepted the post
	// but the post id could not be read back. Treated as a success:
	// retrying would double-post.
	OutcomePublishedUnverified
	OutcomeFailedRecoverable
	OutcomeFailedPermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomePublishedUnverified:
		return "published_unverified"
	case OutcomeFailedRecoverable:
		return "failed_recoverable"
	case OutcomeFailedPermanent:
		return "failed_permanent"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// NextDue returns the queue head if its slot has arrived, nil
// otherwise. While posting is paused, due entries are pushed to fresh
// slots instead, so nothing ever fires late once posting resumes.
func (s *Service) NextDue(ctx context.Context) (*models.QueuedContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due *models.QueuedContent
	err := s.account.WithTx(ctx, func(tx storage.Tx) error {
		settings, err := tx.Settings()
		if err != nil {
			return err
		}
		if !settings.CanPost {
			return s.sched.DeferDue(tx, settings)
		}

		queue, err := tx.ContentQueue()
		if err != nil {
			return err
		}
		if len(queue) == 0 {
			return nil
		}
		if head := queue[0]; !head.WillPostAt.After(settings.NowIn(s.now())) {
			due = head
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

// ReportOutcome records the result of a publish attempt for a queued
// item. The queue entry, the content item's status and the outcome
// record all change in one transaction.
func (s *Service) ReportOutcome(ctx context.Context, shortcode string, outcome Outcome) error {
	s.mu.Lock()
	err := s.account.WithTx(ctx, func(tx storage.Tx) error {
		item, err := tx.ContentByShortcode(shortcode)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: content item missing for %s", storage.ErrBrokenInvariant, shortcode)
			}
			return err
		}
		settings, err := tx.Settings()
		if err != nil {
			return err
		}

		switch outcome {
		case OutcomePublished, OutcomePublishedUnverified:
			return s.recordPublished(tx, settings, item)
		case OutcomeFailedRecoverable:
			return s.recordRecoverableFailure(tx, settings, item)
		case OutcomeFailedPermanent:
			return s.recordPermanentFailure(tx, settings, item)
		default:
			return fmt.Errorf("unknown outcome %d", int(outcome))
		}
	})
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("report %s for %s: %w", outcome, shortcode, err)
	}

	s.log.Info().Str("shortcode", shortcode).Stringer("outcome", outcome).
		Msg("Publish outcome recorded")

	if s.tracker != nil && outcome != OutcomeFailedRecoverable {
		if err := s.tracker.RecordOutcome(ctx, s.account.Username(), shortcode, outcome.String(), s.now()); err != nil {
			s.log.Warn().Err(err).Str("shortcode", shortcode).Msg("Failed to track outcome")
		}
	}
	return nil
}

func (s *Service) recordPublished(tx storage.Tx, settings *models.AccountSettings, item *models.ContentItem) error {
	if err := lifecycle.Guard(item.Status.Kind, models.StatusPublished); err != nil {
		return err
	}

	entry, err := tx.QueuedByShortcode(item.OriginalShortcode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: queued entry missing for %s", storage.ErrBrokenInvariant, item.OriginalShortcode)
		}
		return err
	}

	now := settings.NowIn(s.now())
	// A publication that slipped more than one interval past its slot
	// means the queue behind it bunched up; removing with rebalance
	// restores the spacing. An on-time publication just leaves.
	if now.Sub(entry.WillPostAt) > settings.PostingIntervalDuration() {
		if err := s.sched.RemoveFromQueue(tx, settings, item.OriginalShortcode); err != nil {
			return err
		}
	} else if err := tx.DeleteQueued(item.OriginalShortcode); err != nil {
		return err
	}

	if err := tx.SavePublished(&models.PublishedContent{
		OriginalShortcode: item.OriginalShortcode,
		URL:               item.URL,
		Caption:           item.Caption,
		Hashtags:          item.Hashtags,
		OriginalAuthor:    item.OriginalAuthor,
		PublishedAt:       now,
	}); err != nil {
		return err
	}

	item.Status = models.ContentStatus{Kind: models.StatusPublished}
	item.LastUpdatedAt = now
	return tx.SaveContent(item)
}

// recordRecoverableFailure pushes only the failed entry one interval
// out; the rest of the queue keeps its slots.
func (s *Service) recordRecoverableFailure(tx storage.Tx, settings *models.AccountSettings, item *models.ContentItem) error {
	entry, err := tx.QueuedByShortcode(item.OriginalShortcode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: queued entry missing for %s", storage.ErrBrokenInvariant, item.OriginalShortcode)
		}
		return err
	}
	entry.WillPostAt = entry.WillPostAt.Add(settings.PostingIntervalDuration())
	if err := tx.SaveQueued(entry); err != nil {
		return err
	}

	item.EncounteredErrors++
	item.LastUpdatedAt = settings.NowIn(s.now())
	return tx.SaveContent(item)
}

func (s *Service) recordPermanentFailure(tx storage.Tx, settings *models.AccountSettings, item *models.ContentItem) error {
	if err := lifecycle.Guard(item.Status.Kind, models.StatusFailed); err != nil {
		return err
	}
	if err := s.sched.RemoveFromQueue(tx, settings, item.OriginalShortcode); err != nil {
		return err
	}

	now := settings.NowIn(s.now())
	if err := tx.SaveFailed(&models.FailedContent{
		OriginalShortcode: item.OriginalShortcode,
		URL:               item.URL,
		Caption:           item.Caption,
		Hashtags:          item.Hashtags,
		OriginalAuthor:    item.OriginalAuthor,
		FailedAt:          now,
	}); err != nil {
		return err
	}

	item.Status = models.ContentStatus{Kind: models.StatusFailed}
	item.EncounteredErrors++
	item.LastUpdatedAt = now
	return tx.SaveContent(item)
}

// AmendQueue repairs the schedule after downtime. Run once at startup.
func (s *Service) AmendQueue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account.WithTx(ctx, func(tx storage.Tx) error {
		settings, err := tx.Settings()
		if err != nil {
			return err
		}
		return s.sched.AmendQueue(tx, settings)
	})
}

// SweepExpired removes outcome records past their retention and drops
// their items from the review pages. The Expired flag is set exactly
// once and never cleared. The sweep yields instead of queueing behind a
// busy account; the next tick catches up.
func (s *Service) SweepExpired(ctx context.Context) error {
	if !s.mu.TryLock() {
		return nil
	}
	defer s.mu.Unlock()

	return s.account.WithTx(ctx, func(tx storage.Tx) error {
		settings, err := tx.Settings()
		if err != nil {
			return err
		}
		now := settings.NowIn(s.now())
		removed := 0

		rejected, err := tx.ListRejected()
		if err != nil {
			return err
		}
		for _, entry := range rejected {
			if entry.Expired || now.Sub(entry.RejectedAt) <= settings.RejectedLifespan() {
				continue
			}
			entry.Expired = true
			if err := tx.SaveRejected(entry); err != nil {
				return err
			}
			if err := tx.DeleteContent(entry.OriginalShortcode); err != nil {
				return err
			}
			removed++
		}

		published, err := tx.ListPublished()
		if err != nil {
			return err
		}
		for _, entry := range published {
			if entry.Expired || now.Sub(entry.PublishedAt) <= settings.PostedLifespan() {
				continue
			}
			entry.Expired = true
			if err := tx.SavePublished(entry); err != nil {
				return err
			}
			if err := tx.DeleteContent(entry.OriginalShortcode); err != nil {
				return err
			}
			removed++
		}

		failed, err := tx.ListFailed()
		if err != nil {
			return err
		}
		for _, entry := range failed {
			if entry.Expired || now.Sub(entry.FailedAt) <= settings.PostedLifespan() {
				continue
			}
			entry.Expired = true
			if err := tx.SaveFailed(entry); err != nil {
				return err
			}
			if err := tx.DeleteContent(entry.OriginalShortcode); err != nil {
				return err
			}
			removed++
		}

		if removed == 0 {
			return nil
		}
		s.log.Info().Int("removed", removed).Msg("Expired content swept")
		return paginator.Renumber(tx, settings.PageSize)
	})
}
