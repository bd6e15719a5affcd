package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/repost-agent/internal/lifecycle"
	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/paginator"
	"github.com/repost-agent/internal/storage"
)

// Action is a moderation command applied to one content item.
type Action int

const (
	ActionAccept Action = iota
	ActionReject
	ActionRemoveFromQueue
	ActionUndoReject
	ActionRemoveFromView
	ActionPublishNow
	ActionEditCaption
	ActionEditHashtags
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionReject:
		return "reject"
	case ActionRemoveFromQueue:
		return "remove_from_queue"
	case ActionUndoReject:
		return "undo_reject"
	case ActionRemoveFromView:
		return "remove_from_view"
	case ActionPublishNow:
		return "publish_now"
	case ActionEditCaption:
		return "edit_caption"
	case ActionEditHashtags:
		return "edit_hashtags"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// Transition applies a moderation action to the item identified by
// shortcode. Value carries the new text for the edit actions and is
// ignored otherwise.
func (s *Service) Transition(ctx context.Context, shortcode string, action Action, value string) error {
	// Caption polishing calls out to the model API, so it happens
	// before the account lock is taken.
	if action == ActionEditCaption && s.captions != nil && value != "" {
		if err := s.session.Begin(lifecycle.SessionProcessing, shortcode); err != nil {
			return err
		}
		polished, err := s.captions.PolishCaption(ctx, value)
		s.session.End()
		if err != nil {
			s.log.Warn().Err(err).Str("shortcode", shortcode).
				Msg("Caption polish failed, keeping draft")
		} else {
			value = polished
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.account.WithTx(ctx, func(tx storage.Tx) error {
		item, err := tx.ContentByShortcode(shortcode)
		if err != nil {
			return err
		}
		settings, err := tx.Settings()
		if err != nil {
			return err
		}
		now := settings.NowIn(s.now())

		switch action {
		case ActionAccept:
			return s.accept(tx, settings, item, now)
		case ActionReject:
			return s.reject(tx, item, now)
		case ActionRemoveFromQueue:
			return s.removeFromQueue(tx, settings, item, now)
		case ActionUndoReject:
			return s.undoReject(tx, item, now)
		case ActionRemoveFromView:
			return s.removeFromView(tx, settings, item)
		case ActionPublishNow:
			return s.publishNow(tx, settings, item)
		case ActionEditCaption:
			return s.editCaption(tx, item, value, now)
		case ActionEditHashtags:
			return s.editHashtags(tx, item, value, now)
		default:
			return fmt.Errorf("unknown action %d", int(action))
		}
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, shortcode, err)
	}

	s.log.Info().Str("shortcode", shortcode).Stringer("action", action).
		Msg("Moderation action applied")
	return nil
}

// accept schedules an item for publication. Accepting an item that is
// already queued is a no-op: its slot is kept, not reassigned.
func (s *Service) accept(tx storage.Tx, settings *models.AccountSettings, item *models.ContentItem, now time.Time) error {
	queued, err := tx.ExistsInQueue(item.OriginalShortcode)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	if err := lifecycle.Guard(item.Status.Kind, models.StatusQueued); err != nil {
		return err
	}

	slot, err := s.sched.NextSlot(tx, settings)
	if err != nil {
		return err
	}
	if err := tx.SaveQueued(&models.QueuedContent{
		OriginalShortcode: item.OriginalShortcode,
		URL:               item.URL,
		Caption:           item.Caption,
		Hashtags:          item.Hashtags,
		OriginalAuthor:    item.OriginalAuthor,
		WillPostAt:        slot,
	}); err != nil {
		return err
	}

	item.Status = models.ContentStatus{Kind: models.StatusQueued, Shown: item.Status.Shown}
	item.LastUpdatedAt = now
	return tx.SaveContent(item)
}

func (s *Service) reject(tx storage.Tx, item *models.ContentItem, now time.Time) error {
	if err := lifecycle.Guard(item.Status.Kind, models.StatusRejected); err != nil {
		return err
	}
	if err := tx.SaveRejected(&models.RejectedContent{
		OriginalShortcode: item.OriginalShortcode,
		URL:               item.URL,
		Caption:           item.Caption,
		Hashtags:          item.Hashtags,
		OriginalAuthor:    item.OriginalAuthor,
		RejectedAt:        now,
	}); err != nil {
		return err
	}
	item.Status = models.ContentStatus{Kind: models.StatusRejected, Shown: item.Status.Shown}
	item.LastUpdatedAt = now
	return tx.SaveContent(item)
}

// removeFromQueue puts a queued item back into moderation and
// rebalances the slots behind it.
func (s *Service) removeFromQueue(tx storage.Tx, settings *models.AccountSettings, item *models.ContentItem, now time.Time) error {
	if err := lifecycle.Guard(item.Status.Kind, models.StatusPending); err != nil {
		return err
	}
	if err := s.sched.RemoveFromQueue(tx, settings, item.OriginalShortcode); err != nil {
		return err
	}
	item.Status = models.ContentStatus{Kind: models.StatusPending, Shown: item.Status.Shown}
	item.LastUpdatedAt = now
	return tx.SaveContent(item)
}

// undoReject returns a rejected item to moderation. A rejected item
// without its rejection record means the stores disagree, which is a
// hard error rather than something to paper over.
func (s *Service) undoReject(tx storage.Tx, item *models.ContentItem, now time.Time) error {
	if err := lifecycle.Guard(item.Status.Kind, models.StatusPending); err != nil {
		return err
	}
	if _, err := tx.RejectedByShortcode(item.OriginalShortcode); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: rejected record missing for %s",
				storage.ErrBrokenInvariant, item.OriginalShortcode)
		}
		return err
	}
	if err := tx.DeleteRejected(item.OriginalShortcode); err != nil {
		return err
	}
	item.Status = models.ContentStatus{Kind: models.StatusPending, Shown: item.Status.Shown}
	item.LastUpdatedAt = now
	return tx.SaveContent(item)
}

// removeFromView drops the item from the review pages entirely. Its
// queue entry (if any) is removed with rebalancing, and remaining pages
// are renumbered so none is left sparse.
func (s *Service) removeFromView(tx storage.Tx, settings *models.AccountSettings, item *models.ContentItem) error {
	if item.Status.Kind == models.StatusQueued {
		if err := s.sched.RemoveFromQueue(tx, settings, item.OriginalShortcode); err != nil {
			return err
		}
	}
	if err := tx.DeleteContent(item.OriginalShortcode); err != nil {
		return err
	}
	return paginator.Renumber(tx, settings.PageSize)
}

func (s *Service) publishNow(tx storage.Tx, settings *models.AccountSettings, item *models.ContentItem) error {
	if item.Status.Kind != models.StatusQueued {
		return fmt.Errorf("%w: %s -> publish now", lifecycle.ErrIllegalTransition, item.Status.Kind)
	}
	return s.sched.PublishNow(tx, settings, item.OriginalShortcode)
}

func (s *Service) editCaption(tx storage.Tx, item *models.ContentItem, caption string, now time.Time) error {
	item.Caption = caption
	item.LastUpdatedAt = now
	if err := s.syncQueuedCopy(tx, item); err != nil {
		return err
	}
	return tx.SaveContent(item)
}

// editHashtags replaces the item's hashtags. The value is normalized to
// the extracted #tags regardless of how it was typed.
func (s *Service) editHashtags(tx storage.Tx, item *models.ContentItem, value string, now time.Time) error {
	tags := hashtagPattern.FindAllString(value, -1)
	item.Hashtags = strings.Join(tags, " ")
	item.LastUpdatedAt = now
	if err := s.syncQueuedCopy(tx, item); err != nil {
		return err
	}
	return tx.SaveContent(item)
}

// syncQueuedCopy mirrors caption and hashtag edits into the queued row,
// which carries its own copy for the publisher.
func (s *Service) syncQueuedCopy(tx storage.Tx, item *models.ContentItem) error {
	entry, err := tx.QueuedByShortcode(item.OriginalShortcode)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	entry.Caption = item.Caption
	entry.Hashtags = item.Hashtags
	return tx.SaveQueued(entry)
}
