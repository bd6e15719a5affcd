// Package pipeline coordinates the life of scraped content: intake with
// duplicate detection, moderation actions, slot-based publishing and
// retention sweeps. All state changes for one account run under a
// single mutex and a single storage transaction, so concurrent callers
// always observe a consistent queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/repost-agent/internal/dedup"
	"github.com/repost-agent/internal/lifecycle"
	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/paginator"
	"github.com/repost-agent/internal/scheduler"
	"github.com/repost-agent/internal/storage"
	"github.com/repost-agent/pkg/logger"
)

// Deduplicator fingerprints candidate videos and matches them against
// stored fingerprints.
type Deduplicator interface {
	Fingerprint(ctx context.Context, path string) (*dedup.Fingerprint, error)
	IsDuplicate(tx storage.Tx, shortcode string, fp *dedup.Fingerprint) (bool, error)
}

// BlobStore uploads media files and returns a stable URL.
type BlobStore interface {
	Upload(ctx context.Context, path string) (string, error)
}

// CaptionAssistant rewrites a caption draft.
type CaptionAssistant interface {
	PolishCaption(ctx context.Context, caption string) (string, error)
}

// Tracker records publish outcomes in an external sheet or log.
type Tracker interface {
	RecordOutcome(ctx context.Context, username, shortcode, outcome string, at time.Time) error
}

// Deps wires a Service. Account, Scheduler and Log are required; the
// remaining collaborators are optional and disable their feature when
// nil.
type Deps struct {
	Log       *logger.Logger
	Account   storage.AccountStore
	Scheduler *scheduler.Scheduler
	Dedup     Deduplicator
	Blob      BlobStore
	Captions  CaptionAssistant
	Tracker   Tracker
	Now       func() time.Time
}

// Service is the per-account content pipeline.
type Service struct {
	log      *logger.Logger
	account  storage.AccountStore
	sched    *scheduler.Scheduler
	dedup    Deduplicator
	blob     BlobStore
	captions CaptionAssistant
	tracker  Tracker
	now      func() time.Time

	mu      sync.Mutex
	session lifecycle.Session
}

// New builds a Service from its dependencies.
func New(deps Deps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		log:      deps.Log.WithComponent("pipeline").WithAccount(deps.Account.Username()),
		account:  deps.Account,
		sched:    deps.Scheduler,
		dedup:    deps.Dedup,
		blob:     deps.Blob,
		captions: deps.Captions,
		tracker:  deps.Tracker,
		now:      now,
	}
}

// Candidate is one scraped piece of content offered to the pipeline.
type Candidate struct {
	Shortcode      string
	URL            string
	Caption        string
	OriginalAuthor string
	// VideoPath is the local media file. Empty skips duplicate
	// detection and blob upload.
	VideoPath string
}

// SubmitStatus is the outcome of SubmitCandidate.
type SubmitStatus int

const (
	SubmitAccepted SubmitStatus = iota
	SubmitAlreadyKnown
	SubmitDuplicate
)

func (s SubmitStatus) String() string {
	switch s {
	case SubmitAccepted:
		return "accepted"
	case SubmitAlreadyKnown:
		return "already_known"
	case SubmitDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var hashtagPattern = regexp.MustCompile(`#\w+`)

// splitHashtags pulls hashtags out of a caption, returning the cleaned
// caption and the tags joined with single spaces.
func splitHashtags(caption string) (string, string) {
	tags := hashtagPattern.FindAllString(caption, -1)
	clean := strings.TrimSpace(hashtagPattern.ReplaceAllString(caption, ""))
	return clean, strings.Join(tags, " ")
}

// SubmitCandidate takes a scraped candidate through intake: duplicate
// detection, hashtag extraction and placement on the review pages.
// Fingerprinting runs before the account lock is taken since it only
// touches the local file.
func (s *Service) SubmitCandidate(ctx context.Context, candidate Candidate) (SubmitStatus, error) {
	var fp *dedup.Fingerprint
	if s.dedup != nil && candidate.VideoPath != "" {
		var err error
		fp, err = s.dedup.Fingerprint(ctx, candidate.VideoPath)
		if err != nil {
			return 0, fmt.Errorf("failed to fingerprint %s: %w", candidate.Shortcode, err)
		}
	}

	s.mu.Lock()
	status := SubmitAccepted
	err := s.account.WithTx(ctx, func(tx storage.Tx) error {
		known, err := tx.ExistsAnywhere(candidate.Shortcode)
		if err != nil {
			return err
		}
		if known {
			status = SubmitAlreadyKnown
			return nil
		}

		if fp != nil {
			dup, err := s.dedup.IsDuplicate(tx, candidate.Shortcode, fp)
			if err != nil {
				return err
			}
			if dup {
				status = SubmitDuplicate
				return tx.SaveDuplicate(&models.DuplicateContent{
					OriginalShortcode: candidate.Shortcode,
				})
			}
		}

		settings, err := tx.Settings()
		if err != nil {
			return err
		}
		now := settings.NowIn(s.now())

		caption, hashtags := splitHashtags(candidate.Caption)
		messageID, err := tx.NextMessageID()
		if err != nil {
			return err
		}

		item := &models.ContentItem{
			OriginalShortcode: candidate.Shortcode,
			MessageID:         messageID,
			URL:               candidate.URL,
			Status:            models.ContentStatus{Kind: models.StatusWaiting},
			Caption:           caption,
			Hashtags:          hashtags,
			OriginalAuthor:    candidate.OriginalAuthor,
			AddedAt:           now,
			LastUpdatedAt:     now,
			URLLastUpdatedAt:  now,
		}
		if err := paginator.PlaceNew(tx, item, settings.PageSize); err != nil {
			return err
		}
		return tx.SaveContent(item)
	})
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.log.Info().Str("shortcode", candidate.Shortcode).
		Stringer("status", status).Msg("Candidate submitted")

	if status == SubmitAccepted && s.blob != nil && candidate.VideoPath != "" {
		s.rehostMedia(ctx, candidate.Shortcode, candidate.VideoPath)
	}
	return status, nil
}

// rehostMedia uploads the media file to the blob store and swaps the
// item's URL to the stable hosted one. Upload failures are logged, not
// fatal: the scraped URL keeps working for a while.
func (s *Service) rehostMedia(ctx context.Context, shortcode, path string) {
	url, err := s.blob.Upload(ctx, path)
	if err != nil {
		s.log.Warn().Err(err).Str("shortcode", shortcode).Msg("Failed to rehost media")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.account.WithTx(ctx, func(tx storage.Tx) error {
		item, err := tx.ContentByShortcode(shortcode)
		if err != nil {
			return err
		}
		settings, err := tx.Settings()
		if err != nil {
			return err
		}
		item.URL = url
		item.URLLastUpdatedAt = settings.NowIn(s.now())
		return tx.SaveContent(item)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("shortcode", shortcode).Msg("Failed to store rehosted URL")
	}
}

// EnsureSettings creates the account settings row on first run.
func (s *Service) EnsureSettings(ctx context.Context, defaults models.AccountSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account.WithTx(ctx, func(tx storage.Tx) error {
		_, err := tx.Settings()
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		s.log.Info().Msg("Creating default account settings")
		return tx.SaveSettings(&defaults)
	})
}

// ListPage returns the items on the account's current page along with
// the current page number and the total page count.
func (s *Service) ListPage(ctx context.Context) ([]*models.ContentItem, int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		items []*models.ContentItem
		page  int
		total int
	)
	err := s.account.WithTx(ctx, func(tx storage.Tx) error {
		settings, err := tx.Settings()
		if err != nil {
			return err
		}
		page = settings.CurrentPage
		items, total, err = paginator.Page(tx, page, settings.PageSize)
		return err
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return items, page, total, nil
}

// SetPage moves the account's current page, clamped to the valid range.
func (s *Service) SetPage(ctx context.Context, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account.WithTx(ctx, func(tx storage.Tx) error {
		settings, err := tx.Settings()
		if err != nil {
			return err
		}
		_, total, err := paginator.Page(tx, page, settings.PageSize)
		if err != nil {
			return err
		}
		if page < 1 {
			page = 1
		}
		if page > total {
			page = total
		}
		settings.CurrentPage = page
		return tx.SaveSettings(settings)
	})
}

// AssignMessageID records the UI message id rendered for an item and
// marks it visible. A waiting item enters moderation (pending) the
// first time it is rendered.
func (s *Service) AssignMessageID(ctx context.Context, shortcode string, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account.WithTx(ctx, func(tx storage.Tx) error {
		item, err := tx.ContentByShortcode(shortcode)
		if err != nil {
			return err
		}
		settings, err := tx.Settings()
		if err != nil {
			return err
		}
		item.MessageID = messageID
		if item.Status.Kind == models.StatusWaiting {
			item.Status = models.ContentStatus{Kind: models.StatusPending, Shown: true}
		} else {
			item.Status = item.Status.WithShown(true)
		}
		item.LastUpdatedAt = settings.NowIn(s.now())
		return tx.SaveContent(item)
	})
}

// ItemByMessageID resolves the item a UI message refers to.
func (s *Service) ItemByMessageID(ctx context.Context, messageID int64) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var item *models.ContentItem
	err := s.account.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		item, err = tx.ContentByMessageID(messageID)
		return err
	})
	return item, err
}

// Session exposes the per-account interaction state for the UI layer.
func (s *Service) Session() *lifecycle.Session {
	return &s.session
}
