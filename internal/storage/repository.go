package storage

import (
	"context"
	"errors"

	"github.com/repost-agent/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// ErrBrokenInvariant marks a lookup that found the collections in a
// state they must never reach (for example a terminal side-table row
// missing for an item that claims that state). Callers must abort the
// enclosing transaction rather than recover.
var ErrBrokenInvariant = errors.New("storage: data invariant violated")

// Store opens per-account scopes over the shared database.
type Store interface {
	Account(username string) AccountStore
	Migrate() error
	Close() error
}

// AccountStore is the persistence surface for one account. All reads
// and writes happen inside WithTx: the closure either commits as a
// whole or leaves the store untouched.
type AccountStore interface {
	Username() string
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the per-account collections inside one transaction.
type Tx interface {
	Settings() (*models.AccountSettings, error)
	SaveSettings(settings *models.AccountSettings) error

	ContentByShortcode(shortcode string) (*models.ContentItem, error)
	ContentByMessageID(messageID int64) (*models.ContentItem, error)
	// ListContent returns all items ordered by AddedAt ascending.
	ListContent() ([]*models.ContentItem, error)
	SaveContent(item *models.ContentItem) error
	DeleteContent(shortcode string) error
	// NextMessageID produces a placeholder surrogate id for items the
	// UI collaborator has not rendered yet.
	NextMessageID() (int64, error)

	// ContentQueue returns queued entries ordered by WillPostAt ascending.
	ContentQueue() ([]*models.QueuedContent, error)
	QueuedByShortcode(shortcode string) (*models.QueuedContent, error)
	SaveQueued(entry *models.QueuedContent) error
	DeleteQueued(shortcode string) error

	ListPublished() ([]*models.PublishedContent, error)
	PublishedByShortcode(shortcode string) (*models.PublishedContent, error)
	SavePublished(entry *models.PublishedContent) error

	ListRejected() ([]*models.RejectedContent, error)
	RejectedByShortcode(shortcode string) (*models.RejectedContent, error)
	SaveRejected(entry *models.RejectedContent) error
	DeleteRejected(shortcode string) error

	ListFailed() ([]*models.FailedContent, error)
	FailedByShortcode(shortcode string) (*models.FailedContent, error)
	SaveFailed(entry *models.FailedContent) error

	SaveDuplicate(entry *models.DuplicateContent) error

	ListHashedVideos() ([]*models.HashedVideo, error)
	SaveHashedVideo(video *models.HashedVideo) error

	// ExistsAnywhere reports whether the shortcode is present in any of
	// the content, queued, published, rejected, failed or duplicate
	// collections.
	ExistsAnywhere(shortcode string) (bool, error)
	ExistsInQueue(shortcode string) (bool, error)
}
