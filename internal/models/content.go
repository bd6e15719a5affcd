package models

import (
	"time"
)

// ContentItem is one piece of scraped content moving through the review
// pipeline. Identity is (Username, OriginalShortcode); MessageID is a
// UI-assigned surrogate key and is never used as the primary identity.
type ContentItem struct {
	Username           string        `gorm:"primaryKey" json:"username"`
	OriginalShortcode  string        `gorm:"primaryKey" json:"original_shortcode"`
	MessageID          int64         `gorm:"index" json:"message_id"`
	URL                string        `gorm:"not null" json:"url"`
	Status             ContentStatus `gorm:"type:text;not null" json:"status"`
	Caption            string        `gorm:"type:text" json:"caption"`
	Hashtags           string        `gorm:"type:text" json:"hashtags"`
	OriginalAuthor     string        `json:"original_author"`
	AddedAt            time.Time     `gorm:"index" json:"added_at"`
	LastUpdatedAt      time.Time     `json:"last_updated_at"`
	URLLastUpdatedAt   time.Time     `json:"url_last_updated_at"`
	PageNum            int           `gorm:"default:1" json:"page_num"`
	EncounteredErrors  int           `gorm:"default:0" json:"encountered_errors"`
}

// QueuedContent is the scheduling side-table row for an item in the
// queued state. At most one row exists per shortcode.
type QueuedContent struct {
	Username          string    `gorm:"primaryKey" json:"username"`
	OriginalShortcode string    `gorm:"primaryKey" json:"original_shortcode"`
	URL               string    `gorm:"not null" json:"url"`
	Caption           string    `gorm:"type:text" json:"caption"`
	Hashtags          string    `gorm:"type:text" json:"hashtags"`
	OriginalAuthor    string    `json:"original_author"`
	WillPostAt        time.Time `gorm:"index" json:"will_post_at"`
}

// PublishedContent records a successful publication. Append-only;
// Expired is set once by the expiration sweep and never unset.
type PublishedContent struct {
	Username          string    `gorm:"primaryKey" json:"username"`
	OriginalShortcode string    `gorm:"primaryKey" json:"original_shortcode"`
	URL               string    `gorm:"not null" json:"url"`
	Caption           string    `gorm:"type:text" json:"caption"`
	Hashtags          string    `gorm:"type:text" json:"hashtags"`
	OriginalAuthor    string    `json:"original_author"`
	PublishedAt       time.Time `gorm:"index" json:"published_at"`
	Expired           bool      `gorm:"default:false" json:"expired"`
}

// RejectedContent records a moderator rejection.
type RejectedContent struct {
	Username          string    `gorm:"primaryKey" json:"username"`
	OriginalShortcode string    `gorm:"primaryKey" json:"original_shortcode"`
	URL               string    `gorm:"not null" json:"url"`
	Caption           string    `gorm:"type:text" json:"caption"`
	Hashtags          string    `gorm:"type:text" json:"hashtags"`
	OriginalAuthor    string    `json:"original_author"`
	RejectedAt        time.Time `gorm:"index" json:"rejected_at"`
	Expired           bool      `gorm:"default:false" json:"expired"`
}

// FailedContent records a non-recoverable publish failure.
type FailedContent struct {
	Username          string    `gorm:"primaryKey" json:"username"`
	OriginalShortcode string    `gorm:"primaryKey" json:"original_shortcode"`
	URL               string    `gorm:"not null" json:"url"`
	Caption           string    `gorm:"type:text" json:"caption"`
	Hashtags          string    `gorm:"type:text" json:"hashtags"`
	OriginalAuthor    string    `json:"original_author"`
	FailedAt          time.Time `gorm:"index" json:"failed_at"`
	Expired           bool      `gorm:"default:false" json:"expired"`
}

// DuplicateContent marks a shortcode whose video matched an already
// accepted one, so re-scrapes skip it without re-hashing.
type DuplicateContent struct {
	Username          string `gorm:"primaryKey" json:"username"`
	OriginalShortcode string `gorm:"primaryKey" json:"original_shortcode"`
}
