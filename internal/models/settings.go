package models

import (
	"time"
)

// AccountSettings is the one-row-per-account configuration that drives
// scheduling, expiration and pagination. Intervals and lifespans are in
// minutes, TimezoneOffset in whole hours from UTC.
type AccountSettings struct {
	Username                string `gorm:"primaryKey" json:"username"`
	CanPost                 bool   `gorm:"default:true" json:"can_post"`
	PostingInterval         int    `json:"posting_interval"`
	RandomIntervalVariance  int    `json:"random_interval_variance"`
	RejectedContentLifespan int    `json:"rejected_content_lifespan"`
	PostedContentLifespan   int    `json:"posted_content_lifespan"`
	TimezoneOffset          int    `json:"timezone_offset"`
	CurrentPage             int    `gorm:"default:1" json:"current_page"`
	PageSize                int    `gorm:"default:8" json:"page_size"`
}

// PostingIntervalDuration returns the target spacing between posts.
func (s *AccountSettings) PostingIntervalDuration() time.Duration {
	return time.Duration(s.PostingInterval) * time.Minute
}

// VarianceDuration returns the maximum jitter applied around the
// posting interval.
func (s *AccountSettings) VarianceDuration() time.Duration {
	return time.Duration(s.RandomIntervalVariance) * time.Minute
}

// RejectedLifespan returns how long rejected records are retained.
func (s *AccountSettings) RejectedLifespan() time.Duration {
	return time.Duration(s.RejectedContentLifespan) * time.Minute
}

// PostedLifespan returns how long published and failed records are
// retained.
func (s *AccountSettings) PostedLifespan() time.Duration {
	return time.Duration(s.PostedContentLifespan) * time.Minute
}

// Location returns the account's fixed timezone.
func (s *AccountSettings) Location() *time.Location {
	return time.FixedZone("account", s.TimezoneOffset*3600)
}

// NowIn converts an instant into the account's timezone.
func (s *AccountSettings) NowIn(t time.Time) time.Time {
	return t.In(s.Location())
}
