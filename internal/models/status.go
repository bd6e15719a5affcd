package models

import (
	"database/sql/driver"
	"fmt"
)

// StatusKind is the lifecycle state of a content item.
type StatusKind int

const (
	StatusWaiting StatusKind = iota
	StatusRemovedFromView
	StatusPending
	StatusQueued
	StatusPublished
	StatusRejected
	StatusFailed
)

func (k StatusKind) String() string {
	switch k {
	case StatusWaiting:
		return "waiting"
	case StatusRemovedFromView:
		return "removed_from_view"
	case StatusPending:
		return "pending"
	case StatusQueued:
		return "queued"
	case StatusPublished:
		return "published"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ContentStatus combines the lifecycle state with the UI visibility flag.
// Shown is presentation state only: toggling it must never re-trigger
// scheduling work. Waiting and RemovedFromView carry no visibility.
type ContentStatus struct {
	Kind  StatusKind
	Shown bool
}

// Is reports whether the status has the given lifecycle kind,
// regardless of visibility.
func (s ContentStatus) Is(k StatusKind) bool {
	return s.Kind == k
}

// WithShown returns the same lifecycle state with visibility set to shown.
func (s ContentStatus) WithShown(shown bool) ContentStatus {
	if s.Kind == StatusWaiting || s.Kind == StatusRemovedFromView {
		return s
	}
	return ContentStatus{Kind: s.Kind, Shown: shown}
}

// String renders the persisted form, e.g. "queued_shown".
func (s ContentStatus) String() string {
	switch s.Kind {
	case StatusWaiting:
		return "waiting"
	case StatusRemovedFromView:
		return "removed_from_view"
	}
	suffix := "hidden"
	if s.Shown {
		suffix = "shown"
	}
	return s.Kind.String() + "_" + suffix
}

// ParseContentStatus parses the persisted string form of a status.
func ParseContentStatus(raw string) (ContentStatus, error) {
	switch raw {
	case "waiting":
		return ContentStatus{Kind: StatusWaiting}, nil
	case "removed_from_view":
		return ContentStatus{Kind: StatusRemovedFromView}, nil
	case "pending_shown":
		return ContentStatus{Kind: StatusPending, Shown: true}, nil
	case "pending_hidden":
		return ContentStatus{Kind: StatusPending}, nil
	case "queued_shown":
		return ContentStatus{Kind: StatusQueued, Shown: true}, nil
	case "queued_hidden":
		return ContentStatus{Kind: StatusQueued}, nil
	case "published_shown":
		return ContentStatus{Kind: StatusPublished, Shown: true}, nil
	case "published_hidden":
		return ContentStatus{Kind: StatusPublished}, nil
	case "rejected_shown":
		return ContentStatus{Kind: StatusRejected, Shown: true}, nil
	case "rejected_hidden":
		return ContentStatus{Kind: StatusRejected}, nil
	case "failed_shown":
		return ContentStatus{Kind: StatusFailed, Shown: true}, nil
	case "failed_hidden":
		return ContentStatus{Kind: StatusFailed}, nil
	}
	return ContentStatus{}, fmt.Errorf("unknown content status %q", raw)
}

// Value implements driver.Valuer so gorm persists the string form.
func (s ContentStatus) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *ContentStatus) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ContentStatus", value)
	}
	parsed, err := ParseContentStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
