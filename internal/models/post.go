package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a scheduled post. Transitions are
// restricted to the table in transitions below; everything else is illegal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a status string coming in from a caller.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusClaimed, StatusPublished, StatusFailed, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// transitions is the full state machine. pending->pending covers
// edit/reschedule, claimed->pending covers the transient-failure requeue,
// failed->pending covers manual retry. published and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusPending: {StatusPending, StatusClaimed, StatusCancelled},
	StatusClaimed: {StatusPending, StatusPublished, StatusFailed},
	StatusFailed:  {StatusPending},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Visibility controls the audience of a published post.
type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityConnections Visibility = "connections"
)

func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case VisibilityPublic, VisibilityConnections:
		return Visibility(s), nil
	}
	return "", fmt.Errorf("unknown visibility %q", s)
}

// MediaList is an ordered list of opaque media descriptors, stored as a JSON
// text column so the same model works on both postgres and sqlite.
type MediaList []string

// Scan implements the sql.Scanner interface
func (m *MediaList) Scan(value interface{}) error {
	if value == nil {
		*m = MediaList{}
		return nil
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			*m = MediaList{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	case []byte:
		if len(v) == 0 {
			*m = MediaList{}
			return nil
		}
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("cannot scan %T into MediaList", value)
	}
}

// Value implements the driver.Valuer interface
func (m MediaList) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ScheduledPost is one row of the queue. Version is the optimistic
// concurrency counter: every committed mutation increments it, and every
// mutation must name the version it read.
type ScheduledPost struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	MediaRefs      MediaList  `gorm:"type:text" json:"media_refs"`
	Visibility     Visibility `gorm:"size:20;not null;default:'public'" json:"visibility"`
	ScheduledTime  time.Time  `gorm:"not null;index" json:"scheduled_time"`
	Status         Status     `gorm:"size:20;not null;default:'pending';index" json:"status"`
	AttemptCount   int        `gorm:"not null;default:0" json:"attempt_count"`
	LastError      string     `gorm:"type:text" json:"last_error,omitempty"`
	ExternalPostID string     `gorm:"size:255" json:"external_post_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `gorm:"index" json:"updated_at"`
	Version        int64      `gorm:"not null;default:0" json:"version"`
}

// Terminal reports whether the post can never be claimed again without an
// explicit operator action (retry is only available from failed).
func (p *ScheduledPost) Terminal() bool {
	return p.Status == StatusPublished || p.Status == StatusCancelled
}

// PublishAttempt is an audit record written by the daemon after each publish
// call, successful or not. Rows are append-only.
type PublishAttempt struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	PostID         string    `gorm:"size:36;not null;index" json:"post_id"`
	Attempt        int       `gorm:"not null" json:"attempt"`
	Success        bool      `gorm:"not null" json:"success"`
	ExternalPostID string    `gorm:"size:255" json:"external_post_id,omitempty"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
