package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cadencehq/cadence/internal/models"
)

// MaxContentLength is the longest post body the queue accepts.
const MaxContentLength = 3000

// Store is the durable queue of scheduled posts. It is the only state shared
// between the command facade and the publisher daemon, so every mutation is
// version-checked: writers name the version they read, and a stale version
// fails with ErrConflict instead of overwriting.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Mutation lists the fields a single Update may change. Nil fields are left
// untouched.
type Mutation struct {
	Content        *string
	MediaRefs      *models.MediaList
	Visibility     *models.Visibility
	ScheduledTime  *time.Time
	Status         *models.Status
	AttemptCount   *int
	LastError      *string
	ExternalPostID *string
}

// Insert creates a new pending post with version 0. The id is assigned here
// and never changes.
func (s *Store) Insert(ctx context.Context, post *models.ScheduledPost) error {
	if post.Content == "" {
		return validationErrorf("content is required")
	}
	if len(post.Content) > MaxContentLength {
		return validationErrorf("content exceeds %d characters", MaxContentLength)
	}
	if post.Visibility == "" {
		post.Visibility = models.VisibilityPublic
	}
	if _, err := models.ParseVisibility(string(post.Visibility)); err != nil {
		return validationErrorf("%v", err)
	}
	if post.ScheduledTime.IsZero() {
		return validationErrorf("scheduled_time is required")
	}
	if !post.ScheduledTime.After(time.Now()) {
		return validationErrorf("scheduled_time must be in the future")
	}
	for _, ref := range post.MediaRefs {
		if ref == "" {
			return validationErrorf("media_refs must not contain empty entries")
		}
	}

	post.ID = uuid.NewString()
	post.Status = models.StatusPending
	post.AttemptCount = 0
	post.Version = 0

	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// Get returns one post or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

// List returns posts ordered by scheduled time ascending, optionally
// filtered by status. Read-only.
func (s *Store) List(ctx context.Context, status *models.Status, limit int) ([]*models.ScheduledPost, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Order("scheduled_time ASC").Limit(limit)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var posts []*models.ScheduledPost
	if err := query.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// Update applies a mutation if and only if the stored version still equals
// expectedVersion. On success the version is incremented and updatedAt
// refreshed; on a stale version it fails with ErrConflict. Illegal state
// transitions and edits to a non-pending post fail with ValidationError.
// This is the single funnel all higher-level mutations go through.
func (s *Store) Update(ctx context.Context, id string, expectedVersion int64, mut Mutation) (*models.ScheduledPost, error) {
	var updated models.ScheduledPost

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.ScheduledPost
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load post: %w", err)
		}

		if current.Version != expectedVersion {
			return ErrConflict
		}

		next := current.Status
		if mut.Status != nil {
			next = *mut.Status
		}
		if next != current.Status && !models.CanTransition(current.Status, next) {
			return validationErrorf("illegal transition %s -> %s", current.Status, next)
		}

		updates := map[string]interface{}{
			"version":    expectedVersion + 1,
			"updated_at": time.Now(),
		}
		if mut.Status != nil {
			updates["status"] = *mut.Status
		}
		if mut.Content != nil {
			if current.Status != models.StatusPending {
				return validationErrorf("content is only editable while pending")
			}
			if *mut.Content == "" {
				return validationErrorf("content is required")
			}
			if len(*mut.Content) > MaxContentLength {
				return validationErrorf("content exceeds %d characters", MaxContentLength)
			}
			updates["content"] = *mut.Content
		}
		if mut.MediaRefs != nil {
			if current.Status != models.StatusPending {
				return validationErrorf("media_refs are only editable while pending")
			}
			updates["media_refs"] = *mut.MediaRefs
		}
		if mut.Visibility != nil {
			if current.Status != models.StatusPending {
				return validationErrorf("visibility is only editable while pending")
			}
			if _, err := models.ParseVisibility(string(*mut.Visibility)); err != nil {
				return validationErrorf("%v", err)
			}
			updates["visibility"] = *mut.Visibility
		}
		if mut.ScheduledTime != nil {
			// A reschedule of a pending post, or part of a transition back
			// to pending (transient requeue, manual retry).
			if current.Status != models.StatusPending && next != models.StatusPending {
				return validationErrorf("scheduled_time is only editable while pending")
			}
			updates["scheduled_time"] = *mut.ScheduledTime
		}
		if mut.AttemptCount != nil {
			updates["attempt_count"] = *mut.AttemptCount
		}
		if mut.LastError != nil {
			updates["last_error"] = *mut.LastError
		}
		if mut.ExternalPostID != nil {
			if next != models.StatusPublished {
				return validationErrorf("external_post_id can only be set on publish")
			}
			updates["external_post_id"] = *mut.ExternalPostID
		}

		res := tx.Model(&models.ScheduledPost{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update post: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ClaimDue atomically moves up to limit due pending posts to claimed and
// returns them with their new version. The claim on each row is a
// compare-and-swap keyed on id, version, and status, so two concurrent
// claimers can never both win the same row; a row lost to another writer
// between select and claim is simply skipped.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	if limit <= 0 {
		limit = 20
	}

	var due []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", models.StatusPending, now).
		Order("scheduled_time ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query due posts: %w", err)
	}

	var claimed []*models.ScheduledPost
	for i := range due {
		post := due[i]
		res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
			Where("id = ? AND version = ? AND status = ?", post.ID, post.Version, models.StatusPending).
			Updates(map[string]interface{}{
				"status":     models.StatusClaimed,
				"version":    post.Version + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return claimed, fmt.Errorf("failed to claim post %s: %w", post.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Another claimer or a concurrent edit/cancel got here first.
			continue
		}

		post.Status = models.StatusClaimed
		post.Version++
		post.UpdatedAt = now
		claimed = append(claimed, &post)
	}

	return claimed, nil
}

// ResetStaleClaims returns claimed posts that have not advanced since the
// cutoff to pending, preserving their attempt count. A stale claim means the
// daemon that held it died between claim and outcome.
func (s *Store) ResetStaleClaims(ctx context.Context, cutoff time.Time) (int, error) {
	var stale []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusClaimed, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to query stale claims: %w", err)
	}

	reset := 0
	for _, post := range stale {
		res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
			Where("id = ? AND version = ? AND status = ?", post.ID, post.Version, models.StatusClaimed).
			Updates(map[string]interface{}{
				"status":     models.StatusPending,
				"version":    post.Version + 1,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return reset, fmt.Errorf("failed to reset stale claim %s: %w", post.ID, res.Error)
		}
		reset += int(res.RowsAffected)
	}

	return reset, nil
}

// Summary is the aggregate view of the queue used by the summarize command.
type Summary struct {
	Total          int64                   `json:"total"`
	Counts         map[models.Status]int64 `json:"counts"`
	NextDue        *models.ScheduledPost   `json:"next_due,omitempty"`
	RecentFailures []*models.ScheduledPost `json:"recent_failures,omitempty"`
}

// Summarize returns counts grouped by status, the earliest pending post, and
// the most recently failed posts.
func (s *Store) Summarize(ctx context.Context) (*Summary, error) {
	summary := &Summary{Counts: make(map[models.Status]int64)}

	var rows []struct {
		Status models.Status
		Cnt    int64
	}
	err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Select("status, COUNT(*) as cnt").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}
	for _, row := range rows {
		summary.Counts[row.Status] = row.Cnt
		summary.Total += row.Cnt
	}

	var next models.ScheduledPost
	err = s.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Order("scheduled_time ASC").
		First(&next).Error
	if err == nil {
		summary.NextDue = &next
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to find next due post: %w", err)
	}

	err = s.db.WithContext(ctx).
		Where("status = ?", models.StatusFailed).
		Order("updated_at DESC").
		Limit(5).
		Find(&summary.RecentFailures).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find recent failures: %w", err)
	}

	return summary, nil
}

// RecordAttempt appends one publish-attempt audit row.
func (s *Store) RecordAttempt(ctx context.Context, attempt *models.PublishAttempt) error {
	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to record publish attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the audit trail for one post, oldest first.
func (s *Store) ListAttempts(ctx context.Context, postID string) ([]*models.PublishAttempt, error) {
	if _, err := s.Get(ctx, postID); err != nil {
		return nil, err
	}

	var attempts []*models.PublishAttempt
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list publish attempts: %w", err)
	}
	return attempts, nil
}
