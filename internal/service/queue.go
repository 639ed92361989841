package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

// defaultRetryDelay is how far out a manually retried post is scheduled when
// the caller does not pick a time.
const defaultRetryDelay = 5 * time.Minute

// QueueService is the command facade: it translates agent requests into
// store operations, enforcing per-operation state preconditions. Every
// mutation goes through the store's version check; when the caller supplies
// its last-seen version a concurrent change surfaces as ErrConflict.
type QueueService struct {
	store  *store.Store
	logger *zap.Logger
}

func NewQueueService(st *store.Store, logger *zap.Logger) *QueueService {
	return &QueueService{store: st, logger: logger}
}

type ScheduleInput struct {
	Content       string
	MediaRefs     []string
	Visibility    string
	ScheduledTime time.Time
}

func (q *QueueService) Schedule(ctx context.Context, in ScheduleInput) (*models.ScheduledPost, error) {
	post := &models.ScheduledPost{
		Content:       in.Content,
		MediaRefs:     models.MediaList(in.MediaRefs),
		Visibility:    models.Visibility(in.Visibility),
		ScheduledTime: in.ScheduledTime,
	}
	if err := q.store.Insert(ctx, post); err != nil {
		return nil, err
	}

	q.logger.Info("Post scheduled",
		zap.String("post_id", post.ID),
		zap.Time("scheduled_time", post.ScheduledTime))
	return post, nil
}

func (q *QueueService) Get(ctx context.Context, id string) (*models.ScheduledPost, error) {
	return q.store.Get(ctx, id)
}

// List returns posts ordered by scheduled time, optionally filtered by a
// status name.
func (q *QueueService) List(ctx context.Context, status string, limit int) ([]*models.ScheduledPost, error) {
	var filter *models.Status
	if status != "" {
		parsed, err := models.ParseStatus(status)
		if err != nil {
			return nil, &store.ValidationError{Reason: err.Error()}
		}
		filter = &parsed
	}
	return q.store.List(ctx, filter, limit)
}

// EditInput holds the partial edit of a pending post. Nil fields stay
// unchanged; MediaRefs is replaced wholesale when non-nil.
type EditInput struct {
	Content    *string
	MediaRefs  []string
	Visibility *string
}

func (q *QueueService) Edit(ctx context.Context, id string, in EditInput, expectedVersion *int64) (*models.ScheduledPost, error) {
	post, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusPending {
		return nil, &store.ValidationError{Reason: "only pending posts can be edited"}
	}

	mut := store.Mutation{Content: in.Content}
	if in.MediaRefs != nil {
		refs := models.MediaList(in.MediaRefs)
		mut.MediaRefs = &refs
	}
	if in.Visibility != nil {
		vis, err := models.ParseVisibility(*in.Visibility)
		if err != nil {
			return nil, &store.ValidationError{Reason: err.Error()}
		}
		mut.Visibility = &vis
	}

	return q.store.Update(ctx, id, q.version(post, expectedVersion), mut)
}

func (q *QueueService) Reschedule(ctx context.Context, id string, scheduledTime time.Time, expectedVersion *int64) (*models.ScheduledPost, error) {
	if !scheduledTime.After(time.Now()) {
		return nil, &store.ValidationError{Reason: "scheduled_time must be in the future"}
	}

	post, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusPending {
		return nil, &store.ValidationError{Reason: "only pending posts can be rescheduled"}
	}

	return q.store.Update(ctx, id, q.version(post, expectedVersion), store.Mutation{
		ScheduledTime: &scheduledTime,
	})
}

func (q *QueueService) Cancel(ctx context.Context, id string, expectedVersion *int64) (*models.ScheduledPost, error) {
	post, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusPending {
		return nil, &store.ValidationError{Reason: "only pending posts can be cancelled"}
	}

	cancelled := models.StatusCancelled
	updated, err := q.store.Update(ctx, id, q.version(post, expectedVersion), store.Mutation{
		Status: &cancelled,
	})
	if err != nil {
		return nil, err
	}

	q.logger.Info("Post cancelled", zap.String("post_id", id))
	return updated, nil
}

// Retry resets a failed post to pending so the daemon picks it up again. The
// attempt count is preserved; a retried post always gets at least one fresh
// publish attempt because exhaustion is checked per claimed episode.
func (q *QueueService) Retry(ctx context.Context, id string, scheduledTime *time.Time, expectedVersion *int64) (*models.ScheduledPost, error) {
	retryAt := time.Now().Add(defaultRetryDelay)
	if scheduledTime != nil {
		if !scheduledTime.After(time.Now()) {
			return nil, &store.ValidationError{Reason: "scheduled_time must be in the future"}
		}
		retryAt = *scheduledTime
	}

	post, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusFailed {
		return nil, &store.ValidationError{Reason: "only failed posts can be retried"}
	}

	pending := models.StatusPending
	lastError := ""
	updated, err := q.store.Update(ctx, id, q.version(post, expectedVersion), store.Mutation{
		Status:        &pending,
		ScheduledTime: &retryAt,
		LastError:     &lastError,
	})
	if err != nil {
		return nil, err
	}

	q.logger.Info("Failed post reset to pending",
		zap.String("post_id", id),
		zap.Time("retry_at", retryAt))
	return updated, nil
}

func (q *QueueService) Summarize(ctx context.Context) (*store.Summary, error) {
	return q.store.Summarize(ctx)
}

func (q *QueueService) Attempts(ctx context.Context, id string) ([]*models.PublishAttempt, error) {
	return q.store.ListAttempts(ctx, id)
}

// version picks the optimistic-concurrency version for a mutation: the
// caller's last-seen version when supplied, otherwise the one just read.
func (q *QueueService) version(post *models.ScheduledPost, expected *int64) int64 {
	if expected != nil {
		return *expected
	}
	return post.Version
}
