package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/publisher"
	"github.com/cadencehq/cadence/internal/store"
)

// Daemon is the publisher: it periodically claims due posts from the store
// and turns each into published or failed via the publish client. All of its
// writes go through the store's version-checked Update, so a concurrent
// cancel or edit always wins over a stale publish outcome.
type Daemon struct {
	config *config.DaemonConfig
	logger *zap.Logger
	store  *store.Store
	client publisher.Client

	pollInterval   time.Duration
	backoffBase    time.Duration
	backoffCap     time.Duration
	claimTimeout   time.Duration
	publishTimeout time.Duration

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDaemon(cfg *config.DaemonConfig, logger *zap.Logger, st *store.Store, client publisher.Client) (*Daemon, error) {
	poll, base, cap, claim, publish, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	return &Daemon{
		config:         cfg,
		logger:         logger,
		store:          st,
		client:         client,
		pollInterval:   poll,
		backoffBase:    base,
		backoffCap:     cap,
		claimTimeout:   claim,
		publishTimeout: publish,
		stopCh:         make(chan struct{}),
	}, nil
}

func (d *Daemon) Start(ctx context.Context) error {
	if !d.config.Enabled {
		d.logger.Info("Publisher daemon is disabled")
		return nil
	}

	// Claims orphaned by a crashed prior run go back to pending before the
	// first poll.
	if reset, err := d.store.ResetStaleClaims(ctx, time.Now().Add(-d.claimTimeout)); err != nil {
		d.logger.Error("Stale claim recovery failed", zap.Error(err))
	} else if reset > 0 {
		d.logger.Warn("Recovered stale claims from a previous run", zap.Int("count", reset))
	}

	d.logger.Info("Starting publisher daemon",
		zap.Duration("poll_interval", d.pollInterval),
		zap.Int("max_attempts", d.config.MaxAttempts))

	d.ticker = time.NewTicker(d.pollInterval)

	// Run first cycle immediately
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runCycle(ctx)
	}()

	// Start periodic polling
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.ticker.C:
				d.runCycle(ctx)
			case <-d.stopCh:
				d.logger.Info("Publisher daemon stopped")
				return
			case <-ctx.Done():
				d.logger.Info("Publisher daemon context cancelled")
				return
			}
		}
	}()

	return nil
}

// Stop ends the poll loop and waits for in-flight publishes to finish. No
// new claims happen after it is called.
func (d *Daemon) Stop() {
	if d.ticker != nil {
		d.ticker.Stop()
	}
	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info("Publisher daemon shutdown completed")
}

// runCycle performs one claim-and-publish pass. Per-post failures never
// abort the cycle, and store outages only cost this tick.
func (d *Daemon) runCycle(ctx context.Context) {
	start := time.Now()

	if reset, err := d.store.ResetStaleClaims(ctx, start.Add(-d.claimTimeout)); err != nil {
		d.logger.Error("Stale claim recovery failed", zap.Error(err))
	} else if reset > 0 {
		d.logger.Warn("Recovered stale claims", zap.Int("count", reset))
	}

	claimed, err := d.store.ClaimDue(ctx, start, d.config.BatchLimit)
	if err != nil {
		d.logger.Error("Failed to claim due posts", zap.Error(err))
		return
	}
	if len(claimed) == 0 {
		return
	}

	d.logger.Info("Claimed due posts", zap.Int("count", len(claimed)))

	// Bounded parallelism: many posts may publish concurrently, but each
	// claimed post has exactly one in-flight publish.
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, d.concurrency())

	for _, post := range claimed {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(post *models.ScheduledPost) {
			defer wg.Done()
			defer func() { <-semaphore }()
			d.processPost(post)
		}(post)
	}

	wg.Wait()

	d.logger.Info("Publish cycle completed",
		zap.Int("count", len(claimed)),
		zap.Duration("duration", time.Since(start)))
}

func (d *Daemon) concurrency() int {
	if d.config.Concurrency <= 0 {
		return 1
	}
	return d.config.Concurrency
}

// processPost publishes one claimed post and records the outcome. The
// publish call runs on its own timeout, detached from the poll context, so a
// shutdown never interrupts a post mid-flight; the claim already fences this
// post from any other worker.
func (d *Daemon) processPost(post *models.ScheduledPost) {
	pubCtx, cancel := context.WithTimeout(context.Background(), d.publishTimeout)
	defer cancel()

	start := time.Now()
	result, err := d.client.Publish(pubCtx, publisher.Request{
		Content:    post.Content,
		MediaRefs:  post.MediaRefs,
		Visibility: post.Visibility,
	})
	duration := time.Since(start)

	attempts := post.AttemptCount + 1

	audit := &models.PublishAttempt{
		PostID:     post.ID,
		Attempt:    attempts,
		Success:    err == nil,
		DurationMS: duration.Milliseconds(),
	}
	if err != nil {
		audit.Error = err.Error()
	} else {
		audit.ExternalPostID = result.ExternalPostID
	}
	if auditErr := d.store.RecordAttempt(context.Background(), audit); auditErr != nil {
		d.logger.Error("Failed to record publish attempt",
			zap.String("post_id", post.ID),
			zap.Error(auditErr))
	}

	if err == nil {
		d.recordSuccess(post, attempts, result.ExternalPostID, duration)
		return
	}
	d.recordFailure(post, attempts, err)
}

func (d *Daemon) recordSuccess(post *models.ScheduledPost, attempts int, externalPostID string, duration time.Duration) {
	published := models.StatusPublished
	lastError := ""

	_, err := d.store.Update(context.Background(), post.ID, post.Version, store.Mutation{
		Status:         &published,
		AttemptCount:   &attempts,
		ExternalPostID: &externalPostID,
		LastError:      &lastError,
	})
	if err != nil {
		d.discardOutcome(post, "published", err)
		return
	}

	d.logger.Info("Post published",
		zap.String("post_id", post.ID),
		zap.String("external_post_id", externalPostID),
		zap.Int("attempts", attempts),
		zap.Duration("duration", duration))
}

func (d *Daemon) recordFailure(post *models.ScheduledPost, attempts int, pubErr error) {
	lastError := pubErr.Error()

	if publisher.IsTransient(pubErr) && attempts < d.config.MaxAttempts {
		// Return the post to the queue for a later retry instead of leaving
		// it claimed.
		pending := models.StatusPending
		retryAt := time.Now().Add(backoffDelay(d.backoffBase, d.backoffCap, post.AttemptCount))

		_, err := d.store.Update(context.Background(), post.ID, post.Version, store.Mutation{
			Status:        &pending,
			AttemptCount:  &attempts,
			LastError:     &lastError,
			ScheduledTime: &retryAt,
		})
		if err != nil {
			d.discardOutcome(post, "requeued", err)
			return
		}

		d.logger.Warn("Publish failed, post requeued",
			zap.String("post_id", post.ID),
			zap.Int("attempts", attempts),
			zap.Time("retry_at", retryAt),
			zap.Error(pubErr))
		return
	}

	failed := models.StatusFailed
	_, err := d.store.Update(context.Background(), post.ID, post.Version, store.Mutation{
		Status:       &failed,
		AttemptCount: &attempts,
		LastError:    &lastError,
	})
	if err != nil {
		d.discardOutcome(post, "failed", err)
		return
	}

	d.logger.Error("Publish failed permanently",
		zap.String("post_id", post.ID),
		zap.Int("attempts", attempts),
		zap.Error(pubErr))
}

// discardOutcome handles a publish outcome that lost the version race: a
// concurrent cancel or edit committed between claim and outcome, and the
// concurrent writer's intent wins. The outcome is dropped, never forced.
func (d *Daemon) discardOutcome(post *models.ScheduledPost, outcome string, err error) {
	if errors.Is(err, store.ErrConflict) {
		if outcome == "published" {
			// The external post already exists; unpublishing is out of
			// scope, so all we can do is make the discrepancy loud.
			d.logger.Error("Post changed concurrently after a successful publish, outcome discarded",
				zap.String("post_id", post.ID))
			return
		}
		d.logger.Warn("Post changed concurrently, publish outcome discarded",
			zap.String("post_id", post.ID),
			zap.String("outcome", outcome))
		return
	}
	d.logger.Error("Failed to record publish outcome",
		zap.String("post_id", post.ID),
		zap.String("outcome", outcome),
		zap.Error(err))
}
