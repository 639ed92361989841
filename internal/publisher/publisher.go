package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/cadencehq/cadence/internal/models"
)

// Request carries everything a platform needs to create one post.
type Request struct {
	Content    string
	MediaRefs  []string
	Visibility models.Visibility
}

// Result is returned on a successful publish.
type Result struct {
	ExternalPostID string
}

// Client is the publish capability: one network call that either creates the
// post on the platform or fails with a typed error. The caller enforces the
// timeout through ctx.
type Client interface {
	Publish(ctx context.Context, req Request) (*Result, error)
}

// ErrorKind classifies a publish failure. Transient failures are retried by
// the daemon with backoff; permanent failures end the post's lifecycle.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// Error is a typed publish failure. The client is the only component that
// sees wire-level errors, so classification happens here, not in the daemon.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s publish error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

func Permanent(err error) *Error {
	return &Error{Kind: KindPermanent, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors
// (including context timeouts) count as transient: the safe default for a
// network operation whose outcome is unknown is to let the claim cycle try
// again rather than dead-end the post.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient
	}
	return true
}
