package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 0,
			Mode: "test",
		},
		Database: config.DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(t.TempDir(), "queue.db"),
		},
		Daemon: config.DaemonConfig{
			Enabled:        false,
			PollInterval:   "60s",
			BatchLimit:     20,
			Concurrency:    4,
			MaxAttempts:    5,
			BackoffBase:    "1m",
			BackoffCap:     "30m",
			ClaimTimeout:   "10m",
			PublishTimeout: "30s",
		},
		LinkedIn: config.LinkedInConfig{
			Token:      "test-token",
			AuthorURN:  "urn:li:person:abc",
			APIVersion: "202405",
			BaseURL:    "http://localhost:0",
		},
	}

	srv, err := NewServer(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func decodePost(t *testing.T, w *httptest.ResponseRecorder) *models.ScheduledPost {
	t.Helper()
	var resp struct {
		Post *models.ScheduledPost `json:"post"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	if resp.Post == nil {
		t.Fatalf("expected a post in response %q", w.Body.String())
	}
	return resp.Post
}

func schedulePost(t *testing.T, srv *Server) *models.ScheduledPost {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/v1/posts", map[string]any{
		"content":        "hello world",
		"scheduled_time": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodePost(t, w)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestScheduleAndGetPost(t *testing.T) {
	srv := newTestServer(t)
	post := schedulePost(t, srv)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/posts/"+post.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decodePost(t, w)
	if got.ID != post.ID || got.Status != models.StatusPending {
		t.Fatalf("unexpected post: %+v", got)
	}
}

func TestSchedulePostValidation(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/posts", map[string]any{
		"content":        "too late",
		"scheduled_time": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a past schedule, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetUnknownPost(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/v1/posts/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListPostsWithStatusFilter(t *testing.T) {
	srv := newTestServer(t)
	schedulePost(t, srv)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/posts?status=pending", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected 1 pending post, got %d", resp.Count)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/v1/posts?status=archived", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown status, got %d", w.Code)
	}
}

func TestCancelPostWithoutBody(t *testing.T) {
	srv := newTestServer(t)
	post := schedulePost(t, srv)

	w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/cancel", post.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodePost(t, w); got.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	// Cancelling again violates the pending precondition.
	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/cancel", post.ID), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on second cancel, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdatePostStaleVersionConflicts(t *testing.T) {
	srv := newTestServer(t)
	post := schedulePost(t, srv)

	w := doJSON(t, srv, http.MethodPatch, "/api/v1/posts/"+post.ID, map[string]any{
		"content": "first writer",
		"version": post.Version,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// A second writer still holding the original version loses.
	w = doJSON(t, srv, http.MethodPatch, "/api/v1/posts/"+post.ID, map[string]any{
		"content": "second writer",
		"version": post.Version,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReschedulePost(t *testing.T) {
	srv := newTestServer(t)
	post := schedulePost(t, srv)

	newTime := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/reschedule", post.ID), map[string]any{
		"scheduled_time": newTime.Format(time.RFC3339),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decodePost(t, w)
	if !got.ScheduledTime.UTC().Truncate(time.Second).Equal(newTime) {
		t.Fatalf("expected scheduled_time %v, got %v", newTime, got.ScheduledTime)
	}
}

func TestRetryPendingPostRejected(t *testing.T) {
	srv := newTestServer(t)
	post := schedulePost(t, srv)

	w := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/retry", post.ID), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 retrying a pending post, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListAttemptsUnknownPost(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/v1/posts/no-such-id/attempts", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestQueueSummary(t *testing.T) {
	srv := newTestServer(t)
	schedulePost(t, srv)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/queue/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Summary struct {
			Total  int64            `json:"total"`
			Counts map[string]int64 `json:"counts"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Summary.Total != 1 || resp.Summary.Counts["pending"] != 1 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}
}
