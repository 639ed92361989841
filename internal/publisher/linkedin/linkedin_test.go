package linkedin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/publisher"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&config.LinkedInConfig{
		Token:      "test-token",
		AuthorURN:  "urn:li:person:abc",
		APIVersion: "202405",
		BaseURL:    srv.URL,
	}, zap.NewNop())
}

func TestPublishSendsRestPostsRequest(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/posts" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("LinkedIn-Version"); got != "202405" {
			t.Errorf("unexpected LinkedIn-Version header %q", got)
		}
		if got := r.Header.Get("X-Restli-Protocol-Version"); got != "2.0.0" {
			t.Errorf("unexpected protocol header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("x-restli-id", "urn:li:share:123")
		w.WriteHeader(http.StatusCreated)
	})

	result, err := client.Publish(context.Background(), publisher.Request{
		Content:    "launch day",
		Visibility: models.VisibilityPublic,
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if result.ExternalPostID != "urn:li:share:123" {
		t.Fatalf("unexpected external post id %q", result.ExternalPostID)
	}

	if body["author"] != "urn:li:person:abc" {
		t.Errorf("unexpected author %v", body["author"])
	}
	if body["commentary"] != "launch day" {
		t.Errorf("unexpected commentary %v", body["commentary"])
	}
	if body["visibility"] != "PUBLIC" {
		t.Errorf("expected uppercased visibility, got %v", body["visibility"])
	}
	if body["lifecycleState"] != "PUBLISHED" {
		t.Errorf("unexpected lifecycleState %v", body["lifecycleState"])
	}
}

func TestPublishAttachesFirstMediaRefAsArticle(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("x-restli-id", "urn:li:share:456")
		w.WriteHeader(http.StatusCreated)
	})

	_, err := client.Publish(context.Background(), publisher.Request{
		Content:    "with a link",
		MediaRefs:  []string{"https://example.com/post", "https://example.com/ignored"},
		Visibility: models.VisibilityConnections,
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if body["visibility"] != "CONNECTIONS" {
		t.Errorf("expected CONNECTIONS visibility, got %v", body["visibility"])
	}
	content, ok := body["content"].(map[string]any)
	if !ok {
		t.Fatalf("expected content block, got %v", body["content"])
	}
	article, ok := content["article"].(map[string]any)
	if !ok || article["source"] != "https://example.com/post" {
		t.Fatalf("expected first media ref as article source, got %v", content)
	}
}

func TestPublishFallsBackToBodyID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "urn:li:share:789"})
	})

	result, err := client.Publish(context.Background(), publisher.Request{
		Content:    "no header",
		Visibility: models.VisibilityPublic,
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if result.ExternalPostID != "urn:li:share:789" {
		t.Fatalf("unexpected external post id %q", result.ExternalPostID)
	}
}

func TestPublishClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"unprocessable", http.StatusUnprocessableEntity, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := client.Publish(context.Background(), publisher.Request{
				Content:    "x",
				Visibility: models.VisibilityPublic,
			})
			if err == nil {
				t.Fatal("expected an error")
			}

			var pubErr *publisher.Error
			if !errors.As(err, &pubErr) {
				t.Fatalf("expected a typed publish error, got %T", err)
			}
			if got := publisher.IsTransient(err); got != tc.transient {
				t.Fatalf("status %d: transient=%v, want %v", tc.status, got, tc.transient)
			}
		})
	}
}

func TestPublishNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client := NewClient(&config.LinkedInConfig{
		Token:      "test-token",
		AuthorURN:  "urn:li:person:abc",
		APIVersion: "202405",
		BaseURL:    srv.URL,
	}, zap.NewNop())
	srv.Close()

	_, err := client.Publish(context.Background(), publisher.Request{
		Content:    "x",
		Visibility: models.VisibilityPublic,
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !publisher.IsTransient(err) {
		t.Fatalf("connection errors must be transient, got %v", err)
	}
}

func TestPublishMissingIDIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	_, err := client.Publish(context.Background(), publisher.Request{
		Content:    "x",
		Visibility: models.VisibilityPublic,
	})
	if err == nil {
		t.Fatal("expected an error when no post id is returned")
	}
	if !publisher.IsTransient(err) {
		t.Fatalf("a missing id leaves the outcome unknown, so it must be transient, got %v", err)
	}
}
