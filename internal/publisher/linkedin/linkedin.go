package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/publisher"
)

// Client publishes posts through the LinkedIn REST API.
type Client struct {
	config *config.LinkedInConfig
	logger *zap.Logger
	client *http.Client
}

func NewClient(cfg *config.LinkedInConfig, logger *zap.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

var visibilityMap = map[models.Visibility]string{
	models.VisibilityPublic:      "PUBLIC",
	models.VisibilityConnections: "CONNECTIONS",
}

// Publish creates one post. Media upload is out of scope here: the first
// media ref, if present, is attached as article content by URL.
func (c *Client) Publish(ctx context.Context, req publisher.Request) (*publisher.Result, error) {
	url := fmt.Sprintf("%s/rest/posts", strings.TrimRight(c.config.BaseURL, "/"))

	body := map[string]any{
		"author":     c.config.AuthorURN,
		"commentary": req.Content,
		"visibility": visibilityMap[req.Visibility],
		"distribution": map[string]any{
			"feedDistribution": "MAIN_FEED",
		},
		"lifecycleState": "PUBLISHED",
	}
	if len(req.MediaRefs) > 0 {
		body["content"] = map[string]any{
			"article": map[string]any{
				"source": req.MediaRefs[0],
			},
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, publisher.Permanent(fmt.Errorf("failed to marshal request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, publisher.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.config.Token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("LinkedIn-Version", c.config.APIVersion)
	httpReq.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, publisher.Transient(fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("linkedin API returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, publisher.Transient(err)
		}
		// Auth failures and payload rejections will not heal with a retry.
		return nil, publisher.Permanent(err)
	}

	postID := resp.Header.Get("x-restli-id")
	if postID == "" {
		var response struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err == nil {
			postID = response.ID
		}
	}
	if postID == "" {
		return nil, publisher.Transient(fmt.Errorf("linkedin API returned no post id"))
	}

	c.logger.Debug("Post created on LinkedIn", zap.String("external_post_id", postID))

	return &publisher.Result{ExternalPostID: postID}, nil
}
