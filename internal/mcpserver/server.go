// Package mcpserver exposes the queue commands as MCP tools over stdio so a
// conversational agent can schedule and manage posts directly.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/cadencehq/cadence/internal/service"
	"github.com/cadencehq/cadence/internal/store"
)

type Server struct {
	queue  *service.QueueService
	logger *zap.Logger
	mcp    *server.MCPServer
}

func NewServer(queue *service.QueueService, logger *zap.Logger, version string) *Server {
	s := &Server{
		queue:  queue,
		logger: logger,
		mcp: server.NewMCPServer("cadence", version,
			server.WithToolCapabilities(false),
			server.WithRecovery()),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving the MCP protocol until the client disconnects.
func (s *Server) ServeStdio() error {
	s.logger.Info("Starting MCP server on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("schedule_post",
		mcp.WithDescription("Schedule a social post for future publication. The post is stored in the queue and published by the daemon when the scheduled time arrives."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Post text content (max 3000 characters).")),
		mcp.WithString("scheduled_time", mcp.Required(), mcp.Description("RFC 3339 datetime for when to publish, e.g. 2026-02-15T14:00:00Z. Must be in the future.")),
		mcp.WithArray("media_refs", mcp.Description("Optional ordered media descriptors to attach."), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("visibility", mcp.Description("Post visibility."), mcp.Enum("public", "connections")),
	), s.handleSchedule)

	s.mcp.AddTool(mcp.NewTool("list_scheduled_posts",
		mcp.WithDescription("List scheduled posts ordered by scheduled time, optionally filtered by status."),
		mcp.WithString("status", mcp.Description("Filter by status."), mcp.Enum("pending", "claimed", "published", "failed", "cancelled")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of posts to return.")),
	), s.handleList)

	s.mcp.AddTool(mcp.NewTool("get_scheduled_post",
		mcp.WithDescription("Get details of a scheduled post by its id."),
		mcp.WithString("post_id", mcp.Required(), mcp.Description("The id of the scheduled post.")),
	), s.handleGet)

	s.mcp.AddTool(mcp.NewTool("update_scheduled_post",
		mcp.WithDescription("Edit fields of a pending post in place. Only provided fields change."),
		mcp.WithString("post_id", mcp.Required(), mcp.Description("The id of the scheduled post.")),
		mcp.WithString("content", mcp.Description("New post text content.")),
		mcp.WithArray("media_refs", mcp.Description("Replacement media descriptors."), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("visibility", mcp.Description("New visibility."), mcp.Enum("public", "connections")),
		mcp.WithNumber("version", mcp.Description("Last-seen version for conflict detection.")),
	), s.handleUpdate)

	s.mcp.AddTool(mcp.NewTool("reschedule_post",
		mcp.WithDescription("Change the scheduled time of a pending post."),
		mcp.WithString("post_id", mcp.Required(), mcp.Description("The id of the scheduled post.")),
		mcp.WithString("scheduled_time", mcp.Required(), mcp.Description("New RFC 3339 datetime. Must be in the future.")),
		mcp.WithNumber("version", mcp.Description("Last-seen version for conflict detection.")),
	), s.handleReschedule)

	s.mcp.AddTool(mcp.NewTool("cancel_scheduled_post",
		mcp.WithDescription("Cancel a pending post. Cancelled posts are never published."),
		mcp.WithString("post_id", mcp.Required(), mcp.Description("The id of the scheduled post.")),
		mcp.WithNumber("version", mcp.Description("Last-seen version for conflict detection.")),
	), s.handleCancel)

	s.mcp.AddTool(mcp.NewTool("retry_failed_post",
		mcp.WithDescription("Reset a failed post to pending so the daemon retries it."),
		mcp.WithString("post_id", mcp.Required(), mcp.Description("The id of the failed post.")),
		mcp.WithString("scheduled_time", mcp.Description("Optional new RFC 3339 datetime. Defaults to now + 5 minutes.")),
		mcp.WithNumber("version", mcp.Description("Last-seen version for conflict detection.")),
	), s.handleRetry)

	s.mcp.AddTool(mcp.NewTool("queue_summary",
		mcp.WithDescription("Overview of the queue: counts by status, next due post, most recent failures."),
	), s.handleSummary)
}

func (s *Server) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	scheduledTime, err := requireTime(req, "scheduled_time")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	post, err := s.queue.Schedule(ctx, service.ScheduleInput{
		Content:       content,
		MediaRefs:     stringSlice(req, "media_refs"),
		Visibility:    req.GetString("visibility", ""),
		ScheduledTime: scheduledTime,
	})
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]any{
		"post":    post,
		"message": fmt.Sprintf("Post scheduled for %s", post.ScheduledTime.Format(time.RFC3339)),
	})
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	posts, err := s.queue.List(ctx, req.GetString("status", ""), req.GetInt("limit", 50))
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]any{
		"posts": posts,
		"count": len(posts),
	})
}

func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("post_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	post, err := s.queue.Get(ctx, id)
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]any{"post": post})
}

func (s *Server) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("post_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var in service.EditInput
	if v := req.GetString("content", ""); v != "" {
		in.Content = &v
	}
	if v := req.GetString("visibility", ""); v != "" {
		in.Visibility = &v
	}
	if refs, ok := req.GetArguments()["media_refs"]; ok && refs != nil {
		in.MediaRefs = stringSlice(req, "media_refs")
	}

	post, err := s.queue.Edit(ctx, id, in, optVersion(req))
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]any{
		"post":    post,
		"message": "Scheduled post updated successfully",
	})
}

func (s *Server) handleReschedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("post_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	scheduledTime, err := requireTime(req, "scheduled_time")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	post, err := s.queue.Reschedule(ctx, id, scheduledTime, optVersion(req))
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]any{
		"post":    post,
		"message": fmt.Sprintf("Post rescheduled to %s", post.ScheduledTime.Format(time.RFC3339)),
	})
}

func (s *Server) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("post_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	post, err := s.queue.Cancel(ctx, id, optVersion(req))
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]any{
		"post":    post,
		"message": "Scheduled post cancelled successfully",
	})
}

func (s *Server) handleRetry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("post_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var scheduledTime *time.Time
	if raw := req.GetString("scheduled_time", ""); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid scheduled_time: %v", err)), nil
		}
		scheduledTime = &parsed
	}

	post, err := s.queue.Retry(ctx, id, scheduledTime, optVersion(req))
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]any{
		"post":    post,
		"message": fmt.Sprintf("Post reset to pending, scheduled for %s", post.ScheduledTime.Format(time.RFC3339)),
	})
}

func (s *Server) handleSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := s.queue.Summarize(ctx)
	if err != nil {
		return s.toolError(err), nil
	}

	return jsonResult(map[string]any{"summary": summary})
}

// toolError turns a queue error into a structured tool result; errors never
// cross the protocol boundary as exceptions.
func (s *Server) toolError(err error) *mcp.CallToolResult {
	switch {
	case store.IsValidation(err), errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, store.ErrConflict):
		return mcp.NewToolResultError("this post changed since you last viewed it")
	default:
		s.logger.Error("Tool call failed", zap.Error(err))
		return mcp.NewToolResultError("internal error")
	}
}

func jsonResult(payload map[string]any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func requireTime(req mcp.CallToolRequest, key string) (time.Time, error) {
	raw, err := req.RequireString(key)
	if err != nil {
		return time.Time{}, err
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %v", key, err)
	}
	return parsed, nil
}

func stringSlice(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optVersion(req mcp.CallToolRequest) *int64 {
	raw, ok := req.GetArguments()["version"].(float64)
	if !ok {
		return nil
	}
	v := int64(raw)
	return &v
}
