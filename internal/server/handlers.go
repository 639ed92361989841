package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cadencehq/cadence/internal/service"
	"github.com/cadencehq/cadence/internal/store"
)

type schedulePostRequest struct {
	Content       string    `json:"content"`
	MediaRefs     []string  `json:"media_refs"`
	Visibility    string    `json:"visibility"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

type updatePostRequest struct {
	Content    *string  `json:"content"`
	MediaRefs  []string `json:"media_refs"`
	Visibility *string  `json:"visibility"`
	Version    *int64   `json:"version"`
}

type reschedulePostRequest struct {
	ScheduledTime time.Time `json:"scheduled_time"`
	Version       *int64    `json:"version"`
}

type cancelPostRequest struct {
	Version *int64 `json:"version"`
}

type retryPostRequest struct {
	ScheduledTime *time.Time `json:"scheduled_time"`
	Version       *int64     `json:"version"`
}

func (s *Server) handleSchedulePost(c *gin.Context) {
	var req schedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	post, err := s.Queue.Schedule(c.Request.Context(), service.ScheduleInput{
		Content:       req.Content,
		MediaRefs:     req.MediaRefs,
		Visibility:    req.Visibility,
		ScheduledTime: req.ScheduledTime,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"post": post})
}

func (s *Server) handleListPosts(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	posts, err := s.Queue.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"posts": posts, "count": len(posts)})
}

func (s *Server) handleGetPost(c *gin.Context) {
	post, err := s.Queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleUpdatePost(c *gin.Context) {
	var req updatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	post, err := s.Queue.Edit(c.Request.Context(), c.Param("id"), service.EditInput{
		Content:    req.Content,
		MediaRefs:  req.MediaRefs,
		Visibility: req.Visibility,
	}, req.Version)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleReschedulePost(c *gin.Context) {
	var req reschedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	post, err := s.Queue.Reschedule(c.Request.Context(), c.Param("id"), req.ScheduledTime, req.Version)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleCancelPost(c *gin.Context) {
	// The body is optional: callers that tracked a version may send it.
	var req cancelPostRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	post, err := s.Queue.Cancel(c.Request.Context(), c.Param("id"), req.Version)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleRetryPost(c *gin.Context) {
	var req retryPostRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	post, err := s.Queue.Retry(c.Request.Context(), c.Param("id"), req.ScheduledTime, req.Version)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleListAttempts(c *gin.Context) {
	attempts, err := s.Queue.Attempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attempts": attempts, "count": len(attempts)})
}

func (s *Server) handleQueueSummary(c *gin.Context) {
	summary, err := s.Queue.Summarize(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case store.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "this post changed since you last viewed it"})
	default:
		s.Logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
