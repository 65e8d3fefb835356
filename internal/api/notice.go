package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/qssma-portal/internal/feed"
	"github.com/lalith-99/qssma-portal/internal/middleware"
	"github.com/lalith-99/qssma-portal/internal/models"
	"go.uber.org/zap"
)

// Notices is the gateway surface for the notice administration view.
type Notices interface {
	ListNotices(ctx context.Context, token string) ([]models.Notice, error)
	CreateNotice(ctx context.Context, token string, draft models.NoticeDraft) (string, error)
	UpdateNotice(ctx context.Context, token, id string, patch models.NoticePatch) error
	DeleteNotice(ctx context.Context, token, id string) error
	DashboardStats(ctx context.Context) (models.Stats, error)
}

// Feed is the local live notice feed.
type Feed interface {
	Current() []models.Notice
	State() feed.State
	Observe(fn feed.Observer) (cancel func())
}

type NoticeHandler struct {
	notices Notices
	feed    Feed
	logger  *zap.Logger
}

func NewNoticeHandler(notices Notices, feed Feed, logger *zap.Logger) *NoticeHandler {
	return &NoticeHandler{notices: notices, feed: feed, logger: logger}
}

type createNoticeRequest struct {
	Title    string          `json:"title" binding:"required"`
	Body     string          `json:"body" binding:"required"`
	Audience models.Audience `json:"audience"`
	Priority models.Priority `json:"priority"`
	Active   *bool           `json:"active"`
}

// Active handles GET /v1/notices/active
//
// Served from the feed, never from the network.
func (h *NoticeHandler) Active(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":   h.feed.State().String(),
		"notices": h.feed.Current(),
	})
}

// List handles GET /v1/notices
func (h *NoticeHandler) List(c *gin.Context) {
	notices, err := h.notices.ListNotices(c.Request.Context(), middleware.GetManagerToken(c))
	if err != nil {
		h.fail(c, "list notices", err)
		return
	}
	c.JSON(http.StatusOK, notices)
}

// Create handles POST /v1/notices
//
// New notices are active unless the request says otherwise. Author is
// stamped by the gateway from the manager's token.
func (h *NoticeHandler) Create(c *gin.Context) {
	var req createNoticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	draft := models.NoticeDraft{
		Title:    req.Title,
		Body:     req.Body,
		Audience: req.Audience,
		Priority: req.Priority,
		Active:   req.Active == nil || *req.Active,
	}

	id, err := h.notices.CreateNotice(c.Request.Context(), middleware.GetManagerToken(c), draft)
	if err != nil {
		h.fail(c, "create notice", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// Update handles PATCH /v1/notices/:id
func (h *NoticeHandler) Update(c *gin.Context) {
	id, ok := noticeID(c)
	if !ok {
		return
	}
	var patch models.NoticePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.notices.UpdateNotice(c.Request.Context(), middleware.GetManagerToken(c), id, patch); err != nil {
		h.fail(c, "update notice", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /v1/notices/:id
func (h *NoticeHandler) Delete(c *gin.Context) {
	id, ok := noticeID(c)
	if !ok {
		return
	}
	if err := h.notices.DeleteNotice(c.Request.Context(), middleware.GetManagerToken(c), id); err != nil {
		h.fail(c, "delete notice", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stats handles GET /v1/dashboard/stats
//
// Counts are advisory; the gateway reports zeros instead of failing.
func (h *NoticeHandler) Stats(c *gin.Context) {
	stats, err := h.notices.DashboardStats(c.Request.Context())
	if err != nil {
		h.fail(c, "dashboard stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *NoticeHandler) fail(c *gin.Context, op string, err error) {
	status, body := gatewayFailure(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	} else {
		h.logger.Info(op+" rejected", zap.Error(err))
	}
	c.JSON(status, body)
}

func noticeID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notice ID"})
		return "", false
	}
	return id.String(), true
}
