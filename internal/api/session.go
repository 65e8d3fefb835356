package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/qssma-portal/internal/models"
	"github.com/lalith-99/qssma-portal/internal/screen"
	"github.com/lalith-99/qssma-portal/internal/session"
	"go.uber.org/zap"
)

// Sessions is the device session store.
type Sessions interface {
	Current() models.Session
	Login(ctx context.Context, creds session.Credentials) (models.Session, error)
	Logout(ctx context.Context) error
}

// SessionHandler signs workers and managers in and out of the device.
type SessionHandler struct {
	sessions Sessions
	logger   *zap.Logger
}

func NewSessionHandler(sessions Sessions, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

type workerLoginRequest struct {
	Badge string `json:"badge"`
}

// Email is not validated here: a malformed one is rejected by the identity
// provider with the same message as a wrong password.
type managerLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is the session plus the screen to land on.
type sessionResponse struct {
	Session models.Session `json:"session"`
	Screen  screen.Screen  `json:"screen"`
}

func landing(sess models.Session) sessionResponse {
	s, ok := screen.Dashboard(sess.Role)
	if !ok {
		s = screen.Welcome
	}
	return sessionResponse{Session: sess, Screen: s}
}

// Get handles GET /v1/session
func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, landing(h.sessions.Current()))
}

// LoginWorker handles POST /v1/session/worker
//
// An empty badge is rejected by the session store before any lookup.
func (h *SessionHandler) LoginWorker(c *gin.Context) {
	var req workerLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.sessions.Login(c.Request.Context(), session.WorkerCredentials(req.Badge))
	if err != nil {
		status, body := loginFailure(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("worker login failed", zap.Error(err))
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, landing(sess))
}

// LoginManager handles POST /v1/session/manager
func (h *SessionHandler) LoginManager(c *gin.Context) {
	var req managerLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.sessions.Login(c.Request.Context(), session.ManagerCredentials(req.Email, req.Password))
	if err != nil {
		status, body := loginFailure(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("manager login failed", zap.Error(err))
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, landing(sess))
}

// Logout handles DELETE /v1/session
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context()); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, landing(models.Guest()))
}

// Screen handles GET /v1/screens/:name
func (h *SessionHandler) Screen(c *gin.Context) {
	c.JSON(http.StatusOK, screen.Next(h.sessions.Current(), screen.Screen(c.Param("name"))))
}
