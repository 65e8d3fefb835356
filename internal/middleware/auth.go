package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/qssma-portal/internal/models"
	"go.uber.org/zap"
)

// Context keys for the signed-in manager.
const (
	ContextKeyManagerToken = "manager_token"
	ContextKeyManagerEmail = "manager_email"
)

// CurrentSession reports who is signed in on the device.
type CurrentSession interface {
	Current() models.Session
}

// RequireManager lets a request through only while a manager is signed
// in on the device, and hands the manager's token to the handler. The
// gateway still verifies the token and role record on every write.
func RequireManager(sessions CurrentSession) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Current()
		if sess.Role != models.RoleManager || sess.ManagerToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "manager sign-in required",
				"screen": "manager-login",
			})
			return
		}

		c.Set(ContextKeyManagerToken, sess.ManagerToken)
		c.Set(ContextKeyManagerEmail, sess.ManagerEmail)
		c.Next()
	}
}

func GetManagerToken(c *gin.Context) string {
	return getString(c, ContextKeyManagerToken)
}

func GetManagerEmail(c *gin.Context) string {
	return getString(c, ContextKeyManagerEmail)
}

func getString(c *gin.Context, key string) string {
	val, exists := c.Get(key)
	if !exists {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		return ""
	}
	return s
}

// RequestLogger logs one line per request through zap.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
