package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/qssma-portal/internal/middleware"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Sessions  Sessions
	Notices   Notices
	Feed      Feed
	Prefs     Prefs
	Lifecycle Lifecycle
	Contacts  map[string]string
	// Health reports whether the document store is reachable.
	Health func(ctx context.Context) error
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Fallback serves every route not listed here (the offline cache).
	Fallback http.Handler
	Logger   *zap.Logger
}

// NewRouter wires the local API.
func NewRouter(d RouterDeps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	srv := gin.New()
	srv.Use(middleware.RequestLogger(d.Logger), gin.Recovery())

	sessions := NewSessionHandler(d.Sessions, d.Logger)
	notices := NewNoticeHandler(d.Notices, d.Feed, d.Logger)
	live := NewLiveHandler(d.Feed, d.Lifecycle, d.Logger)
	device := NewDeviceHandler(d.Prefs, d.Contacts, d.Lifecycle, d.Logger)

	srv.GET("/v1/health", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(c.Request.Context()); err != nil {
				d.Logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := srv.Group("/v1")
	v1.GET("/session", sessions.Get)
	v1.POST("/session/worker", sessions.LoginWorker)
	v1.POST("/session/manager", sessions.LoginManager)
	v1.DELETE("/session", sessions.Logout)
	v1.GET("/screens/:name", sessions.Screen)

	v1.GET("/notices/active", notices.Active)
	v1.GET("/notices/live", live.Serve)

	v1.GET("/emergency", device.Emergency)
	v1.GET("/prefs", device.GetPrefs)
	v1.PUT("/prefs", device.PutPrefs)
	v1.GET("/sw", device.CacheStatus)
	v1.POST("/sw/skip-waiting", device.SkipWaiting)

	admin := v1.Group("")
	admin.Use(middleware.RequireManager(d.Sessions))
	admin.GET("/notices", notices.List)
	admin.POST("/notices", notices.Create)
	admin.PATCH("/notices/:id", notices.Update)
	admin.DELETE("/notices/:id", notices.Delete)
	admin.GET("/dashboard/stats", notices.Stats)

	if d.Metrics != nil {
		srv.GET("/metrics", gin.WrapH(d.Metrics))
	}
	if d.Fallback != nil {
		srv.NoRoute(gin.WrapH(d.Fallback))
	}
	return srv
}
