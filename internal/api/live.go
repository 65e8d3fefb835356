package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/qssma-portal/internal/models"
	"github.com/lalith-99/qssma-portal/internal/offline"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// The live socket is served to the local UI only.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// liveMessage is one frame on /v1/notices/live.
type liveMessage struct {
	Type       string           `json:"type"`
	Notices    *[]models.Notice `json:"notices,omitempty"`
	Generation string           `json:"generation,omitempty"`
}

const (
	msgNotices         = "notices"
	msgUpdateAvailable = "update-available"
	msgReload          = "reload"
)

// Lifecycle is the offline cache's activation surface.
type Lifecycle interface {
	Events() *offline.Broadcaster
	SkipWaiting(ctx context.Context) error
	Active() string
	Waiting() string
}

// LiveHandler pushes feed snapshots and cache lifecycle changes to the UI.
type LiveHandler struct {
	feed      Feed
	lifecycle Lifecycle
	logger    *zap.Logger
}

func NewLiveHandler(feed Feed, lifecycle Lifecycle, logger *zap.Logger) *LiveHandler {
	return &LiveHandler{feed: feed, lifecycle: lifecycle, logger: logger}
}

// Serve handles GET /v1/notices/live
//
// The current snapshot is sent on connect. A controllerchange is turned
// into a single reload message per connection.
func (h *LiveHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("problem initiating websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	snapshots := make(chan []models.Notice, 1)
	stopObserving := h.feed.Observe(func(n []models.Notice) { offerLatest(snapshots, n) })
	defer stopObserving()

	events, unsubscribe := h.lifecycle.Events().Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	var out []liveMessage
	guard := offline.NewReloadGuard(func() {
		out = append(out, liveMessage{Type: msgReload, Generation: h.lifecycle.Active()})
	})

	if err := write(conn, noticesMessage(h.feed.Current())); err != nil {
		return
	}
	if w := h.lifecycle.Waiting(); w != "" {
		if err := write(conn, liveMessage{Type: msgUpdateAvailable, Generation: w}); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		out = out[:0]
		select {
		case <-closed:
			return
		case n := <-snapshots:
			out = append(out, noticesMessage(n))
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case offline.EventInstalled:
				out = append(out, liveMessage{Type: msgUpdateAvailable, Generation: e.Generation})
			case offline.EventControllerChange:
				guard.ControllerChanged()
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
		for _, m := range out {
			if err := write(conn, m); err != nil {
				h.logger.Debug("live socket write failed", zap.Error(err))
				return
			}
		}
	}
}

// readPump discards client frames and reports when the peer goes away.
func (h *LiveHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func noticesMessage(n []models.Notice) liveMessage {
	if n == nil {
		n = []models.Notice{}
	}
	return liveMessage{Type: msgNotices, Notices: &n}
}

func write(conn *websocket.Conn, m liveMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}

// offerLatest replaces whatever snapshot is pending. Snapshots are whole
// lists, so only the newest matters.
func offerLatest(ch chan []models.Notice, n []models.Notice) {
	for {
		select {
		case ch <- n:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
