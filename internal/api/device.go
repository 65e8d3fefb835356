package api

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/qssma-portal/internal/offline"
	"github.com/lalith-99/qssma-portal/internal/storage"
	"go.uber.org/zap"
)

// Prefs is the device preference store.
type Prefs interface {
	Load(ctx context.Context) (storage.Preferences, error)
	Save(ctx context.Context, prefs storage.Preferences) error
}

// DeviceHandler serves device-local state: preferences, emergency
// contacts and the offline cache lifecycle.
type DeviceHandler struct {
	prefs     Prefs
	contacts  map[string]string
	lifecycle Lifecycle
	logger    *zap.Logger
}

func NewDeviceHandler(prefs Prefs, contacts map[string]string, lifecycle Lifecycle, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{prefs: prefs, contacts: contacts, lifecycle: lifecycle, logger: logger}
}

// GetPrefs handles GET /v1/prefs
func (h *DeviceHandler) GetPrefs(c *gin.Context) {
	prefs, err := h.prefs.Load(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load preferences"})
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// PutPrefs handles PUT /v1/prefs
func (h *DeviceHandler) PutPrefs(c *gin.Context) {
	var req storage.Preferences
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.prefs.Save(c.Request.Context(), req); err != nil {
		if errors.Is(err, storage.ErrUnknownTheme) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to save preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save preferences"})
		return
	}
	c.JSON(http.StatusOK, req)
}

type emergencyContact struct {
	Service string `json:"service"`
	Number  string `json:"number"`
	Dial    string `json:"dial"`
}

// Emergency handles GET /v1/emergency
//
// Public: the panic screen must work for a guest.
func (h *DeviceHandler) Emergency(c *gin.Context) {
	out := make([]emergencyContact, 0, len(h.contacts))
	for service, number := range h.contacts {
		out = append(out, emergencyContact{Service: service, Number: number, Dial: "tel:" + number})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	c.JSON(http.StatusOK, out)
}

// SkipWaiting handles POST /v1/sw/skip-waiting
func (h *DeviceHandler) SkipWaiting(c *gin.Context) {
	if err := h.lifecycle.SkipWaiting(c.Request.Context()); err != nil {
		if errors.Is(err, offline.ErrNothingWaiting) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "active": h.lifecycle.Active()})
			return
		}
		h.logger.Error("skip waiting failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": h.lifecycle.Active()})
}

// CacheStatus handles GET /v1/sw
func (h *DeviceHandler) CacheStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":  h.lifecycle.Active(),
		"waiting": h.lifecycle.Waiting(),
	})
}
