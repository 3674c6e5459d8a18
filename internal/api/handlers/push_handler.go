package handlers

import (
	"context"
	"errors"
	"time"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/backtesting-org/dashboard-push/internal/config"
	"github.com/backtesting-org/dashboard-push/internal/database"
	"github.com/backtesting-org/dashboard-push/pkg/pushclient"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/connection"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/security"
)

// SettingsLister lists the rows of the settings store
type SettingsLister interface {
	ListSettings(ctx context.Context) ([]database.Setting, error)
}

// PushHandler exposes the push client to local tooling
type PushHandler struct {
	client     *pushclient.Client
	store      security.KeyValueStore
	settings   SettingsLister
	storageKey string
	logger     *zap.Logger
}

// NewPushHandler creates a push handler. Token updates need the settings store.
func NewPushHandler(client *pushclient.Client, repo *database.Repository, cfg *config.Config, logger *zap.Logger) *PushHandler {
	h := &PushHandler{
		client:     client,
		storageKey: cfg.Auth.StorageKey,
		logger:     logger,
	}
	if repo != nil {
		h.store = repo
		h.settings = repo
	}
	return h
}

// NewPushHandlerWithStore is NewPushHandler for an arbitrary store
func NewPushHandlerWithStore(client *pushclient.Client, store security.KeyValueStore, storageKey string, logger *zap.Logger) *PushHandler {
	return &PushHandler{client: client, store: store, storageKey: storageKey, logger: logger}
}

// WithSettings enables the settings listing
func (h *PushHandler) WithSettings(settings SettingsLister) *PushHandler {
	h.settings = settings
	return h
}

// GetStatus returns the connection state and counters
// GET /api/v1/status
func (h *PushHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.Stats())
}

// Connect starts connecting
// POST /api/v1/connect
func (h *PushHandler) Connect(c *gin.Context) {
	h.client.Connect()
	c.JSON(http.StatusAccepted, gin.H{"state": h.client.State().String()})
}

// Disconnect closes the connection and stops reconnecting
// POST /api/v1/disconnect
func (h *PushHandler) Disconnect(c *gin.Context) {
	h.client.Disconnect()
	c.JSON(http.StatusAccepted, gin.H{"state": h.client.State().String()})
}

// SendRequest is a message to forward upstream
type SendRequest struct {
	Type    string                 `json:"type" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

// Send forwards one message over the push channel
// POST /api/v1/send
func (h *PushHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message := make(map[string]interface{}, len(req.Payload)+1)
	for k, v := range req.Payload {
		message[k] = v
	}
	message["type"] = req.Type

	if err := h.client.Send(message); err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to send push message", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": req.Type})
}

// TokenRequest carries a new push token
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// PutToken stores the token the next connect will use. It does not reconnect.
// PUT /api/v1/token
func (h *PushHandler) PutToken(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no settings store configured"})
		return
	}

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Put(c.Request.Context(), h.storageKey, req.Token); err != nil {
		h.logger.Error("Failed to store token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store token"})
		return
	}

	c.Status(http.StatusNoContent)
}

// SettingInfo describes a stored setting. Values are never returned, they hold tokens.
type SettingInfo struct {
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListSettings lists the keys in the settings store
// GET /api/v1/settings
func (h *PushHandler) ListSettings(c *gin.Context) {
	if h.settings == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no settings store configured"})
		return
	}

	settings, err := h.settings.ListSettings(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list settings"})
		return
	}

	infos := make([]SettingInfo, 0, len(settings))
	for _, setting := range settings {
		infos = append(infos, SettingInfo{Key: setting.Key, UpdatedAt: setting.UpdatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"settings": infos})
}
