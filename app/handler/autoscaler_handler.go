package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"crawlfleet/pkg/autoscaler"
	"crawlfleet/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const defaultWatchInterval = time.Second

// Scaler is the controller surface the API drives
type Scaler interface {
	Snapshot() *autoscaler.SessionStatus
	IsRunning() bool
	RequestActivation(nodeID string) error
}

// StatusSource serves the snapshot published by whichever replica holds the session
type StatusSource interface {
	GetStatus(ctx context.Context) (*autoscaler.SessionStatus, error)
}

// EventLister lists activation history
type EventLister interface {
	List(ctx context.Context, nodeID string, limit int) ([]*autoscaler.ActivationEvent, error)
}

// AutoScalerHandler handles autoscaling operations
type AutoScalerHandler struct {
	scaler        Scaler
	statusSource  StatusSource
	events        EventLister
	watchInterval time.Duration
}

// NewAutoScalerHandler creates autoscaler handler. statusSource and events may be nil.
func NewAutoScalerHandler(scaler Scaler, statusSource StatusSource, events EventLister) *AutoScalerHandler {
	return &AutoScalerHandler{
		scaler:        scaler,
		statusSource:  statusSource,
		events:        events,
		watchInterval: defaultWatchInterval,
	}
}

// currentStatus prefers the local session, then the shared snapshot
func (h *AutoScalerHandler) currentStatus(ctx context.Context) *autoscaler.SessionStatus {
	if h.scaler.IsRunning() || h.statusSource == nil {
		return h.scaler.Snapshot()
	}

	status, err := h.statusSource.GetStatus(ctx)
	if err != nil {
		logger.DebugCtx(ctx, "shared autoscaler status unavailable, using local snapshot: %v", err)
		return h.scaler.Snapshot()
	}
	return status
}

// GetStatus gets autoscaler status
// @Summary Get autoscaler status
// @Description Current session state, last queue depth and per-node activation state
// @Tags AutoScaler
// @Produce json
// @Success 200 {object} autoscaler.SessionStatus
// @Router /api/v1/autoscaler/status [get]
func (h *AutoScalerHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.currentStatus(c.Request.Context()))
}

// GetEvents gets recent activation events
// @Summary Get activation history
// @Tags AutoScaler
// @Param node query string false "Node id"
// @Param limit query int false "Event limit (default 100)"
// @Produce json
// @Success 200 {array} autoscaler.ActivationEvent
// @Router /api/v1/autoscaler/events [get]
func (h *AutoScalerHandler) GetEvents(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "activation history is not configured"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	events, err := h.events.List(c.Request.Context(), c.Query("node"), limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list activation events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list activation events"})
		return
	}

	c.JSON(http.StatusOK, events)
}

// ActivateNode queues a manual activation
// @Summary Activate a worker node
// @Description Queue activation of an inactive node on the next tick, regardless of its threshold
// @Tags AutoScaler
// @Param id path string true "Node id"
// @Success 202 {object} map[string]interface{}
// @Router /api/v1/autoscaler/nodes/{id}/activate [post]
func (h *AutoScalerHandler) ActivateNode(c *gin.Context) {
	nodeID := c.Param("id")

	err := h.scaler.RequestActivation(nodeID)
	switch {
	case err == nil:
		logger.InfoCtx(c.Request.Context(), "manual activation of node %s queued", nodeID)
		c.JSON(http.StatusAccepted, gin.H{"nodeId": nodeID, "status": "queued"})
	case errors.Is(err, autoscaler.ErrUnknownNode):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, autoscaler.ErrAlreadyActivated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, autoscaler.ErrNotMonitoring), errors.Is(err, autoscaler.ErrRequestQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.ErrorCtx(c.Request.Context(), "failed to queue activation of node %s: %v", nodeID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue activation"})
	}
}

// Health reports liveness and the controller state
// @Summary Autoscaler health
// @Tags AutoScaler
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/autoscaler/health [get]
func (h *AutoScalerHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": h.scaler.IsRunning(),
		"state":   h.scaler.Snapshot().State,
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
}

// Watch streams the status over a WebSocket
// @Summary Watch autoscaler status
// @Description WebSocket stream of the session status, one message per second
// @Tags AutoScaler
// @Router /api/v1/autoscaler/watch [get]
func (h *AutoScalerHandler) Watch(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// the read side only exists to notice the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.watchInterval)
	defer ticker.Stop()

	for {
		if err := ws.WriteJSON(h.currentStatus(ctx)); err != nil {
			logger.DebugCtx(ctx, "autoscaler watch closed: %v", err)
			return
		}

		select {
		case <-ctx.Done():
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
		}
	}
}
