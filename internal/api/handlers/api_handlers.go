package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"birdwatch-go/internal/api/middleware"
	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/errors"
	"birdwatch-go/internal/locale"
	"birdwatch-go/internal/server/sse"
	"birdwatch-go/internal/session"
	"birdwatch-go/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

// Query limits
const (
	defaultCaptureLimit = 20
	maxCaptureLimit     = 200
	defaultHours        = 24
	maxHours            = 24 * 7
	defaultDays         = 7
	maxDays             = 90
)

// APIHandler serves the session statistics, captures and system state as JSON
type APIHandler struct {
	session   *session.Session
	bundle    *locale.Bundle
	hub       *sse.Hub
	pool      utils.PoolStats
	snapshots *cache.Cache // rendered snapshots per language, nil disables caching
	gen       atomic.Uint64 // bumped on every capture, guards snapshots
	now       func() time.Time
}

// NewAPIHandler creates the API handler. Snapshots are cached for snapshotTTL,
// 0 disables the cache. hub and pool may be nil.
func NewAPIHandler(sess *session.Session, bundle *locale.Bundle, hub *sse.Hub, pool utils.PoolStats, snapshotTTL time.Duration) *APIHandler {
	h := &APIHandler{
		session: sess,
		bundle:  bundle,
		hub:     hub,
		pool:    pool,
		now:     time.Now,
	}
	if snapshotTTL > 0 {
		// no janitor: there is one entry per language and stale ones are overwritten
		h.snapshots = cache.New(snapshotTTL, 0)
	}
	return h
}

// WithClock replaces the clock used for the snapshot time
func (h *APIHandler) WithClock(now func() time.Time) *APIHandler {
	h.now = now
	return h
}

// RegisterRoutes registers all API routes
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/stats", h.GetStats)
	router.GET("/stats/confidence", h.GetConfidence)
	router.GET("/stats/hourly", h.GetHourly)
	router.GET("/stats/daily", h.GetDaily)
	router.GET("/stats/log", h.GetDetectionLog)

	router.GET("/captures", h.ListCaptures)
	router.GET("/captures/:id", h.GetCapture)

	router.GET("/system", h.GetSystem)
	router.GET("/languages", h.GetLanguages)
	router.GET("/events", h.Events)
}

// OnCapture drops the cached snapshots and pushes the capture and a fresh
// snapshot to the event stream. It is registered as a capture listener.
func (h *APIHandler) OnCapture(c models.Capture) {
	if h.snapshots != nil {
		h.gen.Add(1)
		h.snapshots.Flush()
	}
	if h.hub == nil {
		return
	}
	h.hub.PublishCapture(c, h.session.ImageRef(c))

	snap, err := h.session.Snapshot(h.now(), h.bundle.Translator(h.bundle.Default()))
	if err != nil {
		log.WithFields(errors.FieldsOf(err)).WithError(err).Warn("Failed to build snapshot for event stream")
		return
	}
	h.hub.Publish(sse.EventSnapshot, snap)
}

func (h *APIHandler) snapshot(c *gin.Context) (session.StatusSnapshot, error) {
	tr := middleware.Translator(c, h.bundle)
	key := "snapshot:" + tr.Language()
	if h.snapshots != nil {
		if cached, ok := h.snapshots.Get(key); ok {
			return cached.(session.StatusSnapshot), nil
		}
	}

	gen := h.gen.Load()
	snap, err := h.session.Snapshot(h.now(), tr)
	if err != nil {
		return session.StatusSnapshot{}, err
	}
	// a capture that arrived while building may not be in snap
	if h.snapshots != nil && h.gen.Load() == gen {
		h.snapshots.SetDefault(key, snap)
	}
	return snap, nil
}

// GetStats returns the status snapshot of the running session
func (h *APIHandler) GetStats(c *gin.Context) {
	snap, err := h.snapshot(c)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, "Failed to build status snapshot", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetConfidence returns the confidence statistics per label
func (h *APIHandler) GetConfidence(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Aggregator().ConfidenceAverages())
}

// GetHourly returns the per-hour detection counts, most recent hour first
func (h *APIHandler) GetHourly(c *gin.Context) {
	hours, err := intQuery(c, "hours", defaultHours, maxHours)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.session.Aggregator().HourlyBreakdown(h.now(), hours))
}

// GetDaily returns the per-day detection counts, most recent day first
func (h *APIHandler) GetDaily(c *gin.Context) {
	days, err := intQuery(c, "days", defaultDays, maxDays)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.session.Aggregator().DailyBreakdown(h.now(), days))
}

// GetDetectionLog returns the most recent detections
func (h *APIHandler) GetDetectionLog(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Aggregator().DetectionLog())
}

// ListCaptures returns the most recent captures, newest first
func (h *APIHandler) ListCaptures(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultCaptureLimit, maxCaptureLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	captures, err := h.session.Store().ListRecent(limit)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, "Failed to list captures", err)
		return
	}
	total, err := h.session.Store().Count()
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, "Failed to count captures", err)
		return
	}

	now, tr := h.now(), middleware.Translator(c, h.bundle)
	views := make([]session.CaptureView, 0, len(captures))
	for _, capture := range captures {
		views = append(views, h.session.View(capture, now, tr))
	}
	c.JSON(http.StatusOK, gin.H{
		"captures": views,
		"total":    total,
	})
}

// GetCapture returns a single capture
func (h *APIHandler) GetCapture(c *gin.Context) {
	id := c.Param("id")
	capture, err := h.session.Store().Get(id)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, "Failed to load capture", err)
		return
	}
	if capture == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Capture not found"})
		return
	}
	c.JSON(http.StatusOK, h.session.View(*capture, h.now(), middleware.Translator(c, h.bundle)))
}

// GetSystem returns host and worker pool statistics
func (h *APIHandler) GetSystem(c *gin.Context) {
	c.JSON(http.StatusOK, utils.GetSystemStats(h.pool))
}

// GetLanguages returns the language of the request and all available languages
func (h *APIHandler) GetLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"current":   middleware.Translator(c, h.bundle).Language(),
		"available": h.bundle.Languages(),
	})
}

// Events streams capture and snapshot events. The current snapshot is sent
// right after connecting.
func (h *APIHandler) Events(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event stream disabled"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(sse.Client, 10)
	if !h.hub.Register(client) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event stream stopped"})
		return
	}
	defer h.hub.Unregister(client)

	if snap, err := h.snapshot(c); err == nil {
		c.SSEvent(sse.EventSnapshot, snap)
		c.Writer.Flush()
	}

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, string(msg.Data))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func intQuery(c *gin.Context, name string, def, limit int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || v > limit {
		return 0, fmt.Errorf("%s must be between 1 and %d", name, limit)
	}
	return v, nil
}

func respondWithError(c *gin.Context, code int, message string, err error) {
	log.WithFields(errors.FieldsOf(err)).WithError(err).Error(message)
	c.JSON(code, gin.H{"error": message})
}
