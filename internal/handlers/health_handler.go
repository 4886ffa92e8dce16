package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Pinger checks a backing store. *sqlx.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// JobStatusReporter exposes scheduler state. Implemented by
// services.SweepScheduler.
type JobStatusReporter interface {
	GetJobStatus() map[string]interface{}
}

// HealthHandler reports service health
type HealthHandler struct {
	db        Pinger
	scheduler JobStatusReporter
	logger    *logrus.Logger
}

// NewHealthHandler creates a new HealthHandler. scheduler may be nil.
func NewHealthHandler(db Pinger, scheduler JobStatusReporter, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{db: db, scheduler: scheduler, logger: logger}
}

// Health pings the database
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status":    "ok",
		"database":  "ok",
		"timestamp": time.Now().UTC(),
	}
	if h.scheduler != nil {
		body["jobs"] = h.scheduler.GetJobStatus()
	}

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.WithError(err).Error("Health check: database unreachable")
		body["status"] = "degraded"
		body["database"] = "unreachable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	c.JSON(http.StatusOK, body)
}
