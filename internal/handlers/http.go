package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/akmatori/autoheal/internal/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Version is reported by the health endpoint
var Version = "dev"

const healthCheckTimeout = 2 * time.Second

// HTTPHandler serves the public operational endpoints
type HTTPHandler struct {
	db       *gorm.DB
	gatherer prometheus.Gatherer
}

// NewHTTPHandler creates a new HTTP handler. A nil gatherer serves the
// default Prometheus registry.
func NewHTTPHandler(db *gorm.DB, gatherer prometheus.Gatherer) *HTTPHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &HTTPHandler{db: db, gatherer: gatherer}
}

// SetupRoutes configures the health and metrics routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

// handleHealth reports ok when the database answers a ping
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := h.pingDB(r.Context()); err != nil {
		log.Printf("Health check: database unavailable: %v", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}

	api.RespondJSON(w, code, map[string]string{
		"status":  status,
		"version": Version,
	})
}

func (h *HTTPHandler) pingDB(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
