// Package ingest accepts sensor readings over HTTP and tracks the
// latest reading as an owned snapshot.
//
// Device decoding happens outside this process; whatever reads the
// sensor POSTs readings here.
package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/co2track/co2track/pkg/config"
	"github.com/co2track/co2track/pkg/httpx"
	"github.com/co2track/co2track/pkg/live"
	"github.com/co2track/co2track/pkg/reading"
	"github.com/co2track/co2track/pkg/storage"
)

// Latest holds the most recent reading behind a mutex and hands out
// value copies only. Readers never share mutable state with the writer.
type Latest struct {
	mu sync.RWMutex
	r  *reading.Reading
}

// Set replaces the latest reading.
func (l *Latest) Set(r reading.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r = &r
}

// Get returns a copy of the latest reading; false when none has been
// ingested yet.
func (l *Latest) Get() (reading.Reading, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.r == nil {
		return reading.Reading{}, false
	}
	return *l.r, true
}

// Handler ingests readings into the raw store.
type Handler struct {
	store  storage.RawStore
	latest *Latest
	hub    *live.Hub
}

// NewHandler creates an ingest handler. hub may be nil when live
// streaming is disabled.
func NewHandler(store storage.RawStore, hub *live.Hub) *Handler {
	return &Handler{
		store:  store,
		latest: &Latest{},
		hub:    hub,
	}
}

// Latest exposes the latest-reading snapshot holder.
func (h *Handler) Latest() *Latest {
	return h.latest
}

// ingestRequest is the POST /v1/readings body.
type ingestRequest struct {
	CO2PPM      int      `json:"co2_ppm"`
	Temperature *float64 `json:"temperature_celsius"`
	Source      string   `json:"source"`

	// Timestamp is optional; omitted means "now". Sensor relays use it
	// to deliver buffered readings after a network gap.
	Timestamp *time.Time `json:"timestamp"`
}

// HandleIngest stores one reading and broadcasts the new snapshot.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if req.CO2PPM <= 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "co2_ppm must be positive")
		return
	}

	rec := reading.Reading{
		CO2PPM:      req.CO2PPM,
		Temperature: req.Temperature,
		Source:      req.Source,
	}
	if req.Timestamp != nil {
		rec.Timestamp = *req.Timestamp
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.InsertTimeout)
	defer cancel()

	stored, err := h.store.Insert(ctx, rec)
	if err != nil {
		logrus.Errorf("Failed to store reading: %v", err)
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	h.latest.Set(stored)
	if h.hub != nil && h.hub.HasClients() {
		if err := h.hub.Broadcast(map[string]interface{}{
			"type":    "reading",
			"reading": stored,
		}); err != nil {
			logrus.Warnf("Failed to broadcast reading: %v", err)
		}
	}

	httpx.RespondJSON(w, http.StatusCreated, stored)
}

// HandleCurrent returns the most recent reading.
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	current, ok := h.latest.Get()
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, "no reading ingested yet")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, current)
}
