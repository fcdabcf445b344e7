package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	devices "purifier-cloud/internal/devices/domain"
)

// HeartbeatHandler records device connectivity reports. The device
// edge terminates transport auth upstream; this handler only touches
// status fields.
type HeartbeatHandler struct {
	records devices.Repository
}

// NewHeartbeatHandler constructs a handler.
func NewHeartbeatHandler(records devices.Repository) (*HeartbeatHandler, error) {
	if records == nil {
		return nil, errors.New("heartbeat handler: nil record store")
	}
	return &HeartbeatHandler{records: records}, nil
}

// ServeHTTP handles POST /api/v1/devices/{id}/heartbeat.
func (h *HeartbeatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	deviceID, ok := strings.CutSuffix(path, "/heartbeat")
	if !ok || deviceID == "" || strings.Contains(deviceID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// An empty body means online; devices report offline explicitly
	// before a planned shutdown.
	online := true
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Online != nil {
		online = *req.Online
	}

	if err := h.records.UpdateStatus(r.Context(), deviceID, online, time.Now().UTC()); err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
