package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	devices "purifier-cloud/internal/devices/domain"
	ledger "purifier-cloud/internal/ledger/domain"
	"purifier-cloud/internal/registration/application"
)

// userHeader carries the verified caller identity, set by the gateway.
const userHeader = "X-User-ID"

// Handler exposes the registration workflow. It performs no invariant
// checks of its own; ownership, claim and validation all live in the
// application service.
type Handler struct {
	service *application.Service
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("registration handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP routes registration endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices" && r.Method == http.MethodPost:
		h.handleRegister(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/") && r.Method == http.MethodDelete:
		h.handleUnregister(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		DeviceID string   `json:"device_id"`
		Label    string   `json:"label"`
		Geo      *geoBody `json:"geo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var geo *devices.Geo
	if req.Geo != nil {
		geo = &devices.Geo{Lat: req.Geo.Lat, Lon: req.Geo.Lon}
	}

	record, err := h.service.Register(r.Context(), userID, req.DeviceID, req.Label, geo)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(recordResponse(record))
}

func (h *Handler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err := h.service.Unregister(r.Context(), userID, deviceID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type geoBody struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func recordResponse(record *devices.DeviceRecord) map[string]any {
	resp := map[string]any{
		"device_id": record.DeviceID,
		"owner_id":  record.OwnerID,
		"label":     record.Label,
		"timezone":  record.Timezone,
		"settings": map[string]any{
			"auto_mode":   record.Settings.AutoMode,
			"fan_speed":   record.Settings.FanSpeed,
			"sensitivity": record.Settings.Sensitivity,
		},
	}
	if record.StationRef != "" {
		resp["station_ref"] = record.StationRef
	}
	if record.Geo != nil {
		resp["geo"] = map[string]any{"lat": record.Geo.Lat, "lon": record.Geo.Lon}
	}
	return resp
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, application.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		http.Error(w, "device already claimed", http.StatusConflict)
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, devices.ErrNotFound):
		http.Error(w, "device not found", http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
