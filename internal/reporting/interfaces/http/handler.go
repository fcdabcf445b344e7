package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	devices "purifier-cloud/internal/devices/domain"
	registry "purifier-cloud/internal/registry/domain"
	"purifier-cloud/internal/reporting"
)

// Handler serves fleet report downloads.
type Handler struct {
	registry registry.Registry
	records  devices.Repository
}

// NewHandler constructs a handler.
func NewHandler(reg registry.Registry, records devices.Repository) (*Handler, error) {
	if reg == nil || records == nil {
		return nil, errors.New("reporting handler: nil dependency")
	}
	return &Handler{registry: reg, records: records}, nil
}

// ServeHTTP routes report downloads.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/v1/reports/fleet.xlsx":
		h.serve(w, r, "xlsx")
	case "/api/v1/reports/fleet.pdf":
		h.serve(w, r, "pdf")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, format string) {
	report, err := reporting.BuildFleetReport(r.Context(), h.registry, h.records)
	if err != nil {
		http.Error(w, "report build error", http.StatusInternalServerError)
		return
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case "xlsx":
		data, err = reporting.BuildFleetXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		data, err = reporting.BuildFleetPDF(report)
		contentType = "application/pdf"
	}
	if err != nil {
		http.Error(w, "report render error", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("fleet-%s.%s", report.GeneratedAt.Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Last-Modified", report.GeneratedAt.Format(time.RFC1123))
	_, _ = w.Write(data)
}
