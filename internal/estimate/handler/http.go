package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/shego/internal/booking/domain"
	estimatesvc "github.com/example/shego/internal/estimate/service"
)

// HTTP exposes the /v1/estimate endpoint.
type HTTP struct {
	svc *estimatesvc.Service
}

// New creates the handler.
func New(svc *estimatesvc.Service) *HTTP {
	return &HTTP{svc: svc}
}

// Router builds the chi router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/estimate", h.estimate)
	return r
}

type estimateResponse struct {
	estimatesvc.Quote
	DriverETASec *float64 `json:"driverEtaSec,omitempty"`
	DriverID     string   `json:"driverId,omitempty"`
}

func (h *HTTP) estimate(w http.ResponseWriter, r *http.Request) {
	pickup, ok := parsePoint(w, r, "pickup")
	if !ok {
		return
	}
	dropoff, ok := parsePoint(w, r, "dropoff")
	if !ok {
		return
	}

	resp := estimateResponse{Quote: h.svc.Quote(r.Context(), pickup, dropoff)}
	if eta, driverID, found := h.svc.EstimateDriverETA(r.Context(), pickup); found {
		sec := eta.Seconds()
		resp.DriverETASec = &sec
		resp.DriverID = driverID
	}
	writeJSON(w, http.StatusOK, resp)
}

func parsePoint(w http.ResponseWriter, r *http.Request, prefix string) (domain.GeoPoint, bool) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get(prefix+"_lat"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + prefix + "_lat"})
		return domain.GeoPoint{}, false
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get(prefix+"_lng"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + prefix + "_lng"})
		return domain.GeoPoint{}, false
	}
	p := domain.GeoPoint{Longitude: lng, Latitude: lat}
	if err := p.CheckCoordinates(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return domain.GeoPoint{}, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
