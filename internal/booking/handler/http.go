package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/shego/internal/auth"
	"github.com/example/shego/internal/booking/domain"
	"github.com/example/shego/internal/booking/service"
	"github.com/example/shego/pkg/observability"
)

const (
	msgCreateFailed = "Failed to create booking"
	msgStatusFailed = "Failed to fetch booking status"
	msgNotFound     = "Booking not found"
)

// HTTP exposes the booking endpoints.
type HTTP struct {
	svc          *service.Service
	logger       *zap.Logger
	authSecret   string
	nearbyRadius float64
	maxBodyBytes int64
}

// NewHTTP constructs a handler. An empty authSecret leaves the transition
// endpoints open.
func NewHTTP(svc *service.Service, logger *zap.Logger, authSecret string, nearbyRadiusKM float64) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	if nearbyRadiusKM <= 0 {
		nearbyRadiusKM = 3
	}
	return &HTTP{
		svc:          svc,
		logger:       logger.Named("http"),
		authSecret:   authSecret,
		nearbyRadius: nearbyRadiusKM,
		maxBodyBytes: 1 << 20,
	}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, observability.AccessLog(h.logger), middleware.Recoverer)

	r.Route("/api/booking", func(r chi.Router) {
		r.Post("/request", h.createBooking)
		r.Get("/status/{bookingId}", h.getStatus)
		r.Get("/nearby", h.nearby)
		r.Get("/{id}", h.getBooking)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.authSecret, auth.RoleDriver, auth.RoleOps))
			r.Post("/{id}/accept", h.acceptBooking)
			r.Post("/{id}/start", h.startBooking)
			r.Post("/{id}/complete", h.completeBooking)
		})
		r.With(auth.Middleware(h.authSecret, auth.RoleDriver, auth.RolePassenger, auth.RoleOps)).
			Post("/{id}/cancel", h.cancelBooking)
	})
	return r
}

type geoJSONPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
	Address     string    `json:"address"`
}

func (p *geoJSONPoint) toDomain(field string) (domain.GeoPoint, error) {
	if p == nil {
		return domain.GeoPoint{}, domain.NewValidationError(field, "is required")
	}
	if p.Type != "" && p.Type != "Point" {
		return domain.GeoPoint{}, domain.NewValidationError(field+".type", "must be Point")
	}
	if len(p.Coordinates) != 2 {
		return domain.GeoPoint{}, domain.NewValidationError(field+".coordinates", "must be [longitude, latitude]")
	}
	return domain.GeoPoint{Longitude: p.Coordinates[0], Latitude: p.Coordinates[1], Address: p.Address}, nil
}

func fromDomainPoint(p domain.GeoPoint) geoJSONPoint {
	return geoJSONPoint{Type: "Point", Coordinates: []float64{p.Longitude, p.Latitude}, Address: p.Address}
}

// createBookingRequest mirrors what passenger apps send. driverId, status and
// requestedAt are accepted for compatibility; requestedAt is always server time.
type createBookingRequest struct {
	PassengerID     string          `json:"passengerId"`
	DriverID        *string         `json:"driverId"`
	PickupLocation  *geoJSONPoint   `json:"pickupLocation"`
	DropoffLocation *geoJSONPoint   `json:"dropoffLocation"`
	Fare            *float64        `json:"fare"`
	Status          string          `json:"status"`
	PaymentMethod   string          `json:"paymentMethod"`
	RequestedAt     json.RawMessage `json:"requestedAt"`
	DistanceKm      *float64        `json:"distanceKm"`
	DurationMinutes *float64        `json:"durationMinutes"`
}

func (p createBookingRequest) toServiceRequest() (service.CreateBookingRequest, error) {
	if p.DriverID != nil && *p.DriverID != "" {
		return service.CreateBookingRequest{}, domain.NewValidationError("driverId", "must be empty for a new booking")
	}
	if p.Status != "" && p.Status != string(domain.StatusPending) {
		return service.CreateBookingRequest{}, domain.NewValidationError("status", "must be pending for a new booking")
	}
	pickup, err := p.PickupLocation.toDomain("pickupLocation")
	if err != nil {
		return service.CreateBookingRequest{}, err
	}
	dropoff, err := p.DropoffLocation.toDomain("dropoffLocation")
	if err != nil {
		return service.CreateBookingRequest{}, err
	}
	fare, err := required("fare", p.Fare)
	if err != nil {
		return service.CreateBookingRequest{}, err
	}
	distance, err := required("distanceKm", p.DistanceKm)
	if err != nil {
		return service.CreateBookingRequest{}, err
	}
	duration, err := required("durationMinutes", p.DurationMinutes)
	if err != nil {
		return service.CreateBookingRequest{}, err
	}
	return service.CreateBookingRequest{
		PassengerID:     p.PassengerID,
		Pickup:          pickup,
		Dropoff:         dropoff,
		Fare:            fare,
		PaymentMethod:   domain.PaymentMethod(p.PaymentMethod),
		DistanceKm:      distance,
		DurationMinutes: duration,
	}, nil
}

func required(field string, v *float64) (float64, error) {
	if v == nil {
		return 0, domain.NewValidationError(field, "is required")
	}
	return *v, nil
}

func (h *HTTP) createBooking(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var payload createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	req, err := payload.toServiceRequest()
	if err != nil {
		h.writeServiceError(w, err, msgCreateFailed)
		return
	}
	resp, err := h.svc.CreateBooking(r.Context(), strings.TrimSpace(r.Header.Get("Idempotency-Key")), req)
	if err != nil {
		h.writeServiceError(w, err, msgCreateFailed)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type driverView struct {
	Name    string `json:"name"`
	Vehicle string `json:"vehicle"`
	Plate   string `json:"plate"`
	Phone   string `json:"phone"`
}

func toDriverView(d *domain.DriverInfo) *driverView {
	if d == nil {
		return nil
	}
	return &driverView{Name: d.Name, Vehicle: d.Vehicle, Plate: d.Plate, Phone: d.Phone}
}

type statusResponse struct {
	Status string      `json:"status"`
	Driver *driverView `json:"driver,omitempty"`
}

func (h *HTTP) getStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		h.writeServiceError(w, err, msgStatusFailed)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(view.Status), Driver: toDriverView(view.Driver)})
}

type bookingView struct {
	ID              string       `json:"id"`
	PassengerID     string       `json:"passengerId"`
	DriverID        *string      `json:"driverId"`
	Driver          *driverView  `json:"driver,omitempty"`
	PickupLocation  geoJSONPoint `json:"pickupLocation"`
	DropoffLocation geoJSONPoint `json:"dropoffLocation"`
	Fare            float64      `json:"fare"`
	Status          string       `json:"status"`
	PaymentMethod   string       `json:"paymentMethod"`
	RequestedAt     time.Time    `json:"requestedAt"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"`
	CancelledAt     *time.Time   `json:"cancelledAt,omitempty"`
	DistanceKm      float64      `json:"distanceKm"`
	DurationMinutes float64      `json:"durationMinutes"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

func toBookingView(b domain.Booking) bookingView {
	v := bookingView{
		ID:              b.ID,
		PassengerID:     b.PassengerID,
		Driver:          toDriverView(b.Driver),
		PickupLocation:  fromDomainPoint(b.Pickup),
		DropoffLocation: fromDomainPoint(b.Dropoff),
		Fare:            b.Fare,
		Status:          string(b.Status),
		PaymentMethod:   string(b.PaymentMethod),
		RequestedAt:     b.RequestedAt,
		StartedAt:       b.StartedAt,
		CompletedAt:     b.CompletedAt,
		CancelledAt:     b.CancelledAt,
		DistanceKm:      b.DistanceKm,
		DurationMinutes: b.DurationMinutes,
		UpdatedAt:       b.UpdatedAt,
	}
	if b.DriverID != "" {
		id := b.DriverID
		v.DriverID = &id
	}
	return v
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.svc.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, msgStatusFailed)
		return
	}
	writeJSON(w, http.StatusOK, toBookingView(booking))
}

func (h *HTTP) nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lng")
		return
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	radius := h.nearbyRadius
	if raw := q.Get("radius_km"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid radius_km")
			return
		}
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	bookings, err := h.svc.NearbyPending(r.Context(), domain.GeoPoint{Longitude: lng, Latitude: lat}, radius, limit)
	if err != nil {
		h.writeServiceError(w, err, "Failed to search bookings")
		return
	}
	views := make([]bookingView, 0, len(bookings))
	for _, b := range bookings {
		views = append(views, toBookingView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": views})
}

type acceptRequest struct {
	DriverID string      `json:"driverId"`
	Driver   *driverView `json:"driver"`
}

func (h *HTTP) acceptBooking(w http.ResponseWriter, r *http.Request) {
	var payload acceptRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	// A driver token always acts as its own subject.
	if driverID := auth.DriverFromContext(r.Context()); driverID != "" {
		if payload.DriverID != "" && payload.DriverID != driverID {
			writeError(w, http.StatusForbidden, domain.ErrDriverMismatch.Error())
			return
		}
		payload.DriverID = driverID
	}
	var info *domain.DriverInfo
	if payload.Driver != nil {
		info = &domain.DriverInfo{Name: payload.Driver.Name, Vehicle: payload.Driver.Vehicle, Plate: payload.Driver.Plate, Phone: payload.Driver.Phone}
	}
	booking, err := h.svc.AcceptBooking(r.Context(), chi.URLParam(r, "id"), payload.DriverID, info)
	h.writeTransition(w, booking, err)
}

func (h *HTTP) startBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.svc.StartBooking(r.Context(), chi.URLParam(r, "id"), auth.DriverFromContext(r.Context()))
	h.writeTransition(w, booking, err)
}

func (h *HTTP) completeBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.svc.CompleteBooking(r.Context(), chi.URLParam(r, "id"), auth.DriverFromContext(r.Context()))
	h.writeTransition(w, booking, err)
}

func (h *HTTP) cancelBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.svc.CancelBooking(r.Context(), chi.URLParam(r, "id"), actorFromContext(r.Context()))
	h.writeTransition(w, booking, err)
}

func actorFromContext(ctx context.Context) domain.Actor {
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return domain.Actor{}
	}
	return domain.Actor{Role: domain.ActorRole(claims.Role), ID: claims.Subject}
}

func (h *HTTP) writeTransition(w http.ResponseWriter, booking domain.Booking, err error) {
	if err != nil {
		h.writeServiceError(w, err, "Failed to update booking")
		return
	}
	writeJSON(w, http.StatusOK, toBookingView(booking))
}

// writeServiceError maps domain errors onto status codes. Internal failures
// are logged and answered with fallback so store details never leak.
func (h *HTTP) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	if verr, ok := domain.IsValidation(err); ok {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, domain.ErrDriverMismatch),
		errors.Is(err, domain.ErrPassengerMismatch),
		errors.Is(err, domain.ErrForbiddenActor):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvariantViolation),
		errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
