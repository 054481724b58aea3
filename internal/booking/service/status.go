package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/example/shego/internal/booking/domain"
)

// StatusView is what a passenger sees while waiting for a driver.
type StatusView struct {
	Status domain.Status      `json:"status"`
	Driver *domain.DriverInfo `json:"driver,omitempty"`
}

// GetStatus reads the latest committed status. Driver details are attached only
// once a driver is assigned; a failed directory lookup omits them rather than
// failing the read.
func (s *Service) GetStatus(ctx context.Context, id string) (StatusView, error) {
	ctx, span := s.tracer.Start(ctx, "booking.status")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))

	booking, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			statusReads.WithLabelValues("not_found").Inc()
		} else {
			statusReads.WithLabelValues("error").Inc()
			span.RecordError(err)
		}
		return StatusView{}, err
	}
	statusReads.WithLabelValues("ok").Inc()

	view := StatusView{Status: booking.Status}
	if !booking.Status.DriverAssigned() {
		return view, nil
	}
	if booking.Driver != nil {
		d := *booking.Driver
		view.Driver = &d
		return view, nil
	}
	if s.drivers == nil {
		return view, nil
	}
	info, ok, err := s.drivers.LookupDriver(ctx, booking.DriverID)
	if err != nil {
		s.logger.Warn("driver lookup failed", zap.String("booking_id", id), zap.String("driver_id", booking.DriverID), zap.Error(err))
		return view, nil
	}
	if ok {
		view.Driver = &info
	}
	return view, nil
}

// NearbyPending lists pending bookings whose pickup lies within radiusKM of
// point, nearest first.
func (s *Service) NearbyPending(ctx context.Context, point domain.GeoPoint, radiusKM float64, limit int) ([]domain.Booking, error) {
	if err := point.CheckCoordinates(); err != nil {
		return nil, domain.NewValidationError("coordinates", err.Error())
	}
	if radiusKM <= 0 {
		return nil, domain.NewValidationError("radius_km", "must be positive")
	}
	if limit <= 0 {
		limit = 20
	}
	ctx, span := s.tracer.Start(ctx, "booking.nearby")
	defer span.End()
	return s.repo.NearbyBookings(ctx, domain.StatusPending, point, radiusKM, limit)
}
