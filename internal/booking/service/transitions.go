package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/example/shego/internal/booking/domain"
)

// AcceptBooking assigns driverID to a pending booking. When driver is nil the
// directory is consulted so the snapshot can be stored with the booking.
func (s *Service) AcceptBooking(ctx context.Context, id, driverID string, driver *domain.DriverInfo) (domain.Booking, error) {
	if driver == nil && s.drivers != nil && driverID != "" {
		if info, ok, err := s.drivers.LookupDriver(ctx, driverID); err == nil && ok {
			driver = &info
		}
	}
	return s.transition(ctx, id, domain.StatusAccepted, domain.EventBookingAccepted,
		func(b domain.Booking, now time.Time) (domain.Booking, error) {
			return b.Accept(driverID, driver, now)
		},
		func(b domain.Booking) map[string]any {
			return map[string]any{"driver_id": b.DriverID}
		})
}

// StartBooking moves an accepted booking to ongoing. A non-empty driverID must
// match the assigned driver.
func (s *Service) StartBooking(ctx context.Context, id, driverID string) (domain.Booking, error) {
	return s.transition(ctx, id, domain.StatusOngoing, domain.EventBookingStarted,
		func(b domain.Booking, now time.Time) (domain.Booking, error) {
			if err := checkDriver(b, driverID); err != nil {
				return domain.Booking{}, err
			}
			return b.Start(now)
		},
		func(b domain.Booking) map[string]any {
			return map[string]any{"driver_id": b.DriverID, "started_at": b.StartedAt}
		})
}

// CompleteBooking finishes an ongoing booking.
func (s *Service) CompleteBooking(ctx context.Context, id, driverID string) (domain.Booking, error) {
	return s.transition(ctx, id, domain.StatusCompleted, domain.EventBookingCompleted,
		func(b domain.Booking, now time.Time) (domain.Booking, error) {
			if err := checkDriver(b, driverID); err != nil {
				return domain.Booking{}, err
			}
			return b.Complete(now)
		},
		func(b domain.Booking) map[string]any {
			return map[string]any{"driver_id": b.DriverID, "completed_at": b.CompletedAt, "fare": b.Fare}
		})
}

// CancelBooking cancels a pending or accepted booking on behalf of actor.
// Ownership is checked against the stored booking inside the atomic update.
func (s *Service) CancelBooking(ctx context.Context, id string, actor domain.Actor) (domain.Booking, error) {
	return s.transition(ctx, id, domain.StatusCancelled, domain.EventBookingCancelled,
		func(b domain.Booking, now time.Time) (domain.Booking, error) {
			if err := actor.CanCancel(b); err != nil {
				return domain.Booking{}, err
			}
			return b.Cancel(now)
		},
		func(b domain.Booking) map[string]any {
			payload := map[string]any{"passenger_id": b.PassengerID, "cancelled_by": actor.Label()}
			if b.DriverID != "" {
				payload["driver_id"] = b.DriverID
			}
			return payload
		})
}

func checkDriver(b domain.Booking, driverID string) error {
	if driverID != "" && b.DriverID != driverID {
		return fmt.Errorf("%w: %s", domain.ErrDriverMismatch, driverID)
	}
	return nil
}

func (s *Service) transition(
	ctx context.Context,
	id string,
	target domain.Status,
	eventType domain.EventType,
	apply func(domain.Booking, time.Time) (domain.Booking, error),
	payload func(domain.Booking) map[string]any,
) (domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.transition")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id), attribute.String("booking.target", string(target)))

	updated, err := s.repo.UpdateBooking(ctx, id, func(b domain.Booking) (domain.Booking, error) {
		return apply(b, s.clock.Now())
	})
	if err != nil {
		transitionsTotal.WithLabelValues(string(target), "rejected").Inc()
		span.SetStatus(codes.Error, err.Error())
		s.logger.Info("transition rejected",
			zap.String("booking_id", id),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		return domain.Booking{}, err
	}
	transitionsTotal.WithLabelValues(string(target), "ok").Inc()
	s.logger.Info("booking transitioned", zap.String("booking_id", id), zap.String("status", string(updated.Status)))

	if s.events != nil {
		event := domain.BookingEvent{
			ID:        uuid.NewString(),
			BookingID: updated.ID,
			Type:      eventType,
			Payload:   payload(updated),
			CreatedAt: updated.UpdatedAt,
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn("publish booking event failed",
				zap.String("booking_id", id),
				zap.String("event", string(eventType)),
				zap.Error(err),
			)
		}
	}
	return updated, nil
}
