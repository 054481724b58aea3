package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/shego/internal/booking/domain"
)

// CreatedMessage is returned alongside the id of a new booking.
const CreatedMessage = "Booking created successfully"

// Service coordinates booking operations between handlers and repositories.
type Service struct {
	repo       domain.Repository
	events     domain.EventPublisher
	drivers    domain.DriverDirectory
	clock      domain.Clock
	idempotent domain.IdempotencyRepository
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New constructs a Service. events, drivers and idem may be nil.
func New(repo domain.Repository, events domain.EventPublisher, drivers domain.DriverDirectory, clock domain.Clock, idem domain.IdempotencyRepository, logger *zap.Logger) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:       repo,
		events:     events,
		drivers:    drivers,
		clock:      clock,
		idempotent: idem,
		logger:     logger.Named("booking"),
		tracer:     otel.Tracer("booking.service"),
	}
}

// CreateBookingRequest contains the passenger supplied booking fields.
type CreateBookingRequest struct {
	PassengerID     string
	Pickup          domain.GeoPoint
	Dropoff         domain.GeoPoint
	Fare            float64
	PaymentMethod   domain.PaymentMethod
	DistanceKm      float64
	DurationMinutes float64
}

// CreateBookingResponse is the body returned for a created booking.
type CreateBookingResponse struct {
	Message   string `json:"message"`
	BookingID string `json:"bookingId"`
}

// claimWait bounds how long a duplicate create waits for the claim holder.
const (
	claimWait     = 2 * time.Second
	claimWaitStep = 20 * time.Millisecond
)

// CreateBooking validates and persists a new pending booking. With a non-empty
// idempotency key the first response is replayed for every later call using
// the same key; without one each call creates a new booking. Concurrent calls
// sharing a key serialize on a claim so only one of them creates.
func (s *Service) CreateBooking(ctx context.Context, key string, req CreateBookingRequest) (CreateBookingResponse, error) {
	ctx, span := s.tracer.Start(ctx, "booking.create")
	defer span.End()
	start := time.Now()

	keyed := key != "" && s.idempotent != nil
	if keyed {
		if resp, ok := s.replay(ctx, key); ok {
			span.SetAttributes(attribute.Bool("booking.replayed", true))
			return resp, nil
		}
	}

	if err := validateCreate(req); err != nil {
		if verr, ok := domain.IsValidation(err); ok {
			validationFailures.WithLabelValues(verr.Field).Inc()
		}
		createDuration.WithLabelValues("invalid").Observe(time.Since(start).Seconds())
		span.SetStatus(codes.Error, err.Error())
		return CreateBookingResponse{}, err
	}

	if keyed {
		claimed, err := s.idempotent.Claim(ctx, key)
		if err != nil {
			span.RecordError(err)
			return CreateBookingResponse{}, fmt.Errorf("claim idempotency key: %w", err)
		}
		if !claimed {
			resp, err := s.awaitClaimed(ctx, key)
			if err == nil {
				span.SetAttributes(attribute.Bool("booking.replayed", true))
			}
			return resp, err
		}
		// The previous holder may have stored its response between our
		// lookup and the claim.
		if resp, ok := s.replay(ctx, key); ok {
			_ = s.idempotent.Release(ctx, key)
			span.SetAttributes(attribute.Bool("booking.replayed", true))
			return resp, nil
		}
	}

	now := s.clock.Now()
	booking := domain.Booking{
		PassengerID:     req.PassengerID,
		Pickup:          req.Pickup,
		Dropoff:         req.Dropoff,
		Fare:            req.Fare,
		Status:          domain.StatusPending,
		PaymentMethod:   req.PaymentMethod,
		RequestedAt:     now,
		DistanceKm:      req.DistanceKm,
		DurationMinutes: req.DurationMinutes,
		UpdatedAt:       now,
	}

	created, err := s.repo.CreateBooking(ctx, booking)
	if err != nil {
		if keyed {
			if rerr := s.idempotent.Release(ctx, key); rerr != nil {
				s.logger.Warn("idempotency release failed", zap.String("idempotency_key", key), zap.Error(rerr))
			}
		}
		createDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "create booking")
		s.logger.Error("create booking failed", zap.String("passenger_id", req.PassengerID), zap.Error(err))
		return CreateBookingResponse{}, fmt.Errorf("create booking: %w", err)
	}
	bookingsCreated.Inc()
	createDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("booking.id", created.ID))
	s.logger.Info("booking created",
		zap.String("booking_id", created.ID),
		zap.String("passenger_id", created.PassengerID),
	)

	resp := CreateBookingResponse{Message: CreatedMessage, BookingID: created.ID}
	if keyed {
		payload, _ := json.Marshal(resp)
		if err := s.idempotent.PutResponse(ctx, key, payload); err != nil {
			s.logger.Warn("idempotency store failed", zap.String("idempotency_key", key), zap.Error(err))
		}
	}
	return resp, nil
}

func (s *Service) replay(ctx context.Context, key string) (CreateBookingResponse, bool) {
	cached, ok, err := s.idempotent.GetResponse(ctx, key)
	if err != nil {
		s.logger.Warn("idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		return CreateBookingResponse{}, false
	}
	if !ok {
		return CreateBookingResponse{}, false
	}
	var resp CreateBookingResponse
	if err := json.Unmarshal(cached, &resp); err != nil {
		s.logger.Warn("discarding unreadable idempotent response", zap.String("idempotency_key", key))
		return CreateBookingResponse{}, false
	}
	return resp, true
}

// awaitClaimed waits for the claim holder to store its response. A holder
// that neither stores nor releases in time leaves the caller with a conflict.
func (s *Service) awaitClaimed(ctx context.Context, key string) (CreateBookingResponse, error) {
	deadline := time.NewTimer(claimWait)
	defer deadline.Stop()
	step := time.NewTicker(claimWaitStep)
	defer step.Stop()

	for {
		if resp, ok := s.replay(ctx, key); ok {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return CreateBookingResponse{}, ctx.Err()
		case <-deadline.C:
			return CreateBookingResponse{}, fmt.Errorf("%w: idempotency key %q is in use", domain.ErrConflict, key)
		case <-step.C:
		}
	}
}

// GetBooking returns the full booking record.
func (s *Service) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	return s.repo.GetBookingByID(ctx, id)
}
