package domain

import (
	"context"
	"time"
)

// Repository is the Booking Store. Implementations must make UpdateBooking
// atomic per id: mutate sees the latest committed version and its result is
// checked with CheckUpdate before it is committed.
type Repository interface {
	CreateBooking(ctx context.Context, booking Booking) (Booking, error)
	GetBookingByID(ctx context.Context, id string) (Booking, error)
	UpdateBooking(ctx context.Context, id string, mutate func(Booking) (Booking, error)) (Booking, error)
	NearbyBookings(ctx context.Context, status Status, point GeoPoint, radiusKM float64, limit int) ([]Booking, error)
}

// IdempotencyRepository caches create responses per Idempotency-Key. Claim
// reserves a key for the single caller allowed to create; it reports false
// while another caller holds the claim or after a response was stored.
// Release drops a claim whose create failed so the key can be retried.
type IdempotencyRepository interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	PutResponse(ctx context.Context, key string, payload []byte) error
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// DriverDirectory resolves public driver details by id.
type DriverDirectory interface {
	LookupDriver(ctx context.Context, driverID string) (DriverInfo, bool, error)
}

type EventType string

const (
	EventBookingAccepted  EventType = "BookingAccepted"
	EventBookingStarted   EventType = "BookingStarted"
	EventBookingCompleted EventType = "BookingCompleted"
	EventBookingCancelled EventType = "BookingCancelled"
)

type BookingEvent struct {
	ID        string         `json:"id"`
	BookingID string         `json:"booking_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event BookingEvent) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
