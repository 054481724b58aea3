package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/shego/internal/booking/domain"
)

const (
	defaultBookingPrefix = "booking:"
	defaultUpdateRetries = 5
)

// RedisRepository stores bookings as JSON documents and keeps the pickup
// location of pending bookings in a GEO set. Updates use WATCH/MULTI so a
// booking is never overwritten from a stale read.
type RedisRepository struct {
	client     *redis.Client
	keyPrefix  string
	geoKey     string
	maxRetries int
}

// NewRedisRepository constructs a Redis-backed Booking Store.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = defaultBookingPrefix
	}
	return &RedisRepository{
		client:     client,
		keyPrefix:  prefix,
		geoKey:     prefix + "pending:pickups",
		maxRetries: defaultUpdateRetries,
	}
}

func (r *RedisRepository) key(id string) string { return r.keyPrefix + id }

type redisGeoPoint struct {
	Lng     float64 `json:"lng"`
	Lat     float64 `json:"lat"`
	Address string  `json:"address"`
}

type redisBooking struct {
	ID              string             `json:"id"`
	PassengerID     string             `json:"passenger_id"`
	DriverID        string             `json:"driver_id,omitempty"`
	Driver          *domain.DriverInfo `json:"driver,omitempty"`
	Pickup          redisGeoPoint      `json:"pickup"`
	Dropoff         redisGeoPoint      `json:"dropoff"`
	Fare            float64            `json:"fare"`
	Status          string             `json:"status"`
	PaymentMethod   string             `json:"payment_method"`
	RequestedAt     time.Time          `json:"requested_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty"`
	DistanceKm      float64            `json:"distance_km"`
	DurationMinutes float64            `json:"duration_minutes"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Version         int64              `json:"version"`
}

func encodeRedisBooking(b domain.Booking) ([]byte, error) {
	return json.Marshal(redisBooking{
		ID:              b.ID,
		PassengerID:     b.PassengerID,
		DriverID:        b.DriverID,
		Driver:          b.Driver,
		Pickup:          redisGeoPoint{Lng: b.Pickup.Longitude, Lat: b.Pickup.Latitude, Address: b.Pickup.Address},
		Dropoff:         redisGeoPoint{Lng: b.Dropoff.Longitude, Lat: b.Dropoff.Latitude, Address: b.Dropoff.Address},
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
		Version:         b.Version,
	})
}

func decodeRedisBooking(raw []byte) (domain.Booking, error) {
	var rec redisBooking
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Booking{}, fmt.Errorf("%w: decode booking: %v", domain.ErrStore, err)
	}
	return domain.Booking{
		ID:              rec.ID,
		PassengerID:     rec.PassengerID,
		DriverID:        rec.DriverID,
		Driver:          rec.Driver,
		Pickup:          domain.GeoPoint{Longitude: rec.Pickup.Lng, Latitude: rec.Pickup.Lat, Address: rec.Pickup.Address},
		Dropoff:         domain.GeoPoint{Longitude: rec.Dropoff.Lng, Latitude: rec.Dropoff.Lat, Address: rec.Dropoff.Address},
		Fare:            rec.Fare,
		Status:          domain.Status(rec.Status),
		PaymentMethod:   domain.PaymentMethod(rec.PaymentMethod),
		RequestedAt:     rec.RequestedAt,
		StartedAt:       rec.StartedAt,
		CompletedAt:     rec.CompletedAt,
		CancelledAt:     rec.CancelledAt,
		DistanceKm:      rec.DistanceKm,
		DurationMinutes: rec.DurationMinutes,
		UpdatedAt:       rec.UpdatedAt,
		Version:         rec.Version,
	}, nil
}

// CreateBooking writes the document and, for pending bookings, the pickup index
// entry in one MULTI block.
func (r *RedisRepository) CreateBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	if err := booking.CheckInvariants(); err != nil {
		return domain.Booking{}, err
	}
	booking.ID = uuid.NewString()
	booking.Version = 1
	if booking.UpdatedAt.IsZero() {
		booking.UpdatedAt = booking.RequestedAt
	}
	payload, err := encodeRedisBooking(booking)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%w: encode booking: %v", domain.ErrStore, err)
	}

	var created *redis.BoolCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, r.key(booking.ID), payload, 0)
		if booking.Status == domain.StatusPending {
			pipe.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
				Name:      booking.ID,
				Longitude: booking.Pickup.Longitude,
				Latitude:  booking.Pickup.Latitude,
			})
		}
		return nil
	})
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%w: redis create: %v", domain.ErrStore, err)
	}
	if !created.Val() {
		return domain.Booking{}, fmt.Errorf("%w: id collision %s", domain.ErrStore, booking.ID)
	}
	return booking, nil
}

func (r *RedisRepository) GetBookingByID(ctx context.Context, id string) (domain.Booking, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%w: redis get: %v", domain.ErrStore, err)
	}
	return decodeRedisBooking(raw)
}

// UpdateBooking retries the optimistic transaction while other writers win the
// race and gives up with ErrConflict after maxRetries attempts.
func (r *RedisRepository) UpdateBooking(ctx context.Context, id string, mutate func(domain.Booking) (domain.Booking, error)) (domain.Booking, error) {
	key := r.key(id)
	var updated domain.Booking

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: redis get: %v", domain.ErrStore, err)
		}
		existing, err := decodeRedisBooking(raw)
		if err != nil {
			return err
		}
		next, err := mutate(existing.Clone())
		if err != nil {
			return err
		}
		if err := domain.CheckUpdate(existing, next); err != nil {
			return err
		}
		next.Version = existing.Version + 1
		payload, err := encodeRedisBooking(next)
		if err != nil {
			return fmt.Errorf("%w: encode booking: %v", domain.ErrStore, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if existing.Status == domain.StatusPending && next.Status != domain.StatusPending {
				pipe.ZRem(ctx, r.geoKey, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if isDomainError(err) {
			return domain.Booking{}, err
		}
		return domain.Booking{}, fmt.Errorf("%w: redis update: %v", domain.ErrStore, err)
	}
	return domain.Booking{}, fmt.Errorf("%w: %s after %d attempts", domain.ErrConflict, id, r.maxRetries)
}

// NearbyBookings only indexes pending bookings; other statuses return nothing.
func (r *RedisRepository) NearbyBookings(ctx context.Context, status domain.Status, point domain.GeoPoint, radiusKM float64, limit int) ([]domain.Booking, error) {
	if status != domain.StatusPending {
		return nil, nil
	}
	query := &redis.GeoRadiusQuery{
		Radius:   radiusKM,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
	}
	if limit > 0 {
		query.Count = limit
	}
	hits, err := r.client.GeoRadius(ctx, r.geoKey, point.Longitude, point.Latitude, query).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis georadius: %v", domain.ErrStore, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(hits))
	for _, hit := range hits {
		keys = append(keys, r.key(hit.Name))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis mget: %v", domain.ErrStore, err)
	}

	out := make([]domain.Booking, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		booking, err := decodeRedisBooking([]byte(raw))
		if err != nil {
			return nil, err
		}
		if booking.Status == status {
			out = append(out, booking)
		}
	}
	return out, nil
}

func isDomainError(err error) bool {
	if _, ok := domain.IsValidation(err); ok {
		return true
	}
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrInvariantViolation) ||
		errors.Is(err, domain.ErrDriverMismatch) ||
		errors.Is(err, domain.ErrStore)
}
