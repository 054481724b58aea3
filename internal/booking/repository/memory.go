package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/example/shego/internal/booking/domain"
)

// MemoryRepository provides an in-memory Booking Store suitable for tests and local demos.
type MemoryRepository struct {
	mu       sync.RWMutex
	bookings map[string]domain.Booking
}

// NewMemoryRepository constructs an empty memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bookings: make(map[string]domain.Booking)}
}

// CreateBooking assigns an id and stores the booking.
func (m *MemoryRepository) CreateBooking(_ context.Context, booking domain.Booking) (domain.Booking, error) {
	if err := booking.CheckInvariants(); err != nil {
		return domain.Booking{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	booking.ID = uuid.NewString()
	booking.Version = 1
	if booking.UpdatedAt.IsZero() {
		booking.UpdatedAt = booking.RequestedAt
	}
	m.bookings[booking.ID] = booking.Clone()
	return booking, nil
}

// GetBookingByID retrieves a booking.
func (m *MemoryRepository) GetBookingByID(_ context.Context, id string) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	booking, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return booking.Clone(), nil
}

// UpdateBooking applies mutate under the write lock so concurrent updates of the
// same id are serialized.
func (m *MemoryRepository) UpdateBooking(_ context.Context, id string, mutate func(domain.Booking) (domain.Booking, error)) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	next, err := mutate(existing.Clone())
	if err != nil {
		return domain.Booking{}, err
	}
	if err := domain.CheckUpdate(existing, next); err != nil {
		return domain.Booking{}, err
	}
	next.Version = existing.Version + 1
	m.bookings[id] = next.Clone()
	return next, nil
}

// NearbyBookings scans every booking; fine for the sizes this store is used with.
func (m *MemoryRepository) NearbyBookings(_ context.Context, status domain.Status, point domain.GeoPoint, radiusKM float64, limit int) ([]domain.Booking, error) {
	type hit struct {
		booking  domain.Booking
		distance float64
	}
	m.mu.RLock()
	hits := make([]hit, 0)
	for _, b := range m.bookings {
		if b.Status != status {
			continue
		}
		if d := domain.HaversineKM(point, b.Pickup); d <= radiusKM {
			hits = append(hits, hit{booking: b.Clone(), distance: d})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]domain.Booking, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.booking)
	}
	return out, nil
}
