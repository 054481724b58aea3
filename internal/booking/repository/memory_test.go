package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/shego/internal/booking/domain"
	"github.com/example/shego/internal/booking/repository"
)

func newPending(lng, lat float64) domain.Booking {
	return domain.Booking{
		PassengerID:     "p1",
		Pickup:          domain.GeoPoint{Longitude: lng, Latitude: lat, Address: "pickup"},
		Dropoff:         domain.GeoPoint{Longitude: -0.1426, Latitude: 51.5010, Address: "dropoff"},
		Fare:            25.75,
		Status:          domain.StatusPending,
		PaymentMethod:   domain.PaymentPayPal,
		RequestedAt:     time.Unix(1_700_000_000, 0).UTC(),
		DistanceKm:      4.8,
		DurationMinutes: 25,
	}
}

func TestMemoryRepositoryAssignsDistinctIDs(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()

	a, err := repo.CreateBooking(ctx, newPending(-0.1257, 51.5085))
	require.NoError(t, err)
	b, err := repo.CreateBooking(ctx, newPending(-0.1257, 51.5085))
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)

	got, err := repo.GetBookingByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Equal(t, int64(1), got.Version)

	_, err = repo.GetBookingByID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryRepositoryRejectsInvalidWrites(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()
	created, err := repo.CreateBooking(ctx, newPending(-0.1257, 51.5085))
	require.NoError(t, err)

	_, err = repo.UpdateBooking(ctx, created.ID, func(b domain.Booking) (domain.Booking, error) {
		b.Status = domain.StatusAccepted
		return b, nil
	})
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	got, err := repo.GetBookingByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Equal(t, int64(1), got.Version)

	_, err = repo.UpdateBooking(ctx, "missing", func(b domain.Booking) (domain.Booking, error) { return b, nil })
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryRepositoryConcurrentAcceptHasOneWinner(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()
	created, err := repo.CreateBooking(ctx, newPending(-0.1257, 51.5085))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := repo.UpdateBooking(ctx, created.ID, func(b domain.Booking) (domain.Booking, error) {
				return b.Accept("driver", nil, time.Now())
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	got, err := repo.GetBookingByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAccepted, got.Status)
	require.Equal(t, int64(2), got.Version)
}

func TestMemoryRepositoryNearbyBookings(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()

	far, err := repo.CreateBooking(ctx, newPending(-0.1426, 51.5010))
	require.NoError(t, err)
	near, err := repo.CreateBooking(ctx, newPending(-0.1258, 51.5086))
	require.NoError(t, err)
	_, err = repo.CreateBooking(ctx, newPending(2.3522, 48.8566))
	require.NoError(t, err)

	accepted, err := repo.CreateBooking(ctx, newPending(-0.1257, 51.5085))
	require.NoError(t, err)
	_, err = repo.UpdateBooking(ctx, accepted.ID, func(b domain.Booking) (domain.Booking, error) {
		return b.Accept("driver", nil, time.Now())
	})
	require.NoError(t, err)

	origin := domain.GeoPoint{Longitude: -0.1257, Latitude: 51.5085}
	hits, err := repo.NearbyBookings(ctx, domain.StatusPending, origin, 5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, near.ID, hits[0].ID)
	require.Equal(t, far.ID, hits[1].ID)

	hits, err = repo.NearbyBookings(ctx, domain.StatusPending, origin, 5, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestMemoryIdempotencyRepoKeepsFirstResponse(t *testing.T) {
	repo := repository.NewMemoryIdempotencyRepo()
	ctx := context.Background()

	_, ok, err := repo.GetResponse(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, repo.PutResponse(ctx, "k", []byte("first")))
	require.NoError(t, repo.PutResponse(ctx, "k", []byte("second")))

	payload, ok, err := repo.GetResponse(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("first"), payload)
}

func TestMemoryIdempotencyClaim(t *testing.T) {
	repo := repository.NewMemoryIdempotencyRepo()
	ctx := context.Background()

	won, err := repo.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, won)

	won, err = repo.Claim(ctx, "k")
	require.NoError(t, err)
	require.False(t, won, "claim is exclusive while held")

	require.NoError(t, repo.Release(ctx, "k"))
	won, err = repo.Claim(ctx, "k")
	require.NoError(t, err)
	require.True(t, won, "released key can be claimed again")

	require.NoError(t, repo.PutResponse(ctx, "k", []byte("done")))
	won, err = repo.Claim(ctx, "k")
	require.NoError(t, err)
	require.False(t, won, "answered key is never claimable")
}
