package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/example/shego/internal/booking/domain"
	"github.com/example/shego/internal/booking/repository"
)

func startMongo(t *testing.T, ctx context.Context) *repository.MongoRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("mongo integration test skipped in short mode")
	}
	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})
	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := repository.NewMongoClient(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	repo := repository.NewMongoRepository(client.Database("shego"))
	require.NoError(t, repo.EnsureIndexes(ctx))
	return repo
}

func TestMongoRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := startMongo(t, ctx)

	created, err := repo.CreateBooking(ctx, newPending(-0.1257, 51.5085))
	require.NoError(t, err)
	require.Len(t, created.ID, 24)

	got, err := repo.GetBookingByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Equal(t, created.Pickup, got.Pickup)
	require.True(t, created.RequestedAt.Equal(got.RequestedAt))

	fine := newPending(-0.1257, 51.5085)
	fine.RequestedAt = time.Date(2024, 5, 1, 12, 0, 0, 123_456_789, time.UTC)
	precise, err := repo.CreateBooking(ctx, fine)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 123_000_000, time.UTC), precise.RequestedAt)
	reread, err := repo.GetBookingByID(ctx, precise.ID)
	require.NoError(t, err)
	require.True(t, precise.RequestedAt.Equal(reread.RequestedAt))
	require.True(t, precise.UpdatedAt.Equal(reread.UpdatedAt))

	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err = repo.UpdateBooking(ctx, created.ID, func(b domain.Booking) (domain.Booking, error) {
		return b.Accept("d1", &domain.DriverInfo{Name: "Asha"}, now)
	})
	require.NoError(t, err)
	_, err = repo.UpdateBooking(ctx, created.ID, func(b domain.Booking) (domain.Booking, error) {
		return b.Start(now)
	})
	require.NoError(t, err)

	got, err = repo.GetBookingByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusOngoing, got.Status)
	require.Equal(t, "d1", got.DriverID)
	require.Equal(t, "Asha", got.Driver.Name)
	require.NotNil(t, got.StartedAt)
	require.Equal(t, int64(3), got.Version)

	_, err = repo.UpdateBooking(ctx, created.ID, func(b domain.Booking) (domain.Booking, error) {
		return b.Cancel(now)
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.GetBookingByID(ctx, "not-an-object-id")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetBookingByID(ctx, "64b7f0c2e4b0a1a2b3c4d5e6")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMongoRepositoryNearbyPending(t *testing.T) {
	ctx := context.Background()
	repo := startMongo(t, ctx)

	far, err := repo.CreateBooking(ctx, newPending(-0.1426, 51.5010))
	require.NoError(t, err)
	near, err := repo.CreateBooking(ctx, newPending(-0.1258, 51.5086))
	require.NoError(t, err)
	_, err = repo.CreateBooking(ctx, newPending(2.3522, 48.8566))
	require.NoError(t, err)

	hits, err := repo.NearbyBookings(ctx, domain.StatusPending, domain.GeoPoint{Longitude: -0.1257, Latitude: 51.5085}, 5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, near.ID, hits[0].ID)
	require.Equal(t, far.ID, hits[1].ID)
}
