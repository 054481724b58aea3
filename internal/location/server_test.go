package location_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/shego/internal/location"
)

func dialBufconn(t *testing.T, observer *location.StreamObserver) location.LocationClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	location.RegisterLocationServer(srv, location.NewServer(observer, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return location.NewLocationClient(conn)
}

func TestStreamLocationUpdatesObserver(t *testing.T) {
	observer := location.NewStreamObserver(0)
	client := dialBufconn(t, observer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamLocation(ctx)
	require.NoError(t, err)

	require.NoError(t, stream.Send(&location.DriverLocation{DriverID: "d1", Lng: -0.1257, Lat: 51.5085, Speed: 8}))
	require.NoError(t, stream.Send(&location.DriverLocation{DriverID: "d1", Lng: -0.1260, Lat: 51.5090, Speed: 9}))
	require.NoError(t, stream.Send(&location.DriverLocation{DriverID: "", Lng: 0, Lat: 0}))
	require.NoError(t, stream.Send(&location.DriverLocation{DriverID: "d2", Lng: 200, Lat: 0}))

	ack, err := stream.CloseAndRecv()
	require.NoError(t, err)
	require.Equal(t, 2, ack.Accepted)
	require.Equal(t, 2, ack.Rejected)

	snap, ok := observer.Snapshot("d1")
	require.True(t, ok)
	require.InDelta(t, 51.5090, snap.Point.Latitude, 1e-9)
	require.Equal(t, 9.0, snap.Speed)

	_, ok = observer.Snapshot("d2")
	require.False(t, ok)
	require.Len(t, observer.All(), 1)
}
