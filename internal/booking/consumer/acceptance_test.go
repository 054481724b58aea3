package consumer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/example/shego/internal/booking/consumer"
	"github.com/example/shego/internal/booking/domain"
	"github.com/example/shego/internal/booking/repository"
	"github.com/example/shego/internal/booking/service"
)

type fakeReader struct {
	msgs   chan kafka.Message
	closed bool
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg, ok := <-f.msgs:
		if !ok {
			return kafka.Message{}, errors.New("reader drained")
		}
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestAcceptanceConsumerAppliesMessages(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := service.New(repo, nil, nil, nil, nil, nil)
	ctx := context.Background()

	resp, err := svc.CreateBooking(ctx, "", service.CreateBookingRequest{
		PassengerID:   "p1",
		Pickup:        domain.GeoPoint{Longitude: -0.1257, Latitude: 51.5085, Address: "a"},
		Dropoff:       domain.GeoPoint{Longitude: -0.1426, Latitude: 51.5010, Address: "b"},
		Fare:          10,
		PaymentMethod: domain.PaymentPayPal,
	})
	require.NoError(t, err)

	reader := &fakeReader{msgs: make(chan kafka.Message, 4)}
	reader.msgs <- kafka.Message{Offset: 1, Value: []byte(`not json`)}
	reader.msgs <- kafka.Message{Offset: 2, Value: []byte(`{"bookingId":"` + resp.BookingID + `","driverId":"d1","driver":{"name":"Asha","vehicle":"Prius","plate":"X1","phone":"1"}}`)}
	reader.msgs <- kafka.Message{Offset: 3, Value: []byte(`{"bookingId":"` + resp.BookingID + `","driverId":"d2"}`)}
	close(reader.msgs)

	c := consumer.NewAcceptanceConsumer(reader, svc, nil)
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = c.Run(runCtx)
	require.ErrorContains(t, err, "reader drained")
	require.True(t, reader.closed)

	view, err := svc.GetStatus(ctx, resp.BookingID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAccepted, view.Status)
	require.Equal(t, "Asha", view.Driver.Name)

	stored, err := repo.GetBookingByID(ctx, resp.BookingID)
	require.NoError(t, err)
	require.Equal(t, "d1", stored.DriverID)
}

func TestAcceptanceConsumerStopsOnCancel(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message)}
	c := consumer.NewAcceptanceConsumer(reader, service.New(repository.NewMemoryRepository(), nil, nil, nil, nil, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Run(ctx), context.Canceled)
}
