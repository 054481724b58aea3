package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/example/shego/internal/booking/domain"
)

// DefaultTopic carries driver acceptances produced by the driver side.
const DefaultTopic = "booking.accepted"

// NewKafkaReader builds a consumer-group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	if topic == "" {
		topic = DefaultTopic
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Acceptor applies an acceptance to a booking.
type Acceptor interface {
	AcceptBooking(ctx context.Context, id, driverID string, driver *domain.DriverInfo) (domain.Booking, error)
}

type acceptanceMessage struct {
	BookingID string             `json:"bookingId"`
	DriverID  string             `json:"driverId"`
	Driver    *domain.DriverInfo `json:"driver,omitempty"`
}

// AcceptanceConsumer turns booking.accepted messages into AcceptBooking calls.
type AcceptanceConsumer struct {
	reader   MessageReader
	acceptor Acceptor
	logger   *zap.Logger
}

func NewAcceptanceConsumer(reader MessageReader, acceptor Acceptor, logger *zap.Logger) *AcceptanceConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcceptanceConsumer{reader: reader, acceptor: acceptor, logger: logger.Named("kafka")}
}

// Run consumes until ctx is cancelled. Malformed messages and rejected
// transitions are logged and skipped; reader failures end the loop.
func (c *AcceptanceConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read acceptance: %w", err)
		}
		c.handle(ctx, msg)
	}
}

func (c *AcceptanceConsumer) handle(ctx context.Context, msg kafka.Message) {
	var payload acceptanceMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.BookingID == "" {
		c.logger.Warn("skipping malformed acceptance", zap.Int64("offset", msg.Offset), zap.ByteString("value", msg.Value))
		return
	}
	_, err := c.acceptor.AcceptBooking(ctx, payload.BookingID, payload.DriverID, payload.Driver)
	switch {
	case err == nil:
		c.logger.Info("booking accepted", zap.String("booking_id", payload.BookingID), zap.String("driver_id", payload.DriverID))
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
		c.logger.Info("acceptance ignored", zap.String("booking_id", payload.BookingID), zap.Error(err))
	default:
		c.logger.Warn("acceptance failed", zap.String("booking_id", payload.BookingID), zap.Error(err))
	}
}
