package location

import (
	"errors"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/example/shego/internal/booking/domain"
)

var locationUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "driver_location_updates_total",
	Help: "Streamed driver location updates grouped by outcome.",
}, []string{"result"})

// Server implements the LocationServer interface.
type Server struct {
	observer *StreamObserver
	logger   *zap.Logger
}

// NewServer constructs a server.
func NewServer(observer *StreamObserver, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{observer: observer, logger: logger.Named("location")}
}

// StreamLocation ingests driver locations until the client closes the stream.
// Updates without a driver id or with out-of-range coordinates are dropped.
func (s *Server) StreamLocation(stream Location_StreamLocationServer) error {
	var ack Ack
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return stream.SendAndClose(&ack)
		}
		if err != nil {
			return err
		}
		point := domain.GeoPoint{Longitude: msg.Lng, Latitude: msg.Lat}
		if msg.DriverID == "" || point.CheckCoordinates() != nil {
			ack.Rejected++
			locationUpdates.WithLabelValues("rejected").Inc()
			s.logger.Debug("dropping location update", zap.String("driver_id", msg.DriverID))
			continue
		}
		s.observer.Update(msg.DriverID, point, msg.Speed, msg.Accuracy)
		ack.Accepted++
		locationUpdates.WithLabelValues("accepted").Inc()
	}
}
