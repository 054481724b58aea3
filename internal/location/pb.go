package location

import (
	"context"

	"google.golang.org/grpc"
)

// DriverLocation is one streamed position update.
type DriverLocation struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Speed    float64 `json:"speed"`
	Accuracy float64 `json:"accuracy"`
	Ts       int64   `json:"ts"`
}

// Ack is returned once the client closes its side of the stream.
type Ack struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

const (
	serviceName      = "location.Location"
	streamMethodName = "StreamLocation"
	streamFullMethod = "/" + serviceName + "/" + streamMethodName
)

// LocationServer defines the gRPC contract.
type LocationServer interface {
	StreamLocation(Location_StreamLocationServer) error
}

var streamDesc = grpc.StreamDesc{
	StreamName:    streamMethodName,
	Handler:       _Location_StreamLocation_Handler,
	ClientStreams: true,
}

// RegisterLocationServer registers service implementation.
func RegisterLocationServer(s *grpc.Server, srv LocationServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*LocationServer)(nil),
		Streams:     []grpc.StreamDesc{streamDesc},
	}, srv)
}

// Location_StreamLocationServer is the server side of the client stream.
type Location_StreamLocationServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*DriverLocation, error)
}

func _Location_StreamLocation_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(LocationServer).StreamLocation(&locationStreamServer{ServerStream: stream})
}

type locationStreamServer struct {
	grpc.ServerStream
}

func (s *locationStreamServer) SendAndClose(ack *Ack) error {
	return s.ServerStream.SendMsg(ack)
}

func (s *locationStreamServer) Recv() (*DriverLocation, error) {
	msg := new(DriverLocation)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Location_StreamLocationClient is the client side of the stream.
type Location_StreamLocationClient interface {
	Send(*DriverLocation) error
	CloseAndRecv() (*Ack, error)
	grpc.ClientStream
}

// LocationClient opens location streams.
type LocationClient interface {
	StreamLocation(ctx context.Context, opts ...grpc.CallOption) (Location_StreamLocationClient, error)
}

type locationClient struct {
	cc grpc.ClientConnInterface
}

func NewLocationClient(cc grpc.ClientConnInterface) LocationClient {
	return &locationClient{cc: cc}
}

// StreamLocation always negotiates the JSON codec.
func (c *locationClient) StreamLocation(ctx context.Context, opts ...grpc.CallOption) (Location_StreamLocationClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &streamDesc, streamFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &locationStreamClient{ClientStream: stream}, nil
}

type locationStreamClient struct {
	grpc.ClientStream
}

func (x *locationStreamClient) Send(m *DriverLocation) error {
	return x.ClientStream.SendMsg(m)
}

func (x *locationStreamClient) CloseAndRecv() (*Ack, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	ack := new(Ack)
	if err := x.ClientStream.RecvMsg(ack); err != nil {
		return nil, err
	}
	return ack, nil
}
