package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ThresholdProvider resolves the keepalive gap a network tolerates
// before its gateway is marked disconnected (spec.md §4.8's "Health"
// paragraph, backed by Network.PeerDisconnectThreshold).
type ThresholdProvider interface {
	NetworkDisconnectThreshold(networkID uint) (time.Duration, error)
}

// Server is the hand-authored grpc service implementing the single
// bidirectional-streaming Sync method spec.md §6 names. It carries
// plain Go structs over grpc's transport via the "json" codec
// (codec.go) instead of a protoc-generated message type, since the
// teacher's own gRPC usage in wireguard.go depends on a companion
// protobuf package (wireguardrpc/pb) this exercise cannot regenerate.
type Server struct {
	hub        *Hub
	thresholds ThresholdProvider
}

// NewServer constructs a Server over hub.
func NewServer(hub *Hub, thresholds ThresholdProvider) *Server {
	return &Server{hub: hub, thresholds: thresholds}
}

// ServiceName is what a gateway dials against, e.g. via
// grpc.ClientConn.NewStream(ctx, &StreamDesc, "/"+ServiceName+"/Sync").
const ServiceName = "defguard.gateway.v1.Gateway"

// ServiceDesc is the grpc.ServiceDesc a generated _grpc.pb.go file
// would otherwise provide. Metadata is a filename by grpc convention,
// kept even though no .proto file backs this service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*interface{})(nil), // RegisterService needs an interface type here
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Sync",
			Handler:       syncStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "gateway.proto",
}

// Register attaches the service to gs. Call before gs.Serve.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

func syncStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*Server).sync(stream)
}

func (s *Server) sync(stream grpc.ServerStream) error {
	var first InboundMessage
	if err := stream.RecvMsg(&first); err != nil {
		return err
	}
	if first.Hello == nil {
		return status.Error(codes.InvalidArgument, "first message on a Sync stream must be Hello")
	}

	conn, err := s.hub.Connect(first.Hello.NetworkID, first.Hello.Secret)
	if err != nil {
		return status.Error(codes.PermissionDenied, err.Error())
	}
	defer s.hub.Disconnect(conn)

	threshold, err := s.thresholds.NetworkDisconnectThreshold(first.Hello.NetworkID)
	if err != nil {
		return status.Errorf(codes.Internal, "resolve disconnect threshold: %v", err)
	}

	ctx := stream.Context()
	inbound := make(chan InboundMessage, 1)
	recvErr := make(chan error, 1)
	go func() {
		for {
			var msg InboundMessage
			if err := stream.RecvMsg(&msg); err != nil {
				recvErr <- err
				return
			}
			inbound <- msg
		}
	}()

	keepalive := time.NewTimer(threshold)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return status.Error(codes.Aborted, "gateway connection superseded or disconnected for backpressure")
		case <-keepalive.C:
			return status.Errorf(codes.DeadlineExceeded, "no keepalive within %s", threshold)
		case err := <-recvErr:
			return err
		case msg := <-inbound:
			if !keepalive.Stop() {
				<-keepalive.C
			}
			keepalive.Reset(threshold)
			if msg.Ack != nil {
				s.hub.Ack(conn, msg.Ack.Seq)
			}
		case evt, ok := <-conn.Send():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(OutboundMessage{Event: evt}); err != nil {
				return err
			}
		}
	}
}
