// Package grpcapi exposes the roll service as lootroll.v1.RollService. The
// service is declared with well-known types so no generated code is needed:
// the request is a StringValue holding the request id and the response is
// the roll response as a Struct.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/xtding233/loot-roller/internal/roll"
)

const (
	ServiceName = "lootroll.v1.RollService"
	RollMethod  = "/" + ServiceName + "/Roll"

	// PlayerKey is the metadata key carrying the actor identity.
	PlayerKey = "x-player-id"
)

// Roller resolves one roll request.
type Roller interface {
	Roll(ctx context.Context, playerID, requestID string) (*roll.Response, bool)
}

type rollServer interface {
	Roll(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*rollServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Roll", Handler: rollHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lootroll/v1/roll.proto",
}

func rollHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(rollServer).Roll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RollMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(rollServer).Roll(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// service adapts a Roller to rollServer.
type service struct {
	roller Roller
	log    zerolog.Logger
}

// Roll answers with the roll response, or an empty Aborted status when the
// request was dropped: a rejected request never carries a payload.
func (s *service) Roll(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	var playerID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(PlayerKey); len(v) > 0 {
			playerID = v[0]
		}
	}
	resp, ok := s.roller.Roll(ctx, playerID, in.GetValue())
	if !ok {
		return nil, status.Error(codes.Aborted, "")
	}
	out, err := toStruct(resp)
	if err != nil {
		s.log.Error().Err(err).Str("request_id", in.GetValue()).Msg("encode roll response")
		return nil, status.Error(codes.Aborted, "")
	}
	return out, nil
}

func toStruct(resp *roll.Response) (*structpb.Struct, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Server serves the roll service and the standard health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

func NewServer(r Roller, log zerolog.Logger) *Server {
	log = log.With().Str("component", "grpc").Logger()
	gs := grpc.NewServer()
	hs := health.NewServer()
	gs.RegisterService(&serviceDesc, &service{roller: r, log: log})
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return &Server{grpc: gs, health: hs, log: log}
}

// Serve runs until ctx ends, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc listening")
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.grpc.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Roll calls the roll service over conn as playerID.
func Roll(ctx context.Context, conn grpc.ClientConnInterface, playerID, requestID string) (*structpb.Struct, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, PlayerKey, playerID)
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, RollMethod, wrapperspb.String(requestID), out); err != nil {
		return nil, err
	}
	return out, nil
}
