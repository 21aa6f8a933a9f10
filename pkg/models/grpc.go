package models

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/tidwall/gjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/usagecast/pkg/series"
)

// PredictorServiceName is the gRPC service exposing a Predictor. Both methods exchange
// google.protobuf.Struct messages carrying the documents described in codec.go.
const PredictorServiceName = "usagecast.forecast.v1.Predictor"

const (
	describeMethod = "/" + PredictorServiceName + "/Describe"
	predictMethod  = "/" + PredictorServiceName + "/Predict"
)

// GRPCPredictor calls a remote Predictor over gRPC.
type GRPCPredictor struct {
	conn *grpc.ClientConn
}

// DialGRPCPredictor connects to target and verifies through the gRPC health service that
// the predictor is serving. A nil tlsCfg uses plaintext.
func DialGRPCPredictor(ctx context.Context, target string, tlsCfg *tls.Config, opts ...grpc.DialOption) (*GRPCPredictor, error) {
	creds := insecure.NewCredentials()
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg)
	}

	conn, err := grpc.NewClient(target, append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("grpc predictor: connect %s: %w", target, err)
	}

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: PredictorServiceName})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("grpc predictor: health check: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		conn.Close()
		return nil, fmt.Errorf("grpc predictor: service status %s", resp.GetStatus())
	}

	return &GRPCPredictor{conn: conn}, nil
}

func (g *GRPCPredictor) Name() string { return "grpc" }

// Describe implements Predictor.
func (g *GRPCPredictor) Describe(ctx context.Context) (Description, error) {
	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, describeMethod, &structpb.Struct{}, out); err != nil {
		return Description{}, fmt.Errorf("grpc predictor: describe: %w", err)
	}

	doc, err := structDoc(out)
	if err != nil {
		return Description{}, err
	}
	d, err := decodeDescription(doc)
	if err != nil {
		return Description{}, fmt.Errorf("grpc predictor: decode description: %w", err)
	}
	return d, nil
}

// Predict implements Predictor.
func (g *GRPCPredictor) Predict(ctx context.Context, history []series.Record, model string) (QuantileFrame, error) {
	in, err := structpb.NewStruct(encodeHistory(model, history))
	if err != nil {
		return QuantileFrame{}, fmt.Errorf("grpc predictor: encode request: %w", err)
	}

	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, predictMethod, in, out); err != nil {
		return QuantileFrame{}, fmt.Errorf("grpc predictor: predict: %w", err)
	}

	doc, err := structDoc(out)
	if err != nil {
		return QuantileFrame{}, err
	}
	frame, err := decodeFrame(doc)
	if err != nil {
		return QuantileFrame{}, fmt.Errorf("grpc predictor: decode response: %w", err)
	}
	return frame, nil
}

// Close releases the connection.
func (g *GRPCPredictor) Close() error {
	return g.conn.Close()
}

func structDoc(s *structpb.Struct) (gjson.Result, error) {
	b, err := protojson.Marshal(s)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("grpc predictor: marshal struct: %w", err)
	}
	return gjson.ParseBytes(b), nil
}

// predictorService is the handler type of the service descriptor.
type predictorService interface {
	describe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type predictorServer struct {
	p Predictor
}

// RegisterPredictorServer exposes p on s under PredictorServiceName.
func RegisterPredictorServer(s grpc.ServiceRegistrar, p Predictor) {
	s.RegisterService(&predictorServiceDesc, &predictorServer{p: p})
}

func (s *predictorServer) describe(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	d, err := s.p.Describe(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "describe: %v", err)
	}
	out, err := structpb.NewStruct(encodeDescription(d))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode description: %v", err)
	}
	return out, nil
}

func (s *predictorServer) predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	model, history, err := decodeHistory(gjson.ParseBytes(b))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	frame, err := s.p.Predict(ctx, history, model)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "predict: %v", err)
	}

	doc, err := encodeFrame(frame)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode frame: %v", err)
	}
	out, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode frame: %v", err)
	}
	return out, nil
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(predictorService).describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: describeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(predictorService).describe(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(predictorService).predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(predictorService).predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var predictorServiceDesc = grpc.ServiceDesc{
	ServiceName: PredictorServiceName,
	HandlerType: (*predictorService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Describe", Handler: describeHandler},
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "usagecast/forecast/v1/predictor.proto",
}
