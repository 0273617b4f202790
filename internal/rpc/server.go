// Package rpc exposes the Q-table service over gRPC. Messages are
// google.protobuf.Struct values carrying the JSON request and response bodies.
package rpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/klog/v2"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/service"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/translog"
)

// #region service-desc

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "qtable.v1.QTableService"

// QTableServer is the server API for the Q-table service.
type QTableServer interface {
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Rows(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Choose(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFunc func(QTableServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(QTableServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(QTableServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the Q-table service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QTableServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Health", QTableServer.Health),
		unary("Rows", QTableServer.Rows),
		unary("Choose", QTableServer.Choose),
		unary("Update", QTableServer.Update),
		unary("Reset", QTableServer.Reset),
		unary("History", QTableServer.History),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qtable/v1/qtable.proto",
}

// #endregion service-desc

// #region server

// Server adapts a service.Service to QTableServer.
type Server struct {
	svc *service.Service
}

// NewServer returns a Server backed by svc.
func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc}
}

// NewGRPCServer builds a grpc.Server with the Q-table service registered.
func NewGRPCServer(svc *service.Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logUnary)}, opts...)
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&ServiceDesc, NewServer(svc))
	return gs
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	klog.V(4).InfoS("rpc", "method", info.FullMethod, "code", status.Code(err), "elapsed", time.Since(start))
	return resp, err
}

func (s *Server) Health(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(HealthResponse{OK: s.svc.Healthy()})
}

func (s *Server) Rows(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, err := userOf(in.AsMap())
	if err != nil {
		return nil, err
	}
	rows := s.svc.Rows(user)
	if rows == nil {
		rows = []qtable.Row{}
	}
	return toStruct(RowsResponse{Rows: rows})
}

func (s *Server) Choose(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, state, eps, err := parseChoose(in)
	if err != nil {
		return nil, err
	}
	ch, err := s.svc.Choose(user, state, eps)
	if err != nil {
		return nil, invalid("%v", err)
	}
	return toStruct(ChooseResponse{
		StateKey:     ch.StateKey,
		Action:       ch.Action,
		QValue:       ch.Value,
		ActionParams: ch.Params,
		Policy:       string(ch.Policy),
	})
}

func (s *Server) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, req, err := parseUpdate(in)
	if err != nil {
		return nil, err
	}
	out, err := s.svc.Update(user, service.Transition{
		State:     req.State,
		Action:    qtable.Action(req.Action),
		Reward:    req.Reward,
		NextState: req.NextState,
		Done:      req.Done,
	})
	if errors.Is(err, qtable.ErrNonFinite) {
		return nil, invalid("update: %v", err)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "update: %v", err)
	}
	return toStruct(UpdateResponse{
		OK:           true,
		StateKey:     out.StateKey,
		OldQ:         out.OldQ,
		NewQ:         out.NewQ,
		Visits:       out.Visits,
		TransitionID: out.TransitionID,
	})
}

func (s *Server) Reset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, err := userOf(in.AsMap())
	if err != nil {
		return nil, err
	}
	if _, err := s.svc.Reset(user); err != nil {
		return nil, status.Errorf(codes.Internal, "reset: %v", err)
	}
	return toStruct(ResetResponse{OK: true, User: user})
}

func (s *Server) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	user, limit, err := parseHistory(in)
	if err != nil {
		return nil, err
	}
	entries, err := s.svc.History(user, limit)
	if errors.Is(err, service.ErrNoTransitionLog) {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "history: %v", err)
	}
	if entries == nil {
		entries = []translog.Entry{}
	}
	return toStruct(HistoryResponse{Transitions: entries})
}

// #endregion server
