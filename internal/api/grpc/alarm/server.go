package alarm

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/service/lifecycle"
	"github.com/oshokin/alarm-sink/internal/wire"
)

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	Handle(ctx context.Context, event *domain.Event) (*lifecycle.Result, error)
	Purge(ctx context.Context, filter *domain.Filter) ([]domain.Key, error)
	List(filter *domain.Filter) []*domain.Alarm
	NumberOfAlarms() int
}

// Server implements the AlarmService gRPC API.
type Server struct {
	// service provides the business logic for alarm operations.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// CreateAlarm handles create-alarm.
func (s *Server) CreateAlarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(ctx, domain.KindCreate, req)
}

// UpdateAlarm handles update-alarm, including the cleared marker.
func (s *Server) UpdateAlarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(ctx, domain.KindUpdate, req)
}

// ClearAlarm handles clear-alarm.
func (s *Server) ClearAlarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.handle(ctx, domain.KindClear, req)
}

// PurgeAlarms removes the alarms matching the filter in the request.
func (s *Server) PurgeAlarms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter, _, err := wire.FilterFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	keys, err := s.service.Purge(ctx, filter)
	if err != nil {
		return nil, toStatus(err)
	}

	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			wire.FieldPurged:         structpb.NewNumberValue(float64(len(keys))),
			wire.FieldNumberOfAlarms: structpb.NewNumberValue(float64(s.service.NumberOfAlarms())),
		},
	}, nil
}

// ShowAlarms returns numberOfAlarms and the alarms matching the filter in the request.
func (s *Server) ShowAlarms(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter, withHistory, err := wire.FilterFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return wire.InventoryToStruct(s.service.NumberOfAlarms(), s.service.List(filter), withHistory), nil
}

func (s *Server) handle(ctx context.Context, kind domain.Kind, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	event, err := wire.EventFromStruct(kind, req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.service.Handle(ctx, event)
	if err != nil {
		return nil, toStatus(err)
	}

	return wire.SummaryToStruct(result.Outcome, &result.Summary), nil
}

// toStatus maps engine errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrMalformedKey),
		errors.Is(err, domain.ErrInvalidSeverity),
		errors.Is(err, domain.ErrClearedSeverity),
		errors.Is(err, domain.ErrUnknownKind):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, lifecycle.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "unable to persist alarm")
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
