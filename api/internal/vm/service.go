package vm

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vm-request-platform/api/internal/es"
	"vm-request-platform/shared/logx"
	"vm-request-platform/shared/metricsx"
	"vm-request-platform/shared/tenantx"
)

type Projector interface {
	Upsert(ctx context.Context, agg Aggregate) error
}

type Result struct {
	VMID    uuid.UUID `json:"vm_id"`
	Version int64     `json:"version"`
}

type Service struct {
	store     es.Store
	registry  *es.Registry
	projector Projector
	logger    logx.Logger
}

func NewService(store es.Store, projector Projector, logger logx.Logger) *Service {
	return &Service{
		store:     store,
		registry:  Registry(),
		projector: projector,
		logger:    logger,
	}
}

type RegisterCommand struct {
	VMID          uuid.UUID
	RequestID     uuid.UUID
	Hostname      string
	IPAddress     string
	CorrelationID string
}

type StartCommand struct {
	VMID          uuid.UUID
	StartedBy     string
	CorrelationID string
}

type StopCommand struct {
	VMID          uuid.UUID
	StoppedBy     string
	CorrelationID string
}

type DeleteCommand struct {
	VMID          uuid.UUID
	DeletedBy     string
	CorrelationID string
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (Result, error) {
	if cmd.VMID == uuid.Nil {
		cmd.VMID = uuid.New()
	}
	decided, err := NewRegistration(cmd.RequestID, cmd.Hostname, cmd.IPAddress)
	if err != nil {
		return Result{}, err
	}
	agg := Aggregate{ID: cmd.VMID}
	return s.commit(ctx, agg, decided, "", cmd.CorrelationID)
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) (Result, error) {
	agg, err := s.loadAggregate(ctx, cmd.VMID)
	if err != nil {
		return Result{}, err
	}
	decided, err := agg.Start(cmd.StartedBy)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, agg, decided, cmd.StartedBy, cmd.CorrelationID)
}

func (s *Service) Stop(ctx context.Context, cmd StopCommand) (Result, error) {
	agg, err := s.loadAggregate(ctx, cmd.VMID)
	if err != nil {
		return Result{}, err
	}
	decided, err := agg.Stop(cmd.StoppedBy)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, agg, decided, cmd.StoppedBy, cmd.CorrelationID)
}

func (s *Service) Delete(ctx context.Context, cmd DeleteCommand) (Result, error) {
	agg, err := s.loadAggregate(ctx, cmd.VMID)
	if err != nil {
		return Result{}, err
	}
	decided, err := agg.Delete(cmd.DeletedBy)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, agg, decided, cmd.DeletedBy, cmd.CorrelationID)
}

func (s *Service) Load(ctx context.Context, vmID uuid.UUID) (Aggregate, error) {
	return s.loadAggregate(ctx, vmID)
}

func (s *Service) loadAggregate(ctx context.Context, vmID uuid.UUID) (Aggregate, error) {
	stream, err := s.store.Load(ctx, AggregateType, vmID)
	if err != nil {
		return Aggregate{}, err
	}
	if len(stream) == 0 {
		return Aggregate{}, &NotFoundError{VMID: vmID}
	}

	agg := Aggregate{ID: vmID}
	for _, stored := range stream {
		decoded, err := s.registry.Decode(stored)
		if err != nil {
			return Aggregate{}, err
		}
		ev, ok := decoded.(Event)
		if !ok {
			return Aggregate{}, &es.UnknownEventTypeError{Registry: AggregateType, EventType: stored.EventType}
		}
		agg.Apply(ev)
	}
	return agg, nil
}

func (s *Service) commit(ctx context.Context, agg Aggregate, decided []Event, actor string, correlationID string) (Result, error) {
	if len(decided) == 0 {
		return Result{VMID: agg.ID, Version: agg.Version}, nil
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	meta := es.Metadata{
		TenantID:      tenantx.IDFromContext(ctx),
		UserID:        actor,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}

	newEvents := make([]es.NewEvent, 0, len(decided))
	for _, ev := range decided {
		payload, err := es.Encode(ev)
		if err != nil {
			return Result{}, &es.StorageError{Op: "encode " + ev.EventType(), Err: err}
		}
		newEvents = append(newEvents, es.NewEvent{
			EventType: ev.EventType(),
			Payload:   payload,
			Metadata:  meta,
		})
	}

	version, err := s.store.Append(ctx, AggregateType, agg.ID, newEvents, agg.Version)
	if err != nil {
		return Result{}, err
	}

	for _, ev := range decided {
		agg.Apply(ev)
	}
	if s.projector != nil {
		if perr := s.projector.Upsert(ctx, agg); perr != nil {
			metricsx.IncProjectionUpdateFailure("vms")
			s.logger.Error(ctx, "projection_upsert_failed", "read model update failed after committed append",
				logx.Err(perr))
		}
	}
	return Result{VMID: agg.ID, Version: version}, nil
}
