package vmrequest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"vm-request-platform/api/internal/es"
	"vm-request-platform/shared/logx"
	"vm-request-platform/shared/metricsx"
	"vm-request-platform/shared/tenantx"
)

// Projector receives the post-command aggregate snapshot for the read
// model. Calls happen after the append committed and are best effort:
// the event log is the source of truth and a projector failure never
// rolls it back.
type Projector interface {
	Upsert(ctx context.Context, agg Aggregate) error
}

// Result is returned by every successful command.
type Result struct {
	RequestID uuid.UUID `json:"request_id"`
	Version   int64     `json:"version"`
}

type Service struct {
	store     es.Store
	registry  *es.Registry
	projector Projector
	logger    logx.Logger
}

// NewService wires a command service. projector may be nil when no read
// model is attached (tests, replay tooling).
func NewService(store es.Store, projector Projector, logger logx.Logger) *Service {
	return &Service{
		store:     store,
		registry:  Registry(),
		projector: projector,
		logger:    logger,
	}
}

type CreateCommand struct {
	RequestID     uuid.UUID
	RequesterID   string
	Spec          VMSpec
	Reason        string
	CorrelationID string
}

type ApproveCommand struct {
	RequestID       uuid.UUID
	AdminID         string
	Comment         *string
	ExpectedVersion *int64
	CorrelationID   string
}

type RejectCommand struct {
	RequestID       uuid.UUID
	AdminID         string
	Reason          string
	ExpectedVersion *int64
	CorrelationID   string
}

type CancelCommand struct {
	RequestID     uuid.UUID
	CancelledBy   string
	CorrelationID string
}

type StartProvisioningCommand struct {
	RequestID     uuid.UUID
	WorkerID      string
	CorrelationID string
}

type CompleteProvisioningCommand struct {
	RequestID     uuid.UUID
	VMID          uuid.UUID
	Hostname      string
	IPAddress     string
	CorrelationID string
}

type FailProvisioningCommand struct {
	RequestID     uuid.UUID
	ErrorMessage  string
	CorrelationID string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (Result, error) {
	if cmd.RequestID == uuid.Nil {
		cmd.RequestID = uuid.New()
	}
	decided, err := NewRequest(cmd.RequesterID, cmd.Spec, cmd.Reason)
	if err != nil {
		return Result{}, err
	}
	agg := Aggregate{ID: cmd.RequestID}
	return s.commit(ctx, agg, decided, cmd.RequesterID, cmd.CorrelationID)
}

func (s *Service) Approve(ctx context.Context, cmd ApproveCommand) (Result, error) {
	agg, err := s.loadAggregate(ctx, cmd.RequestID)
	if err != nil {
		return Result{}, err
	}
	if err := checkExpectedVersion(agg, cmd.ExpectedVersion); err != nil {
		return Result{}, err
	}
	decided, err := agg.Approve(cmd.AdminID, cmd.Comment)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, agg, decided, cmd.AdminID, cmd.CorrelationID)
}

func (s *Service) Reject(ctx context.Context, cmd RejectCommand) (Result, error) {
	agg, err := s.loadAggregate(ctx, cmd.RequestID)
	if err != nil {
		return Result{}, err
	}
	if err := checkExpectedVersion(agg, cmd.ExpectedVersion); err != nil {
		return Result{}, err
	}
	decided, err := agg.Reject(cmd.AdminID, cmd.Reason)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, agg, decided, cmd.AdminID, cmd.CorrelationID)
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (Result, error) {
	agg, err := s.loadAggregate(ctx, cmd.RequestID)
	if err != nil {
		return Result{}, err
	}
	decided, err := agg.Cancel(cmd.CancelledBy)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, agg, decided, cmd.CancelledBy, cmd.CorrelationID)
}

func (s *Service) StartProvisioning(ctx context.Context, cmd StartProvisioningCommand) (Result, error) {
	agg, err := s.loadAggregate(ctx, cmd.RequestID)
	if err != nil {
		return Result{}, err
	}
	decided, err := agg.StartProvisioning(cmd.WorkerID)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, agg, decided, cmd.WorkerID, cmd.CorrelationID)
}

func (s *Service) CompleteProvisioning(ctx context.Context, cmd CompleteProvisioningCommand) (Result, error) {
	agg, err := s.loadAggregate(ctx, cmd.RequestID)
	if err != nil {
		return Result{}, err
	}
	decided, err := agg.CompleteProvisioning(cmd.VMID, cmd.Hostname, cmd.IPAddress)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, agg, decided, "", cmd.CorrelationID)
}

func (s *Service) FailProvisioning(ctx context.Context, cmd FailProvisioningCommand) (Result, error) {
	agg, err := s.loadAggregate(ctx, cmd.RequestID)
	if err != nil {
		return Result{}, err
	}
	decided, err := agg.FailProvisioning(cmd.ErrorMessage)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, agg, decided, "", cmd.CorrelationID)
}

// Load rebuilds the aggregate for read-side callers that need current
// state without a projection, such as the provisioning worker.
func (s *Service) Load(ctx context.Context, requestID uuid.UUID) (Aggregate, error) {
	return s.loadAggregate(ctx, requestID)
}

func (s *Service) loadAggregate(ctx context.Context, requestID uuid.UUID) (Aggregate, error) {
	stream, err := s.store.Load(ctx, AggregateType, requestID)
	if err != nil {
		return Aggregate{}, err
	}
	if len(stream) == 0 {
		return Aggregate{}, &NotFoundError{RequestID: requestID}
	}

	agg := Aggregate{ID: requestID}
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

func checkExpectedVersion(agg Aggregate, expected *int64) error {
	if expected == nil || *expected == agg.Version {
		return nil
	}
	return &es.ConflictError{
		AggregateID:     agg.ID,
		ExpectedVersion: *expected,
		ActualVersion:   agg.Version,
	}
}

// commit appends the decided events and then updates the read model. With
// zero events the command was an idempotent no-op: nothing is appended and
// the projection is left alone.
func (s *Service) commit(ctx context.Context, agg Aggregate, decided []Event, actor string, correlationID string) (Result, error) {
	if len(decided) == 0 {
		return Result{RequestID: agg.ID, Version: agg.Version}, nil
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
			metricsx.IncProjectionUpdateFailure("vm_requests")
			s.logger.Error(ctx, "projection_upsert_failed", "read model update failed after committed append",
				logx.Err(perr))
		}
	}
	return Result{RequestID: agg.ID, Version: version}, nil
}

// IsNotFound reports whether err is the command-level not-found error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
