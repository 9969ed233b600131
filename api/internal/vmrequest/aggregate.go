package vmrequest

import (
	"github.com/google/uuid"
)

// Aggregate is the folded state of one VM request. It is rebuilt from the
// event stream on every command; decision methods are pure, returning the
// events to append without mutating the aggregate.
type Aggregate struct {
	ID          uuid.UUID
	RequesterID string
	Spec        VMSpec
	Reason      string
	Status      Status
	VMID        uuid.UUID
	Hostname    string
	IPAddress   string
	FailureMsg  string
	Version     int64
}

// Fold rebuilds an aggregate from its ordered event stream.
func Fold(id uuid.UUID, stream []Event) Aggregate {
	agg := Aggregate{ID: id}
	for _, ev := range stream {
		agg.Apply(ev)
	}
	return agg
}

func (a *Aggregate) Apply(ev Event) {
	switch e := ev.(type) {
	case Created:
		a.RequesterID = e.RequesterID
		a.Spec = e.Spec
		a.Reason = e.Reason
		a.Status = StatusPending
	case Approved:
		a.Status = StatusApproved
	case Rejected:
		a.Status = StatusRejected
	case Cancelled:
		a.Status = StatusCancelled
	case ProvisioningStarted:
		a.Status = StatusProvisioning
	case ProvisioningCompleted:
		a.Status = StatusReady
		a.VMID = e.VMID
		a.Hostname = e.Hostname
		a.IPAddress = e.IPAddress
	case ProvisioningFailed:
		a.Status = StatusFailed
		a.FailureMsg = e.ErrorMessage
	}
	a.Version++
}

// NewRequest is the creation decision: it applies only to an aggregate
// with no history.
func NewRequest(requesterID string, spec VMSpec, reason string) ([]Event, error) {
	return []Event{Created{RequesterID: requesterID, Spec: spec, Reason: reason}}, nil
}

// Approve enforces separation of duties: the approving admin must differ
// from the original requester.
func (a Aggregate) Approve(adminID string, comment *string) ([]Event, error) {
	if adminID == a.RequesterID {
		return nil, &ForbiddenError{Reason: "requester cannot approve their own request"}
	}
	if a.Status != StatusPending {
		return nil, &InvalidStateError{Current: a.Status}
	}
	return []Event{Approved{AdminID: adminID, Comment: comment}}, nil
}

func (a Aggregate) Reject(adminID string, reason string) ([]Event, error) {
	if a.Status != StatusPending {
		return nil, &InvalidStateError{Current: a.Status}
	}
	return []Event{Rejected{AdminID: adminID, Reason: reason}}, nil
}

// Cancel is idempotent: cancelling an already-cancelled request succeeds
// with no new events, so retried commands are safe.
func (a Aggregate) Cancel(cancelledBy string) ([]Event, error) {
	if a.Status == StatusCancelled {
		return nil, nil
	}
	if !a.Status.CanTransitionTo(StatusCancelled) {
		return nil, &InvalidStateError{Current: a.Status}
	}
	return []Event{Cancelled{CancelledBy: cancelledBy}}, nil
}

func (a Aggregate) StartProvisioning(workerID string) ([]Event, error) {
	if a.Status == StatusProvisioning {
		return nil, nil
	}
	if !a.Status.CanTransitionTo(StatusProvisioning) {
		return nil, &InvalidStateError{Current: a.Status}
	}
	return []Event{ProvisioningStarted{WorkerID: workerID}}, nil
}

func (a Aggregate) CompleteProvisioning(vmID uuid.UUID, hostname string, ipAddress string) ([]Event, error) {
	if a.Status != StatusProvisioning {
		return nil, &InvalidStateError{Current: a.Status}
	}
	return []Event{ProvisioningCompleted{VMID: vmID, Hostname: hostname, IPAddress: ipAddress}}, nil
}

func (a Aggregate) FailProvisioning(message string) ([]Event, error) {
	if a.Status != StatusProvisioning {
		return nil, &InvalidStateError{Current: a.Status}
	}
	return []Event{ProvisioningFailed{ErrorMessage: message}}, nil
}
