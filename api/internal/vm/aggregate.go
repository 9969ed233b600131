package vm

import (
	"fmt"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
	StatusDeleted Status = "DELETED"
)

// NotFoundError mirrors the request-side error shape so callers classify
// both families the same way.
type NotFoundError struct {
	VMID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vm %s not found", e.VMID)
}

type InvalidStateError struct {
	Current Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("command not valid in state %s", e.Current)
}

// Aggregate is the folded state of one machine. A registered machine is
// RUNNING; start/stop toggle between RUNNING and STOPPED; DELETED is
// terminal.
type Aggregate struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	Hostname  string
	IPAddress string
	Status    Status
	Version   int64
}

func Fold(id uuid.UUID, stream []Event) Aggregate {
	agg := Aggregate{ID: id}
	for _, ev := range stream {
		agg.Apply(ev)
	}
	return agg
}

func (a *Aggregate) Apply(ev Event) {
	switch e := ev.(type) {
	case Registered:
		a.RequestID = e.RequestID
		a.Hostname = e.Hostname
		a.IPAddress = e.IPAddress
		a.Status = StatusRunning
	case Started:
		a.Status = StatusRunning
	case Stopped:
		a.Status = StatusStopped
	case Deleted:
		a.Status = StatusDeleted
	}
	a.Version++
}

func NewRegistration(requestID uuid.UUID, hostname string, ipAddress string) ([]Event, error) {
	return []Event{Registered{RequestID: requestID, Hostname: hostname, IPAddress: ipAddress}}, nil
}

// Start is idempotent on an already-running machine.
func (a Aggregate) Start(startedBy string) ([]Event, error) {
	if a.Status == StatusRunning {
		return nil, nil
	}
	if a.Status != StatusStopped {
		return nil, &InvalidStateError{Current: a.Status}
	}
	return []Event{Started{StartedBy: startedBy}}, nil
}

// Stop is idempotent on an already-stopped machine.
func (a Aggregate) Stop(stoppedBy string) ([]Event, error) {
	if a.Status == StatusStopped {
		return nil, nil
	}
	if a.Status != StatusRunning {
		return nil, &InvalidStateError{Current: a.Status}
	}
	return []Event{Stopped{StoppedBy: stoppedBy}}, nil
}

func (a Aggregate) Delete(deletedBy string) ([]Event, error) {
	if a.Status == StatusDeleted {
		return nil, nil
	}
	if a.Status != StatusRunning && a.Status != StatusStopped {
		return nil, &InvalidStateError{Current: a.Status}
	}
	return []Event{Deleted{DeletedBy: deletedBy}}, nil
}
