package vmrequest

import "strings"

// Status is the lifecycle state of a VM request. PENDING branches to the
// review outcomes; only PENDING can be cancelled. PENDING and APPROVED may
// enter PROVISIONING, which ends in READY or FAILED. Everything else is
// terminal.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusApproved     Status = "APPROVED"
	StatusRejected     Status = "REJECTED"
	StatusCancelled    Status = "CANCELLED"
	StatusProvisioning Status = "PROVISIONING"
	StatusReady        Status = "READY"
	StatusFailed       Status = "FAILED"
)

var statusTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusApproved:     true,
		StatusRejected:     true,
		StatusCancelled:    true,
		StatusProvisioning: true,
	},
	StatusApproved: {
		StatusProvisioning: true,
	},
	StatusProvisioning: {
		StatusReady:  true,
		StatusFailed: true,
	},
}

func NormalizeStatus(raw string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(raw)))
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled,
		StatusProvisioning, StatusReady, StatusFailed:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(next Status) bool {
	return statusTransitions[s][next]
}

func (s Status) Terminal() bool {
	return len(statusTransitions[s]) == 0 && s.Valid()
}

func AllStatuses() []Status {
	return []Status{
		StatusPending, StatusApproved, StatusRejected, StatusCancelled,
		StatusProvisioning, StatusReady, StatusFailed,
	}
}
