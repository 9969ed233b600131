// Package vmrequest is the VM-request aggregate family: its event types,
// the pure lifecycle aggregate, and the command service that drives the
// load/decide/append cycle against the event store.
package vmrequest

import (
	"github.com/google/uuid"

	"vm-request-platform/api/internal/es"
)

// AggregateType is the stream name for this family in the event store.
const AggregateType = "VmRequest"

const (
	TypeCreated               = "VMRequestCreated"
	TypeApproved              = "VMRequestApproved"
	TypeRejected              = "VMRequestRejected"
	TypeCancelled             = "VMRequestCancelled"
	TypeProvisioningStarted   = "VMProvisioningStarted"
	TypeProvisioningCompleted = "VMProvisioningCompleted"
	TypeProvisioningFailed    = "VMProvisioningFailed"
)

// Event is sealed: only the variants below implement the marker, so folding
// and decoding stay exhaustive. Adding a variant without registering it in
// Registry leaves the new type undecodable, which the round-trip tests
// catch.
type Event interface {
	es.Event
	isVMRequestEvent()
}

// VMSpec is the requested machine shape, captured whole on the creating
// event and never mutated afterwards.
type VMSpec struct {
	Name       string `json:"name"`
	TemplateID string `json:"template_id"`
	CPUCores   int    `json:"cpu_cores"`
	MemoryMB   int    `json:"memory_mb"`
	DiskGB     int    `json:"disk_gb"`
}

type Created struct {
	RequesterID string `json:"requester_id"`
	Spec        VMSpec `json:"spec"`
	Reason      string `json:"reason"`
}

type Approved struct {
	AdminID string  `json:"admin_id"`
	Comment *string `json:"comment"`
}

type Rejected struct {
	AdminID string `json:"admin_id"`
	Reason  string `json:"reason"`
}

type Cancelled struct {
	CancelledBy string `json:"cancelled_by"`
}

type ProvisioningStarted struct {
	WorkerID string `json:"worker_id"`
}

type ProvisioningCompleted struct {
	VMID      uuid.UUID `json:"vm_id"`
	Hostname  string    `json:"hostname"`
	IPAddress string    `json:"ip_address"`
}

type ProvisioningFailed struct {
	ErrorMessage string `json:"error_message"`
}

func (Created) EventType() string               { return TypeCreated }
func (Approved) EventType() string              { return TypeApproved }
func (Rejected) EventType() string              { return TypeRejected }
func (Cancelled) EventType() string             { return TypeCancelled }
func (ProvisioningStarted) EventType() string   { return TypeProvisioningStarted }
func (ProvisioningCompleted) EventType() string { return TypeProvisioningCompleted }
func (ProvisioningFailed) EventType() string    { return TypeProvisioningFailed }

func (Created) isVMRequestEvent()               {}
func (Approved) isVMRequestEvent()              {}
func (Rejected) isVMRequestEvent()              {}
func (Cancelled) isVMRequestEvent()             {}
func (ProvisioningStarted) isVMRequestEvent()   {}
func (ProvisioningCompleted) isVMRequestEvent() {}
func (ProvisioningFailed) isVMRequestEvent()    {}

// Registry builds the codec registry for this family. Called once at
// service construction; a missing entry here fails the loading tests, not
// production reads months later.
func Registry() *es.Registry {
	return es.NewRegistry(AggregateType).
		Register(TypeCreated, es.DecodeJSON[Created]).
		Register(TypeApproved, es.DecodeJSON[Approved]).
		Register(TypeRejected, es.DecodeJSON[Rejected]).
		Register(TypeCancelled, es.DecodeJSON[Cancelled]).
		Register(TypeProvisioningStarted, es.DecodeJSON[ProvisioningStarted]).
		Register(TypeProvisioningCompleted, es.DecodeJSON[ProvisioningCompleted]).
		Register(TypeProvisioningFailed, es.DecodeJSON[ProvisioningFailed])
}
