// Package vm is the virtual-machine aggregate family: machines that exist
// because a request finished provisioning. It is deliberately smaller than
// vmrequest and exists partly to prove that event registries stay per
// family: adding a type here never touches the request codec.
package vm

import (
	"github.com/google/uuid"

	"vm-request-platform/api/internal/es"
)

const AggregateType = "Vm"

const (
	TypeRegistered = "VMRegistered"
	TypeStarted    = "VMStarted"
	TypeStopped    = "VMStopped"
	TypeDeleted    = "VMDeleted"
)

type Event interface {
	es.Event
	isVMEvent()
}

// Registered records a machine entering the fleet after provisioning.
// RequestID links back to the originating request stream.
type Registered struct {
	RequestID uuid.UUID `json:"request_id"`
	Hostname  string    `json:"hostname"`
	IPAddress string    `json:"ip_address"`
}

type Started struct {
	StartedBy string `json:"started_by"`
}

type Stopped struct {
	StoppedBy string `json:"stopped_by"`
}

type Deleted struct {
	DeletedBy string `json:"deleted_by"`
}

func (Registered) EventType() string { return TypeRegistered }
func (Started) EventType() string    { return TypeStarted }
func (Stopped) EventType() string    { return TypeStopped }
func (Deleted) EventType() string    { return TypeDeleted }

func (Registered) isVMEvent() {}
func (Started) isVMEvent()    {}
func (Stopped) isVMEvent()    {}
func (Deleted) isVMEvent()    {}

func Registry() *es.Registry {
	return es.NewRegistry(AggregateType).
		Register(TypeRegistered, es.DecodeJSON[Registered]).
		Register(TypeStarted, es.DecodeJSON[Started]).
		Register(TypeStopped, es.DecodeJSON[Stopped]).
		Register(TypeDeleted, es.DecodeJSON[Deleted])
}
