package vmrequest

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"vm-request-platform/api/internal/es"
)

func TestAllEventTypesRoundTrip(t *testing.T) {
	comment := "looks fine"
	samples := []Event{
		Created{RequesterID: "alice", Spec: VMSpec{Name: "web-1", TemplateID: "ubuntu-22", CPUCores: 4, MemoryMB: 8192, DiskGB: 100}, Reason: "staging env"},
		Approved{AdminID: "bob", Comment: &comment},
		Approved{AdminID: "bob", Comment: nil},
		Rejected{AdminID: "bob", Reason: "no capacity"},
		Cancelled{CancelledBy: "alice"},
		ProvisioningStarted{WorkerID: "worker-3"},
		ProvisioningCompleted{VMID: uuid.New(), Hostname: "web-1.internal", IPAddress: "10.0.0.5"},
		ProvisioningFailed{ErrorMessage: "template missing"},
	}

	reg := Registry()
	for _, original := range samples {
		payload, err := es.Encode(original)
		if err != nil {
			t.Fatalf("encode %s: %v", original.EventType(), err)
		}
		decoded, err := reg.Decode(es.StoredEvent{EventType: original.EventType(), Payload: payload})
		if err != nil {
			t.Fatalf("decode %s: %v", original.EventType(), err)
		}
		if !reflect.DeepEqual(decoded, original) {
			t.Fatalf("round trip of %s changed the event: %#v != %#v", original.EventType(), decoded, original)
		}
	}
}

func TestRegistryCoversEveryEventType(t *testing.T) {
	types := []string{
		TypeCreated, TypeApproved, TypeRejected, TypeCancelled,
		TypeProvisioningStarted, TypeProvisioningCompleted, TypeProvisioningFailed,
	}
	reg := Registry()
	for _, et := range types {
		if _, err := reg.Decode(es.StoredEvent{EventType: et, Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("registry missing or broken for %s: %v", et, err)
		}
	}
}
