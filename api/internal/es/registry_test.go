package es

import (
	"errors"
	"testing"
)

type fakeEvent struct {
	Name string `json:"name"`
}

func (fakeEvent) EventType() string { return "FakeHappened" }

func TestRegistryDecodesKnownType(t *testing.T) {
	reg := NewRegistry("Fake").Register("FakeHappened", DecodeJSON[fakeEvent])

	ev, err := reg.Decode(StoredEvent{EventType: "FakeHappened", Payload: []byte(`{"name":"a"}`)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fake, ok := ev.(fakeEvent)
	if !ok {
		t.Fatalf("decoded %T, want fakeEvent", ev)
	}
	if fake.Name != "a" {
		t.Fatalf("decoded name %q", fake.Name)
	}
}

func TestRegistryFailsOnUnknownType(t *testing.T) {
	reg := NewRegistry("Fake").Register("FakeHappened", DecodeJSON[fakeEvent])

	_, err := reg.Decode(StoredEvent{EventType: "SomethingElse", Payload: []byte(`{}`)})
	var unknown *UnknownEventTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownEventTypeError, got %v", err)
	}
	if unknown.Registry != "Fake" || unknown.EventType != "SomethingElse" {
		t.Fatalf("error names registry %q type %q", unknown.Registry, unknown.EventType)
	}
}

func TestRegistryFailsOnMalformedPayload(t *testing.T) {
	reg := NewRegistry("Fake").Register("FakeHappened", DecodeJSON[fakeEvent])

	_, err := reg.Decode(StoredEvent{EventType: "FakeHappened", Payload: []byte(`{broken`)})
	var payloadErr *PayloadError
	if !errors.As(err, &payloadErr) {
		t.Fatalf("expected PayloadError, got %v", err)
	}
	if payloadErr.EventType != "FakeHappened" {
		t.Fatalf("error names type %q", payloadErr.EventType)
	}
}

func TestRegistryDecodeAllStopsAtFirstBadEvent(t *testing.T) {
	reg := NewRegistry("Fake").Register("FakeHappened", DecodeJSON[fakeEvent])

	stream := []StoredEvent{
		{EventType: "FakeHappened", Payload: []byte(`{"name":"first"}`), Version: 1},
		{EventType: "NeverRegistered", Payload: []byte(`{}`), Version: 2},
	}
	_, err := reg.DecodeAll(stream)
	var unknown *UnknownEventTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownEventTypeError, got %v", err)
	}
}
