package es

import "encoding/json"

// DecodeFunc turns a stored payload into a concrete domain event.
type DecodeFunc func(payload []byte) (Event, error)

// Registry maps event-type tags to decoders for exactly one aggregate
// family. Each family builds its own registry, so adding an event type to
// one family never touches another.
type Registry struct {
	family   string
	decoders map[string]DecodeFunc
}

func NewRegistry(family string) *Registry {
	return &Registry{
		family:   family,
		decoders: make(map[string]DecodeFunc),
	}
}

func (r *Registry) Family() string { return r.family }

func (r *Registry) Register(eventType string, decode DecodeFunc) *Registry {
	r.decoders[eventType] = decode
	return r
}

// Decode deserializes one stored event. Unknown type tags and malformed
// payloads yield typed errors naming this registry; there is no silent
// fallback.
func (r *Registry) Decode(stored StoredEvent) (Event, error) {
	decode, ok := r.decoders[stored.EventType]
	if !ok {
		return nil, &UnknownEventTypeError{Registry: r.family, EventType: stored.EventType}
	}
	ev, err := decode(stored.Payload)
	if err != nil {
		return nil, &PayloadError{Registry: r.family, EventType: stored.EventType, Raw: stored.Payload, Err: err}
	}
	return ev, nil
}

// DecodeAll deserializes an ordered stream, failing the whole load on the
// first bad event.
func (r *Registry) DecodeAll(stored []StoredEvent) ([]Event, error) {
	out := make([]Event, 0, len(stored))
	for _, s := range stored {
		ev, err := r.Decode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Encode serializes a domain event payload. JSON keeps round trips exact
// for all fields including null-valued optionals.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeJSON builds a DecodeFunc for a concrete event struct.
func DecodeJSON[E Event](payload []byte) (Event, error) {
	var ev E
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
