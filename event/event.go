// Package event defines the event contract shared by the bus and the
// projection engine. Events are opaque payloads selected by name; the
// runtime never looks at anything beyond EventName.
package event

type Event interface {
	EventName() string
}

// Raw is a name + payload pair for callers that don't want to define a
// concrete event type, e.g. when bridging from a serialized source.
type Raw struct {
	name string
	data []byte
}

func NewRaw(name string, data []byte) Raw {
	return Raw{
		name: name,
		data: data,
	}
}

func (r Raw) EventName() string {
	return r.name
}

func (r Raw) Data() []byte {
	return r.data
}
