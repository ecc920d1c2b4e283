package events

import "github.com/alfredjeanlab/ctxreg/internal/model"

// Message is a raw event payload with the record it concerns. Topic is the
// unscoped event topic, so Decode(msg.Topic, msg.Data) works.
type Message struct {
	Topic   string
	EventID string
	Kind    model.Kind
	Code    int64
	Data    []byte
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers events for the given record kinds, or for every
	// kind when none are named. Call the returned cancel function to
	// unsubscribe and close the channel.
	Subscribe(kinds ...model.Kind) (<-chan Message, func(), error)
	Close() error
}
