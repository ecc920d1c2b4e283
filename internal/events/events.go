package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/ctxreg/internal/idgen"
	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// Event topic constants
const (
	TopicRecordCreated = "ctxreg.record.created"
	TopicRecordUpdated = "ctxreg.record.updated"
	TopicRecordDeleted = "ctxreg.record.deleted"

	// TopicAll matches every registry topic (NATS wildcard syntax).
	TopicAll = "ctxreg.>"
)

// Event types

type RecordCreated struct {
	EventID string        `json:"event_id"`
	At      time.Time     `json:"at"`
	Record  *model.Record `json:"record"`
}

type RecordUpdated struct {
	EventID string        `json:"event_id"`
	At      time.Time     `json:"at"`
	Record  *model.Record `json:"record"`
	Changes []string      `json:"changes"` // names of the fields that changed
}

type RecordDeleted struct {
	EventID    string     `json:"event_id"`
	At         time.Time  `json:"at"`
	Kind       model.Kind `json:"kind"`
	Code       int64      `json:"code"`
	Name       string     `json:"name"`
	OperatorID int64      `json:"operator_id"`
}

// NewEventID returns a fresh identifier for an event envelope. Event IDs are
// informational, so a generator failure yields an empty ID.
func NewEventID() string {
	id, err := idgen.Generate()
	if err != nil {
		return ""
	}
	return id
}

// Decode unmarshals a payload received on topic into its event type.
func Decode(topic string, data []byte) (any, error) {
	var event any
	switch topic {
	case TopicRecordCreated:
		event = &RecordCreated{}
	case TopicRecordUpdated:
		event = &RecordUpdated{}
	case TopicRecordDeleted:
		event = &RecordDeleted{}
	default:
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", topic, err)
	}
	return event, nil
}

// Ref identifies the record an event concerns.
type Ref struct {
	EventID string
	Kind    model.Kind
	Code    int64
}

// RefOf returns the record reference carried by a registry event. It
// accepts events by value or by pointer.
func RefOf(event any) (Ref, bool) {
	switch e := event.(type) {
	case RecordCreated:
		return recordRef(e.EventID, e.Record)
	case *RecordCreated:
		return recordRef(e.EventID, e.Record)
	case RecordUpdated:
		return recordRef(e.EventID, e.Record)
	case *RecordUpdated:
		return recordRef(e.EventID, e.Record)
	case RecordDeleted:
		return Ref{EventID: e.EventID, Kind: e.Kind, Code: e.Code}, true
	case *RecordDeleted:
		return Ref{EventID: e.EventID, Kind: e.Kind, Code: e.Code}, true
	}
	return Ref{}, false
}

func recordRef(eventID string, rec *model.Record) (Ref, bool) {
	if rec == nil {
		return Ref{EventID: eventID}, false
	}
	return Ref{EventID: eventID, Kind: rec.Kind, Code: rec.Code}, true
}

// Subject returns the bus subject for topic scoped to kind, for example
// "ctxreg.record.created.environment". An empty kind yields the bare topic.
func Subject(topic string, kind model.Kind) string {
	if kind == "" {
		return topic
	}
	return topic + "." + string(kind)
}

// SplitSubject reverses Subject.
func SplitSubject(subject string) (string, model.Kind) {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 {
		return subject, ""
	}
	if kind := model.Kind(subject[i+1:]); kind.IsValid() {
		return subject[:i], kind
	}
	return subject, ""
}

// KindSubjects returns the subscription subjects covering every record
// topic for the given kinds. No kinds means all of them.
func KindSubjects(kinds ...model.Kind) []string {
	if len(kinds) == 0 {
		return []string{TopicAll}
	}
	subjects := make([]string, 0, len(kinds))
	for _, k := range kinds {
		subjects = append(subjects, "ctxreg.record.*."+string(k))
	}
	return subjects
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Multi fans every event out to each publisher in order. A failing
// publisher does not stop delivery to the rest; the errors are joined.
func Multi(pubs ...Publisher) Publisher {
	return multiPublisher(pubs)
}

type multiPublisher []Publisher

func (m multiPublisher) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
