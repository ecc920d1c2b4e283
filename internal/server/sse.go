package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/ctxreg/internal/events"
	"github.com/alfredjeanlab/ctxreg/internal/model"
)

const (
	// sseHistorySize is the number of recent record events kept for
	// Last-Event-ID replay.
	sseHistorySize = 1000

	sseKeepaliveInterval = 15 * time.Second
	sseClientBuffer      = 64
)

// sseEvent is one record event as stored for replay and sent to clients.
type sseEvent struct {
	ID    uint64
	Topic string
	Kind  model.Kind
	Code  int64
	Data  []byte
}

// sseFilter selects the events a stream client receives. Zero values match
// everything.
type sseFilter struct {
	topics []string // NATS-style patterns
	kinds  []model.Kind
	code   int64
}

func (f sseFilter) matches(evt *sseEvent) bool {
	if f.code != 0 && evt.Code != f.code {
		return false
	}
	if len(f.kinds) > 0 && !containsKind(f.kinds, evt.Kind) {
		return false
	}
	if len(f.topics) == 0 {
		return true
	}
	for _, pattern := range f.topics {
		if matchTopicPattern(pattern, evt.Topic) {
			return true
		}
	}
	return false
}

func containsKind(kinds []model.Kind, k model.Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// parseSSEFilter reads ?topics=, ?kinds= and ?code= from the stream URL.
func parseSSEFilter(r *http.Request) (sseFilter, error) {
	q := r.URL.Query()
	f := sseFilter{topics: splitList(q.Get("topics"))}
	for _, name := range splitList(q.Get("kinds")) {
		k, ok := model.ParseKind(name)
		if !ok {
			return sseFilter{}, fmt.Errorf("unknown kind %q", name)
		}
		f.kinds = append(f.kinds, k)
	}
	if raw := q.Get("code"); raw != "" {
		code, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || code <= 0 {
			return sseFilter{}, fmt.Errorf("invalid code %q", raw)
		}
		f.code = code
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// sseHub fans record events out to stream clients and keeps the most recent
// ones for replay. It implements events.Publisher.
type sseHub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	lastID  uint64
	history []sseEvent // ring, oldest at head once full
	head    int
}

type sseClient struct {
	filter sseFilter
	ch     chan *sseEvent
}

func newSSEHub(logger *slog.Logger) *sseHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &sseHub{
		logger:  logger,
		clients: make(map[*sseClient]struct{}),
		history: make([]sseEvent, 0, sseHistorySize),
	}
}

// Publish records the event for replay and delivers it to matching clients.
func (h *sseHub) Publish(_ context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	ref, _ := events.RefOf(event)
	h.broadcast(topic, ref, payload)
	return nil
}

// Close is a no-op; clients are released when their requests end.
func (h *sseHub) Close() error {
	return nil
}

func (h *sseHub) broadcast(topic string, ref events.Ref, payload []byte) *sseEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	evt := sseEvent{ID: h.lastID, Topic: topic, Kind: ref.Kind, Code: ref.Code, Data: payload}
	if len(h.history) < sseHistorySize {
		h.history = append(h.history, evt)
	} else {
		h.history[h.head] = evt
		h.head = (h.head + 1) % sseHistorySize
	}

	for c := range h.clients {
		if !c.filter.matches(&evt) {
			continue
		}
		select {
		case c.ch <- &evt:
		default:
			h.logger.Warn("sse client too slow, dropped event",
				"topic", topic, "kind", ref.Kind, "code", ref.Code, "event_id", evt.ID)
		}
	}
	return &evt
}

// subscribe registers a client and returns the buffered events after
// lastID that match its filter. Both happen under one lock so no event is
// missed or sent twice between replay and live delivery.
func (h *sseHub) subscribe(filter sseFilter, lastID uint64) (*sseClient, []*sseEvent) {
	c := &sseClient{filter: filter, ch: make(chan *sseEvent, sseClientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if lastID == 0 {
		return c, nil
	}
	var replay []*sseEvent
	for _, evt := range h.since(lastID) {
		if filter.matches(evt) {
			replay = append(replay, evt)
		}
	}
	return c, replay
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns buffered events with ID > lastID, oldest first.
func (h *sseHub) eventsSince(lastID uint64) []*sseEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.since(lastID)
}

func (h *sseHub) since(lastID uint64) []*sseEvent {
	var out []*sseEvent
	for i := range h.history {
		evt := &h.history[(h.head+i)%len(h.history)]
		if evt.ID > lastID {
			// Copy so later ring writes cannot change what the caller holds.
			e := *evt
			out = append(out, &e)
		}
	}
	return out
}

// matchTopicPattern matches a dot-separated topic against a pattern.
// "*" matches one segment and a trailing ">" matches one or more.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")
	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}
	return len(patParts) == len(topParts)
}

// handleEventStream serves GET /v1/events/stream. Filters:
//
//	?topics=ctxreg.record.deleted   topic patterns
//	?kinds=environment,cluster      record kinds
//	?code=1042                      a single record
//
// A Last-Event-ID header replays matching events still in history.
func (s *RegistryServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	filter, err := parseSSEFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var lastID uint64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		lastID, _ = strconv.ParseUint(raw, 10, 64)
	}

	client, replay := s.sseHub.subscribe(filter, lastID)
	defer s.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if len(replay) > 0 {
		codes := make([]int64, len(replay))
		for i, evt := range replay {
			codes[i] = evt.Code
			writeSSEEvent(w, evt)
		}
		s.logger.Debug("sse replay", "last_event_id", lastID, "events", len(replay), "codes", codes)
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w io.Writer, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}
