// Package realtime fans domain events out to connected subscribers.
//
// Publish never blocks: events are queued and dispatched one at a time by
// Run. Delivery is at most once per subscriber, with no retry and no
// persistence. A subscriber whose buffer is full misses the frame.
package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"safechat/internal/apperr"
	"safechat/internal/logging"
	"safechat/internal/metrics"
	"safechat/internal/presence"
)

const eventQueueSize = 256

// Subscriber is one realtime connection.
type Subscriber interface {
	// Send queues a frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
	Close()
}

type membership struct {
	userID string
	groups map[string]bool
}

type envelope struct {
	event Event
	scope Scope
}

// Hub routes events to subscribers. Direct recipients are resolved through
// the presence tracker.
type Hub struct {
	tracker presence.Tracker
	queue   chan envelope

	mu   sync.RWMutex
	subs map[Subscriber]*membership
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub routing direct events through tracker.
func NewHub(tracker presence.Tracker) *Hub {
	return newHub(tracker, eventQueueSize)
}

func newHub(tracker presence.Tracker, queueSize int) *Hub {
	return &Hub{
		tracker: tracker,
		queue:   make(chan envelope, queueSize),
		subs:    make(map[Subscriber]*membership),
	}
}

// Publish queues ev for delivery to scope. A full queue drops the event.
func (h *Hub) Publish(ev Event, scope Scope) {
	select {
	case h.queue <- envelope{event: ev, scope: scope}:
	default:
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		logging.Warn().
			Str("event", string(ev.Type)).
			Str("scope", scope.String()).
			Msg("event queue full, dropping event")
	}
}

// Run dispatches queued events until ctx is cancelled, then closes every
// subscriber and clears the presence tracker.
func (h *Hub) Run(ctx context.Context) error {
	logging.Info().Msg("🔌 Realtime hub started")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case env := <-h.queue:
			h.dispatch(env)
		}
	}
}

func (h *Hub) dispatch(env envelope) {
	frame, err := json.Marshal(env.event)
	if err != nil {
		logging.Error().Err(err).Str("event", string(env.event.Type)).Msg("failed to encode event")
		return
	}

	recipients := h.resolve(env.scope)
	for _, sub := range recipients {
		if !sub.Send(frame) {
			metrics.EventsDropped.WithLabelValues("subscriber_full").Inc()
		}
	}
	metrics.EventsPublished.WithLabelValues(string(env.event.Type)).Inc()

	logging.Debug().
		Str("event", string(env.event.Type)).
		Str("scope", env.scope.String()).
		Int("recipients", len(recipients)).
		Msg("event dispatched")
}

// resolve snapshots the recipients of scope under the read lock.
func (h *Hub) resolve(scope Scope) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Subscriber
	switch scope.kind {
	case scopeBroadcast:
		for sub, m := range h.subs {
			if scope.exclude != "" && m.userID == scope.exclude {
				continue
			}
			out = append(out, sub)
		}
	case scopeGroup:
		for sub, m := range h.subs {
			if scope.exclude != "" && m.userID == scope.exclude {
				continue
			}
			if m.groups[scope.group] {
				out = append(out, sub)
			}
		}
	case scopeDirect:
		seen := make(map[Subscriber]bool, len(scope.users))
		for _, id := range scope.users {
			e, ok := h.tracker.Lookup(id)
			if !ok {
				continue
			}
			sub, ok := e.Handle.(Subscriber)
			if !ok || seen[sub] {
				continue
			}
			if _, live := h.subs[sub]; live {
				seen[sub] = true
				out = append(out, sub)
			}
		}
	}
	return out
}

// Register adds an anonymous subscriber. It receives broadcasts until it
// authenticates.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	h.subs[sub] = &membership{groups: make(map[string]bool)}
	total := len(h.subs)
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	logging.Info().Int("total_clients", total).Msg("realtime client connected")
}

// Authenticate binds sub to userID and announces the join.
func (h *Hub) Authenticate(sub Subscriber, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.Validation("user_id is required")
	}

	h.mu.Lock()
	m, ok := h.subs[sub]
	if !ok {
		h.mu.Unlock()
		return apperr.InvalidState("subscriber is not registered")
	}
	prev := m.userID
	m.userID = userID
	released := prev != "" && prev != userID && h.tracker.Release(prev, sub)
	h.tracker.Join(userID, sub)
	h.mu.Unlock()

	if released {
		h.publishPresence(PresenceLeave, prev)
	}
	h.publishPresence(PresenceJoin, userID)
	logging.Info().Str("user_id", userID).Msg("realtime client authenticated")
	return nil
}

// JoinGroup adds an authenticated subscriber to a group.
func (h *Hub) JoinGroup(sub Subscriber, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.subs[sub]
	if !ok {
		return apperr.InvalidState("subscriber is not registered")
	}
	if m.userID == "" {
		return apperr.InvalidState("authenticate before joining %s", group)
	}
	m.groups[group] = true

	logging.Info().Str("user_id", m.userID).Str("group", group).Msg("realtime client joined group")
	return nil
}

// TypingInput describes where a user is typing. RecipientID is set for
// private rooms.
type TypingInput struct {
	Room        string `json:"room"`
	RecipientID string `json:"recipient_id"`
}

// Typing relays a typing indicator. Private rooms go to the recipient only,
// public rooms to everyone but the typist.
func (h *Hub) Typing(sub Subscriber, start bool, in TypingInput) error {
	userID := h.identity(sub)
	if userID == "" {
		return apperr.InvalidState("authenticate before typing")
	}

	evType := EventTypingStop
	if start {
		evType = EventTypingStart
	}
	ev := Event{Type: evType, Data: TypingPayload{UserID: userID, Room: in.Room}}

	if in.RecipientID != "" {
		h.Publish(ev, Direct(in.RecipientID))
	} else {
		h.Publish(ev, BroadcastExcept(userID))
	}
	return nil
}

// AnalyzingInput is a client's notice that a message is being analyzed.
type AnalyzingInput struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Room      string `json:"room"`
}

// Analyzing relays an analysis notice to the other moderators.
func (h *Hub) Analyzing(sub Subscriber, in AnalyzingInput) error {
	userID := h.identity(sub)
	if userID == "" {
		return apperr.InvalidState("authenticate before requesting analysis")
	}
	if strings.TrimSpace(in.Text) == "" {
		return apperr.Validation("text is required")
	}

	h.Publish(Event{
		Type: EventMessageAnalyzing,
		Data: AnalyzingPayload{MessageID: in.MessageID, Text: in.Text, UserID: userID, Room: in.Room},
	}, GroupExcept(GroupModerators, userID))
	return nil
}

// identity returns the user sub authenticated as, or "".
func (h *Hub) identity(sub Subscriber) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if m, ok := h.subs[sub]; ok {
		return m.userID
	}
	return ""
}

// Unregister removes sub, closes it and announces the leave when it still
// held its identity's presence entry.
func (h *Hub) Unregister(sub Subscriber) {
	h.mu.Lock()
	m, ok := h.subs[sub]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub)
	released := m.userID != "" && h.tracker.Release(m.userID, sub)
	total := len(h.subs)
	h.mu.Unlock()

	sub.Close()
	metrics.ConnectedClients.Dec()

	if released {
		h.publishPresence(PresenceLeave, m.userID)
	}
	logging.Info().Str("user_id", m.userID).Int("total_clients", total).Msg("realtime client disconnected")
}

// Online returns the number of authenticated identities.
func (h *Hub) Online() int {
	return len(h.tracker.Snapshot())
}

func (h *Hub) publishPresence(action, userID string) {
	snap := h.tracker.Snapshot()
	online := make([]string, 0, len(snap))
	for _, e := range snap {
		online = append(online, e.UserID)
	}
	h.Publish(Event{
		Type: EventPresenceChanged,
		Data: PresencePayload{Action: action, UserID: userID, Online: online},
	}, Broadcast())
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[Subscriber]*membership)
	h.mu.Unlock()

	for sub := range subs {
		sub.Close()
	}
	h.tracker.Clear()
	metrics.ConnectedClients.Sub(float64(len(subs)))

	logging.Info().Int("closed_clients", len(subs)).Msg("realtime hub stopped")
}
