package realtime

import (
	"time"

	"safechat/internal/model"
)

// EventType names an event on the wire.
type EventType string

const (
	EventNewMessage           EventType = "new-message"
	EventMessageFlagged       EventType = "message-flagged"
	EventFlagCreated          EventType = "flag-created"
	EventFlagReviewed         EventType = "flag-reviewed"
	EventMessageStatusChanged EventType = "message-status-changed"
	EventUserStatusChanged    EventType = "user-status-changed"
	EventPresenceChanged      EventType = "presence-changed"
	EventTypingStart          EventType = "typing-start"
	EventTypingStop           EventType = "typing-stop"
	EventMessageAnalyzing     EventType = "message-analyzing"
	EventPong                 EventType = "pong"
	EventError                EventType = "error"
)

// GroupModerators is the group every moderator connection joins.
const GroupModerators = "moderators"

// Event is one frame sent to subscribers.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Publisher is implemented by Hub. Domain services depend on it so tests can
// record events.
type Publisher interface {
	Publish(ev Event, scope Scope)
}

type scopeKind int

const (
	scopeBroadcast scopeKind = iota
	scopeGroup
	scopeDirect
)

// Scope selects the subscribers an event is delivered to.
type Scope struct {
	kind    scopeKind
	group   string
	users   []string
	exclude string
}

// Broadcast addresses every connected subscriber.
func Broadcast() Scope { return Scope{kind: scopeBroadcast} }

// BroadcastExcept addresses every subscriber not authenticated as userID.
func BroadcastExcept(userID string) Scope {
	return Scope{kind: scopeBroadcast, exclude: userID}
}

// Group addresses the members of a named group.
func Group(name string) Scope { return Scope{kind: scopeGroup, group: name} }

// GroupExcept addresses the members of a group not authenticated as userID.
func GroupExcept(name, userID string) Scope {
	return Scope{kind: scopeGroup, group: name, exclude: userID}
}

// Direct addresses the connections of the given identities.
func Direct(userIDs ...string) Scope { return Scope{kind: scopeDirect, users: userIDs} }

// MessageScope addresses the audience of msg: both participants of a private
// message, everyone otherwise.
func MessageScope(msg *model.Message) Scope {
	if msg.Visibility == model.VisibilityPrivate {
		return Direct(msg.Participants()...)
	}
	return Broadcast()
}

func (s Scope) String() string {
	switch s.kind {
	case scopeGroup:
		return "group:" + s.group
	case scopeDirect:
		return "direct"
	default:
		return "broadcast"
	}
}

// Presence actions.
const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// PresencePayload accompanies presence-changed.
type PresencePayload struct {
	Action string   `json:"action"`
	UserID string   `json:"user_id"`
	Online []string `json:"online"`
}

// TypingPayload accompanies typing-start and typing-stop.
type TypingPayload struct {
	UserID string `json:"user_id"`
	Room   string `json:"room,omitempty"`
}

// AnalyzingPayload accompanies message-analyzing.
type AnalyzingPayload struct {
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text"`
	UserID    string `json:"user_id"`
	Room      string `json:"room,omitempty"`
}

// MessageFlaggedPayload accompanies message-flagged.
type MessageFlaggedPayload struct {
	Message *model.Message `json:"message"`
	Flag    *model.Flag    `json:"flag"`
}

// MessageStatusPayload accompanies message-status-changed.
type MessageStatusPayload struct {
	MessageID string              `json:"message_id"`
	Previous  model.MessageStatus `json:"previous_status"`
	Status    model.MessageStatus `json:"status"`
	ChangedBy string              `json:"changed_by,omitempty"`
}

// UserStatusPayload accompanies user-status-changed.
type UserStatusPayload struct {
	UserID         string       `json:"user_id"`
	IsActive       bool         `json:"is_active"`
	SuspendedUntil *time.Time   `json:"suspended_until,omitempty"`
	Action         model.Action `json:"action,omitempty"`
}
