package souqly

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
)

// ============================================================================
// Event Vocabulary
// ============================================================================

// EventKind identifies a server-pushed event. The set is closed: payloads
// are decoded and validated at the transport boundary before dispatch, so
// handlers never see raw JSON for a kind they did not ask for.
type EventKind string

const (
	EventMessageNew          EventKind = "message:new"
	EventTypingIndicator     EventKind = "typing:indicator"
	EventUserOnline          EventKind = "user:online"
	EventUserOffline         EventKind = "user:offline"
	EventReviewNew           EventKind = "review:new"
	EventCommentNew          EventKind = "comment:new"
	EventPostUpdated         EventKind = "post:updated"
	EventMaterialUpdated     EventKind = "material:updated"
	EventMaterialDownloads   EventKind = "material:downloadCountUpdate"
	EventMaterialRating      EventKind = "material:ratingUpdate"
	EventOrderStatus         EventKind = "order:statusUpdate"
	EventElectionUpdated     EventKind = "election:updated"
	EventApplicationNew      EventKind = "application:new"
	EventApplicationApproved EventKind = "application:approved"
	EventApplicationRejected EventKind = "application:rejected"
)

// Client-to-server command types (room control and signaling).
const (
	CmdConversationJoin  = "conversation:join"
	CmdConversationLeave = "conversation:leave"
	CmdTypingIndicator   = "typing:indicator"
	CmdPing              = "ping"
)

// ============================================================================
// Event Payload Types
// ============================================================================

// MessageNewPayload is pushed when a new message lands in a joined conversation.
type MessageNewPayload struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// TypingIndicatorPayload is pushed when a user starts or stops typing.
type TypingIndicatorPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// PresencePayload is pushed on user:online / user:offline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// ReviewNewPayload is pushed when a review is published for a material or listing.
type ReviewNewPayload struct {
	MaterialID string `json:"materialId,omitempty"`
	ListingID  string `json:"listingId,omitempty"`
	Review     Review `json:"review"`
}

// CommentNewPayload is pushed when a comment is added to a post.
type CommentNewPayload struct {
	PostID  string  `json:"postId"`
	Comment Comment `json:"comment"`
}

// PostUpdatedPayload is pushed when a post's fields change.
type PostUpdatedPayload struct {
	Post Post `json:"post"`
}

// MaterialUpdatedPayload is pushed when a material's fields change.
type MaterialUpdatedPayload struct {
	Material Material `json:"material"`
}

// MaterialCounterPayload is pushed on download-count or rating updates.
type MaterialCounterPayload struct {
	MaterialID    string  `json:"materialId"`
	DownloadCount int     `json:"downloadCount,omitempty"`
	Rating        float64 `json:"rating,omitempty"`
	RatingCount   int     `json:"ratingCount,omitempty"`
}

// OrderStatusPayload is pushed when an order's status or ETA changes,
// including escrow hold/release transitions decided server-side.
type OrderStatusPayload struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	ETA     string `json:"eta,omitempty"`
}

// ElectionUpdatedPayload is pushed when an election changes state.
type ElectionUpdatedPayload struct {
	Election Election `json:"election"`
}

// ApplicationPayload is pushed on application:new/approved/rejected.
type ApplicationPayload struct {
	ElectionID  string      `json:"electionId"`
	Application Application `json:"application"`
}

// Event is a decoded push event. Payload holds the typed struct matching
// Kind (e.g. MessageNewPayload for EventMessageNew).
type Event struct {
	Kind    EventKind
	Payload any
}

// Envelope is the wire format for all real-time traffic.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server message.
type Command struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// ============================================================================
// Boundary decoding
// ============================================================================

// DecodeEvent validates an envelope against the closed vocabulary and
// returns a typed Event. Unknown kinds and malformed payloads are errors;
// the transport logs and drops them instead of dispatching loose JSON.
func DecodeEvent(env Envelope) (Event, error) {
	kind := EventKind(env.Type)
	var payload any
	var err error

	switch kind {
	case EventMessageNew:
		payload, err = decodePayload[MessageNewPayload](env)
	case EventTypingIndicator:
		payload, err = decodePayload[TypingIndicatorPayload](env)
	case EventUserOnline, EventUserOffline:
		payload, err = decodePayload[PresencePayload](env)
	case EventReviewNew:
		payload, err = decodePayload[ReviewNewPayload](env)
	case EventCommentNew:
		payload, err = decodePayload[CommentNewPayload](env)
	case EventPostUpdated:
		payload, err = decodePayload[PostUpdatedPayload](env)
	case EventMaterialUpdated:
		payload, err = decodePayload[MaterialUpdatedPayload](env)
	case EventMaterialDownloads, EventMaterialRating:
		payload, err = decodePayload[MaterialCounterPayload](env)
	case EventOrderStatus:
		payload, err = decodePayload[OrderStatusPayload](env)
	case EventElectionUpdated:
		payload, err = decodePayload[ElectionUpdatedPayload](env)
	case EventApplicationNew, EventApplicationApproved, EventApplicationRejected:
		payload, err = decodePayload[ApplicationPayload](env)
	default:
		return Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: kind, Payload: payload}, nil
}

func decodePayload[T any](env Envelope) (T, error) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return p, nil
}

// ============================================================================
// Dispatcher
// ============================================================================

// Handler consumes a decoded event.
type Handler func(ev Event)

// Predicate filters events before a handler runs, typically on entity id.
// A nil predicate matches everything of the subscribed kind.
type Predicate func(ev Event) bool

type subscription struct {
	id   uint64
	kind EventKind
	pred Predicate
	fn   Handler
}

// Dispatcher routes decoded events to subscribed handlers. Handlers run
// in subscription order; a panicking handler is recovered and logged and
// never blocks delivery to later handlers.
type Dispatcher struct {
	mu   sync.Mutex
	log  *log.Logger
	seq  uint64
	subs []*subscription
}

// NewDispatcher creates a dispatcher. A nil logger discards diagnostics.
func NewDispatcher(logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{log: logger}
}

// Subscribe registers a handler for an event kind. The returned function
// removes the subscription; calling it more than once is a no-op, so it
// is safe to include in multiple cleanup paths.
func (d *Dispatcher) Subscribe(kind EventKind, pred Predicate, fn Handler) (unsubscribe func()) {
	d.mu.Lock()
	d.seq++
	sub := &subscription{id: d.seq, kind: kind, pred: pred, fn: fn}
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(sub.id) })
	}
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

// Dispatch delivers an event to every matching subscription.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	matched := make([]*subscription, 0, len(d.subs))
	for _, s := range d.subs {
		if s.kind == ev.Kind {
			matched = append(matched, s)
		}
	}
	d.mu.Unlock()

	for _, s := range matched {
		d.deliver(s, ev)
	}
}

func (d *Dispatcher) deliver(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Printf("event handler panic on %s: %v", ev.Kind, r)
		}
	}()

	if s.pred != nil && !s.pred(ev) {
		return
	}
	s.fn(ev)
}
