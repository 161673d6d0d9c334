package souqly

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
)

// ErrTransportUnavailable is returned when a command cannot be sent because
// no live connection exists. Room join/leave intents are queued and flushed
// on the next successful connection rather than surfaced as hard failures.
var ErrTransportUnavailable = errors.New("souqly: transport unavailable")

// ============================================================================
// Rooms
// ============================================================================

// RoomKind scopes a logical channel to a parent entity type.
type RoomKind string

const (
	RoomConversation RoomKind = "conversation"
	RoomOrder        RoomKind = "order"
	RoomPost         RoomKind = "post"
	RoomMaterial     RoomKind = "material"
	RoomElection     RoomKind = "election"
)

// Room is a logical channel derived deterministically from a parent entity id.
type Room struct {
	Kind RoomKind
	ID   string
}

// String returns the wire name, e.g. "conversation:42".
func (r Room) String() string {
	return string(r.Kind) + ":" + r.ID
}

func ConversationRoom(id string) Room { return Room{Kind: RoomConversation, ID: id} }
func OrderRoom(id string) Room        { return Room{Kind: RoomOrder, ID: id} }
func PostRoom(id string) Room         { return Room{Kind: RoomPost, ID: id} }
func MaterialRoom(id string) Room     { return Room{Kind: RoomMaterial, ID: id} }
func ElectionRoom(id string) Room     { return Room{Kind: RoomElection, ID: id} }

// CommandSender delivers client-to-server commands. The realtime client
// implements it; tests substitute fakes.
type CommandSender interface {
	SendCommand(ctx context.Context, cmd *Command) error
}

// ============================================================================
// RoomRegistry
// ============================================================================

// RoomRegistry tracks which rooms the mounted screens need. Memberships are
// reference-counted across screen bindings: the join signal goes to the
// server only on the 0→1 transition and the leave signal only on 1→0, so
// one screen's teardown never breaks another screen's subscription.
type RoomRegistry struct {
	mu     sync.Mutex
	sender CommandSender
	log    *log.Logger
	refs   map[Room]int
	// rooms whose join signal could not be sent yet; flushed on Replay.
	queued map[Room]struct{}
}

// NewRoomRegistry creates a registry that signals through sender.
func NewRoomRegistry(sender CommandSender, logger *log.Logger) *RoomRegistry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &RoomRegistry{
		sender: sender,
		log:    logger,
		refs:   make(map[Room]int),
		queued: make(map[Room]struct{}),
	}
}

// Bind creates a membership handle for one screen instance.
func (g *RoomRegistry) Bind() *Binding {
	return &Binding{reg: g, rooms: make(map[Room]struct{})}
}

// Refs returns the current reference count for a room.
func (g *RoomRegistry) Refs(room Room) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refs[room]
}

// Replay re-sends the join signal for every room with a positive reference
// count. Called after reconnect: server-side membership is tied to the
// transport session, so the new session starts with none. Order between
// rooms does not matter; joins are independent.
func (g *RoomRegistry) Replay(ctx context.Context) {
	g.mu.Lock()
	rooms := make([]Room, 0, len(g.refs))
	for room, n := range g.refs {
		if n > 0 {
			rooms = append(rooms, room)
		}
	}
	g.queued = make(map[Room]struct{})
	g.mu.Unlock()

	for _, room := range rooms {
		if err := g.sendJoin(ctx, room); err != nil {
			g.mu.Lock()
			g.queued[room] = struct{}{}
			g.mu.Unlock()
			g.log.Printf("rejoin %s failed, requeued: %v", room, err)
		}
	}
}

func (g *RoomRegistry) join(room Room) {
	g.mu.Lock()
	g.refs[room]++
	first := g.refs[room] == 1
	g.mu.Unlock()

	if !first {
		return
	}
	if err := g.sendJoin(context.Background(), room); err != nil {
		g.mu.Lock()
		g.queued[room] = struct{}{}
		g.mu.Unlock()
		g.log.Printf("join %s queued until connect: %v", room, err)
	}
}

func (g *RoomRegistry) leave(room Room) {
	g.mu.Lock()
	n, ok := g.refs[room]
	if !ok {
		g.mu.Unlock()
		return
	}
	n--
	if n > 0 {
		g.refs[room] = n
		g.mu.Unlock()
		return
	}
	delete(g.refs, room)
	_, wasQueued := g.queued[room]
	delete(g.queued, room)
	g.mu.Unlock()

	if wasQueued {
		// The join was never delivered, so the server has no membership
		// to tear down.
		return
	}
	if err := g.sender.SendCommand(context.Background(), &Command{
		Type:    CmdConversationLeave,
		Payload: map[string]string{"room": room.String()},
	}); err != nil {
		g.log.Printf("leave %s not delivered: %v", room, err)
	}
}

func (g *RoomRegistry) sendJoin(ctx context.Context, room Room) error {
	return g.sender.SendCommand(ctx, &Command{
		Type:    CmdConversationJoin,
		Payload: map[string]string{"room": room.String()},
	})
}

// ============================================================================
// Binding
// ============================================================================

// Binding is one screen instance's view of the registry. Joining the same
// room twice through a binding is a no-op; Close leaves everything the
// binding joined, exactly once, no matter how many cleanup paths call it.
type Binding struct {
	reg    *RoomRegistry
	mu     sync.Mutex
	rooms  map[Room]struct{}
	closed bool
}

// Join adds the room to this binding's membership set.
func (b *Binding) Join(room Room) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if _, ok := b.rooms[room]; ok {
		b.mu.Unlock()
		return
	}
	b.rooms[room] = struct{}{}
	b.mu.Unlock()

	b.reg.join(room)
}

// Leave removes the room from this binding. Leaving an unjoined room is a
// no-op, not an error.
func (b *Binding) Leave(room Room) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	_, ok := b.rooms[room]
	if ok {
		delete(b.rooms, room)
	}
	b.mu.Unlock()

	if ok {
		b.reg.leave(room)
	}
}

// Close leaves all rooms held by this binding. Idempotent.
func (b *Binding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	rooms := make([]Room, 0, len(b.rooms))
	for room := range b.rooms {
		rooms = append(rooms, room)
	}
	b.rooms = nil
	b.mu.Unlock()

	for _, room := range rooms {
		b.reg.leave(room)
	}
}
