// Package relay implements the coordinator core: the connection registry,
// presence broadcasting, per-user call negotiation state, and media-status
// forwarding.
//
// All mutations are serialized through a single mutex, and every mutation
// delivers its own outbound messages (replies, forwards, presence broadcast)
// before the mutex is released. Ordering guarantees are therefore structural:
// one mutation is applied fully, including its broadcast, before the next is
// processed.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/peercall/coordinator/internal/metrics"
	"github.com/peercall/coordinator/internal/protocol"
)

var (
	// ErrNameTaken is returned when a sign-in names an already-registered user.
	ErrNameTaken = errors.New("name already in use")

	// ErrInvalidName is returned when a sign-in name fails validation.
	ErrInvalidName = errors.New("invalid name")

	// ErrNotRegistered is returned when an operation names an unknown user.
	ErrNotRegistered = errors.New("user not registered")
)

// Conn is the coordinator's view of one connected client: a channel that
// accepts outbound messages. Implementations must not block indefinitely;
// the signaling session bounds writes with a deadline.
type Conn interface {
	Send(msg protocol.Message) error
}

type user struct {
	conn  Conn
	media protocol.MediaStatus
	call  CallState
}

// Coordinator owns the name -> channel registry and every piece of shared
// per-user state. It is safe for concurrent use by any number of connection
// workers.
type Coordinator struct {
	log *slog.Logger
	m   *metrics.Metrics

	mu    sync.Mutex
	users map[string]*user
	conns map[Conn]struct{}
}

func NewCoordinator(logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Coordinator{
		log:   logger,
		m:     m,
		users: make(map[string]*user),
		conns: make(map[Conn]struct{}),
	}
}

// Attach registers an open channel for presence delivery and sends it the
// current roster. Presence reaches every open channel, signed in or not, so
// a client can show who is online before choosing a name.
func (c *Coordinator) Attach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn] = struct{}{}
	c.sendTo(conn, protocol.Message{
		Type:  protocol.TypePresenceList,
		Users: c.namesLocked(),
	})
}

// Detach forgets an open channel. Idempotent; called when the transport
// closes, before the user's registry entry is removed.
func (c *Coordinator) Detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn)
}

// SignIn registers name for conn. The result message (and, on success, the
// presence broadcast) is delivered before SignIn returns. The returned error
// tells the caller whether the connection is now bound to name.
func (c *Coordinator) SignIn(conn Conn, name string) error {
	if !ValidUsername(name) {
		c.m.Inc(metrics.SignInRejected)
		c.sendTo(conn, protocol.Message{
			Type:    protocol.TypeSignInResult,
			Success: ptr(false),
			Message: "Invalid username. Allowed letters, numbers, underscores, periods, hyphens, and @. Length: 3-36 characters.",
		})
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.users[name]; exists {
		c.m.Inc(metrics.SignInRejected)
		c.sendTo(conn, protocol.Message{
			Type:    protocol.TypeSignInResult,
			Success: ptr(false),
			Message: "Username already in use",
		})
		return fmt.Errorf("%w: %q", ErrNameTaken, name)
	}

	c.users[name] = &user{
		conn:  conn,
		media: protocol.DefaultMediaStatus(),
	}
	c.conns[conn] = struct{}{}
	c.m.Inc(metrics.SignInOK)
	c.log.Debug("user signed in", "name", name)

	c.sendTo(conn, protocol.Message{
		Type:    protocol.TypeSignInResult,
		Success: ptr(true),
	})
	c.broadcastPresenceLocked()
	return nil
}

// Disconnect removes name from the registry, notifying any call partner and
// rebroadcasting presence. It is idempotent: removing an absent or empty
// name is a no-op, so a racing explicit leave and transport-level close
// produce exactly one partner notification.
func (c *Coordinator) Disconnect(name string) {
	if name == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[name]
	if !ok {
		return
	}

	c.endCallLocked(name, u)
	delete(c.users, name)
	c.m.Inc(metrics.Disconnects)
	c.log.Debug("user disconnected", "name", name)
	c.broadcastPresenceLocked()
}

// CallRequest relays a call attempt from -> to.
//
// A request to an unregistered user answers the caller with
// recipientNotFound. A request to a busy user bounces with a callBusy notice
// bearing the busy user's name, leaving the existing pairing untouched.
// Mutual simultaneous requests (glare) are both accepted: the second request
// of the pair is forwarded without disturbing the recorded pairing, and each
// side proceeds via its own accept path.
func (c *Coordinator) CallRequest(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	caller, ok := c.users[from]
	if !ok {
		return
	}

	callee, ok := c.users[to]
	if !ok {
		c.m.Inc(metrics.RecipientNotFound)
		c.log.Debug("call request to unknown user", "from", from, "to", to)
		c.sendTo(caller.conn, protocol.Message{Type: protocol.TypeRecipientNotFound, Name: to})
		return
	}

	forward := protocol.Message{
		Type:              protocol.TypeCallRequest,
		From:              from,
		To:                to,
		CallerMediaStatus: &caller.media,
	}

	if caller.call.PairedWith(to) && callee.call.PairedWith(from) {
		// Glare: both users rang each other. Forward without touching state.
		c.sendTo(callee.conn, forward)
		return
	}

	if caller.call.Busy() {
		c.sendTo(caller.conn, protocol.Message{
			Type:    protocol.TypeError,
			Message: "You already have a pending or active call",
		})
		return
	}

	if callee.call.Busy() {
		c.m.Inc(metrics.BusyBounced)
		c.log.Debug("call request bounced, callee busy", "from", from, "to", to)
		c.sendTo(caller.conn, protocol.Message{Type: protocol.TypeCallBusy, Name: to})
		return
	}

	nextCaller, err := caller.call.PlaceCall(to)
	if err != nil {
		c.sendTo(caller.conn, protocol.Message{Type: protocol.TypeError, Message: err.Error()})
		return
	}
	nextCallee, err := callee.call.ReceiveCall(from)
	if err != nil {
		c.sendTo(caller.conn, protocol.Message{Type: protocol.TypeCallBusy, Name: to})
		return
	}
	caller.call = nextCaller
	callee.call = nextCallee

	c.m.Inc(metrics.CallsRequested)
	c.sendTo(callee.conn, forward)
}

// CallAccept connects both parties of a pending call and signals the
// original caller (to) to start media negotiation.
func (c *Coordinator) CallAccept(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	callee, ok := c.users[from]
	if !ok {
		return
	}

	caller, ok := c.users[to]
	if !ok {
		c.m.Inc(metrics.RecipientNotFound)
		if callee.call.PairedWith(to) {
			callee.call = callee.call.End()
		}
		c.sendTo(callee.conn, protocol.Message{Type: protocol.TypeRecipientNotFound, Name: to})
		return
	}

	nextCallee, err := callee.call.Accept(to)
	if err != nil {
		c.sendTo(callee.conn, protocol.Message{Type: protocol.TypeError, Message: err.Error()})
		return
	}
	nextCaller, err := caller.call.Accept(from)
	if err != nil {
		c.sendTo(callee.conn, protocol.Message{Type: protocol.TypeError, Message: err.Error()})
		return
	}
	callee.call = nextCallee
	caller.call = nextCaller

	c.m.Inc(metrics.CallsConnected)
	c.log.Debug("call connected", "caller", to, "callee", from)
	c.sendTo(caller.conn, protocol.Message{
		Type:              protocol.TypeCallAccept,
		From:              from,
		To:                to,
		CallerMediaStatus: &callee.media,
	})
}

// CallDecline dissolves sender's pending pairing and forwards a decline
// notice bearing sender's name to the other party.
func (c *Coordinator) CallDecline(sender string) {
	c.finishCall(sender, protocol.TypeCallDecline)
}

// CallBusy behaves like CallDecline with busy semantics: the other party is
// told sender is busy in another call.
func (c *Coordinator) CallBusy(sender string) {
	c.finishCall(sender, protocol.TypeCallBusy)
}

func (c *Coordinator) finishCall(sender string, notice protocol.MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[sender]
	if !ok || u.call.Idle() {
		return
	}

	partnerName := u.call.Partner
	u.call = u.call.End()

	partner, ok := c.users[partnerName]
	if !ok {
		return
	}
	if partner.call.PairedWith(sender) {
		partner.call = partner.call.End()
	}
	c.sendTo(partner.conn, protocol.Message{Type: notice, Name: sender})
}

// ForwardSession relays an opaque session description or connectivity
// candidate to sender's current partner. The payload is never interpreted.
func (c *Coordinator) ForwardSession(sender string, msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[sender]
	if !ok {
		return
	}

	if u.call.Idle() {
		c.m.Inc(metrics.SessionDropped)
		c.log.Warn("dropping session message, sender has no partner", "type", msg.Type, "from", sender)
		return
	}

	partnerName := u.call.Partner
	partner, ok := c.users[partnerName]
	if !ok {
		c.m.Inc(metrics.RecipientNotFound)
		c.sendTo(u.conn, protocol.Message{Type: protocol.TypeRecipientNotFound, Name: partnerName})
		return
	}

	c.m.Inc(metrics.SessionForwarded)
	c.sendTo(partner.conn, protocol.Message{
		Type:    msg.Type,
		From:    sender,
		To:      partnerName,
		Payload: msg.Payload,
	})
}

// Leave hangs up sender's current call: the partner receives exactly one
// partnerLeft notice and both sides return to idle. Idempotent when sender
// has no call, and commutes with Disconnect.
func (c *Coordinator) Leave(sender string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[sender]
	if !ok {
		return
	}
	c.endCallLocked(sender, u)
}

// UpdateStatus merges a media-status patch into sender's stored status and
// forwards each changed flag to the current partner only. The merge happens
// regardless of whether sender is in a call, so the next call request carries
// the fresh status.
func (c *Coordinator) UpdateStatus(sender string, patch protocol.StatusPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[sender]
	if !ok {
		return
	}

	prev := u.media
	u.media = patch.Apply(prev)
	c.log.Debug("media status updated", "name", sender,
		"video", u.media.Video, "audio", u.media.Audio, "screen_sharing", u.media.ScreenSharing)

	if u.call.Idle() {
		return
	}
	partner, ok := c.users[u.call.Partner]
	if !ok {
		return
	}

	type change struct {
		kind  string
		value bool
	}
	var changes []change
	if u.media.Video != prev.Video {
		changes = append(changes, change{protocol.StatusKindVideo, u.media.Video})
	}
	if u.media.Audio != prev.Audio {
		changes = append(changes, change{protocol.StatusKindAudio, u.media.Audio})
	}
	if u.media.ScreenSharing != prev.ScreenSharing {
		changes = append(changes, change{protocol.StatusKindScreenShare, u.media.ScreenSharing})
	}
	for _, ch := range changes {
		c.sendTo(partner.conn, protocol.Message{
			Type:  protocol.TypeStatusChanged,
			From:  sender,
			Kind:  ch.kind,
			Value: ptr(ch.value),
		})
	}
}

// Names returns the sorted presence list.
func (c *Coordinator) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.namesLocked()
}

// CallStateOf reports name's current call state. Exposed for tests and
// debugging endpoints.
func (c *Coordinator) CallStateOf(name string) (CallState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[name]
	if !ok {
		return CallState{}, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return u.call, nil
}

// MediaStatusOf reports name's stored media status.
func (c *Coordinator) MediaStatusOf(name string) (protocol.MediaStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[name]
	if !ok {
		return protocol.MediaStatus{}, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return u.media, nil
}

// endCallLocked dissolves u's pairing, notifying the partner once.
func (c *Coordinator) endCallLocked(name string, u *user) {
	if u.call.Idle() {
		return
	}
	partnerName := u.call.Partner
	u.call = u.call.End()

	partner, ok := c.users[partnerName]
	if !ok {
		return
	}
	if partner.call.PairedWith(name) {
		partner.call = partner.call.End()
	}
	c.sendTo(partner.conn, protocol.Message{Type: protocol.TypePartnerLeft, Name: name})
}

func (c *Coordinator) broadcastPresenceLocked() {
	msg := protocol.Message{
		Type:  protocol.TypePresenceList,
		Users: c.namesLocked(),
	}
	for conn := range c.conns {
		c.sendTo(conn, msg)
	}
}

func (c *Coordinator) namesLocked() []string {
	names := make([]string, 0, len(c.users))
	for name := range c.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sendTo delivers one message, logging failures. A failed send means the
// channel is going away; its own read loop triggers Disconnect cleanup.
func (c *Coordinator) sendTo(conn Conn, msg protocol.Message) {
	if err := conn.Send(msg); err != nil {
		c.log.Debug("send failed", "type", msg.Type, "err", err)
	}
}

func ptr[T any](v T) *T { return &v }
