package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/expogarden/realtime/internal/protocol"
)

const (
	// DefaultPositionInterval is the minimum gap between outbound position
	// publishes. Movement between publishes is dropped, not queued — the
	// relay only ever needs the latest position.
	DefaultPositionInterval = 100 * time.Millisecond

	// LeaveGrace is how long Leave waits after sending leave_hall before
	// returning, giving the frame time to flush before the caller closes
	// the connection.
	LeaveGrace = 100 * time.Millisecond
)

// Identity is the participant identity declared at join and immutable for the
// hall session. A non-positive UserID denotes an anonymous guest.
type Identity struct {
	UserID    int64
	Nickname  string
	CharIndex int
}

// PresenceChannel publishes this participant's hall presence and folds inbound
// presence events into a Reconciler. Events carrying the participant's own
// userId are dropped on arrival: the relay echoes every broadcast back to the
// sender, and rendering yourself as a remote peer would duplicate the avatar.
type PresenceChannel struct {
	pub      Publisher
	identity Identity
	roster   *Reconciler

	mu       sync.Mutex
	hallID   int64
	joined   bool
	lastSent time.Time

	interval time.Duration
	now      func() time.Time // injectable clock for the throttle
}

// NewPresenceChannel creates a presence channel publishing through pub and
// rendering inbound events through roster. The roster may be nil if the caller
// only publishes.
func NewPresenceChannel(pub Publisher, identity Identity, roster *Reconciler) *PresenceChannel {
	return &PresenceChannel{
		pub:      pub,
		identity: identity,
		roster:   roster,
		interval: DefaultPositionInterval,
		now:      time.Now,
	}
}

// Bind registers the channel's inbound handler on the client. Call it before
// Join so no relayed event is missed.
func (p *PresenceChannel) Bind(c *Client) {
	c.On(protocol.TypePlayer, p.HandleMessage)
}

// Join declares the participant's identity and spawn position to the relay.
// The relay responds by replaying the hall's current occupants and
// broadcasting this participant's JOIN.
func (p *PresenceChannel) Join(hallID int64, x, y float64) error {
	err := p.pub.Send(protocol.JoinHallMsg{
		Type:      protocol.TypeJoinHall,
		HallID:    hallID,
		UserID:    p.identity.UserID,
		Nickname:  p.identity.Nickname,
		X:         x,
		Y:         y,
		CharIndex: p.identity.CharIndex,
	})
	if err != nil {
		return fmt.Errorf("client: join hall %d: %w", hallID, err)
	}

	p.mu.Lock()
	p.hallID = hallID
	p.joined = true
	p.lastSent = time.Time{}
	p.mu.Unlock()
	return nil
}

// SendPosition publishes the participant's current position, subject to the
// throttle: at most one publish per interval, intermediate positions dropped.
// It returns nil when a position is dropped — dropping is normal operation,
// not a failure. Calling without an active hall session is a silent no-op.
func (p *PresenceChannel) SendPosition(x, y float64) error {
	p.mu.Lock()
	if !p.joined {
		p.mu.Unlock()
		return nil
	}
	now := p.now()
	if !p.lastSent.IsZero() && now.Sub(p.lastSent) < p.interval {
		p.mu.Unlock()
		return nil
	}
	p.lastSent = now
	hallID := p.hallID
	p.mu.Unlock()

	return p.pub.Send(protocol.PositionMsg{
		Type:      protocol.TypePosition,
		HallID:    hallID,
		UserID:    p.identity.UserID,
		Nickname:  p.identity.Nickname,
		X:         x,
		Y:         y,
		CharIndex: p.identity.CharIndex,
	})
}

// Leave announces departure from the hall and waits up to LeaveGrace (or
// context cancellation) so the frame flushes before the caller tears the
// connection down. Leaving without having joined is a no-op.
func (p *PresenceChannel) Leave(ctx context.Context) error {
	p.mu.Lock()
	if !p.joined {
		p.mu.Unlock()
		return nil
	}
	p.joined = false
	p.hallID = 0
	p.mu.Unlock()

	if err := p.pub.Send(protocol.LeaveHallMsg{Type: protocol.TypeLeaveHall}); err != nil {
		return fmt.Errorf("client: leave hall: %w", err)
	}

	select {
	case <-time.After(LeaveGrace):
	case <-ctx.Done():
	}
	return nil
}

// HandleMessage is the inbound handler for relayed player messages. It
// decodes the wrapped presence event, drops the participant's own echoes,
// and applies the rest to the roster.
func (p *PresenceChannel) HandleMessage(raw json.RawMessage) {
	var msg protocol.PlayerMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Event.UserID == p.identity.UserID {
		return
	}
	if p.roster != nil {
		p.roster.Apply(msg.Event)
	}
}
