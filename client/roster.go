package client

import (
	"sync"
	"time"

	"github.com/expogarden/realtime/internal/protocol"
)

// DefaultLerpWindow is the interpolation window for peer movement: a peer's
// rendered position converges on its latest target over roughly this long, so
// throttled updates render as smooth motion instead of teleports.
const DefaultLerpWindow = 100 * time.Millisecond

// peer is the rendered state of one remote participant.
type peer struct {
	avatar    Handle
	label     TextHandle
	nickname  string
	charIndex int

	// render is where the avatar is drawn; target is the latest relayed
	// position. Advance moves render toward target each tick.
	renderX, renderY float64
	targetX, targetY float64
}

// Reconciler folds relayed presence events into rendered peers on a Surface.
// It is keyed by userId: a JOIN spawns the peer directly at the event position
// (no tween from origin), an UPDATE retargets the interpolation, and a LEAVE
// tears the peer down along with any visible chat bubble. An UPDATE for an
// unknown peer is treated as an implicit join, so a client that missed the
// JOIN still renders the peer.
type Reconciler struct {
	mu      sync.Mutex
	surface Surface
	bubbles *BubbleManager
	peers   map[int64]*peer
	lerp    time.Duration
	lastAdv time.Time

	// selfPos, when set via TrackSelf, lets Advance keep the local
	// participant's own bubble anchored to its avatar. The local avatar is
	// not a roster peer, so without the hook nothing would move the bubble.
	selfID  int64
	selfPos func() (x, y float64, ok bool)
}

// NewReconciler creates a reconciler rendering on surface. The bubble manager
// may be nil if chat bubbles are not wanted. A non-positive lerp selects
// DefaultLerpWindow.
func NewReconciler(surface Surface, bubbles *BubbleManager, lerp time.Duration) *Reconciler {
	if lerp <= 0 {
		lerp = DefaultLerpWindow
	}
	return &Reconciler{
		surface: surface,
		bubbles: bubbles,
		peers:   make(map[int64]*peer),
		lerp:    lerp,
	}
}

// Apply folds one relayed presence event into the peer set. Events for
// participants the caller filters out (its own) must not reach Apply.
func (r *Reconciler) Apply(event protocol.PlayerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case protocol.EventJoin:
		if p, ok := r.peers[event.UserID]; ok {
			// Duplicate JOIN (e.g. a roster replay racing the broadcast):
			// snap to the newest position rather than spawning twice.
			p.renderX, p.renderY = event.X, event.Y
			p.targetX, p.targetY = event.X, event.Y
			p.avatar.MoveTo(event.X, event.Y)
			p.label.MoveTo(event.X, event.Y)
			return
		}
		r.spawn(event)

	case protocol.EventUpdate:
		p, ok := r.peers[event.UserID]
		if !ok {
			r.spawn(event)
			return
		}
		p.targetX, p.targetY = event.X, event.Y

	case protocol.EventLeave:
		p, ok := r.peers[event.UserID]
		if !ok {
			return
		}
		p.avatar.Destroy()
		p.label.Destroy()
		delete(r.peers, event.UserID)
		if r.bubbles != nil {
			r.bubbles.Expire(event.UserID)
		}
	}
}

// spawn creates the rendered objects for a new peer at the event position.
// Caller holds the lock.
func (r *Reconciler) spawn(event protocol.PlayerEvent) {
	r.peers[event.UserID] = &peer{
		avatar:    r.surface.CreateAvatar(event.CharIndex, event.X, event.Y),
		label:     r.surface.CreateLabel(event.Nickname, event.X, event.Y),
		nickname:  event.Nickname,
		charIndex: event.CharIndex,
		renderX:   event.X,
		renderY:   event.Y,
		targetX:   event.X,
		targetY:   event.Y,
	}
}

// TrackSelf registers the local participant's ID and a position hook so
// Advance can keep the participant's own chat bubble following its avatar.
func (r *Reconciler) TrackSelf(userID int64, pos func() (x, y float64, ok bool)) {
	r.mu.Lock()
	r.selfID = userID
	r.selfPos = pos
	r.mu.Unlock()
}

// Advance steps the interpolation to the given time, moving every peer's
// rendered position toward its target, and re-anchors the local
// participant's bubble when a self-position hook is registered. Call it once
// per frame; a gap of the full lerp window or more snaps peers to their
// targets.
func (r *Reconciler) Advance(now time.Time) {
	r.mu.Lock()
	r.advanceLocked(now)
	selfID, selfPos := r.selfID, r.selfPos
	r.mu.Unlock()

	// The hook is caller-supplied; invoke it without holding the lock.
	if selfPos != nil && r.bubbles != nil {
		if x, y, ok := selfPos(); ok {
			r.bubbles.MoveTo(selfID, x, y)
		}
	}
}

func (r *Reconciler) advanceLocked(now time.Time) {
	if r.lastAdv.IsZero() {
		r.lastAdv = now
		return
	}
	dt := now.Sub(r.lastAdv)
	r.lastAdv = now
	if dt <= 0 {
		return
	}

	frac := float64(dt) / float64(r.lerp)
	if frac > 1 {
		frac = 1
	}

	for userID, p := range r.peers {
		if p.renderX == p.targetX && p.renderY == p.targetY {
			continue
		}
		p.renderX += (p.targetX - p.renderX) * frac
		p.renderY += (p.targetY - p.renderY) * frac
		if frac == 1 {
			p.renderX, p.renderY = p.targetX, p.targetY
		}
		p.avatar.MoveTo(p.renderX, p.renderY)
		p.label.MoveTo(p.renderX, p.renderY)
		if r.bubbles != nil {
			r.bubbles.MoveTo(userID, p.renderX, p.renderY)
		}
	}
}

// ShowBubble displays chat text in a bubble above the peer's avatar. It is a
// no-op for unknown peers or when no bubble manager is attached.
func (r *Reconciler) ShowBubble(userID int64, text string) {
	if r.bubbles == nil {
		return
	}
	r.mu.Lock()
	p, ok := r.peers[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	x, y := p.renderX, p.renderY
	r.mu.Unlock()

	r.bubbles.Show(userID, text, x, y)
}

// ShowBubbleAt displays text in a bubble at an explicit position. Used for
// the local participant, whose avatar is not a roster peer.
func (r *Reconciler) ShowBubbleAt(userID int64, text string, x, y float64) {
	if r.bubbles == nil {
		return
	}
	r.bubbles.Show(userID, text, x, y)
}

// RemovePeer evicts a peer as if a LEAVE had arrived, so a higher-level
// reaper can drop entries that went stale without one.
func (r *Reconciler) RemovePeer(userID int64) {
	r.Apply(protocol.PlayerEvent{UserID: userID, Type: protocol.EventLeave})
}

// Has reports whether the peer is currently rendered.
func (r *Reconciler) Has(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[userID]
	return ok
}

// Position returns the peer's current rendered position.
func (r *Reconciler) Position(userID int64) (x, y float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, found := r.peers[userID]
	if !found {
		return 0, 0, false
	}
	return p.renderX, p.renderY, true
}

// Count returns the number of rendered peers.
func (r *Reconciler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
