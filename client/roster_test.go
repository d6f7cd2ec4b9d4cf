package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/expogarden/realtime/internal/protocol"
)

// ---------------------------------------------------------------------------
// Test fakes: recording surface and publisher
// ---------------------------------------------------------------------------

type fakeHandle struct {
	mu        sync.Mutex
	x, y      float64
	text      string
	destroyed bool
}

func (h *fakeHandle) MoveTo(x, y float64) {
	h.mu.Lock()
	h.x, h.y = x, y
	h.mu.Unlock()
}

func (h *fakeHandle) Destroy() {
	h.mu.Lock()
	h.destroyed = true
	h.mu.Unlock()
}

func (h *fakeHandle) SetText(text string) {
	h.mu.Lock()
	h.text = text
	h.mu.Unlock()
}

func (h *fakeHandle) pos() (float64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.x, h.y
}

func (h *fakeHandle) gone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

func (h *fakeHandle) currentText() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.text
}

type fakeSurface struct {
	mu      sync.Mutex
	avatars []*fakeHandle
	labels  []*fakeHandle
	bubbles []*fakeHandle
}

func (s *fakeSurface) CreateAvatar(charIndex int, x, y float64) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &fakeHandle{x: x, y: y}
	s.avatars = append(s.avatars, h)
	return h
}

func (s *fakeSurface) CreateLabel(text string, x, y float64) TextHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &fakeHandle{x: x, y: y, text: text}
	s.labels = append(s.labels, h)
	return h
}

func (s *fakeSurface) CreateBubble(text string, x, y float64) TextHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &fakeHandle{x: x, y: y, text: text}
	s.bubbles = append(s.bubbles, h)
	return h
}

func (s *fakeSurface) avatarCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.avatars)
}

func (s *fakeSurface) bubbleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bubbles)
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []interface{}
}

func (p *fakePublisher) Send(msg interface{}) error {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePublisher) last() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return nil
	}
	return p.sent[len(p.sent)-1]
}

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// ---------------------------------------------------------------------------
// Test: JOIN spawns the peer directly at the event position
// ---------------------------------------------------------------------------

func TestReconciler_JoinSpawnsAtPosition(t *testing.T) {
	surface := &fakeSurface{}
	r := NewReconciler(surface, nil, 0)

	r.Apply(protocol.PlayerEvent{
		UserID: 7, Nickname: "mina", X: 1500, Y: 1000, CharIndex: 2, Type: protocol.EventJoin,
	})

	if surface.avatarCount() != 1 {
		t.Fatalf("expected 1 avatar, got %d", surface.avatarCount())
	}
	if x, y := surface.avatars[0].pos(); x != 1500 || y != 1000 {
		t.Errorf("expected avatar at (1500,1000), got (%v,%v)", x, y)
	}
	if surface.labels[0].currentText() != "mina" {
		t.Errorf("expected label %q, got %q", "mina", surface.labels[0].currentText())
	}
	if !r.Has(7) {
		t.Error("expected peer 7 to be rendered")
	}
}

// ---------------------------------------------------------------------------
// Test: UPDATE for an unknown peer is an implicit join
// ---------------------------------------------------------------------------

func TestReconciler_UpdateUnknownPeerImplicitJoin(t *testing.T) {
	surface := &fakeSurface{}
	r := NewReconciler(surface, nil, 0)

	r.Apply(protocol.PlayerEvent{
		UserID: 9, Nickname: "joon", X: 300, Y: 400, Type: protocol.EventUpdate,
	})

	if surface.avatarCount() != 1 {
		t.Fatalf("expected implicit join to create an avatar, got %d", surface.avatarCount())
	}
	if x, y := surface.avatars[0].pos(); x != 300 || y != 400 {
		t.Errorf("expected avatar at (300,400), got (%v,%v)", x, y)
	}
}

// ---------------------------------------------------------------------------
// Test: JOIN-then-UPDATE and UPDATE-only peers converge to the same state
// ---------------------------------------------------------------------------

func TestReconciler_JoinThenUpdateMatchesUpdateOnly(t *testing.T) {
	surface := &fakeSurface{}
	r := NewReconciler(surface, nil, 100*time.Millisecond)

	r.Apply(protocol.PlayerEvent{UserID: 1, X: 10, Y: 10, Type: protocol.EventJoin})
	r.Apply(protocol.PlayerEvent{UserID: 1, X: 50, Y: 50, Type: protocol.EventUpdate})
	r.Apply(protocol.PlayerEvent{UserID: 2, X: 50, Y: 50, Type: protocol.EventUpdate})

	// Step past the full interpolation window so both peers settle.
	base := time.Now()
	r.Advance(base)
	r.Advance(base.Add(200 * time.Millisecond))

	x1, y1, _ := r.Position(1)
	x2, y2, _ := r.Position(2)
	if x1 != 50 || y1 != 50 {
		t.Errorf("expected peer 1 at (50,50), got (%v,%v)", x1, y1)
	}
	if x2 != 50 || y2 != 50 {
		t.Errorf("expected peer 2 at (50,50), got (%v,%v)", x2, y2)
	}
}

// ---------------------------------------------------------------------------
// Test: interpolation moves peers gradually toward the target
// ---------------------------------------------------------------------------

func TestReconciler_AdvanceInterpolates(t *testing.T) {
	surface := &fakeSurface{}
	r := NewReconciler(surface, nil, 100*time.Millisecond)

	r.Apply(protocol.PlayerEvent{UserID: 1, X: 0, Y: 0, Type: protocol.EventJoin})
	r.Apply(protocol.PlayerEvent{UserID: 1, X: 100, Y: 0, Type: protocol.EventUpdate})

	base := time.Now()
	r.Advance(base)
	r.Advance(base.Add(50 * time.Millisecond))

	x, _, _ := r.Position(1)
	if x <= 0 || x >= 100 {
		t.Errorf("expected partial progress between 0 and 100 after half the window, got %v", x)
	}

	r.Advance(base.Add(250 * time.Millisecond))
	x, _, _ = r.Position(1)
	if x != 100 {
		t.Errorf("expected peer to settle at 100, got %v", x)
	}
}

// ---------------------------------------------------------------------------
// Test: Advance keeps the local participant's bubble anchored via TrackSelf
// ---------------------------------------------------------------------------

func TestReconciler_AdvanceRepositionsSelfBubble(t *testing.T) {
	surface := &fakeSurface{}
	bubbles := NewBubbleManager(surface, time.Minute)
	r := NewReconciler(surface, bubbles, 0)

	selfX, selfY := 0.0, 0.0
	r.TrackSelf(42, func() (float64, float64, bool) { return selfX, selfY, true })

	r.ShowBubbleAt(42, "mine", selfX, selfY)

	// The local avatar walks away; the next tick must drag the bubble along.
	selfX, selfY = 50, 60
	r.Advance(time.Now())

	x, y := surface.bubbles[0].pos()
	if x != 50 || y != 60-bubbleOffsetY {
		t.Errorf("expected self bubble at (50,%v), got (%v,%v)", 60-bubbleOffsetY, x, y)
	}
}

// ---------------------------------------------------------------------------
// Test: LEAVE tears down avatar, label, and bubble
// ---------------------------------------------------------------------------

func TestReconciler_LeaveTearsDownEverything(t *testing.T) {
	surface := &fakeSurface{}
	bubbles := NewBubbleManager(surface, time.Minute)
	r := NewReconciler(surface, bubbles, 0)

	r.Apply(protocol.PlayerEvent{UserID: 3, Nickname: "sol", X: 5, Y: 5, Type: protocol.EventJoin})
	r.ShowBubble(3, "bye soon")

	if !bubbles.Visible(3) {
		t.Fatal("expected bubble to be visible before leave")
	}

	r.Apply(protocol.PlayerEvent{UserID: 3, Type: protocol.EventLeave})

	if r.Has(3) {
		t.Error("expected peer 3 to be removed")
	}
	if !surface.avatars[0].gone() {
		t.Error("expected avatar to be destroyed")
	}
	if !surface.labels[0].gone() {
		t.Error("expected label to be destroyed")
	}
	if bubbles.Visible(3) {
		t.Error("expected bubble to be expired with the peer")
	}
}

// ---------------------------------------------------------------------------
// Test: LEAVE for an unknown peer is a no-op
// ---------------------------------------------------------------------------

func TestReconciler_LeaveUnknownPeerNoop(t *testing.T) {
	surface := &fakeSurface{}
	r := NewReconciler(surface, nil, 0)

	r.Apply(protocol.PlayerEvent{UserID: 99, Type: protocol.EventLeave})

	if r.Count() != 0 {
		t.Errorf("expected no peers, got %d", r.Count())
	}
}

// ---------------------------------------------------------------------------
// Test: duplicate JOIN snaps to the newest position without a second avatar
// ---------------------------------------------------------------------------

func TestReconciler_DuplicateJoinSnaps(t *testing.T) {
	surface := &fakeSurface{}
	r := NewReconciler(surface, nil, 0)

	r.Apply(protocol.PlayerEvent{UserID: 4, X: 10, Y: 10, Type: protocol.EventJoin})
	r.Apply(protocol.PlayerEvent{UserID: 4, X: 70, Y: 80, Type: protocol.EventJoin})

	if surface.avatarCount() != 1 {
		t.Fatalf("expected a single avatar after duplicate join, got %d", surface.avatarCount())
	}
	x, y, _ := r.Position(4)
	if x != 70 || y != 80 {
		t.Errorf("expected snap to (70,80), got (%v,%v)", x, y)
	}
}
