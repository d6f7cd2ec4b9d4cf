package client

import (
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Show creates one bubble per participant
// ---------------------------------------------------------------------------

func TestBubbleManager_ShowCreatesBubble(t *testing.T) {
	surface := &fakeSurface{}
	m := NewBubbleManager(surface, time.Minute)

	m.Show(1, "hello", 100, 200)

	if surface.bubbleCount() != 1 {
		t.Fatalf("expected 1 bubble, got %d", surface.bubbleCount())
	}
	if !m.Visible(1) {
		t.Error("expected bubble to be visible")
	}
	x, y := surface.bubbles[0].pos()
	if x != 100 || y != 200-bubbleOffsetY {
		t.Errorf("expected bubble at (100,%v), got (%v,%v)", 200-bubbleOffsetY, x, y)
	}
}

// ---------------------------------------------------------------------------
// Test: a second message replaces the text in place, never stacks
// ---------------------------------------------------------------------------

func TestBubbleManager_ShowReplacesInPlace(t *testing.T) {
	surface := &fakeSurface{}
	m := NewBubbleManager(surface, time.Minute)

	m.Show(1, "first", 0, 0)
	m.Show(1, "second", 0, 0)

	if surface.bubbleCount() != 1 {
		t.Fatalf("expected replacement to reuse the bubble, got %d bubbles", surface.bubbleCount())
	}
	if got := surface.bubbles[0].currentText(); got != "second" {
		t.Errorf("expected text %q, got %q", "second", got)
	}
}

// ---------------------------------------------------------------------------
// Test: bubbles expire after the TTL
// ---------------------------------------------------------------------------

func TestBubbleManager_ExpiresAfterTTL(t *testing.T) {
	surface := &fakeSurface{}
	m := NewBubbleManager(surface, 20*time.Millisecond)

	m.Show(1, "fleeting", 0, 0)

	deadline := time.Now().Add(2 * time.Second)
	for m.Visible(1) {
		if time.Now().After(deadline) {
			t.Fatal("bubble never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !surface.bubbles[0].gone() {
		t.Error("expected expired bubble handle to be destroyed")
	}
}

// ---------------------------------------------------------------------------
// Test: replacement restarts the expiry clock
// ---------------------------------------------------------------------------

func TestBubbleManager_ReplacementResetsTimer(t *testing.T) {
	surface := &fakeSurface{}
	m := NewBubbleManager(surface, 200*time.Millisecond)

	m.Show(1, "first", 0, 0)
	time.Sleep(120 * time.Millisecond)
	m.Show(1, "second", 0, 0)

	// The original timer would have fired by now; the replacement must not.
	time.Sleep(120 * time.Millisecond)
	if !m.Visible(1) {
		t.Fatal("expected bubble to survive past the original expiry after replacement")
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Visible(1) {
		if time.Now().After(deadline) {
			t.Fatal("replacement bubble never expired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// Test: Expire removes the bubble immediately
// ---------------------------------------------------------------------------

func TestBubbleManager_ExpireImmediate(t *testing.T) {
	surface := &fakeSurface{}
	m := NewBubbleManager(surface, time.Minute)

	m.Show(1, "gone soon", 0, 0)
	m.Expire(1)

	if m.Visible(1) {
		t.Error("expected bubble to be removed")
	}
	if !surface.bubbles[0].gone() {
		t.Error("expected bubble handle to be destroyed")
	}

	// Expiring again is a no-op.
	m.Expire(1)
}

// ---------------------------------------------------------------------------
// Test: a timer armed for a force-expired bubble cannot kill its successor
// ---------------------------------------------------------------------------

// A bubble recycled through Expire-then-Show starts its generation over at
// zero, so the generation alone cannot tell the old bubble's timer from the
// new bubble's. The expiry callback therefore checks bubble identity too.
// This drives the callback directly, the way a timer that fired just before
// Expire but acquired the lock after the new Show would.
func TestBubbleManager_StaleTimerAfterExpireShowCycle(t *testing.T) {
	surface := &fakeSurface{}
	m := NewBubbleManager(surface, time.Minute)

	m.Show(1, "first", 0, 0)
	m.mu.Lock()
	old := m.bubbles[1]
	m.mu.Unlock()

	m.Expire(1)
	m.Show(1, "second", 0, 0)

	m.expire(1, old, old.gen)

	if !m.Visible(1) {
		t.Fatal("stale timer from the expired bubble destroyed its successor")
	}
	if surface.bubbles[1].gone() {
		t.Error("expected the fresh bubble handle to stay alive")
	}
	if got := surface.bubbles[1].currentText(); got != "second" {
		t.Errorf("expected surviving text %q, got %q", "second", got)
	}
}

// In-place replacement keeps the same bubble, so there the generation is
// what invalidates the superseded timer.
func TestBubbleManager_StaleTimerAfterReplacement(t *testing.T) {
	surface := &fakeSurface{}
	m := NewBubbleManager(surface, time.Minute)

	m.Show(1, "first", 0, 0)
	m.mu.Lock()
	b := m.bubbles[1]
	m.mu.Unlock()

	m.Show(1, "second", 0, 0)

	m.expire(1, b, 0)

	if !m.Visible(1) {
		t.Fatal("superseded timer destroyed the replaced bubble")
	}
	if got := surface.bubbles[0].currentText(); got != "second" {
		t.Errorf("expected surviving text %q, got %q", "second", got)
	}
}

// ---------------------------------------------------------------------------
// Test: MoveTo follows the avatar, no-op without a bubble
// ---------------------------------------------------------------------------

func TestBubbleManager_MoveTo(t *testing.T) {
	surface := &fakeSurface{}
	m := NewBubbleManager(surface, time.Minute)

	m.MoveTo(1, 10, 10) // no bubble yet

	m.Show(1, "walking", 0, 0)
	m.MoveTo(1, 50, 60)

	x, y := surface.bubbles[0].pos()
	if x != 50 || y != 60-bubbleOffsetY {
		t.Errorf("expected bubble at (50,%v), got (%v,%v)", 60-bubbleOffsetY, x, y)
	}
}
