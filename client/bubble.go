package client

import (
	"sync"
	"time"
)

// DefaultBubbleTTL is how long a chat bubble stays visible before expiring.
const DefaultBubbleTTL = 5 * time.Second

// bubbleOffsetY lifts the bubble above the avatar's anchor point.
const bubbleOffsetY = 40.0

// BubbleManager owns at most one chat bubble per participant. A new message
// from a participant who already has a bubble replaces the text in place and
// restarts the expiry clock; it never stacks a second bubble.
type BubbleManager struct {
	mu      sync.Mutex
	surface Surface
	ttl     time.Duration
	bubbles map[int64]*bubble
}

type bubble struct {
	handle TextHandle
	timer  *time.Timer
	// gen guards against a stale expiry firing after an in-place replacement:
	// each Show bumps the generation, and the timer callback only destroys
	// the bubble if its generation still matches. The callback also checks
	// bubble identity, so a timer armed for a bubble that was force-expired
	// cannot touch a fresh bubble created for the same participant (whose
	// generation starts over at zero).
	gen uint64
}

// NewBubbleManager creates a bubble manager drawing on the given surface.
// A non-positive ttl selects DefaultBubbleTTL.
func NewBubbleManager(surface Surface, ttl time.Duration) *BubbleManager {
	if ttl <= 0 {
		ttl = DefaultBubbleTTL
	}
	return &BubbleManager{
		surface: surface,
		ttl:     ttl,
		bubbles: make(map[int64]*bubble),
	}
}

// Show displays text in the participant's bubble at the given avatar position,
// creating the bubble if none exists. The expiry timer restarts from now.
func (m *BubbleManager) Show(userID int64, text string, x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bubbles[userID]
	if ok {
		b.timer.Stop()
		b.gen++
		b.handle.SetText(text)
		b.handle.MoveTo(x, y-bubbleOffsetY)
	} else {
		b = &bubble{handle: m.surface.CreateBubble(text, x, y-bubbleOffsetY)}
		m.bubbles[userID] = b
	}

	gen := b.gen
	b.timer = time.AfterFunc(m.ttl, func() {
		m.expire(userID, b, gen)
	})
}

// MoveTo repositions the participant's bubble so it follows the avatar. It is
// a no-op if the participant has no visible bubble.
func (m *BubbleManager) MoveTo(userID int64, x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bubbles[userID]; ok {
		b.handle.MoveTo(x, y-bubbleOffsetY)
	}
}

// Expire immediately removes the participant's bubble, if any. Called when
// the participant leaves so the bubble never outlives the avatar.
func (m *BubbleManager) Expire(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bubbles[userID]; ok {
		b.timer.Stop()
		b.handle.Destroy()
		delete(m.bubbles, userID)
	}
}

// Visible reports whether the participant currently has a bubble.
func (m *BubbleManager) Visible(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bubbles[userID]
	return ok
}

func (m *BubbleManager) expire(userID int64, b *bubble, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.bubbles[userID]
	if !ok || cur != b || cur.gen != gen {
		// Replaced, force-expired, or recycled since this timer was armed.
		return
	}
	cur.handle.Destroy()
	delete(m.bubbles, userID)
}
