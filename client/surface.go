// Package client is a Go client library for the exhibition relay. It manages
// the WebSocket connection and session handshake, publishes presence and chat
// over the relay protocol, and reconciles inbound hall events into rendered
// peers on a caller-supplied drawing surface.
package client

// Handle is a drawable object on the surface. The reconciler moves and
// destroys handles as relayed events arrive; it never creates them itself.
type Handle interface {
	MoveTo(x, y float64)
	Destroy()
}

// TextHandle is a drawable object carrying mutable text, used for nickname
// labels and chat bubbles.
type TextHandle interface {
	Handle
	SetText(text string)
}

// Surface abstracts the rendering layer so the reconciliation logic stays
// independent of any particular engine. Implementations are called from the
// goroutine that drives the reconciler and must not retain the coordinates.
type Surface interface {
	// CreateAvatar places a peer avatar of the given sprite variant at (x, y).
	CreateAvatar(charIndex int, x, y float64) Handle

	// CreateLabel places a nickname label at (x, y).
	CreateLabel(text string, x, y float64) TextHandle

	// CreateBubble places a chat bubble at (x, y).
	CreateBubble(text string, x, y float64) TextHandle
}
