package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/expogarden/realtime/internal/protocol"
)

// maxChatChars mirrors the relay-side character limit so an oversized message
// fails locally instead of round-tripping for an error.
const maxChatChars = 2000

// HallChatChannel sends and receives hall-scoped chat. Inbound events include
// the participant's own messages echoed back by the relay; OnMessage receives
// all of them so the transcript renders sends and receives uniformly. When a
// roster is attached, each non-self message also pops a bubble over the
// speaker's avatar.
type HallChatChannel struct {
	pub      Publisher
	identity Identity
	roster   *Reconciler

	// OnMessage is invoked from the read loop for every relayed hall chat
	// event. Nil is allowed.
	OnMessage func(event protocol.HallChatEvent)

	// SelfPosition reports the local avatar's current position so Send can
	// pop the participant's own bubble immediately, without waiting for the
	// relay echo. Nil disables the local bubble. Register the same hook with
	// Reconciler.TrackSelf so the bubble keeps following the avatar.
	SelfPosition func() (x, y float64, ok bool)
}

// NewHallChatChannel creates a hall chat channel publishing through pub. The
// roster may be nil if speaker bubbles are not wanted.
func NewHallChatChannel(pub Publisher, identity Identity, roster *Reconciler) *HallChatChannel {
	return &HallChatChannel{pub: pub, identity: identity, roster: roster}
}

// Bind registers the channel's inbound handler on the client.
func (h *HallChatChannel) Bind(c *Client) {
	c.On(protocol.TypeHallChat, h.HandleMessage)
}

// Send publishes a chat message to the hall. The text is trimmed first; a
// message that trims to empty is silently dropped. Oversized messages return
// an error without being sent. On a successful publish the participant's own
// bubble is shown locally (the transcript entry still comes from the relay
// echo, so it is never duplicated).
func (h *HallChatChannel) Send(hallID int64, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len([]rune(trimmed)) > maxChatChars {
		return fmt.Errorf("client: message exceeds %d character limit", maxChatChars)
	}
	err := h.pub.Send(protocol.HallChatMsg{
		Type:     protocol.TypeHallChat,
		HallID:   hallID,
		UserID:   h.identity.UserID,
		Nickname: h.identity.Nickname,
		Message:  trimmed,
	})
	if err != nil {
		return err
	}

	if h.roster != nil && h.SelfPosition != nil {
		if x, y, ok := h.SelfPosition(); ok {
			h.roster.ShowBubbleAt(h.identity.UserID, trimmed, x, y)
		}
	}
	return nil
}

// HandleMessage is the inbound handler for relayed hall chat messages.
func (h *HallChatChannel) HandleMessage(raw json.RawMessage) {
	var msg protocol.ServerHallChatMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if h.roster != nil && msg.Event.UserID != h.identity.UserID {
		h.roster.ShowBubble(msg.Event.UserID, msg.Event.Message)
	}
	if h.OnMessage != nil {
		h.OnMessage(msg.Event)
	}
}

// BoothChatChannel sends and receives booth-scoped chat. Booth rooms carry
// JOIN announcements in addition to messages; OnJoin fires for those.
type BoothChatChannel struct {
	pub      Publisher
	identity Identity

	// OnMessage is invoked for every relayed booth chat message. Nil is allowed.
	OnMessage func(event protocol.BoothChatEvent)

	// OnJoin is invoked when a participant joins the booth room. Nil is allowed.
	OnJoin func(event protocol.BoothChatEvent)
}

// NewBoothChatChannel creates a booth chat channel publishing through pub.
func NewBoothChatChannel(pub Publisher, identity Identity) *BoothChatChannel {
	return &BoothChatChannel{pub: pub, identity: identity}
}

// Bind registers the channel's inbound handler on the client.
func (b *BoothChatChannel) Bind(c *Client) {
	c.On(protocol.TypeBoothChat, b.HandleMessage)
}

// Join subscribes to a booth chat room; the relay announces the join to the
// room's other members.
func (b *BoothChatChannel) Join(boothID int64) error {
	return b.pub.Send(protocol.JoinBoothMsg{
		Type:     protocol.TypeJoinBooth,
		BoothID:  boothID,
		UserID:   b.identity.UserID,
		Nickname: b.identity.Nickname,
	})
}

// Send publishes a chat message to the booth room. Trim-to-empty messages are
// silently dropped; oversized messages return an error without being sent.
func (b *BoothChatChannel) Send(boothID int64, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len([]rune(trimmed)) > maxChatChars {
		return fmt.Errorf("client: message exceeds %d character limit", maxChatChars)
	}
	return b.pub.Send(protocol.BoothChatMsg{
		Type:     protocol.TypeBoothChat,
		BoothID:  boothID,
		UserID:   b.identity.UserID,
		Nickname: b.identity.Nickname,
		Message:  trimmed,
	})
}

// Leave unsubscribes from the booth chat room.
func (b *BoothChatChannel) Leave() error {
	return b.pub.Send(protocol.LeaveBoothMsg{Type: protocol.TypeLeaveBooth})
}

// HandleMessage is the inbound handler for relayed booth chat messages.
func (b *BoothChatChannel) HandleMessage(raw json.RawMessage) {
	var msg protocol.ServerBoothChatMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	switch msg.Event.Type {
	case protocol.EventJoin:
		if b.OnJoin != nil {
			b.OnJoin(msg.Event)
		}
	case protocol.EventChat:
		if b.OnMessage != nil {
			b.OnMessage(msg.Event)
		}
	}
}
