// Package chat normalizes and validates hall and booth chat messages at the
// relay edge before they are published to the fan-out backbone.
package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count

	// GuestNickname replaces a blank nickname on chat events.
	GuestNickname = "guest"
)

// Normalize trims surrounding whitespace and validates the result. It returns
// the trimmed text. Whitespace-only messages are rejected: an empty message
// must never reach the pub/sub backbone.
func Normalize(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("message text is empty")
	}
	if len(trimmed) > MaxMessageBytes {
		return "", fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(trimmed) > MaxTextChars {
		return "", fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(trimmed) {
		return "", fmt.Errorf("message contains invalid UTF-8")
	}
	return trimmed, nil
}

// NicknameOrGuest returns the nickname, or the guest default if it is blank.
func NicknameOrGuest(nickname string) string {
	if strings.TrimSpace(nickname) == "" {
		return GuestNickname
	}
	return nickname
}
