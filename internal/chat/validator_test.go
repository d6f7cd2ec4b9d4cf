package chat

import (
	"strings"
	"testing"
)

func TestNormalize_TrimsWhitespace(t *testing.T) {
	got, err := Normalize("  hello hall  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello hall" {
		t.Errorf("expected %q, got %q", "hello hall", got)
	}
}

func TestNormalize_RejectsEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n", "   "} {
		if _, err := Normalize(input); err == nil {
			t.Errorf("expected error for input %q, got nil", input)
		}
	}
}

func TestNormalize_RejectsOversized(t *testing.T) {
	if _, err := Normalize(strings.Repeat("a", MaxMessageBytes+1)); err == nil {
		t.Error("expected error for message over byte limit")
	}

	// Multibyte runes: under the byte limit but over the character limit.
	if _, err := Normalize(strings.Repeat("안", MaxTextChars+1)); err == nil {
		t.Error("expected error for message over character limit")
	}
}

func TestNormalize_RejectsInvalidUTF8(t *testing.T) {
	if _, err := Normalize("hello\xff\xfe"); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestNormalize_AllowsUnicode(t *testing.T) {
	got, err := Normalize("안녕하세요 👋")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "안녕하세요 👋" {
		t.Errorf("unexpected normalization: %q", got)
	}
}

func TestNicknameOrGuest(t *testing.T) {
	if got := NicknameOrGuest(""); got != GuestNickname {
		t.Errorf("expected %q for blank nickname, got %q", GuestNickname, got)
	}
	if got := NicknameOrGuest("   "); got != GuestNickname {
		t.Errorf("expected %q for whitespace nickname, got %q", GuestNickname, got)
	}
	if got := NicknameOrGuest("mina"); got != "mina" {
		t.Errorf("expected %q, got %q", "mina", got)
	}
}
