package asn1

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/sensiblebit/derkit/bytestring"
)

// mustHex decodes hex with optional spaces.
func mustHex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad test hex %q: %v", s, err)
	}
	return b
}

// cursorOf returns a cursor over the hex input.
func cursorOf(t testing.TB, s string) *bytestring.Cursor {
	t.Helper()
	c := bytestring.NewCursor(mustHex(t, s))
	return &c
}

// wantErr fails the test unless err wraps kind. A nil kind expects success.
func wantErr(t testing.TB, err, kind error) {
	t.Helper()
	switch {
	case kind == nil && err != nil:
		t.Fatalf("unexpected error: %v", err)
	case kind != nil && err == nil:
		t.Fatalf("expected error %v, got nil", kind)
	case kind != nil && !errors.Is(err, kind):
		t.Fatalf("got error %v, want %v", err, kind)
	}
}

// nested returns levels of SEQUENCE nested inside each other.
func nested(levels int) []byte {
	der := []byte{0x30, 0x00}
	for i := 1; i < levels; i++ {
		der = append([]byte{0x30, byte(len(der))}, der...)
	}
	return der
}
