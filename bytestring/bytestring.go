// Package bytestring provides a read cursor and a growable builder over byte
// buffers. It has no knowledge of ASN.1 beyond the DER length octets written
// when a child scope is flushed into its parent.
//
// Both types are thin wrappers around [cryptobyte.String] and
// [cryptobyte.Builder]. The cursor additionally tracks the absolute offset of
// its read position so that callers can report where in the original input a
// failure occurred.
package bytestring

import (
	"errors"
	"math"

	"golang.org/x/crypto/cryptobyte"
)

var (
	// ErrTruncated is returned when fewer bytes remain than were requested.
	ErrTruncated = errors.New("truncated input")

	// ErrOutOfMemory is the single allocation failure class. It is returned
	// when a child scope grows beyond the addressable size.
	ErrOutOfMemory = errors.New("out of memory")
)

// Cursor is a read-only view over a buffer it does not own. Reads advance
// the cursor; a failed read leaves it unchanged.
type Cursor struct {
	s    cryptobyte.String
	base int // absolute offset of s[0] in the top-level input
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) Cursor {
	return Cursor{s: cryptobyte.String(b)}
}

// Len returns the number of unread bytes.
func (c *Cursor) Len() int { return len(c.s) }

// Empty reports whether all bytes have been consumed.
func (c *Cursor) Empty() bool { return c.s.Empty() }

// Offset returns the absolute offset of the read position.
func (c *Cursor) Offset() int { return c.base }

// Bytes returns the unread bytes without consuming them. The slice aliases
// the underlying buffer.
func (c *Cursor) Bytes() []byte { return c.s }

// ReadUint8 reads one byte.
func (c *Cursor) ReadUint8() (byte, error) {
	var b uint8
	if !c.s.ReadUint8(&b) {
		return 0, ErrTruncated
	}
	c.base++
	return b, nil
}

// PeekUint8 returns the next byte without consuming it.
func (c *Cursor) PeekUint8() (byte, bool) {
	if c.s.Empty() {
		return 0, false
	}
	return c.s[0], true
}

// Peek returns the next n bytes without consuming them.
func (c *Cursor) Peek(n int) ([]byte, bool) {
	if n < 0 || n > len(c.s) {
		return nil, false
	}
	return c.s[:n], true
}

// ReadBytes reads n bytes. The returned slice aliases the underlying buffer.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrTruncated
	}
	var out []byte
	if !c.s.ReadBytes(&out, n) {
		return nil, ErrTruncated
	}
	c.base += n
	return out, nil
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || !c.s.Skip(n) {
		return ErrTruncated
	}
	c.base += n
	return nil
}

// Sub splits off the next n bytes as a new cursor that reports offsets
// relative to the same top-level input. c is advanced past them.
func (c *Cursor) Sub(n int) (Cursor, error) {
	start := c.base
	b, err := c.ReadBytes(n)
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{s: cryptobyte.String(b), base: start}, nil
}

// Builder is an owned, growable byte buffer. Errors latch: once an operation
// fails, later operations are no-ops and [Builder.Bytes] reports the first
// error.
type Builder struct {
	b *cryptobyte.Builder
}

// NewBuilder returns a builder that appends to buf.
func NewBuilder(buf []byte) *Builder {
	return &Builder{b: cryptobyte.NewBuilder(buf)}
}

// AddUint8 appends one byte.
func (b *Builder) AddUint8(v byte) { b.b.AddUint8(v) }

// AddBytes appends v.
func (b *Builder) AddBytes(v []byte) { b.b.AddBytes(v) }

// SetError latches err. Only the first error is kept.
func (b *Builder) SetError(err error) {
	if _, prev := b.b.Bytes(); prev == nil {
		b.b.SetError(err)
	}
}

// Bytes returns the committed bytes, or the first latched error.
func (b *Builder) Bytes() ([]byte, error) { return b.b.Bytes() }

// AddChild opens a child scope. The bytes written by f are not visible in b
// until f returns, at which point identifier, the minimal DER length of the
// child content and the content itself are appended to b. An error latched in
// the child is propagated to b.
func (b *Builder) AddChild(identifier []byte, f func(child *Builder)) {
	child := NewBuilder(nil)
	f(child)
	content, err := child.Bytes()
	if err != nil {
		b.SetError(err)
		return
	}
	if uint64(len(content)) > math.MaxInt32 {
		b.SetError(ErrOutOfMemory)
		return
	}
	b.AddBytes(identifier)
	b.AddBytes(AppendLength(nil, len(content)))
	b.AddBytes(content)
}

// AppendLength appends the minimal DER encoding of the length n to dst. Short
// form is used below 128, otherwise long form with the minimum number of
// length octets.
func AppendLength(dst []byte, n int) []byte {
	if n < 0x80 {
		return append(dst, byte(n))
	}
	var num byte
	for v := uint64(n); v > 0; v >>= 8 {
		num++
	}
	dst = append(dst, 0x80|num)
	for i := int(num) - 1; i >= 0; i-- {
		dst = append(dst, byte(uint64(n)>>(8*uint(i))))
	}
	return dst
}
