package asn1

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sensiblebit/derkit/bytestring"
)

func TestAppendTag(t *testing.T) {
	// WHY: Tag numbers of 31 and above switch to the high-tag-number form;
	// the boundary and multi-byte numbers must use minimal base-128.
	t.Parallel()

	tests := []struct {
		name string
		tag  Tag
		want string
	}{
		{"integer", Universal(TagInteger), "02"},
		{"sequence", Universal(TagSequence), "30"},
		{"context 0 constructed", ContextSpecific(0).WithConstructed(true), "a0"},
		{"context 30", ContextSpecific(30), "9e"},
		{"context 31", ContextSpecific(31), "9f 1f"},
		{"context 200", ContextSpecific(200), "9f 81 48"},
		{"application 1", Application(1), "41"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := AppendTag(nil, tt.tag)
			if !bytes.Equal(got, mustHex(t, tt.want)) {
				t.Errorf("AppendTag(%v) = %x, want %s", tt.tag, got, tt.want)
			}
			c := cursorOf(t, tt.want+" 00")
			e, err := ReadElement(c)
			if err != nil {
				t.Fatal(err)
			}
			if e.Tag != tt.tag {
				t.Errorf("read back tag %v, want %v", e.Tag, tt.tag)
			}
		})
	}
}

func TestReadElement_Rejects(t *testing.T) {
	// WHY: Each non-DER header form has its own rejection path; a reader that
	// silently accepts any of them breaks canonical encoding guarantees.
	t.Parallel()

	tests := []struct {
		name  string
		input string
		kind  error
	}{
		{"empty input", "", ErrTruncated},
		{"missing length", "02", ErrTruncated},
		{"content past end", "04 05 00", ErrTruncated},
		{"long form for short length", "04 81 05 0000000000", ErrInvalidLength},
		{"leading zero length octet", "04 82 00 80", ErrInvalidLength},
		{"indefinite length", "30 80 00 00", ErrInvalidLength},
		{"reserved length octet", "04 ff", ErrInvalidLength},
		{"too many length octets", "04 89 010000000000000000", ErrInvalidLength},
		{"length beyond int32", "04 85 0100000000", ErrInvalidLength},
		{"high tag form for low number", "9f 1e 00", ErrInvalidTag},
		{"high tag leading 0x80", "9f 80 1f 00", ErrInvalidTag},
		{"truncated high tag", "9f 81", ErrTruncated},
		{"end of contents", "00 00", ErrInvalidTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := cursorOf(t, tt.input)
			before := c.Len()
			_, err := ReadElement(c)
			wantErr(t, err, tt.kind)
			if c.Len() != before {
				t.Errorf("cursor advanced by %d bytes on failure", before-c.Len())
			}
		})
	}
}

func TestReadElement_LongForm(t *testing.T) {
	// WHY: Content of 128 bytes or more is the first case that needs the long
	// length form; header length and body must both be right.
	t.Parallel()
	content := bytes.Repeat([]byte{0xaa}, 200)
	der := append(mustHex(t, "04 81 c8"), content...)
	c := bytestring.NewCursor(der)

	e, err := ReadElement(&c)
	if err != nil {
		t.Fatal(err)
	}
	if e.HeaderLen != 3 {
		t.Errorf("HeaderLen = %d, want 3", e.HeaderLen)
	}
	if !bytes.Equal(e.Body.Bytes(), content) {
		t.Error("body does not match content")
	}
	if !bytes.Equal(e.Raw, der) {
		t.Error("Raw does not span the whole element")
	}
	if !c.Empty() {
		t.Errorf("%d bytes left", c.Len())
	}
}

func TestReadElementBER_NonMinimalLength(t *testing.T) {
	// WHY: The grandfathered entry point must accept non-minimal lengths but
	// still refuse indefinite lengths.
	t.Parallel()

	e, err := ReadElementBER(cursorOf(t, "04 82 00 03 616263"))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(e.Body.Bytes()); got != "abc" {
		t.Errorf("body = %q, want abc", got)
	}

	_, err = ReadElementBER(cursorOf(t, "24 80 00 00"))
	wantErr(t, err, ErrInvalidLength)
}

func TestReadElementWithTag(t *testing.T) {
	// WHY: A different tag is a WrongTag (the OPTIONAL detection case) while
	// a right tag with the wrong constructed bit is an InvalidTag.
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  Tag
		kind  error
	}{
		{"match", "04 01 00", Universal(TagOctetString), nil},
		{"wrong number", "02 01 00", Universal(TagOctetString), ErrWrongTag},
		{"wrong class", "84 01 00", Universal(TagOctetString), ErrWrongTag},
		{"constructed octet string", "24 00", Universal(TagOctetString), ErrInvalidTag},
		{"primitive sequence", "10 00", Universal(TagSequence), ErrInvalidTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := cursorOf(t, tt.input)
			_, err := ReadElementWithTag(c, tt.want)
			wantErr(t, err, tt.kind)
			if tt.kind != nil && c.Offset() != 0 {
				t.Errorf("cursor advanced to %d on failure", c.Offset())
			}
		})
	}
}

func TestPeekTag(t *testing.T) {
	// WHY: OPTIONAL detection relies on PeekTag never consuming input and never
	// failing, even on garbage.
	t.Parallel()

	c := cursorOf(t, "a0 03 02 01 05")
	if !PeekTag(c, ContextSpecific(0)) {
		t.Error("PeekTag([0]) = false, want true")
	}
	if PeekTag(c, ContextSpecific(1)) {
		t.Error("PeekTag([1]) = true, want false")
	}
	if c.Offset() != 0 {
		t.Errorf("PeekTag advanced cursor to %d", c.Offset())
	}
	if PeekTag(cursorOf(t, ""), Universal(TagInteger)) {
		t.Error("PeekTag on empty input = true")
	}
	if PeekTag(cursorOf(t, "9f"), ContextSpecific(31)) {
		t.Error("PeekTag on truncated identifier = true")
	}
}

func TestDecodeError_Offset(t *testing.T) {
	// WHY: Diagnostics need the absolute offset of the failing element, even
	// when it sits inside nested content.
	t.Parallel()
	c := cursorOf(t, "30 05 02 01 05 01 00")
	e, err := ReadElement(c)
	if err != nil {
		t.Fatal(err)
	}
	body := e.Body
	if _, err := ParseInteger(&body, nil); err != nil {
		t.Fatal(err)
	}
	_, err = ParseBoolean(&body, nil)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want *DecodeError", err)
	}
	if de.Offset != 5 {
		t.Errorf("Offset = %d, want 5", de.Offset)
	}
	if !errors.Is(err, ErrInvalidBoolean) {
		t.Errorf("got %v, want ErrInvalidBoolean", err)
	}
}
