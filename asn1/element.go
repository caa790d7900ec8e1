package asn1

import (
	"math"

	"github.com/sensiblebit/derkit/bytestring"
)

// Element is one tag-length-value construct. Body is a cursor over the
// content octets; Raw spans identifier, length and content.
type Element struct {
	Tag       Tag
	Offset    int // absolute offset of the identifier octets
	HeaderLen int
	Body      bytestring.Cursor
	Raw       []byte
}

// lengthMode selects how strictly length octets are checked.
type lengthMode uint8

const (
	lengthDER        lengthMode = iota // minimal definite lengths only
	lengthBER                          // definite lengths, non-minimal forms allowed
	lengthIndefinite                   // like lengthBER, plus indefinite length
)

// ReadElement reads one DER element from c. On failure c is not advanced.
func ReadElement(c *bytestring.Cursor) (Element, error) {
	e, _, err := readElement(c, lengthDER)
	return e, err
}

// ReadElementBER is like ReadElement but tolerates non-minimal length
// encodings. It still rejects the indefinite length form. It exists for
// grandfathered fields only.
func ReadElementBER(c *bytestring.Cursor) (Element, error) {
	e, _, err := readElement(c, lengthBER)
	return e, err
}

// ReadElementWithTag reads one element and checks that its class and number
// equal want (ErrWrongTag) and that its constructed bit agrees (ErrInvalidTag).
func ReadElementWithTag(c *bytestring.Cursor, want Tag) (Element, error) {
	return readElementWithTag(c, want, false)
}

func readElementWithTag(c *bytestring.Cursor, want Tag, lenient bool) (Element, error) {
	start := c.Offset()
	d := *c
	got, err := readTag(&d)
	if err != nil {
		return Element{}, err
	}
	if !got.Matches(want) {
		return Element{}, decodeErr(ErrWrongTag, start, "got "+got.String()+", want "+want.String())
	}
	if got.Constructed != want.Constructed {
		return Element{}, decodeErr(ErrInvalidTag, start, "constructed bit of "+got.String()+" does not match "+want.String())
	}
	mode := lengthDER
	if lenient {
		mode = lengthBER
	}
	e, _, err := readElement(c, mode)
	return e, err
}

// PeekTag reports whether the next element in c has the class and number of
// t. It never advances c and never fails: malformed or missing identifier
// octets simply do not match.
func PeekTag(c *bytestring.Cursor, t Tag) bool {
	got, ok := peekTag(c)
	return ok && got.Matches(t)
}

func peekTag(c *bytestring.Cursor) (Tag, bool) {
	d := *c
	t, err := readTag(&d)
	return t, err == nil
}

func readElement(c *bytestring.Cursor, mode lengthMode) (Element, bool, error) {
	d := *c
	start := d.Offset()
	t, err := readTag(&d)
	if err != nil {
		return Element{}, false, err
	}
	if mode != lengthIndefinite && t.Class == ClassUniversal && t.Number == TagEndOfContents {
		return Element{}, false, decodeErr(ErrInvalidTag, start, "end-of-contents outside indefinite-length encoding")
	}
	length, indefinite, err := readLength(&d, mode)
	if err != nil {
		return Element{}, false, err
	}
	if indefinite && !t.Constructed {
		return Element{}, false, decodeErr(ErrInvalidLength, start, "indefinite length on primitive encoding")
	}
	headerLen := d.Offset() - start
	e := Element{Tag: t, Offset: start, HeaderLen: headerLen}
	if indefinite {
		// The caller walks the content up to the end-of-contents marker.
		e.Body = d
		*c = d
		return e, true, nil
	}
	body, err := d.Sub(length)
	if err != nil {
		return Element{}, false, decodeErr(ErrTruncated, start, "content extends past end of input")
	}
	e.Body = body
	e.Raw = c.Bytes()[:headerLen+length]
	*c = d
	return e, false, nil
}

func readTag(c *bytestring.Cursor) (Tag, error) {
	start := c.Offset()
	b, err := c.ReadUint8()
	if err != nil {
		return Tag{}, decodeErr(ErrTruncated, start, "missing identifier")
	}
	t := Tag{Class: Class(b >> 6), Constructed: b&0x20 != 0, Number: uint32(b & 0x1f)}
	if t.Number != 0x1f {
		return t, nil
	}
	var n uint32
	for i := 0; ; i++ {
		b, err := c.ReadUint8()
		if err != nil {
			return Tag{}, decodeErr(ErrTruncated, start, "truncated high tag number")
		}
		if i == 0 && b == 0x80 {
			return Tag{}, decodeErr(ErrInvalidTag, start, "high tag number not minimally encoded")
		}
		if n > math.MaxUint32>>7 {
			return Tag{}, decodeErr(ErrInvalidTag, start, "tag number too large")
		}
		n = n<<7 | uint32(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	if n < 0x1f {
		return Tag{}, decodeErr(ErrInvalidTag, start, "high tag number form used for low tag number")
	}
	t.Number = n
	return t, nil
}

func readLength(c *bytestring.Cursor, mode lengthMode) (length int, indefinite bool, err error) {
	start := c.Offset()
	b, err := c.ReadUint8()
	if err != nil {
		return 0, false, decodeErr(ErrTruncated, start, "missing length")
	}
	switch {
	case b < 0x80:
		return int(b), false, nil
	case b == 0x80:
		if mode != lengthIndefinite {
			return 0, false, decodeErr(ErrInvalidLength, start, "indefinite length not allowed")
		}
		return 0, true, nil
	case b == 0xff:
		return 0, false, decodeErr(ErrInvalidLength, start, "reserved length octet")
	}
	n := int(b & 0x7f)
	if n > 8 {
		return 0, false, decodeErr(ErrInvalidLength, start, "too many length octets")
	}
	lb, err := c.ReadBytes(n)
	if err != nil {
		return 0, false, decodeErr(ErrTruncated, start, "truncated length")
	}
	if mode == lengthDER && lb[0] == 0 {
		return 0, false, decodeErr(ErrInvalidLength, start, "length has leading zero octet")
	}
	var v uint64
	for _, x := range lb {
		if v > math.MaxUint64>>8 {
			return 0, false, decodeErr(ErrInvalidLength, start, "length overflows")
		}
		v = v<<8 | uint64(x)
	}
	if v > math.MaxInt32 {
		return 0, false, decodeErr(ErrInvalidLength, start, "length exceeds addressable size")
	}
	if mode == lengthDER && v < 0x80 {
		return 0, false, decodeErr(ErrInvalidLength, start, "long form used for short length")
	}
	return int(v), false, nil
}

// appendHeader appends identifier and minimal length octets.
func appendHeader(dst []byte, t Tag, length int) []byte {
	dst = AppendTag(dst, t)
	return bytestring.AppendLength(dst, length)
}
