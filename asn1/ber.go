package asn1

import (
	"github.com/sensiblebit/derkit/bytestring"
)

// BERToDER converts a single BER element to DER. Indefinite lengths become
// definite, constructed strings are flattened into one primitive string, and
// every length is re-emitted in minimal form. Input that is already DER is
// returned unchanged. SET and SET OF members are not reordered.
//
// Nesting is limited to [MaxDepth] constructed levels.
func BERToDER(ber []byte) ([]byte, error) {
	c := bytestring.NewCursor(ber)
	b := bytestring.NewBuilder(make([]byte, 0, len(ber)))
	if err := convertElement(&c, b, 0); err != nil {
		return nil, err
	}
	if !c.Empty() {
		return nil, decodeErr(ErrLengthMismatch, c.Offset(), "trailing data after element")
	}
	return b.Bytes()
}

// berChildren iterates the children of a constructed element. For definite
// lengths it walks the body; for indefinite lengths it walks the parent
// cursor up to and including the end-of-contents marker.
type berChildren struct {
	src        *bytestring.Cursor
	indefinite bool
}

func newBERChildren(c *bytestring.Cursor, e *Element, indefinite bool) berChildren {
	if indefinite {
		return berChildren{src: c, indefinite: true}
	}
	return berChildren{src: &e.Body}
}

func (it berChildren) next() (bool, error) {
	if !it.indefinite {
		return !it.src.Empty(), nil
	}
	if p, ok := it.src.Peek(2); ok && p[0] == 0 && p[1] == 0 {
		_ = it.src.Skip(2)
		return false, nil
	}
	if it.src.Empty() {
		return false, decodeErr(ErrTruncated, it.src.Offset(), "missing end-of-contents")
	}
	return true, nil
}

func readBERElement(c *bytestring.Cursor) (Element, bool, error) {
	e, indefinite, err := readElement(c, lengthIndefinite)
	if err != nil {
		return Element{}, false, err
	}
	if e.Tag.Class == ClassUniversal && e.Tag.Number == TagEndOfContents {
		return Element{}, false, decodeErr(ErrInvalidTag, e.Offset, "unexpected end-of-contents")
	}
	return e, indefinite, nil
}

func convertElement(c *bytestring.Cursor, b *bytestring.Builder, depth int) error {
	e, indefinite, err := readBERElement(c)
	if err != nil {
		return err
	}
	if !e.Tag.Constructed {
		b.AddChild(AppendTag(nil, e.Tag), func(child *bytestring.Builder) {
			child.AddBytes(e.Body.Bytes())
		})
		return nil
	}
	if depth+1 > MaxDepth {
		return decodeErr(ErrNestedTooDeep, e.Offset, "")
	}
	it := newBERChildren(c, &e, indefinite)

	if e.Tag.Class == ClassUniversal && (e.Tag.Number == TagBitString || isStringType(e.Tag.Number)) {
		var s flattened
		if err := s.collect(it, e.Tag.Number, depth+1); err != nil {
			return err
		}
		b.AddChild(AppendTag(nil, e.Tag.WithConstructed(false)), func(child *bytestring.Builder) {
			if e.Tag.Number == TagBitString {
				child.AddUint8(s.unused)
			}
			child.AddBytes(s.content)
		})
		return nil
	}

	var childErr error
	b.AddChild(AppendTag(nil, e.Tag), func(child *bytestring.Builder) {
		for {
			more, err := it.next()
			if err != nil {
				childErr = err
				return
			}
			if !more {
				return
			}
			if err := convertElement(it.src, child, depth+1); err != nil {
				childErr = err
				return
			}
		}
	})
	return childErr
}

// flattened accumulates the segments of a constructed string.
type flattened struct {
	content []byte
	unused  uint8
}

func (s *flattened) collect(it berChildren, number uint32, depth int) error {
	for {
		more, err := it.next()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		e, indefinite, err := readBERElement(it.src)
		if err != nil {
			return err
		}
		if e.Tag.Class != ClassUniversal || e.Tag.Number != number {
			return decodeErr(ErrInvalidTag, e.Offset, "segment "+e.Tag.String()+" inside constructed "+Universal(number).String())
		}
		if e.Tag.Constructed {
			if depth+1 > MaxDepth {
				return decodeErr(ErrNestedTooDeep, e.Offset, "")
			}
			if err := s.collect(newBERChildren(it.src, &e, indefinite), number, depth+1); err != nil {
				return err
			}
			continue
		}
		body := e.Body.Bytes()
		if number == TagBitString {
			if s.unused != 0 {
				return decodeErr(ErrInvalidBitStringPadding, e.Offset, "only the last segment may have unused bits")
			}
			if len(body) == 0 || body[0] > 7 {
				return decodeErr(ErrInvalidBitStringPadding, e.Offset, "invalid unused bits octet in segment")
			}
			s.unused = body[0]
			body = body[1:]
		}
		s.content = append(s.content, body...)
	}
}
