package asn1

import (
	"bytes"

	"github.com/sensiblebit/derkit/bytestring"
)

// Value is an ASN.1 primitive value. The set of implementations is closed;
// see the package documentation.
type Value interface {
	// Tag returns the universal tag of the value. For Any it returns the tag
	// of the captured element.
	Tag() Tag

	// content returns the DER content octets.
	content() ([]byte, error)
}

// Boolean is the ASN.1 BOOLEAN type.
type Boolean bool

func (Boolean) Tag() Tag { return Universal(TagBoolean) }

func (v Boolean) content() ([]byte, error) {
	if v {
		return []byte{0xff}, nil
	}
	return []byte{0x00}, nil
}

func booleanContent(b []byte, off int) (Boolean, error) {
	if len(b) != 1 {
		return false, decodeErr(ErrInvalidBoolean, off, "length must be 1")
	}
	switch b[0] {
	case 0x00:
		return false, nil
	case 0xff:
		return true, nil
	}
	return false, decodeErr(ErrInvalidBoolean, off, "DER requires 0x00 or 0xff")
}

// Null is the ASN.1 NULL type.
type Null struct{}

func (Null) Tag() Tag                 { return Universal(TagNull) }
func (Null) content() ([]byte, error) { return nil, nil }

func nullContent(b []byte, off int) (Null, error) {
	if len(b) != 0 {
		return Null{}, decodeErr(ErrInvalidLength, off, "NULL must be empty")
	}
	return Null{}, nil
}

// Enumerated is the ASN.1 ENUMERATED type. It shares the INTEGER encoding.
type Enumerated struct {
	Integer
}

func (Enumerated) Tag() Tag { return Universal(TagEnumerated) }

// Any captures a complete element verbatim, for ANY fields and for tags
// without a dedicated Value type.
type Any struct {
	tag       Tag
	headerLen int
	raw       []byte
}

// NewAny wraps a single complete DER element. Trailing bytes are an error.
func NewAny(der []byte) (Any, error) {
	c := bytestring.NewCursor(der)
	e, err := ReadElement(&c)
	if err != nil {
		return Any{}, err
	}
	if !c.Empty() {
		return Any{}, decodeErr(ErrLengthMismatch, c.Offset(), "trailing data after element")
	}
	return anyFromElement(e), nil
}

func anyFromElement(e Element) Any {
	return Any{tag: e.Tag, headerLen: e.HeaderLen, raw: bytes.Clone(e.Raw)}
}

func (a Any) Tag() Tag { return a.tag }

// Raw returns the full encoding: identifier, length and content octets.
func (a Any) Raw() []byte { return a.raw }

// Content returns the content octets.
func (a Any) Content() []byte { return a.raw[a.headerLen:] }

func (a Any) content() ([]byte, error) { return a.Content(), nil }

// parsePrimitive reads one element with the expected tag (implicit, or the
// universal tag number) and converts its content with f.
func parsePrimitive[T Value](c *bytestring.Cursor, implicit *Tag, number uint32, f func([]byte, int) (T, error)) (T, error) {
	want := Universal(number)
	if implicit != nil {
		want = implicit.WithConstructed(false)
	}
	var zero T
	e, err := ReadElementWithTag(c, want)
	if err != nil {
		return zero, err
	}
	return f(e.Body.Bytes(), e.Offset)
}

// ParseBoolean reads a BOOLEAN, or a value with the implicit tag if non-nil.
func ParseBoolean(c *bytestring.Cursor, implicit *Tag) (Boolean, error) {
	return parsePrimitive(c, implicit, TagBoolean, booleanContent)
}

// ParseNull reads a NULL.
func ParseNull(c *bytestring.Cursor, implicit *Tag) (Null, error) {
	return parsePrimitive(c, implicit, TagNull, nullContent)
}

// ParseInteger reads an INTEGER.
func ParseInteger(c *bytestring.Cursor, implicit *Tag) (Integer, error) {
	return parsePrimitive(c, implicit, TagInteger, integerContent)
}

// ParseEnumerated reads an ENUMERATED.
func ParseEnumerated(c *bytestring.Cursor, implicit *Tag) (Enumerated, error) {
	return parsePrimitive(c, implicit, TagEnumerated, func(b []byte, off int) (Enumerated, error) {
		i, err := integerContent(b, off)
		return Enumerated{i}, err
	})
}

// ParseBitString reads a BIT STRING.
func ParseBitString(c *bytestring.Cursor, implicit *Tag) (BitString, error) {
	return parsePrimitive(c, implicit, TagBitString, bitStringContent)
}

// ParseObjectIdentifier reads an OBJECT IDENTIFIER.
func ParseObjectIdentifier(c *bytestring.Cursor, implicit *Tag) (ObjectIdentifier, error) {
	return parsePrimitive(c, implicit, TagOID, oidContent)
}

// ParseOctetString reads an OCTET STRING.
func ParseOctetString(c *bytestring.Cursor, implicit *Tag) (String, error) {
	v, err := ParseString(c, TagOctetString, implicit)
	if err != nil {
		return String{}, err
	}
	return v.(String), nil
}

// ParseUTCTime reads a UTCTime in the strict form YYMMDDhhmm[ss]Z.
func ParseUTCTime(c *bytestring.Cursor, implicit *Tag) (Time, error) {
	return parsePrimitive(c, implicit, TagUTCTime, func(b []byte, off int) (Time, error) {
		return timeContent(TagUTCTime, b, off, false)
	})
}

// ParseUTCTimeLenient reads a UTCTime that may carry a numeric +hhmm/-hhmm
// offset instead of Z.
func ParseUTCTimeLenient(c *bytestring.Cursor, implicit *Tag) (Time, error) {
	return parsePrimitive(c, implicit, TagUTCTime, func(b []byte, off int) (Time, error) {
		return timeContent(TagUTCTime, b, off, true)
	})
}

// ParseGeneralizedTime reads a GeneralizedTime.
func ParseGeneralizedTime(c *bytestring.Cursor, implicit *Tag) (Time, error) {
	return parsePrimitive(c, implicit, TagGeneralizedTime, func(b []byte, off int) (Time, error) {
		return timeContent(TagGeneralizedTime, b, off, false)
	})
}

// ParseString reads a string type with universal tag number typ. The result
// is a String, UTF8String, BMPString or UniversalString depending on typ.
func ParseString(c *bytestring.Cursor, typ uint32, implicit *Tag) (Value, error) {
	if !isStringType(typ) {
		return nil, decodeErr(ErrInvalidSchema, c.Offset(), Universal(typ).String()+" is not a string type")
	}
	return parsePrimitive(c, implicit, typ, func(b []byte, off int) (Value, error) {
		return stringContent(typ, b, off)
	})
}

// ParseAny reads one element. Known universal primitive types are validated
// and returned as their typed Value; everything else is returned as Any.
func ParseAny(c *bytestring.Cursor) (Value, error) {
	return parseAny(c, false)
}

func parseAny(c *bytestring.Cursor, lenient bool) (Value, error) {
	mode := lengthDER
	if lenient {
		mode = lengthBER
	}
	e, _, err := readElement(c, mode)
	if err != nil {
		return nil, err
	}
	if e.Tag.Class != ClassUniversal || e.Tag.Constructed || !isKnownPrimitive(e.Tag.Number) {
		return anyFromElement(e), nil
	}
	return primitiveContent(e.Tag.Number, e.Body.Bytes(), e.Offset, lenient)
}

func isKnownPrimitive(n uint32) bool {
	switch n {
	case TagBoolean, TagInteger, TagBitString, TagNull, TagOID, TagEnumerated,
		TagUTCTime, TagGeneralizedTime:
		return true
	}
	return isStringType(n)
}

// primitiveContent converts content octets of universal type n into a Value.
func primitiveContent(n uint32, b []byte, off int, lenient bool) (Value, error) {
	switch n {
	case TagBoolean:
		return booleanContent(b, off)
	case TagInteger:
		return integerContent(b, off)
	case TagEnumerated:
		i, err := integerContent(b, off)
		return Enumerated{i}, err
	case TagBitString:
		return bitStringContent(b, off)
	case TagNull:
		return nullContent(b, off)
	case TagOID:
		return oidContent(b, off)
	case TagUTCTime, TagGeneralizedTime:
		return timeContent(n, b, off, lenient)
	}
	if isStringType(n) {
		return stringContent(n, b, off)
	}
	return nil, decodeErr(ErrInvalidSchema, off, Universal(n).String()+" has no primitive value type")
}

// Marshal appends the DER encoding of v to b. If implicit is non-nil, its
// class and number replace the universal tag. Any values are written
// verbatim and cannot be retagged.
func Marshal(b *bytestring.Builder, v Value, implicit *Tag) {
	if a, ok := v.(Any); ok {
		if implicit != nil {
			b.SetError(&EncodeError{Kind: ErrInvalidSchema, Detail: "ANY cannot be implicitly tagged"})
			return
		}
		b.AddBytes(a.raw)
		return
	}
	t := v.Tag()
	if implicit != nil {
		t = implicit.WithConstructed(false)
	}
	content, err := v.content()
	if err != nil {
		b.SetError(err)
		return
	}
	b.AddChild(AppendTag(nil, t), func(child *bytestring.Builder) {
		child.AddBytes(content)
	})
}

// MarshalValue returns the DER encoding of v under its own tag.
func MarshalValue(v Value) ([]byte, error) {
	b := bytestring.NewBuilder(nil)
	Marshal(b, v, nil)
	return b.Bytes()
}

// Equal reports whether a and b have identical DER encodings.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ea, err := MarshalValue(a)
	if err != nil {
		return false
	}
	eb, err := MarshalValue(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
