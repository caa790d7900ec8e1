// Package asn1 implements strict DER parsing and serialization of ASN.1 values
// as defined in [Rec. ITU-T X.690], a tolerant BER-to-DER converter, and a
// schema-driven codec for composite types (SEQUENCE, SEQUENCE OF, SET OF,
// CHOICE, ANY DEFINED BY) with implicit and explicit tagging.
//
// # Values
//
// Every primitive ASN.1 content type is represented by a [Value]. The set of
// implementations is closed: [Boolean], [Integer], [Enumerated], [BitString],
// [ObjectIdentifier], [String], [UTF8String], [BMPString], [UniversalString],
// [Time], [Null] and [Any]. Use a type switch to inspect a Value.
//
// Primitive parsers read one complete TLV from a [bytestring.Cursor] and
// validate it against DER: minimal lengths, minimal two's complement INTEGERs,
// zero BIT STRING padding, minimal OBJECT IDENTIFIER arcs, the character sets
// of restricted string types and the fixed grammar of UTCTime and
// GeneralizedTime. BER is only accepted by [BERToDER] and by schema fields
// marked [Lenient].
//
// # Schemas
//
// Composite types are described by a static [Schema] tree and interpreted by
// [Decode] and [Encode]. Decoding produces a tree of [Node] values that keeps
// the exact bytes each constructed node was decoded from, so signatures can be
// checked over the original encoding.
//
// Nesting of SEQUENCE, SET OF, SEQUENCE OF and CHOICE during decoding is
// limited to [MaxDepth] levels.
//
// [Rec. ITU-T X.690]: https://www.itu.int/rec/T-REC-X.690
package asn1

import (
	"strconv"
)

// Class holds the class part of an ASN.1 tag.
type Class uint8

// Tag classes, in the order of their two-bit encoding.
const (
	ClassUniversal Class = iota
	ClassApplication
	ClassContextSpecific
	ClassPrivate
)

// String returns the ASN.1 notation keyword for c.
func (c Class) String() string {
	switch c {
	case ClassUniversal:
		return "UNIVERSAL"
	case ClassApplication:
		return "APPLICATION"
	case ClassContextSpecific:
		return "CONTEXT"
	case ClassPrivate:
		return "PRIVATE"
	}
	return "Class(" + strconv.Itoa(int(c)) + ")"
}

// Tag is an ASN.1 identifier: class, constructed bit and tag number.
type Tag struct {
	Class       Class
	Constructed bool
	Number      uint32
}

// Universal tag numbers from Rec. ITU-T X.680, Section 8, Table 1.
const (
	TagEndOfContents    uint32 = 0
	TagBoolean          uint32 = 1
	TagInteger          uint32 = 2
	TagBitString        uint32 = 3
	TagOctetString      uint32 = 4
	TagNull             uint32 = 5
	TagOID              uint32 = 6
	TagObjectDescriptor uint32 = 7
	TagExternal         uint32 = 8
	TagReal             uint32 = 9
	TagEnumerated       uint32 = 10
	TagUTF8String       uint32 = 12
	TagSequence         uint32 = 16
	TagSet              uint32 = 17
	TagNumericString    uint32 = 18
	TagPrintableString  uint32 = 19
	TagT61String        uint32 = 20
	TagVideotexString   uint32 = 21
	TagIA5String        uint32 = 22
	TagUTCTime          uint32 = 23
	TagGeneralizedTime  uint32 = 24
	TagGraphicString    uint32 = 25
	TagVisibleString    uint32 = 26
	TagGeneralString    uint32 = 27
	TagUniversalString  uint32 = 28
	TagBMPString        uint32 = 30
)

// Universal returns the universal tag with number n. SEQUENCE and SET are
// returned with the constructed bit set, all other numbers without.
func Universal(n uint32) Tag {
	return Tag{Class: ClassUniversal, Number: n, Constructed: n == TagSequence || n == TagSet}
}

// ContextSpecific returns the primitive context-specific tag [n].
func ContextSpecific(n uint32) Tag {
	return Tag{Class: ClassContextSpecific, Number: n}
}

// Application returns the primitive application tag [APPLICATION n].
func Application(n uint32) Tag {
	return Tag{Class: ClassApplication, Number: n}
}

// WithConstructed returns t with the constructed bit set to c.
func (t Tag) WithConstructed(c bool) Tag {
	t.Constructed = c
	return t
}

// Matches reports whether t and o have the same class and number. The
// constructed bit is ignored.
func (t Tag) Matches(o Tag) bool {
	return t.Class == o.Class && t.Number == o.Number
}

// String returns t in a notation close to ASN.1: context-specific tags as
// [n], others prefixed by their class, with /c for constructed encodings.
func (t Tag) String() string {
	var s string
	if t.Class == ClassContextSpecific {
		s = "[" + strconv.FormatUint(uint64(t.Number), 10) + "]"
	} else if t.Class == ClassUniversal {
		if name, ok := universalNames[t.Number]; ok {
			s = name
		} else {
			s = "[UNIVERSAL " + strconv.FormatUint(uint64(t.Number), 10) + "]"
		}
	} else {
		s = "[" + t.Class.String() + " " + strconv.FormatUint(uint64(t.Number), 10) + "]"
	}
	if t.Constructed {
		s += "/c"
	}
	return s
}

var universalNames = map[uint32]string{
	TagEndOfContents:    "EOC",
	TagBoolean:          "BOOLEAN",
	TagInteger:          "INTEGER",
	TagBitString:        "BIT STRING",
	TagOctetString:      "OCTET STRING",
	TagNull:             "NULL",
	TagOID:              "OBJECT IDENTIFIER",
	TagObjectDescriptor: "ObjectDescriptor",
	TagExternal:         "EXTERNAL",
	TagReal:             "REAL",
	TagEnumerated:       "ENUMERATED",
	TagUTF8String:       "UTF8String",
	TagSequence:         "SEQUENCE",
	TagSet:              "SET",
	TagNumericString:    "NumericString",
	TagPrintableString:  "PrintableString",
	TagT61String:        "T61String",
	TagVideotexString:   "VideotexString",
	TagIA5String:        "IA5String",
	TagUTCTime:          "UTCTime",
	TagGeneralizedTime:  "GeneralizedTime",
	TagGraphicString:    "GraphicString",
	TagVisibleString:    "VisibleString",
	TagGeneralString:    "GeneralString",
	TagUniversalString:  "UniversalString",
	TagBMPString:        "BMPString",
}

// AppendTag appends the DER identifier octets of t to dst. Tag numbers below
// 31 use the low-tag-number form, larger numbers the minimal base-128
// high-tag-number form.
func AppendTag(dst []byte, t Tag) []byte {
	b := byte(t.Class) << 6
	if t.Constructed {
		b |= 0x20
	}
	if t.Number < 0x1f {
		return append(dst, b|byte(t.Number))
	}
	dst = append(dst, b|0x1f)
	return appendBase128(dst, uint64(t.Number))
}

// appendBase128 appends n as a minimal base-128 number with continuation bits.
func appendBase128(dst []byte, n uint64) []byte {
	l := 1
	for i := n >> 7; i > 0; i >>= 7 {
		l++
	}
	for i := l - 1; i >= 0; i-- {
		b := byte(n>>(7*uint(i))) & 0x7f
		if i > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}
