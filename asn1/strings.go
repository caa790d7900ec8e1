package asn1

import (
	"bytes"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// String is an OCTET STRING or a restricted string type whose content is a
// run of single-byte characters. Type is the universal tag number.
type String struct {
	Type  uint32
	Bytes []byte
}

// NewString returns a String of type typ after checking its character set.
func NewString(typ uint32, b []byte) (String, error) {
	if !isByteStringType(typ) {
		return String{}, fmt.Errorf("%w: %s is not a byte string type", ErrInvalidSchema, Universal(typ))
	}
	if err := checkCharset(typ, b); err != nil {
		return String{}, fmt.Errorf("%w: %s: %v", ErrInvalidStringEncoding, Universal(typ), err)
	}
	return String{Type: typ, Bytes: b}, nil
}

// OctetString returns an OCTET STRING holding b.
func OctetString(b []byte) String { return String{Type: TagOctetString, Bytes: b} }

func (s String) Tag() Tag { return Universal(s.Type) }

func (s String) content() ([]byte, error) {
	if err := checkCharset(s.Type, s.Bytes); err != nil {
		return nil, &EncodeError{Kind: ErrInvalidStringEncoding, Detail: err.Error()}
	}
	return s.Bytes, nil
}

// UTF8String is the ASN.1 UTF8String type. It is always valid UTF-8.
type UTF8String string

func (UTF8String) Tag() Tag { return Universal(TagUTF8String) }

func (s UTF8String) content() ([]byte, error) {
	if !utf8.ValidString(string(s)) {
		return nil, &EncodeError{Kind: ErrInvalidStringEncoding, Detail: "invalid UTF-8"}
	}
	return []byte(s), nil
}

// BMPString is the ASN.1 BMPString type: big-endian UCS-2 code units.
type BMPString []byte

// NewBMPString encodes s as UCS-2. Characters outside the Basic Multilingual
// Plane cannot be represented.
func NewBMPString(s string) (BMPString, error) {
	out := make([]byte, 0, 2*len(s))
	for _, r := range s {
		if r > 0xffff || utf16.IsSurrogate(r) {
			return nil, fmt.Errorf("%w: %U is not in the BMP", ErrInvalidStringEncoding, r)
		}
		out = append(out, byte(r>>8), byte(r))
	}
	return out, nil
}

func (BMPString) Tag() Tag { return Universal(TagBMPString) }

func (s BMPString) content() ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, &EncodeError{Kind: ErrInvalidStringEncoding, Detail: "BMPString length is not a multiple of 2"}
	}
	return s, nil
}

// Runes decodes the code units.
func (s BMPString) Runes() []rune {
	out := make([]rune, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		out = append(out, rune(s[i])<<8|rune(s[i+1]))
	}
	return out
}

// UniversalString is the ASN.1 UniversalString type: big-endian UCS-4.
type UniversalString []byte

// NewUniversalString encodes s as UCS-4.
func NewUniversalString(s string) UniversalString {
	out := make([]byte, 0, 4*len(s))
	for _, r := range s {
		out = append(out, byte(r>>24), byte(r>>16), byte(r>>8), byte(r))
	}
	return out
}

func (UniversalString) Tag() Tag { return Universal(TagUniversalString) }

func (s UniversalString) content() ([]byte, error) {
	if len(s)%4 != 0 {
		return nil, &EncodeError{Kind: ErrInvalidStringEncoding, Detail: "UniversalString length is not a multiple of 4"}
	}
	return s, nil
}

// Runes decodes the code units.
func (s UniversalString) Runes() []rune {
	out := make([]rune, 0, len(s)/4)
	for i := 0; i+3 < len(s); i += 4 {
		out = append(out, rune(s[i])<<24|rune(s[i+1])<<16|rune(s[i+2])<<8|rune(s[i+3]))
	}
	return out
}

// Text returns the characters of a string-like value and reports whether v
// is a text type. Single-byte string types are decoded as Latin-1; OCTET
// STRING is not text.
func Text(v Value) ([]rune, bool) {
	switch v := v.(type) {
	case UTF8String:
		return []rune(string(v)), true
	case BMPString:
		return v.Runes(), true
	case UniversalString:
		return v.Runes(), true
	case String:
		if v.Type == TagOctetString {
			return nil, false
		}
		out := make([]rune, len(v.Bytes))
		for i, b := range v.Bytes {
			out[i] = rune(b)
		}
		return out, true
	}
	return nil, false
}

// TextString is like Text but returns a Go string, or "" and false.
func TextString(v Value) (string, bool) {
	r, ok := Text(v)
	if !ok {
		return "", false
	}
	return string(r), true
}

func isStringType(n uint32) bool {
	switch n {
	case TagUTF8String, TagBMPString, TagUniversalString:
		return true
	}
	return isByteStringType(n)
}

func isByteStringType(n uint32) bool {
	switch n {
	case TagOctetString, TagNumericString, TagPrintableString, TagT61String,
		TagVideotexString, TagIA5String, TagGraphicString, TagVisibleString,
		TagGeneralString, TagObjectDescriptor:
		return true
	}
	return false
}

// stringContent validates content octets of string type n.
func stringContent(n uint32, b []byte, off int) (Value, error) {
	switch n {
	case TagUTF8String:
		if !utf8.Valid(b) {
			return nil, decodeErr(ErrInvalidStringEncoding, off, "invalid UTF-8")
		}
		return UTF8String(b), nil
	case TagBMPString:
		if len(b)%2 != 0 {
			return nil, decodeErr(ErrInvalidStringEncoding, off, "BMPString length is not a multiple of 2")
		}
		return BMPString(bytes.Clone(b)), nil
	case TagUniversalString:
		if len(b)%4 != 0 {
			return nil, decodeErr(ErrInvalidStringEncoding, off, "UniversalString length is not a multiple of 4")
		}
		return UniversalString(bytes.Clone(b)), nil
	}
	if !isByteStringType(n) {
		return nil, decodeErr(ErrInvalidSchema, off, Universal(n).String()+" is not a string type")
	}
	if err := checkCharset(n, b); err != nil {
		return nil, decodeErr(ErrInvalidStringEncoding, off, err.Error())
	}
	return String{Type: n, Bytes: bytes.Clone(b)}, nil
}

func checkCharset(n uint32, b []byte) error {
	var ok func(byte) bool
	switch n {
	case TagPrintableString:
		ok = isPrintable
	case TagIA5String:
		ok = func(c byte) bool { return c < 0x80 }
	case TagNumericString:
		ok = func(c byte) bool { return c == ' ' || '0' <= c && c <= '9' }
	case TagVisibleString:
		ok = func(c byte) bool { return 0x20 <= c && c <= 0x7e }
	default:
		return nil
	}
	for i, c := range b {
		if !ok(c) {
			return fmt.Errorf("byte 0x%02x at index %d not allowed in %s", c, i, Universal(n))
		}
	}
	return nil
}

// isPrintable reports whether c is in the PrintableString alphabet of
// X.680 Section 41.4.
func isPrintable(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case ' ', '\'', '(', ')', '+', ',', '-', '.', '/', ':', '=', '?':
		return true
	}
	return false
}
