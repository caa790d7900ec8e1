package asn1

import (
	"errors"
	"strconv"

	"github.com/sensiblebit/derkit/bytestring"
)

// Error kinds. Every error returned by this package wraps exactly one of
// these and can be matched with [errors.Is].
var (
	ErrTruncated               = bytestring.ErrTruncated
	ErrInvalidTag              = errors.New("invalid tag")
	ErrWrongTag                = errors.New("unexpected tag")
	ErrInvalidLength           = errors.New("invalid length")
	ErrInvalidBoolean          = errors.New("invalid boolean")
	ErrInvalidInteger          = errors.New("invalid integer")
	ErrInvalidBitStringPadding = errors.New("invalid bit string padding")
	ErrInvalidObjectIdentifier = errors.New("invalid object identifier")
	ErrInvalidStringEncoding   = errors.New("invalid string encoding")
	ErrInvalidTime             = errors.New("invalid time")
	ErrNestedTooDeep           = errors.New("nested too deep")
	ErrFieldMissing            = errors.New("required field missing")
	ErrNoMatchingChoice        = errors.New("no matching choice")
	ErrLengthMismatch          = errors.New("length mismatch")
	ErrDefaultEncoded          = errors.New("default value encoded")
	ErrInvalidSchema           = errors.New("invalid schema")
)

// DecodeError reports a failure to decode. Offset is the absolute position in
// the input of the element that failed, or -1 if unknown. Field is the dotted
// schema path of the field being decoded, if any.
type DecodeError struct {
	Kind   error
	Offset int
	Field  string
	Detail string
}

func (e *DecodeError) Unwrap() error { return e.Kind }

func (e *DecodeError) Error() string {
	b := []byte("asn1: ")
	b = append(b, e.Kind.Error()...)
	if e.Field != "" {
		b = append(b, " in "...)
		b = append(b, e.Field...)
	}
	if e.Offset >= 0 {
		b = strconv.AppendInt(append(b, " at offset "...), int64(e.Offset), 10)
	}
	if e.Detail != "" {
		b = append(b, ": "...)
		b = append(b, e.Detail...)
	}
	return string(b)
}

// EncodeError reports a failure to encode a value or node tree.
type EncodeError struct {
	Kind   error
	Field  string
	Detail string
}

func (e *EncodeError) Unwrap() error { return e.Kind }

func (e *EncodeError) Error() string {
	s := "asn1: encoding: " + e.Kind.Error()
	if e.Field != "" {
		s += " in " + e.Field
	}
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	return s
}

func decodeErr(kind error, offset int, detail string) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Detail: detail}
}

// withField attaches a field path to err if it is a DecodeError without one.
func withField(err error, field string) error {
	var de *DecodeError
	if field != "" && errors.As(err, &de) && de.Field == "" {
		de.Field = field
	}
	return err
}
