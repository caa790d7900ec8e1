package asn1

import "bytes"

// BitString is the ASN.1 BIT STRING type. UnusedBits counts the trailing
// bits of the last byte that are not part of the value; they are always
// zero. An empty BitString has no unused bits.
type BitString struct {
	Bytes      []byte
	UnusedBits uint8
}

// NewBitString returns a BitString holding all bits of b.
func NewBitString(b []byte) BitString {
	return BitString{Bytes: b}
}

func (BitString) Tag() Tag { return Universal(TagBitString) }

// BitLen returns the number of bits in the value.
func (s BitString) BitLen() int {
	return len(s.Bytes)*8 - int(s.UnusedBits)
}

// At returns the bit at index i, counting from the most significant bit of
// the first byte. It returns 0 for out of range indices.
func (s BitString) At(i int) int {
	if i < 0 || i >= s.BitLen() {
		return 0
	}
	return int(s.Bytes[i/8]>>(7-uint(i%8))) & 1
}

// Octets returns the value if it is a whole number of bytes.
func (s BitString) Octets() ([]byte, bool) {
	if s.UnusedBits != 0 {
		return nil, false
	}
	return s.Bytes, true
}

func (s BitString) validate() error {
	switch {
	case s.UnusedBits > 7:
		return ErrInvalidBitStringPadding
	case len(s.Bytes) == 0 && s.UnusedBits != 0:
		return ErrInvalidBitStringPadding
	case len(s.Bytes) > 0 && s.Bytes[len(s.Bytes)-1]&(1<<s.UnusedBits-1) != 0:
		return ErrInvalidBitStringPadding
	}
	return nil
}

func (s BitString) content() ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, &EncodeError{Kind: err, Detail: "unused bits must be zero and at most 7"}
	}
	return append([]byte{s.UnusedBits}, s.Bytes...), nil
}

func bitStringContent(b []byte, off int) (BitString, error) {
	if len(b) == 0 {
		return BitString{}, decodeErr(ErrInvalidBitStringPadding, off, "missing unused bits octet")
	}
	s := BitString{UnusedBits: b[0]}
	if len(b) > 1 {
		s.Bytes = bytes.Clone(b[1:])
	}
	switch {
	case s.UnusedBits > 7:
		return BitString{}, decodeErr(ErrInvalidBitStringPadding, off, "more than 7 unused bits")
	case len(s.Bytes) == 0 && s.UnusedBits != 0:
		return BitString{}, decodeErr(ErrInvalidBitStringPadding, off, "empty bit string with unused bits")
	case s.validate() != nil:
		return BitString{}, decodeErr(ErrInvalidBitStringPadding, off, "padding must be zero")
	}
	return s, nil
}
