package asn1

import (
	"bytes"
	"math/big"
)

// Integer is the ASN.1 INTEGER type as a sign and a big-endian magnitude.
// The magnitude has no leading zero octets; zero has a nil magnitude and is
// never negative.
type Integer struct {
	Neg       bool
	Magnitude []byte
}

// NewInteger returns the Integer with the value of x.
func NewInteger(x *big.Int) Integer {
	mag := x.Bytes()
	if len(mag) == 0 {
		return Integer{}
	}
	return Integer{Neg: x.Sign() < 0, Magnitude: mag}
}

// NewInt64 returns the Integer with value v.
func NewInt64(v int64) Integer {
	return NewInteger(big.NewInt(v))
}

func (Integer) Tag() Tag { return Universal(TagInteger) }

// BigInt returns the value as a new big.Int.
func (i Integer) BigInt() *big.Int {
	x := new(big.Int).SetBytes(i.Magnitude)
	if i.Neg {
		x.Neg(x)
	}
	return x
}

// Int64 returns the value if it fits in an int64.
func (i Integer) Int64() (int64, bool) {
	x := i.BigInt()
	if !x.IsInt64() {
		return 0, false
	}
	return x.Int64(), true
}

// Sign returns -1, 0 or +1.
func (i Integer) Sign() int {
	m := trimLeadingZeros(i.Magnitude)
	switch {
	case len(m) == 0:
		return 0
	case i.Neg:
		return -1
	}
	return 1
}

// Equal reports whether i and o have the same value.
func (i Integer) Equal(o Integer) bool {
	return i.Sign() == o.Sign() && bytes.Equal(trimLeadingZeros(i.Magnitude), trimLeadingZeros(o.Magnitude))
}

// String returns the decimal representation.
func (i Integer) String() string { return i.BigInt().String() }

func (i Integer) content() ([]byte, error) {
	mag := trimLeadingZeros(i.Magnitude)
	if len(mag) == 0 {
		return []byte{0x00}, nil
	}
	if !i.Neg {
		if mag[0]&0x80 != 0 {
			return append([]byte{0x00}, mag...), nil
		}
		return bytes.Clone(mag), nil
	}
	out := twosComplement(mag)
	if out[0]&0x80 == 0 {
		out = append([]byte{0xff}, out...)
	}
	return out, nil
}

// integerContent decodes minimal two's complement content octets.
func integerContent(b []byte, off int) (Integer, error) {
	if len(b) == 0 {
		return Integer{}, decodeErr(ErrInvalidInteger, off, "empty integer")
	}
	if len(b) > 1 && (b[0] == 0x00 && b[1]&0x80 == 0 || b[0] == 0xff && b[1]&0x80 != 0) {
		return Integer{}, decodeErr(ErrInvalidInteger, off, "integer not minimally encoded")
	}
	if b[0]&0x80 == 0 {
		mag := trimLeadingZeros(b)
		if len(mag) == 0 {
			return Integer{}, nil
		}
		return Integer{Magnitude: bytes.Clone(mag)}, nil
	}
	return Integer{Neg: true, Magnitude: trimLeadingZeros(twosComplement(b))}, nil
}

// twosComplement returns the bitwise complement of b plus one, in a new
// slice of the same length.
func twosComplement(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = ^b[i]
	}
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func trimLeadingZeros(b []byte) []byte {
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	return b
}
