package asn1

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ObjectIdentifier is the ASN.1 OBJECT IDENTIFIER type, held as its DER
// content octets. A valid value is non-empty, every arc is minimally encoded
// base-128, and the last octet has no continuation bit.
type ObjectIdentifier []byte

// NewObjectIdentifier encodes arcs. There must be at least two arcs, the
// first must be 0, 1 or 2, and when it is 0 or 1 the second must be below 40.
func NewObjectIdentifier(arcs ...uint64) (ObjectIdentifier, error) {
	if len(arcs) < 2 {
		return nil, fmt.Errorf("%w: need at least two arcs", ErrInvalidObjectIdentifier)
	}
	if arcs[0] > 2 || arcs[0] < 2 && arcs[1] >= 40 {
		return nil, fmt.Errorf("%w: invalid leading arcs %d.%d", ErrInvalidObjectIdentifier, arcs[0], arcs[1])
	}
	if arcs[1] > math.MaxUint64-80 {
		return nil, fmt.Errorf("%w: second arc too large", ErrInvalidObjectIdentifier)
	}
	out := appendBase128(nil, 40*arcs[0]+arcs[1])
	for _, a := range arcs[2:] {
		out = appendBase128(out, a)
	}
	return out, nil
}

// ParseOID parses a dotted-decimal object identifier such as "2.5.4.3".
func ParseOID(s string) (ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	arcs := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: arc %q: %v", ErrInvalidObjectIdentifier, p, err)
		}
		arcs[i] = v
	}
	return NewObjectIdentifier(arcs...)
}

// MustOID is like ParseOID but panics on error. It is meant for
// package-level tables of well-known identifiers.
func MustOID(s string) ObjectIdentifier {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

func (ObjectIdentifier) Tag() Tag { return Universal(TagOID) }

// Equal reports whether o and p encode the same identifier.
func (o ObjectIdentifier) Equal(p ObjectIdentifier) bool { return bytes.Equal(o, p) }

// Arcs returns the numeric arcs. It fails if an arc does not fit in a uint64.
func (o ObjectIdentifier) Arcs() ([]uint64, error) {
	var arcs []uint64
	for i, sub := range o.subidentifiers() {
		if len(sub) > 10 || len(sub) == 10 && sub[0]&0x7f > 1 {
			return nil, fmt.Errorf("%w: arc %d does not fit in 64 bits", ErrInvalidObjectIdentifier, i)
		}
		var v uint64
		for _, b := range sub {
			v = v<<7 | uint64(b&0x7f)
		}
		if i == 0 {
			switch {
			case v < 40:
				arcs = append(arcs, 0, v)
			case v < 80:
				arcs = append(arcs, 1, v-40)
			default:
				arcs = append(arcs, 2, v-80)
			}
			continue
		}
		arcs = append(arcs, v)
	}
	return arcs, nil
}

// String returns the dotted-decimal form. Arcs of any size are rendered.
func (o ObjectIdentifier) String() string {
	if validateOID(o) != nil {
		return fmt.Sprintf("<invalid OID %x>", []byte(o))
	}
	var sb strings.Builder
	for i, sub := range o.subidentifiers() {
		v := new(big.Int)
		for _, b := range sub {
			v.Lsh(v, 7)
			v.Or(v, big.NewInt(int64(b&0x7f)))
		}
		if i == 0 {
			first := int64(2)
			if v.Cmp(big.NewInt(80)) < 0 {
				first = v.Int64() / 40
			}
			v.Sub(v, big.NewInt(40*first))
			sb.WriteString(strconv.FormatInt(first, 10))
		}
		sb.WriteByte('.')
		sb.WriteString(v.String())
	}
	return sb.String()
}

// subidentifiers splits the content octets into base-128 groups.
func (o ObjectIdentifier) subidentifiers() [][]byte {
	var subs [][]byte
	start := 0
	for i, b := range o {
		if b&0x80 == 0 {
			subs = append(subs, o[start:i+1])
			start = i + 1
		}
	}
	return subs
}

func (o ObjectIdentifier) content() ([]byte, error) {
	if err := validateOID(o); err != nil {
		return nil, &EncodeError{Kind: ErrInvalidObjectIdentifier, Detail: err.Error()}
	}
	return o, nil
}

func validateOID(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty identifier")
	}
	if b[len(b)-1]&0x80 != 0 {
		return fmt.Errorf("last arc is unterminated")
	}
	start := true
	for _, x := range b {
		if start && x == 0x80 {
			return fmt.Errorf("arc not minimally encoded")
		}
		start = x&0x80 == 0
	}
	return nil
}

func oidContent(b []byte, off int) (ObjectIdentifier, error) {
	if err := validateOID(b); err != nil {
		return nil, decodeErr(ErrInvalidObjectIdentifier, off, err.Error())
	}
	return ObjectIdentifier(bytes.Clone(b)), nil
}
