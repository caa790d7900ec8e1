package x509

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/sensiblebit/derkit/asn1"
	"github.com/sensiblebit/derkit/bytestring"
	"github.com/sensiblebit/derkit/oid"
)

// AttributeTypeAndValue is one naming attribute, such as CN=example.
type AttributeTypeAndValue struct {
	Type  asn1.ObjectIdentifier
	Value asn1.Value
}

func (a AttributeTypeAndValue) node() *asn1.Node {
	return asn1.SequenceNode(asn1.ValueNode(a.Type), asn1.ValueNode(a.Value))
}

// Name is an X.501 distinguished name: a sequence of relative distinguished
// names, each a non-empty set of attributes.
//
// A Name caches its DER and canonical encodings. The cache is computed at
// most once after each modification and is safe to read concurrently, but a
// Name must not be modified while other goroutines use it. Names are always
// handled by pointer.
type Name struct {
	rdns  [][]AttributeTypeAndValue
	cache atomic.Pointer[nameEncodings]
}

type nameEncodings struct {
	der       []byte
	canonical []byte
}

// NewName returns an empty name.
func NewName() *Name { return &Name{} }

// ParseName decodes a DER Name.
func ParseName(der []byte) (*Name, error) {
	n, err := asn1.Decode(NameSchema, der)
	if err != nil {
		return nil, fmt.Errorf("parsing name: %w", err)
	}
	return nameFromNode(n)
}

// NameFromCanonical rebuilds a Name from the output of [Name.Canonical].
func NameFromCanonical(canon []byte) (*Name, error) {
	b := bytestring.NewBuilder(nil)
	b.AddChild(asn1.AppendTag(nil, asn1.Universal(asn1.TagSequence)), func(child *bytestring.Builder) {
		child.AddBytes(canon)
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return ParseName(der)
}

func nameFromNode(n *asn1.Node) (*Name, error) {
	name := &Name{}
	for _, rdn := range n.Elems {
		set := make([]AttributeTypeAndValue, 0, len(rdn.Elems))
		for _, atv := range rdn.Elems {
			typ, ok := atv.Field("type").Value.(asn1.ObjectIdentifier)
			if !ok {
				return nil, errors.New("parsing name: attribute type is not an OBJECT IDENTIFIER")
			}
			set = append(set, AttributeTypeAndValue{Type: typ, Value: atv.Field("value").Value})
		}
		name.rdns = append(name.rdns, set)
	}
	canon, err := canonicalize(name.rdns)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing name: %w", err)
	}
	name.cache.Store(&nameEncodings{der: bytes.Clone(n.Raw), canonical: canon})
	return name, nil
}

// AddRDN appends a relative distinguished name holding attrs.
func (n *Name) AddRDN(attrs ...AttributeTypeAndValue) error {
	if len(attrs) == 0 {
		return errors.New("adding RDN: no attributes")
	}
	for _, a := range attrs {
		if err := checkAttribute(a); err != nil {
			return err
		}
	}
	n.rdns = append(n.rdns, slices.Clone(attrs))
	n.cache.Store(nil)
	return nil
}

// AddAttribute appends typ=v. With newSet, or when the name is empty, the
// attribute starts a new RDN; otherwise it joins the last one.
func (n *Name) AddAttribute(typ asn1.ObjectIdentifier, v asn1.Value, newSet bool) error {
	a := AttributeTypeAndValue{Type: typ, Value: v}
	if newSet || len(n.rdns) == 0 {
		return n.AddRDN(a)
	}
	if err := checkAttribute(a); err != nil {
		return err
	}
	last := len(n.rdns) - 1
	n.rdns[last] = append(n.rdns[last], a)
	n.cache.Store(nil)
	return nil
}

func checkAttribute(a AttributeTypeAndValue) error {
	if len(a.Type) == 0 {
		return errors.New("adding attribute: empty type")
	}
	if a.Value == nil {
		return fmt.Errorf("adding attribute %s: nil value", a.Type)
	}
	return nil
}

// RDNs returns a copy of the relative distinguished names in order.
func (n *Name) RDNs() [][]AttributeTypeAndValue {
	out := make([][]AttributeTypeAndValue, len(n.rdns))
	for i, rdn := range n.rdns {
		out[i] = slices.Clone(rdn)
	}
	return out
}

// Attributes returns all attributes in encoding order.
func (n *Name) Attributes() []AttributeTypeAndValue {
	var out []AttributeTypeAndValue
	for _, rdn := range n.rdns {
		out = append(out, rdn...)
	}
	return out
}

// CommonName returns the text of the last commonName attribute, or "" if
// there is none.
func (n *Name) CommonName() string {
	var cn string
	for _, a := range n.Attributes() {
		if a.Type.Equal(OIDCommonName) {
			if s, ok := asn1.TextString(a.Value); ok {
				cn = s
			}
		}
	}
	return cn
}

// Len returns the number of attributes.
func (n *Name) Len() int {
	total := 0
	for _, rdn := range n.rdns {
		total += len(rdn)
	}
	return total
}

// Clone returns a deep copy of n without its cache.
func (n *Name) Clone() *Name {
	return &Name{rdns: n.RDNs()}
}

func (n *Name) encodings() (*nameEncodings, error) {
	if enc := n.cache.Load(); enc != nil {
		return enc, nil
	}
	der, err := asn1.Encode(NameSchema, n.node())
	if err != nil {
		return nil, fmt.Errorf("encoding name: %w", err)
	}
	canon, err := canonicalize(n.rdns)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing name: %w", err)
	}
	enc := &nameEncodings{der: der, canonical: canon}
	if n.cache.CompareAndSwap(nil, enc) {
		return enc, nil
	}
	if won := n.cache.Load(); won != nil {
		return won, nil
	}
	return enc, nil
}

func (n *Name) node() *asn1.Node {
	rdns := make([]*asn1.Node, len(n.rdns))
	for i, rdn := range n.rdns {
		atvs := make([]*asn1.Node, len(rdn))
		for j, a := range rdn {
			atvs[j] = a.node()
		}
		rdns[i] = asn1.ListNode(atvs...)
	}
	return asn1.ListNode(rdns...)
}

// DER returns the DER encoding. A parsed name returns its original bytes.
func (n *Name) DER() ([]byte, error) {
	enc, err := n.encodings()
	if err != nil {
		return nil, err
	}
	return enc.der, nil
}

// Canonical returns the canonical encoding used for comparison: every
// attribute value of a text type is converted to UTF8String with ASCII
// letters lowercased, leading and trailing whitespace removed and internal
// whitespace runs collapsed to one space. Each RDN is re-encoded with its
// attributes in DER SET OF order and the RDNs are concatenated without the
// outer SEQUENCE header.
func (n *Name) Canonical() ([]byte, error) {
	enc, err := n.encodings()
	if err != nil {
		return nil, err
	}
	return enc.canonical, nil
}

// Canonicalize returns the canonical encoding of the DER Name der.
func Canonicalize(der []byte) ([]byte, error) {
	n, err := ParseName(der)
	if err != nil {
		return nil, err
	}
	return n.Canonical()
}

// Equal reports whether n and o have the same canonical encoding. Names
// that cannot be encoded are never equal.
func (n *Name) Equal(o *Name) bool {
	a, err := n.Canonical()
	if err != nil {
		return false
	}
	b, err := o.Canonical()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Compare orders names by their canonical encodings. Names that cannot be
// encoded sort first.
func (n *Name) Compare(o *Name) int {
	a, _ := n.Canonical()
	b, _ := o.Canonical()
	return bytes.Compare(a, b)
}

// Hash returns the first four bytes of the SHA-1 digest of the canonical
// encoding as a little-endian integer. This is the value used to name
// certificate directory entries such as 9d66eef0.0.
func (n *Name) Hash() (uint32, error) {
	canon, err := n.Canonical()
	if err != nil {
		return 0, err
	}
	sum := sha1.Sum(canon)
	return binary.LittleEndian.Uint32(sum[:4]), nil
}

// String formats n per RFC 4514: RDNs in reverse order separated by commas
// and multi-valued RDNs joined with plus signs. Attribute types are labelled
// from reg, which may be nil. Values that are not text are written as # and
// the hex of their DER encoding.
func (n *Name) String(reg *oid.Registry) string {
	var sb strings.Builder
	for i := len(n.rdns) - 1; i >= 0; i-- {
		if i != len(n.rdns)-1 {
			sb.WriteByte(',')
		}
		for j, a := range n.rdns[i] {
			if j > 0 {
				sb.WriteByte('+')
			}
			sb.WriteString(reg.Label(a.Type))
			sb.WriteByte('=')
			sb.WriteString(formatValue(a.Value))
		}
	}
	return sb.String()
}

func formatValue(v asn1.Value) string {
	if s, ok := asn1.TextString(v); ok {
		return escapeValue(s)
	}
	der, err := asn1.MarshalValue(v)
	if err != nil {
		return "#"
	}
	return "#" + hex.EncodeToString(der)
}

func escapeValue(s string) string {
	var sb strings.Builder
	for i, r := range s {
		switch {
		case strings.ContainsRune(`,+"\<>;`, r),
			i == 0 && (r == ' ' || r == '#'),
			i == len(s)-1 && r == ' ':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\%02x`, r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func canonicalize(rdns [][]AttributeTypeAndValue) ([]byte, error) {
	b := bytestring.NewBuilder(nil)
	for _, rdn := range rdns {
		atvs := make([]*asn1.Node, len(rdn))
		for i, a := range rdn {
			atvs[i] = AttributeTypeAndValue{Type: a.Type, Value: canonicalValue(a.Value)}.node()
		}
		if err := asn1.SortSetOf(AttributeTypeAndValueSchema, atvs); err != nil {
			return nil, err
		}
		asn1.EncodeTo(b, RelativeDistinguishedNameSchema, asn1.ListNode(atvs...))
	}
	return b.Bytes()
}

// canonicalValue folds values of the directory string types. Other values
// are returned unchanged.
func canonicalValue(v asn1.Value) asn1.Value {
	switch v := v.(type) {
	case asn1.UTF8String, asn1.BMPString, asn1.UniversalString:
	case asn1.String:
		switch v.Type {
		case asn1.TagPrintableString, asn1.TagT61String, asn1.TagIA5String, asn1.TagVisibleString:
		default:
			return v
		}
	default:
		return v
	}
	runes, _ := asn1.Text(v)
	return asn1.UTF8String(foldText(runes))
}

func foldText(runes []rune) string {
	var sb strings.Builder
	space := false
	for _, r := range runes {
		if isASCIISpace(r) {
			space = sb.Len() > 0
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
