package asn1

import (
	"bytes"
	"errors"
	"slices"
	"strings"

	"github.com/sensiblebit/derkit/bytestring"
)

// Encode returns the DER encoding of n as a value of schema s. Fields equal
// to their DEFAULT are omitted. SET OF elements are written in the order
// given; use [SortSetOf] first when DER ordering is required.
func Encode(s *Schema, n *Node) ([]byte, error) {
	b := bytestring.NewBuilder(nil)
	var e encoder
	e.field(b, s, n, siblings{})
	return b.Bytes()
}

// EncodeTo appends the DER encoding of n to b.
func EncodeTo(b *bytestring.Builder, s *Schema, n *Node) {
	var e encoder
	e.field(b, s, n, siblings{})
}

type encoder struct {
	path []string
}

func (e *encoder) fail(b *bytestring.Builder, kind error, detail string) {
	b.SetError(&EncodeError{Kind: kind, Field: strings.Join(e.path, "."), Detail: detail})
}

func (e *encoder) field(b *bytestring.Builder, s *Schema, n *Node, sib siblings) {
	if s.Name != "" {
		e.path = append(e.path, s.Name)
		defer func() { e.path = e.path[:len(e.path)-1] }()
	}
	if n == nil || n.Defaulted {
		if s.Optional || s.Default != nil {
			return
		}
		e.fail(b, ErrFieldMissing, "")
		return
	}
	if s.Default != nil && n.Value != nil && Equal(n.Value, s.Default) {
		return
	}
	if s.Tag == nil || !s.Explicit {
		e.inner(b, s, n, s.Tag, sib)
		return
	}
	b.AddChild(AppendTag(nil, s.Tag.WithConstructed(true)), func(child *bytestring.Builder) {
		e.inner(child, s, n, nil, sib)
	})
}

func (e *encoder) inner(b *bytestring.Builder, s *Schema, n *Node, implicit *Tag, sib siblings) {
	if n.preEncoded() {
		b.AddBytes(n.Raw)
		return
	}
	switch s.Kind {
	case KindPrimitive:
		if n.Value == nil {
			e.fail(b, ErrFieldMissing, "no value")
			return
		}
		if t := n.Value.Tag(); t.Class != ClassUniversal || t.Number != s.Type {
			e.fail(b, ErrWrongTag, "value of type "+t.String()+" in "+Universal(s.Type).String()+" field")
			return
		}
		e.value(b, n.Value, implicit)

	case KindAny:
		if implicit != nil {
			e.fail(b, ErrInvalidSchema, "ANY cannot be implicitly tagged")
			return
		}
		if n.Value == nil {
			e.fail(b, ErrFieldMissing, "no value")
			return
		}
		e.value(b, n.Value, nil)

	case KindAnyDefinedBy:
		if implicit != nil {
			e.fail(b, ErrInvalidSchema, "ANY DEFINED BY cannot be implicitly tagged")
			return
		}
		if n.Chosen == nil {
			if n.Value == nil {
				e.fail(b, ErrFieldMissing, "no value")
				return
			}
			e.value(b, n.Value, nil)
			return
		}
		variant, err := resolveDefinedBy(s, sib, -1)
		if err != nil || variant == nil {
			e.fail(b, ErrNoMatchingChoice, "selector "+s.Selector+" does not resolve to a schema")
			return
		}
		e.field(b, variant, n.Chosen, siblings{})

	case KindSequence:
		t := Universal(TagSequence)
		if implicit != nil {
			t = implicit.WithConstructed(true)
		}
		b.AddChild(AppendTag(nil, t), func(child *bytestring.Builder) {
			for i, f := range s.Fields {
				var fn *Node
				if i < len(n.Fields) {
					fn = n.Fields[i]
				}
				e.field(child, f, fn, siblings{schemas: s.Fields, nodes: n.Fields})
			}
		})
		if len(n.Fields) > len(s.Fields) {
			e.fail(b, ErrLengthMismatch, "more fields than the schema declares")
		}

	case KindSequenceOf, KindSetOf:
		if s.NonEmpty && len(n.Elems) == 0 {
			e.fail(b, ErrFieldMissing, describe(s)+" must have at least one element")
			return
		}
		t := Universal(TagSequence)
		if s.Kind == KindSetOf {
			t = Universal(TagSet)
		}
		if implicit != nil {
			t = implicit.WithConstructed(true)
		}
		b.AddChild(AppendTag(nil, t), func(child *bytestring.Builder) {
			for _, el := range n.Elems {
				if el == nil {
					e.fail(child, ErrFieldMissing, "nil element")
					return
				}
				e.field(child, s.Item, el, siblings{})
			}
		})

	case KindChoice:
		if implicit != nil {
			e.fail(b, ErrInvalidSchema, "CHOICE cannot be implicitly tagged")
			return
		}
		if n.Choice < 0 || n.Choice >= len(s.Variants) || n.Chosen == nil {
			e.fail(b, ErrNoMatchingChoice, "no variant selected")
			return
		}
		e.field(b, s.Variants[n.Choice], n.Chosen, siblings{})

	default:
		e.fail(b, ErrInvalidSchema, "unknown schema kind "+s.Kind.String())
	}
}

func (e *encoder) value(b *bytestring.Builder, v Value, implicit *Tag) {
	if _, ok := v.(Any); ok && implicit != nil {
		e.fail(b, ErrInvalidSchema, "ANY cannot be implicitly tagged")
		return
	}
	if _, err := v.content(); err != nil {
		var ee *EncodeError
		if errors.As(err, &ee) && ee.Field == "" {
			ee.Field = strings.Join(e.path, ".")
		}
		b.SetError(err)
		return
	}
	Marshal(b, v, implicit)
}

// SortSetOf sorts elems into DER SET OF order: ascending by the encoding of
// each element under item.
func SortSetOf(item *Schema, elems []*Node) error {
	keys := make(map[*Node][]byte, len(elems))
	for _, el := range elems {
		der, err := Encode(item, el)
		if err != nil {
			return err
		}
		keys[el] = der
	}
	slices.SortStableFunc(elems, func(a, b *Node) int {
		return bytes.Compare(keys[a], keys[b])
	})
	return nil
}
