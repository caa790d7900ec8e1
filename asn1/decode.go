package asn1

import (
	"strings"

	"github.com/sensiblebit/derkit/bytestring"
)

// MaxDepth is the maximum nesting of SEQUENCE, SEQUENCE OF, SET OF and CHOICE
// levels accepted by the decoder and by [BERToDER].
const MaxDepth = 30

// Decode decodes der, which must hold exactly one value of schema s.
func Decode(s *Schema, der []byte) (*Node, error) {
	c := bytestring.NewCursor(der)
	var d Decoder
	n, err := d.DecodeNode(s, &c)
	if err != nil {
		return nil, err
	}
	if !c.Empty() {
		return nil, decodeErr(ErrLengthMismatch, c.Offset(), "trailing data after "+describe(s))
	}
	return n, nil
}

// Decoder carries the state of one decode call: the nesting depth and the
// path of the field being decoded. The zero value is ready to use. A Decoder
// must not be used concurrently.
type Decoder struct {
	depth int
	path  []string
}

// DecodeNode decodes one value of schema s from c, which is advanced past
// it. The value is required even if s is optional.
func (d *Decoder) DecodeNode(s *Schema, c *bytestring.Cursor) (*Node, error) {
	return d.field(s, c, true, siblings{})
}

// siblings gives ANY DEFINED BY fields access to the fields of the enclosing
// SEQUENCE decoded so far.
type siblings struct {
	schemas []*Schema
	nodes   []*Node
}

func (sb siblings) lookup(name string) *Node {
	for i, s := range sb.schemas {
		if s.Name == name && i < len(sb.nodes) {
			return sb.nodes[i]
		}
	}
	return nil
}

func (d *Decoder) field(s *Schema, c *bytestring.Cursor, required bool, sib siblings) (*Node, error) {
	if s.Name != "" {
		d.path = append(d.path, s.Name)
		defer func() { d.path = d.path[:len(d.path)-1] }()
	}
	n, err := d.decodeField(s, c, required, sib)
	if err != nil {
		return nil, withField(err, strings.Join(d.path, "."))
	}
	return n, nil
}

func (d *Decoder) decodeField(s *Schema, c *bytestring.Cursor, required bool, sib siblings) (*Node, error) {
	optional := (s.Optional || s.Default != nil) && !required
	if !present(s, c, 0) {
		if optional {
			if s.Default != nil {
				return &Node{Schema: s, Value: s.Default, Defaulted: true}, nil
			}
			return nil, nil
		}
		if c.Empty() {
			return nil, decodeErr(ErrFieldMissing, c.Offset(), "")
		}
	}

	start := c.Offset()
	n, err := d.tagged(s, c, sib)
	if err != nil {
		return nil, err
	}
	// DER never encodes a value equal to its DEFAULT.
	if s.Default != nil && !s.Lenient && n.Value != nil && Equal(n.Value, s.Default) {
		return nil, decodeErr(ErrDefaultEncoded, start, "")
	}
	return n, nil
}

func (d *Decoder) tagged(s *Schema, c *bytestring.Cursor, sib siblings) (*Node, error) {
	if s.Tag == nil || !s.Explicit {
		return d.inner(s, c, s.Tag, sib)
	}
	w, err := readElementWithTag(c, s.Tag.WithConstructed(true), s.Lenient)
	if err != nil {
		return nil, err
	}
	body := w.Body
	n, err := d.inner(s, &body, nil, sib)
	if err != nil {
		return nil, err
	}
	if !body.Empty() {
		return nil, decodeErr(ErrLengthMismatch, body.Offset(), "explicitly tagged content not fully consumed")
	}
	return n, nil
}

// present reports whether the next element in c can start a value of s.
// It never consumes input.
func present(s *Schema, c *bytestring.Cursor, depth int) bool {
	if c.Empty() || depth > MaxDepth {
		return false
	}
	if s.Tag != nil {
		return PeekTag(c, *s.Tag)
	}
	switch s.Kind {
	case KindAny, KindAnyDefinedBy:
		_, ok := peekTag(c)
		return ok
	case KindPrimitive:
		return PeekTag(c, Universal(s.Type))
	case KindSequence, KindSequenceOf:
		return PeekTag(c, Universal(TagSequence))
	case KindSetOf:
		return PeekTag(c, Universal(TagSet))
	case KindChoice:
		for _, v := range s.Variants {
			if present(v, c, depth+1) {
				return true
			}
		}
	}
	return false
}

// inner decodes s with the given implicit tag, if any.
func (d *Decoder) inner(s *Schema, c *bytestring.Cursor, implicit *Tag, sib siblings) (*Node, error) {
	switch s.Kind {
	case KindPrimitive:
		want := Universal(s.Type)
		if implicit != nil {
			want = implicit.WithConstructed(false)
		}
		e, err := readElementWithTag(c, want, s.Lenient)
		if err != nil {
			return nil, err
		}
		v, err := primitiveContent(s.Type, e.Body.Bytes(), e.Offset, s.Lenient)
		if err != nil {
			return nil, err
		}
		return &Node{Schema: s, Value: v, Raw: e.Raw}, nil

	case KindAny:
		if implicit != nil {
			return nil, decodeErr(ErrInvalidSchema, c.Offset(), "ANY cannot be implicitly tagged")
		}
		return d.any(s, c)

	case KindAnyDefinedBy:
		if implicit != nil {
			return nil, decodeErr(ErrInvalidSchema, c.Offset(), "ANY DEFINED BY cannot be implicitly tagged")
		}
		variant, err := resolveDefinedBy(s, sib, c.Offset())
		if err != nil {
			return nil, err
		}
		if variant == nil {
			return d.any(s, c)
		}
		chosen, err := d.field(variant, c, true, siblings{})
		if err != nil {
			return nil, err
		}
		return &Node{Schema: s, Chosen: chosen, Raw: chosen.Raw}, nil

	case KindSequence:
		return d.sequence(s, c, implicit)

	case KindSequenceOf, KindSetOf:
		return d.list(s, c, implicit)

	case KindChoice:
		if implicit != nil {
			return nil, decodeErr(ErrInvalidSchema, c.Offset(), "CHOICE cannot be implicitly tagged")
		}
		if err := d.enter(c.Offset()); err != nil {
			return nil, err
		}
		defer d.leave()
		for i, v := range s.Variants {
			if !present(v, c, 0) {
				continue
			}
			chosen, err := d.field(v, c, true, siblings{})
			if err != nil {
				return nil, err
			}
			return &Node{Schema: s, Choice: i, Chosen: chosen, Raw: chosen.Raw}, nil
		}
		return nil, decodeErr(ErrNoMatchingChoice, c.Offset(), "")
	}
	return nil, decodeErr(ErrInvalidSchema, c.Offset(), "unknown schema kind "+s.Kind.String())
}

func (d *Decoder) any(s *Schema, c *bytestring.Cursor) (*Node, error) {
	before := c.Bytes()
	v, err := parseAny(c, s.Lenient)
	if err != nil {
		return nil, err
	}
	return &Node{Schema: s, Value: v, Raw: before[:len(before)-c.Len()]}, nil
}

func (d *Decoder) sequence(s *Schema, c *bytestring.Cursor, implicit *Tag) (*Node, error) {
	if err := d.enter(c.Offset()); err != nil {
		return nil, err
	}
	defer d.leave()
	want := Universal(TagSequence)
	if implicit != nil {
		want = implicit.WithConstructed(true)
	}
	e, err := readElementWithTag(c, want, s.Lenient)
	if err != nil {
		return nil, err
	}
	body := e.Body
	n := &Node{Schema: s, Fields: make([]*Node, len(s.Fields)), Raw: e.Raw}
	for i, f := range s.Fields {
		// A last field is never skipped while content remains.
		last := i == len(s.Fields)-1 && !body.Empty()
		fn, err := d.field(f, &body, last, siblings{schemas: s.Fields, nodes: n.Fields[:i]})
		if err != nil {
			return nil, err
		}
		n.Fields[i] = fn
	}
	if !body.Empty() {
		return nil, decodeErr(ErrLengthMismatch, body.Offset(), "trailing data in "+describe(s))
	}
	return n, nil
}

func (d *Decoder) list(s *Schema, c *bytestring.Cursor, implicit *Tag) (*Node, error) {
	if s.Item == nil {
		return nil, decodeErr(ErrInvalidSchema, c.Offset(), describe(s)+" has no item schema")
	}
	if err := d.enter(c.Offset()); err != nil {
		return nil, err
	}
	defer d.leave()
	want := Universal(TagSequence)
	if s.Kind == KindSetOf {
		want = Universal(TagSet)
	}
	if implicit != nil {
		want = implicit.WithConstructed(true)
	}
	e, err := readElementWithTag(c, want, s.Lenient)
	if err != nil {
		return nil, err
	}
	body := e.Body
	n := &Node{Schema: s, Raw: e.Raw}
	for !body.Empty() {
		item, err := d.field(s.Item, &body, true, siblings{})
		if err != nil {
			return nil, err
		}
		n.Elems = append(n.Elems, item)
	}
	if s.NonEmpty && len(n.Elems) == 0 {
		return nil, decodeErr(ErrFieldMissing, e.Offset, describe(s)+" must have at least one element")
	}
	return n, nil
}

func (d *Decoder) enter(off int) error {
	if d.depth >= MaxDepth {
		return decodeErr(ErrNestedTooDeep, off, "")
	}
	d.depth++
	return nil
}

func (d *Decoder) leave() { d.depth-- }

// resolveDefinedBy finds the schema selected for an ANY DEFINED BY field.
// It returns nil if the field should be captured as Any.
func resolveDefinedBy(s *Schema, sib siblings, off int) (*Schema, error) {
	key, ok := selectorKey(sib.lookup(s.Selector))
	if ok {
		if v, found := s.DefinedBy[key]; found {
			return v, nil
		}
	}
	if s.DefaultVariant != nil {
		return s.DefaultVariant, nil
	}
	if s.FatalUnknown {
		return nil, decodeErr(ErrNoMatchingChoice, off, "no schema for "+s.Selector+" "+key)
	}
	return nil, nil
}

func selectorKey(n *Node) (string, bool) {
	if n == nil {
		return "", false
	}
	switch v := n.Value.(type) {
	case ObjectIdentifier:
		return v.String(), true
	case Integer:
		return v.String(), true
	case Enumerated:
		return v.String(), true
	}
	return "", false
}

func describe(s *Schema) string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind.String()
}
