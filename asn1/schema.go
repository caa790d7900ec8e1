package asn1

// Kind selects how the codec interprets a [Schema] node.
type Kind uint8

const (
	KindPrimitive    Kind = iota // a universal primitive type, see Schema.Type
	KindAny                      // any single element
	KindSequence                 // SEQUENCE of heterogeneous Fields
	KindSequenceOf               // SEQUENCE OF Item
	KindSetOf                    // SET OF Item
	KindChoice                   // CHOICE of Variants
	KindAnyDefinedBy             // ANY DEFINED BY the sibling named Selector
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindAny:
		return "ANY"
	case KindSequence:
		return "SEQUENCE"
	case KindSequenceOf:
		return "SEQUENCE OF"
	case KindSetOf:
		return "SET OF"
	case KindChoice:
		return "CHOICE"
	case KindAnyDefinedBy:
		return "ANY DEFINED BY"
	}
	return "Kind(?)"
}

// Schema is a static description of an ASN.1 type. Schemas are built once,
// usually as package-level variables, and are never modified by the codec.
// They may be recursive.
type Schema struct {
	// Name labels the field in error paths and in [Node.Field] lookups.
	Name string
	Kind Kind

	// Type is the universal tag number of a KindPrimitive field.
	Type uint32

	// Tag replaces the natural tag of the field. The replacement is implicit
	// unless Explicit is set, in which case the field is wrapped in an extra
	// constructed element carrying Tag.
	Tag      *Tag
	Explicit bool

	Optional bool
	// Default is the value of an absent field. A field with a default is
	// optional; the encoder omits it when it equals the default.
	Default Value

	// NonEmpty rejects empty SEQUENCE OF and SET OF values.
	NonEmpty bool

	// Lenient accepts non-minimal length octets and UTCTime offsets for
	// this field. It exists for grandfathered encodings only.
	Lenient bool

	Fields   []*Schema // KindSequence
	Item     *Schema   // KindSequenceOf, KindSetOf
	Variants []*Schema // KindChoice

	// KindAnyDefinedBy: Selector names an earlier sibling holding an OBJECT
	// IDENTIFIER or INTEGER. Its dotted or decimal form is looked up in
	// DefinedBy, then DefaultVariant is used. Unresolved fields are captured
	// as Any unless FatalUnknown is set.
	Selector       string
	DefinedBy      map[string]*Schema
	DefaultVariant *Schema
	FatalUnknown   bool
}

// Option modifies a copy of a Schema, see [Schema.With].
type Option func(*Schema)

// Optional marks a field OPTIONAL.
func Optional() Option { return func(s *Schema) { s.Optional = true } }

// Implicit replaces the field's tag with t.
func Implicit(t Tag) Option {
	return func(s *Schema) { s.Tag, s.Explicit = &t, false }
}

// Explicit wraps the field in a constructed element tagged t.
func Explicit(t Tag) Option {
	return func(s *Schema) { s.Tag, s.Explicit = &t, true }
}

// Default sets the DEFAULT value of a field.
func Default(v Value) Option { return func(s *Schema) { s.Default = v } }

// NonEmpty requires at least one element in a SEQUENCE OF or SET OF.
func NonEmpty() Option { return func(s *Schema) { s.NonEmpty = true } }

// Lenient enables BER-tolerant decoding of the field.
func Lenient() Option { return func(s *Schema) { s.Lenient = true } }

// Named sets the field name.
func Named(name string) Option { return func(s *Schema) { s.Name = name } }

// With returns a copy of s with opts applied. Child schemas are shared.
func (s *Schema) With(opts ...Option) *Schema {
	c := *s
	for _, o := range opts {
		o(&c)
	}
	return &c
}

// Primitive describes a field of universal primitive type typ.
func Primitive(name string, typ uint32, opts ...Option) *Schema {
	return (&Schema{Name: name, Kind: KindPrimitive, Type: typ}).With(opts...)
}

// AnyField describes a field that accepts any single element.
func AnyField(name string, opts ...Option) *Schema {
	return (&Schema{Name: name, Kind: KindAny}).With(opts...)
}

// Sequence describes a SEQUENCE with the given fields in order.
func Sequence(name string, fields ...*Schema) *Schema {
	return &Schema{Name: name, Kind: KindSequence, Fields: fields}
}

// SequenceOf describes a SEQUENCE OF item.
func SequenceOf(name string, item *Schema, opts ...Option) *Schema {
	return (&Schema{Name: name, Kind: KindSequenceOf, Item: item}).With(opts...)
}

// SetOf describes a SET OF item.
func SetOf(name string, item *Schema, opts ...Option) *Schema {
	return (&Schema{Name: name, Kind: KindSetOf, Item: item}).With(opts...)
}

// Choice describes a CHOICE between variants, tried in order.
func Choice(name string, variants ...*Schema) *Schema {
	return &Schema{Name: name, Kind: KindChoice, Variants: variants}
}

// AnyDefinedBy describes an open type whose schema is selected by the value
// of the sibling field named selector.
func AnyDefinedBy(name, selector string, definedBy map[string]*Schema, opts ...Option) *Schema {
	return (&Schema{Name: name, Kind: KindAnyDefinedBy, Selector: selector, DefinedBy: definedBy}).With(opts...)
}

// Node is a decoded value, or a value to encode, shaped by a Schema.
type Node struct {
	// Schema is set by the decoder. Nodes built for encoding may leave it
	// nil; the encoder walks the schema it is given.
	Schema *Schema

	// Value holds primitive and ANY values, and ANY DEFINED BY values that
	// did not resolve to a schema.
	Value Value

	// Fields holds the fields of a SEQUENCE in schema order. Absent
	// optional fields are nil.
	Fields []*Node

	// Elems holds the elements of a SEQUENCE OF or SET OF.
	Elems []*Node

	// Choice is the index of the selected variant of a CHOICE and Chosen
	// its node. Resolved ANY DEFINED BY values are also held in Chosen.
	Choice int
	Chosen *Node

	// Defaulted is set when the field was absent and Value is its DEFAULT.
	Defaulted bool

	// Raw is the exact encoding the node was decoded from, excluding any
	// explicit tag wrapper.
	Raw []byte
}

// Field returns the decoded field called name, or nil if it is absent or the
// node has no schema.
func (n *Node) Field(name string) *Node {
	if n == nil || n.Schema == nil {
		return nil
	}
	for i, f := range n.Schema.Fields {
		if f.Name == name && i < len(n.Fields) {
			return n.Fields[i]
		}
	}
	return nil
}

// ValueNode returns a node holding v.
func ValueNode(v Value) *Node { return &Node{Value: v} }

// SequenceNode returns a SEQUENCE node. Pass nil for absent fields.
func SequenceNode(fields ...*Node) *Node { return &Node{Fields: fields} }

// ListNode returns a SEQUENCE OF or SET OF node.
func ListNode(elems ...*Node) *Node { return &Node{Elems: elems} }

// ChoiceNode returns a CHOICE node selecting variant i.
func ChoiceNode(i int, chosen *Node) *Node { return &Node{Choice: i, Chosen: chosen} }

// RawNode returns a node that encodes as der verbatim. der must be a single
// complete element carrying the tag the field expects.
func RawNode(der []byte) *Node { return &Node{Raw: der} }

func (n *Node) preEncoded() bool {
	return n.Raw != nil && n.Value == nil && n.Fields == nil && n.Elems == nil && n.Chosen == nil
}

// DefinedByNode returns an ANY DEFINED BY node encoded with the schema the
// selector resolves to.
func DefinedByNode(chosen *Node) *Node { return &Node{Chosen: chosen} }
