package asn1

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sensiblebit/derkit/bytestring"
)

var (
	testRecordSchema = Sequence("record",
		Primitive("version", TagInteger, Explicit(ContextSpecific(0)), Default(NewInt64(0))),
		Primitive("serial", TagInteger),
		Primitive("flag", TagBoolean, Optional()),
		Primitive("note", TagUTF8String, Implicit(ContextSpecific(1)), Optional()),
	)

	testAlgorithmSchema = Sequence("alg",
		Primitive("algorithm", TagOID),
		AnyDefinedBy("parameters", "algorithm", map[string]*Schema{
			"1.2.840.10045.2.1": Primitive("namedCurve", TagOID),
		}, Optional()),
	)

	testTimeSchema = Choice("time",
		Primitive("utcTime", TagUTCTime),
		Primitive("generalTime", TagGeneralizedTime),
	)
)

func TestDecode_RecordDefaults(t *testing.T) {
	// WHY: An absent DEFAULT field is materialised with its default and a
	// trailing absent OPTIONAL field stays nil.
	t.Parallel()

	n, err := Decode(testRecordSchema, mustHex(t, "30 03 02 01 05"))
	if err != nil {
		t.Fatal(err)
	}
	version := n.Field("version")
	if version == nil || !version.Defaulted {
		t.Fatalf("version = %+v, want defaulted", version)
	}
	if !Equal(version.Value, NewInt64(0)) {
		t.Errorf("version = %v, want 0", version.Value)
	}
	if got := n.Field("serial").Value.(Integer); !got.Equal(NewInt64(5)) {
		t.Errorf("serial = %v, want 5", got)
	}
	if n.Field("flag") != nil || n.Field("note") != nil {
		t.Error("optional fields present")
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	// WHY: Encode must mirror Decode, including explicit wrappers, implicit
	// retagging and DEFAULT omission.
	t.Parallel()

	tests := []struct {
		name string
		node *Node
		want string
	}{
		{
			name: "default version omitted",
			node: SequenceNode(ValueNode(NewInt64(0)), ValueNode(NewInt64(5)), nil, ValueNode(UTF8String("hi"))),
			want: "30 07 02 01 05 81 02 68 69",
		},
		{
			name: "explicit version",
			node: SequenceNode(ValueNode(NewInt64(2)), ValueNode(NewInt64(5)), nil, ValueNode(UTF8String("hi"))),
			want: "30 0c a0 03 02 01 02 02 01 05 81 02 68 69",
		},
		{
			name: "boolean only",
			node: SequenceNode(nil, ValueNode(NewInt64(-1)), ValueNode(Boolean(true))),
			want: "30 06 02 01 ff 01 01 ff",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			der, err := Encode(testRecordSchema, tt.node)
			if err != nil {
				t.Fatal(err)
			}
			if want := mustHex(t, tt.want); !bytes.Equal(der, want) {
				t.Fatalf("Encode = %x, want %x", der, want)
			}
			n, err := Decode(testRecordSchema, der)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(n.Raw, der) {
				t.Errorf("Raw = %x, want %x", n.Raw, der)
			}
			again, err := Encode(testRecordSchema, n)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(again, der) {
				t.Errorf("re-encoding = %x, want %x", again, der)
			}
			for i, f := range tt.node.Fields {
				if f == nil || n.Fields[i] == nil || n.Fields[i].Defaulted {
					continue
				}
				if diff := cmp.Diff(f.Value, n.Fields[i].Value, cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("field %d mismatch (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	// WHY: Each failure of the structure state machine has its own kind and
	// names the field it happened in.
	t.Parallel()

	tests := []struct {
		name  string
		input string
		kind  error
		field string
	}{
		{"missing serial", "30 00", ErrFieldMissing, "record.serial"},
		{"bad serial", "30 04 02 02 00 05", ErrInvalidInteger, "record.serial"},
		{"last field never skipped", "30 06 02 01 05 04 01 00", ErrWrongTag, "record.note"},
		{"explicit wrapper not filled", "30 09 a0 04 02 01 02 00 02 01 05", ErrLengthMismatch, "record.version"},
		{"explicit wrapper not constructed", "30 08 80 03 02 01 02 02 01 05", ErrInvalidTag, "record.version"},
		{"trailing after sequence", "30 03 02 01 05 00", ErrLengthMismatch, ""},
		{"not a sequence", "31 03 02 01 05", ErrWrongTag, "record"},
		{"default version encoded", "30 08 a0 03 02 01 00 02 01 05", ErrDefaultEncoded, "record.version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(testRecordSchema, mustHex(t, tt.input))
			wantErr(t, err, tt.kind)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("got %T, want *DecodeError", err)
			}
			if de.Field != tt.field {
				t.Errorf("Field = %q, want %q", de.Field, tt.field)
			}
		})
	}
}

func TestDecode_DefaultEncoded(t *testing.T) {
	// WHY: DER omits a field equal to its DEFAULT; accepting it would make
	// re-encoding change the bytes a signature covers.
	t.Parallel()

	ext := Sequence("extension",
		Primitive("id", TagOID),
		Primitive("critical", TagBoolean, Default(Boolean(false))),
		Primitive("value", TagOctetString),
	)
	lenient := Sequence("extension",
		Primitive("id", TagOID),
		Primitive("critical", TagBoolean, Default(Boolean(false)), Lenient()),
		Primitive("value", TagOctetString),
	)

	tests := []struct {
		name   string
		schema *Schema
		input  string
		kind   error
	}{
		{"critical false encoded", ext, "30 0b 06 03 55 1d 13 01 01 00 04 01 00", ErrDefaultEncoded},
		{"critical true", ext, "30 0b 06 03 55 1d 13 01 01 ff 04 01 00", nil},
		{"critical omitted", ext, "30 08 06 03 55 1d 13 04 01 00", nil},
		{"lenient field", lenient, "30 0b 06 03 55 1d 13 01 01 00 04 01 00", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := mustHex(t, tt.input)
			n, err := Decode(tt.schema, in)
			wantErr(t, err, tt.kind)
			if err != nil || tt.schema == lenient {
				return
			}
			out, err := Encode(tt.schema, n)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out, in) {
				t.Errorf("re-encoded %x, want %x", out, in)
			}
		})
	}
}

func TestDecode_ErrorOffset(t *testing.T) {
	// WHY: The offset of a nested failure is absolute in the input.
	t.Parallel()
	_, err := Decode(testRecordSchema, mustHex(t, "30 04 02 02 00 05"))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("got %v", err)
	}
	if de.Offset != 2 {
		t.Errorf("Offset = %d, want 2", de.Offset)
	}
}

func TestDecode_TrailingByte(t *testing.T) {
	// WHY: An extra byte inside the outer SEQUENCE must fail the outer
	// decode, while the inner SEQUENCE given its own length still decodes.
	t.Parallel()

	inner := Sequence("inner", Primitive("n", TagInteger))
	outer := Sequence("outer", inner)

	innerDER := mustHex(t, "30 03 02 01 07")
	if _, err := Decode(inner, innerDER); err != nil {
		t.Fatalf("inner alone: %v", err)
	}
	if _, err := Decode(outer, append([]byte{0x30, 0x05}, innerDER...)); err != nil {
		t.Fatalf("outer without extra byte: %v", err)
	}
	_, err := Decode(outer, append(append([]byte{0x30, 0x06}, innerDER...), 0x00))
	wantErr(t, err, ErrLengthMismatch)
}

func TestDecode_RecursionCap(t *testing.T) {
	// WHY: A self-referential schema must not let adversarial input recurse
	// past MaxDepth levels.
	t.Parallel()

	recursive := &Schema{Kind: KindSequenceOf}
	recursive.Item = recursive

	n, err := Decode(recursive, nested(MaxDepth))
	if err != nil {
		t.Fatalf("%d levels: %v", MaxDepth, err)
	}
	depth := 0
	for ; n != nil; depth++ {
		if len(n.Elems) == 0 {
			n = nil
			continue
		}
		n = n.Elems[0]
	}
	if depth != MaxDepth {
		t.Errorf("decoded depth %d, want %d", depth, MaxDepth)
	}

	_, err = Decode(recursive, nested(MaxDepth+1))
	wantErr(t, err, ErrNestedTooDeep)
}

func TestDecode_AnyDefinedBy(t *testing.T) {
	// WHY: The selector sibling picks the parameter schema; unknown selectors
	// fall back to an Any capture unless the schema makes them fatal.
	t.Parallel()

	ecParams := mustHex(t, "30 13 06 07 2a8648ce3d0201 06 08 2a8648ce3d030107")
	n, err := Decode(testAlgorithmSchema, ecParams)
	if err != nil {
		t.Fatal(err)
	}
	params := n.Field("parameters")
	if params == nil || params.Chosen == nil {
		t.Fatalf("parameters = %+v, want resolved", params)
	}
	if got := params.Chosen.Value.(ObjectIdentifier).String(); got != "1.2.840.10045.3.1.7" {
		t.Errorf("namedCurve = %s", got)
	}
	again, err := Encode(testAlgorithmSchema, n)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, ecParams) {
		t.Errorf("re-encoding = %x", again)
	}

	rsaParams := mustHex(t, "30 0d 06 09 2a864886f70d01010b 05 00")
	n, err = Decode(testAlgorithmSchema, rsaParams)
	if err != nil {
		t.Fatal(err)
	}
	params = n.Field("parameters")
	if params == nil || params.Chosen != nil {
		t.Fatalf("parameters = %+v, want unresolved capture", params)
	}
	if _, ok := params.Value.(Null); !ok {
		t.Errorf("parameters value = %T, want Null", params.Value)
	}

	n, err = Decode(testAlgorithmSchema, mustHex(t, "30 0b 06 09 2a864886f70d01010b"))
	if err != nil {
		t.Fatal(err)
	}
	if n.Field("parameters") != nil {
		t.Error("absent parameters decoded as present")
	}

	strict := Sequence("alg",
		testAlgorithmSchema.Fields[0],
		testAlgorithmSchema.Fields[1].With(func(s *Schema) { s.FatalUnknown = true }),
	)
	_, err = Decode(strict, rsaParams)
	wantErr(t, err, ErrNoMatchingChoice)
}

func TestDecode_Choice(t *testing.T) {
	// WHY: The first variant whose tag matches wins; a CHOICE cannot carry an
	// implicit tag because its variants are told apart by their own tags.
	t.Parallel()

	n, err := Decode(testTimeSchema, mustHex(t, "17 0d 3235303130313030303030305a"))
	if err != nil {
		t.Fatal(err)
	}
	if n.Choice != 0 || n.Chosen.Value.(Time).Type != TagUTCTime {
		t.Errorf("Choice = %d, want utcTime", n.Choice)
	}
	n, err = Decode(testTimeSchema, mustHex(t, "18 0f 32303530303130313030303030305a"))
	if err != nil {
		t.Fatal(err)
	}
	if n.Choice != 1 {
		t.Errorf("Choice = %d, want generalTime", n.Choice)
	}
	der, err := Encode(testTimeSchema, n)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(der, n.Raw) {
		t.Errorf("re-encoding = %x, want %x", der, n.Raw)
	}

	_, err = Decode(testTimeSchema, mustHex(t, "02 01 05"))
	wantErr(t, err, ErrNoMatchingChoice)

	implicit := testTimeSchema.With(Implicit(ContextSpecific(0)))
	_, err = Decode(implicit, mustHex(t, "80 01 00"))
	wantErr(t, err, ErrInvalidSchema)
	_, err = Encode(implicit, n)
	wantErr(t, err, ErrInvalidSchema)

	explicit := Sequence("wrapped", testTimeSchema.With(Explicit(ContextSpecific(0))))
	n, err = Decode(explicit, mustHex(t, "30 11 a0 0f 17 0d 3235303130313030303030305a"))
	if err != nil {
		t.Fatal(err)
	}
	if n.Fields[0].Choice != 0 {
		t.Errorf("explicit choice = %d, want 0", n.Fields[0].Choice)
	}
}

func TestSetOf(t *testing.T) {
	// WHY: SET OF keeps caller order on encode; SortSetOf produces DER order;
	// NonEmpty rejects an empty set in both directions.
	t.Parallel()

	ints := SetOf("ints", Primitive("i", TagInteger))
	node := ListNode(ValueNode(NewInt64(3)), ValueNode(NewInt64(1)), ValueNode(NewInt64(2)))

	der, err := Encode(ints, node)
	if err != nil {
		t.Fatal(err)
	}
	if want := mustHex(t, "31 09 02 01 03 02 01 01 02 01 02"); !bytes.Equal(der, want) {
		t.Errorf("unsorted = %x, want %x", der, want)
	}
	if err := SortSetOf(ints.Item, node.Elems); err != nil {
		t.Fatal(err)
	}
	der, err = Encode(ints, node)
	if err != nil {
		t.Fatal(err)
	}
	if want := mustHex(t, "31 09 02 01 01 02 01 02 02 01 03"); !bytes.Equal(der, want) {
		t.Errorf("sorted = %x, want %x", der, want)
	}

	n, err := Decode(ints, mustHex(t, "31 00"))
	if err != nil {
		t.Fatal(err)
	}
	if len(n.Elems) != 0 {
		t.Errorf("got %d elements, want 0", len(n.Elems))
	}

	nonEmpty := ints.With(NonEmpty())
	_, err = Decode(nonEmpty, mustHex(t, "31 00"))
	wantErr(t, err, ErrFieldMissing)
	_, err = Encode(nonEmpty, ListNode())
	wantErr(t, err, ErrFieldMissing)
}

func TestEncode_Errors(t *testing.T) {
	// WHY: Encoding never silently drops a required field or writes a value
	// under a schema of another type.
	t.Parallel()

	_, err := Encode(testRecordSchema, SequenceNode(nil, nil))
	wantErr(t, err, ErrFieldMissing)
	var ee *EncodeError
	if !errors.As(err, &ee) || ee.Field != "record.serial" {
		t.Errorf("got %v, want field record.serial", err)
	}

	_, err = Encode(testRecordSchema, SequenceNode(nil, ValueNode(Boolean(true))))
	wantErr(t, err, ErrWrongTag)

	_, err = Encode(AnyField("any").With(Implicit(ContextSpecific(0))), ValueNode(Null{}))
	wantErr(t, err, ErrInvalidSchema)
}

func TestDecode_Lenient(t *testing.T) {
	// WHY: Grandfathered fields accept non-minimal lengths and UTCTime
	// offsets; the same bytes fail a strict field.
	t.Parallel()

	strict := Primitive("sig", TagBitString)
	lenient := strict.With(Lenient())
	input := mustHex(t, "03 81 02 00 ff")

	_, err := Decode(strict, input)
	wantErr(t, err, ErrInvalidLength)
	n, err := Decode(lenient, input)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(n.Raw, input) {
		t.Errorf("Raw = %x, want original bytes", n.Raw)
	}

	offset := mustHex(t, "17 11 3235303130313030303030302b30313030")
	_, err = Decode(Primitive("t", TagUTCTime), offset)
	wantErr(t, err, ErrInvalidTime)
	if _, err := Decode(Primitive("t", TagUTCTime, Lenient()), offset); err != nil {
		t.Errorf("lenient UTCTime with offset: %v", err)
	}
}

func TestDecoder_DecodeNode(t *testing.T) {
	// WHY: DecodeNode works on a cursor and leaves trailing input for the
	// caller, unlike Decode.
	t.Parallel()

	c := bytestring.NewCursor(mustHex(t, "02 01 01 02 01 02"))
	var d Decoder
	s := Primitive("i", TagInteger)
	for want := int64(1); want <= 2; want++ {
		n, err := d.DecodeNode(s, &c)
		if err != nil {
			t.Fatal(err)
		}
		if got, _ := n.Value.(Integer).Int64(); got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
	if !c.Empty() {
		t.Error("input not consumed")
	}
}

func TestEncode_RawNode(t *testing.T) {
	// WHY: Pre-encoded substructures (a cached to-be-signed body) must be
	// spliced into the output byte for byte.
	t.Parallel()

	inner := mustHex(t, "30 03 02 01 07")
	s := Sequence("outer",
		Sequence("body", Primitive("n", TagInteger)),
		Primitive("flag", TagBoolean),
	)
	got, err := Encode(s, SequenceNode(RawNode(inner), ValueNode(Boolean(true))))
	if err != nil {
		t.Fatal(err)
	}
	if want := mustHex(t, "30 08 30 03 02 01 07 01 01 ff"); !bytes.Equal(got, want) {
		t.Errorf("Encode = %x, want %x", got, want)
	}
}
