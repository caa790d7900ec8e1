package internal

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sensiblebit/derkit/asn1"
	"github.com/sensiblebit/derkit/bytestring"
	"github.com/sensiblebit/derkit/oid"
)

// maxDumpHex is how many content bytes are shown for opaque values.
const maxDumpHex = 32

// DumpNode is one element of a schema-less DER tree.
type DumpNode struct {
	Offset    int    `json:"offset" yaml:"offset"`
	HeaderLen int    `json:"header_length" yaml:"header_length"`
	Length    int    `json:"length" yaml:"length"`
	Tag       string `json:"tag" yaml:"tag"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	// Encapsulated is set on BIT STRING and OCTET STRING elements whose
	// content is itself DER and is shown as Children.
	Encapsulated bool        `json:"encapsulated,omitempty" yaml:"encapsulated,omitempty"`
	Children     []*DumpNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// Dump decodes der without a schema. Every element is listed with its
// absolute offset; constructed elements and strings that wrap DER are
// expanded. Object identifiers are labelled from reg.
func Dump(der []byte, reg *oid.Registry) ([]*DumpNode, error) {
	if len(der) == 0 {
		return nil, errors.New("empty input")
	}
	c := bytestring.NewCursor(der)
	return dumpElements(&c, reg, 0)
}

func dumpElements(c *bytestring.Cursor, reg *oid.Registry, depth int) ([]*DumpNode, error) {
	if depth > asn1.MaxDepth {
		return nil, fmt.Errorf("nesting exceeds %d levels at offset %d", asn1.MaxDepth, c.Offset())
	}
	var nodes []*DumpNode
	for !c.Empty() {
		start := *c
		e, err := asn1.ReadElement(c)
		if err != nil {
			return nil, err
		}
		n := &DumpNode{
			Offset:    e.Offset,
			HeaderLen: e.HeaderLen,
			Length:    e.Body.Len(),
			Tag:       e.Tag.String(),
		}
		switch {
		case e.Tag.Constructed:
			body := e.Body
			if n.Children, err = dumpElements(&body, reg, depth+1); err != nil {
				return nil, err
			}
		case e.Tag.Class == asn1.ClassUniversal:
			v, err := asn1.ParseAny(&start)
			if err != nil {
				return nil, err
			}
			n.Value = FormatValue(v, reg)
			if children := encapsulated(e, reg, depth); children != nil {
				n.Children = children
				n.Encapsulated = true
				n.Value = ""
			}
		default:
			n.Value = hexPreview(e.Body.Bytes())
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// encapsulated returns the decoded content of a BIT STRING or OCTET STRING
// that holds a complete DER SEQUENCE or SET, or nil.
func encapsulated(e asn1.Element, reg *oid.Registry, depth int) []*DumpNode {
	body := e.Body
	switch e.Tag.Number {
	case asn1.TagBitString:
		if unused, ok := body.PeekUint8(); !ok || unused != 0 {
			return nil
		}
		if err := body.Skip(1); err != nil {
			return nil
		}
	case asn1.TagOctetString:
	default:
		return nil
	}
	if first, ok := body.PeekUint8(); !ok || (first != 0x30 && first != 0x31) {
		return nil
	}
	children, err := dumpElements(&body, reg, depth+1)
	if err != nil {
		return nil
	}
	return children
}

// FormatValue renders a primitive value on one line.
func FormatValue(v asn1.Value, reg *oid.Registry) string {
	switch v := v.(type) {
	case asn1.Boolean:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case asn1.Null:
		return ""
	case asn1.Integer:
		if v.BigInt().BitLen() > 64 {
			return "0x" + v.BigInt().Text(16)
		}
		return v.String()
	case asn1.Enumerated:
		return v.String()
	case asn1.ObjectIdentifier:
		if label := reg.Label(v); label != v.String() {
			return label + " (" + v.String() + ")"
		}
		return v.String()
	case asn1.BitString:
		return fmt.Sprintf("%d bits %s", v.BitLen(), hexPreview(v.Bytes))
	case asn1.Time:
		return v.String()
	case asn1.Any:
		return hexPreview(v.Content())
	}
	if s, ok := asn1.TextString(v); ok {
		return strconv.Quote(s)
	}
	if s, ok := v.(asn1.String); ok {
		return hexPreview(s.Bytes)
	}
	return ""
}

func hexPreview(b []byte) string {
	if len(b) <= maxDumpHex {
		return hex.EncodeToString(b)
	}
	return hex.EncodeToString(b[:maxDumpHex]) + "..."
}

// FormatDump formats a dump tree as text, JSON or YAML. The text form has
// one line per element: offset, header length, content length and the
// indented tag and value.
func FormatDump(nodes []*DumpNode, format string) (string, error) {
	return Render(nodes, format, func() string {
		var sb strings.Builder
		writeDumpText(&sb, nodes, 0)
		return sb.String()
	})
}

func writeDumpText(sb *strings.Builder, nodes []*DumpNode, depth int) {
	for _, n := range nodes {
		fmt.Fprintf(sb, "%6d: hl=%d l=%5d %s%s", n.Offset, n.HeaderLen, n.Length, strings.Repeat("  ", depth), n.Tag)
		switch {
		case n.Encapsulated:
			sb.WriteString(" (encapsulates)")
		case n.Value != "":
			sb.WriteString(" " + n.Value)
		}
		sb.WriteString("\n")
		writeDumpText(sb, n.Children, depth+1)
	}
}
