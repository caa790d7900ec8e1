package x509

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/sensiblebit/derkit/asn1"
	"github.com/sensiblebit/derkit/oid"
)

// Extension identifiers from RFC 5280 Section 4.2.1.
var (
	OIDExtSubjectKeyID     = asn1.MustOID("2.5.29.14")
	OIDExtKeyUsage         = asn1.MustOID("2.5.29.15")
	OIDExtSubjectAltName   = asn1.MustOID("2.5.29.17")
	OIDExtBasicConstraints = asn1.MustOID("2.5.29.19")
	OIDExtAuthorityKeyID   = asn1.MustOID("2.5.29.35")
	OIDExtExtendedKeyUsage = asn1.MustOID("2.5.29.37")

	OIDExtAuthorityInfoAccess = asn1.MustOID("1.3.6.1.5.5.7.1.1")
	OIDAccessCAIssuers        = asn1.MustOID("1.3.6.1.5.5.7.48.2")
	OIDAccessOCSP             = asn1.MustOID("1.3.6.1.5.5.7.48.1")
)

var (
	// GeneralNameSchema is the GeneralName CHOICE. x400Address and
	// ediPartyName are kept as lists of raw elements.
	GeneralNameSchema = asn1.Choice("GeneralName",
		asn1.Sequence("otherName",
			asn1.Primitive("type-id", asn1.TagOID),
			asn1.AnyField("value", asn1.Explicit(asn1.ContextSpecific(0))),
		).With(asn1.Implicit(asn1.ContextSpecific(0))),
		asn1.Primitive("rfc822Name", asn1.TagIA5String, asn1.Implicit(asn1.ContextSpecific(1))),
		asn1.Primitive("dNSName", asn1.TagIA5String, asn1.Implicit(asn1.ContextSpecific(2))),
		asn1.SequenceOf("x400Address", asn1.AnyField("part"), asn1.Implicit(asn1.ContextSpecific(3))),
		NameSchema.With(asn1.Named("directoryName"), asn1.Explicit(asn1.ContextSpecific(4))),
		asn1.SequenceOf("ediPartyName", asn1.AnyField("part"), asn1.Implicit(asn1.ContextSpecific(5))),
		asn1.Primitive("uniformResourceIdentifier", asn1.TagIA5String, asn1.Implicit(asn1.ContextSpecific(6))),
		asn1.Primitive("iPAddress", asn1.TagOctetString, asn1.Implicit(asn1.ContextSpecific(7))),
		asn1.Primitive("registeredID", asn1.TagOID, asn1.Implicit(asn1.ContextSpecific(8))),
	)

	GeneralNamesSchema = asn1.SequenceOf("GeneralNames", GeneralNameSchema, asn1.NonEmpty())

	BasicConstraintsSchema = asn1.Sequence("BasicConstraints",
		asn1.Primitive("cA", asn1.TagBoolean, asn1.Default(asn1.Boolean(false))),
		asn1.Primitive("pathLenConstraint", asn1.TagInteger, asn1.Optional()),
	)

	KeyUsageSchema = asn1.Primitive("KeyUsage", asn1.TagBitString)

	ExtKeyUsageSchema = asn1.SequenceOf("ExtKeyUsageSyntax", asn1.Primitive("KeyPurposeId", asn1.TagOID), asn1.NonEmpty())

	SubjectKeyIDSchema = asn1.Primitive("SubjectKeyIdentifier", asn1.TagOctetString)

	AuthorityKeyIDSchema = asn1.Sequence("AuthorityKeyIdentifier",
		asn1.Primitive("keyIdentifier", asn1.TagOctetString, asn1.Implicit(asn1.ContextSpecific(0)), asn1.Optional()),
		GeneralNamesSchema.With(asn1.Named("authorityCertIssuer"), asn1.Implicit(asn1.ContextSpecific(1)), asn1.Optional()),
		asn1.Primitive("authorityCertSerialNumber", asn1.TagInteger, asn1.Implicit(asn1.ContextSpecific(2)), asn1.Optional()),
	)

	AuthorityInfoAccessSchema = asn1.SequenceOf("AuthorityInfoAccessSyntax",
		asn1.Sequence("AccessDescription",
			asn1.Primitive("accessMethod", asn1.TagOID),
			GeneralNameSchema.With(asn1.Named("accessLocation")),
		),
		asn1.NonEmpty(),
	)
)

// BasicConstraints is the decoded basicConstraints extension. MaxPathLen
// is -1 when no limit is set.
type BasicConstraints struct {
	IsCA       bool
	MaxPathLen int
}

// ParseBasicConstraints decodes the value of a basicConstraints extension.
func ParseBasicConstraints(der []byte) (BasicConstraints, error) {
	n, err := asn1.Decode(BasicConstraintsSchema, der)
	if err != nil {
		return BasicConstraints{}, fmt.Errorf("parsing basic constraints: %w", err)
	}
	bc := BasicConstraints{IsCA: bool(n.Field("cA").Value.(asn1.Boolean)), MaxPathLen: -1}
	if f := n.Field("pathLenConstraint"); f != nil {
		v, ok := f.Value.(asn1.Integer).Int64()
		if !ok || v < 0 || v > 1<<16 {
			return BasicConstraints{}, fmt.Errorf("parsing basic constraints: path length %s out of range", f.Value.(asn1.Integer))
		}
		bc.MaxPathLen = int(v)
	}
	return bc, nil
}

// KeyUsage is the keyUsage bit mask; bit 0 is digitalSignature.
type KeyUsage uint16

var keyUsageNames = []string{
	"digitalSignature", "nonRepudiation", "keyEncipherment", "dataEncipherment",
	"keyAgreement", "keyCertSign", "cRLSign", "encipherOnly", "decipherOnly",
}

// Names returns the names of the set bits in bit order.
func (k KeyUsage) Names() []string {
	var out []string
	for i, name := range keyUsageNames {
		if k&(1<<i) != 0 {
			out = append(out, name)
		}
	}
	return out
}

// ParseKeyUsage decodes the value of a keyUsage extension. Bits beyond
// decipherOnly are ignored.
func ParseKeyUsage(der []byte) (KeyUsage, error) {
	n, err := asn1.Decode(KeyUsageSchema, der)
	if err != nil {
		return 0, fmt.Errorf("parsing key usage: %w", err)
	}
	bits := n.Value.(asn1.BitString)
	var k KeyUsage
	for i := range min(bits.BitLen(), len(keyUsageNames)) {
		if bits.At(i) == 1 {
			k |= 1 << i
		}
	}
	return k, nil
}

// ParseExtKeyUsage decodes the value of an extKeyUsage extension.
func ParseExtKeyUsage(der []byte) ([]asn1.ObjectIdentifier, error) {
	n, err := asn1.Decode(ExtKeyUsageSchema, der)
	if err != nil {
		return nil, fmt.Errorf("parsing extended key usage: %w", err)
	}
	out := make([]asn1.ObjectIdentifier, len(n.Elems))
	for i, el := range n.Elems {
		out[i] = el.Value.(asn1.ObjectIdentifier)
	}
	return out, nil
}

// ParseSubjectKeyID decodes the value of a subjectKeyIdentifier extension.
func ParseSubjectKeyID(der []byte) ([]byte, error) {
	n, err := asn1.Decode(SubjectKeyIDSchema, der)
	if err != nil {
		return nil, fmt.Errorf("parsing subject key identifier: %w", err)
	}
	return n.Value.(asn1.String).Bytes, nil
}

// ParseAuthorityKeyID decodes the keyIdentifier of an
// authorityKeyIdentifier extension. It returns nil if the field is absent.
func ParseAuthorityKeyID(der []byte) ([]byte, error) {
	n, err := asn1.Decode(AuthorityKeyIDSchema, der)
	if err != nil {
		return nil, fmt.Errorf("parsing authority key identifier: %w", err)
	}
	if f := n.Field("keyIdentifier"); f != nil {
		return f.Value.(asn1.String).Bytes, nil
	}
	return nil, nil
}

// GeneralName is one decoded GeneralName. Tag is the context tag of the
// chosen alternative; which other field is set depends on it.
type GeneralName struct {
	Tag  int
	Text string                // rfc822Name, dNSName, uniformResourceIdentifier
	IP   netip.Addr            // iPAddress
	Dir  *Name                 // directoryName
	OID  asn1.ObjectIdentifier // registeredID, otherName type-id
	Raw  []byte                // the element as encoded
}

// String returns the OpenSSL-style label, such as DNS:example.com.
func (g GeneralName) String(reg *oid.Registry) string {
	switch g.Tag {
	case 0:
		return "othername:" + reg.Label(g.OID)
	case 1:
		return "email:" + g.Text
	case 2:
		return "DNS:" + g.Text
	case 4:
		return "DirName:" + g.Dir.String(reg)
	case 6:
		return "URI:" + g.Text
	case 7:
		if g.IP.IsValid() {
			return "IP:" + g.IP.String()
		}
		return "IP:<invalid>"
	case 8:
		return "RID:" + reg.Label(g.OID)
	}
	return fmt.Sprintf("[%d]:%x", g.Tag, g.Raw)
}

// ParseGeneralNames decodes a GeneralNames value, such as the value of a
// subjectAltName extension.
func ParseGeneralNames(der []byte) ([]GeneralName, error) {
	n, err := asn1.Decode(GeneralNamesSchema, der)
	if err != nil {
		return nil, fmt.Errorf("parsing general names: %w", err)
	}
	out := make([]GeneralName, 0, len(n.Elems))
	for _, el := range n.Elems {
		g, err := generalNameFromNode(el)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func generalNameFromNode(el *asn1.Node) (GeneralName, error) {
	g := GeneralName{Tag: el.Choice, Raw: el.Raw}
	chosen := el.Chosen
	switch el.Choice {
	case 0:
		g.OID = chosen.Field("type-id").Value.(asn1.ObjectIdentifier)
	case 1, 2, 6:
		g.Text = string(chosen.Value.(asn1.String).Bytes)
	case 4:
		dir, err := nameFromNode(chosen)
		if err != nil {
			return GeneralName{}, err
		}
		g.Dir = dir
	case 7:
		if ip, ok := netip.AddrFromSlice(chosen.Value.(asn1.String).Bytes); ok {
			g.IP = ip
		}
	case 8:
		g.OID = chosen.Value.(asn1.ObjectIdentifier)
	}
	return g, nil
}

// AccessDescription is one entry of an authorityInfoAccess extension.
type AccessDescription struct {
	Method   asn1.ObjectIdentifier
	Location GeneralName
}

// ParseAuthorityInfoAccess decodes the value of an authorityInfoAccess
// extension.
func ParseAuthorityInfoAccess(der []byte) ([]AccessDescription, error) {
	n, err := asn1.Decode(AuthorityInfoAccessSchema, der)
	if err != nil {
		return nil, fmt.Errorf("parsing authority info access: %w", err)
	}
	out := make([]AccessDescription, 0, len(n.Elems))
	for _, el := range n.Elems {
		loc, err := generalNameFromNode(el.Field("accessLocation"))
		if err != nil {
			return nil, fmt.Errorf("parsing authority info access: %w", err)
		}
		out = append(out, AccessDescription{
			Method:   el.Field("accessMethod").Value.(asn1.ObjectIdentifier),
			Location: loc,
		})
	}
	return out, nil
}

// IssuingCertificateURLs returns the caIssuers URIs of the
// authorityInfoAccess extension. A missing or malformed extension yields
// nil.
func (c *Certificate) IssuingCertificateURLs() []string {
	ext, ok := c.Extension(OIDExtAuthorityInfoAccess)
	if !ok {
		return nil
	}
	descs, err := ParseAuthorityInfoAccess(ext.Value)
	if err != nil {
		return nil
	}
	var urls []string
	for _, d := range descs {
		if d.Method.Equal(OIDAccessCAIssuers) && d.Location.Tag == 6 {
			urls = append(urls, d.Location.Text)
		}
	}
	return urls
}

// FormatGeneralNames joins names with ", ".
func FormatGeneralNames(names []GeneralName, reg *oid.Registry) string {
	parts := make([]string, len(names))
	for i, g := range names {
		parts[i] = g.String(reg)
	}
	return strings.Join(parts, ", ")
}

// BasicConstraints returns the decoded basicConstraints extension and
// whether it is present.
func (c *Certificate) BasicConstraints() (BasicConstraints, bool, error) {
	ext, ok := c.Extension(OIDExtBasicConstraints)
	if !ok {
		return BasicConstraints{MaxPathLen: -1}, false, nil
	}
	bc, err := ParseBasicConstraints(ext.Value)
	return bc, true, err
}

// IsCA reports whether the certificate carries basicConstraints with cA
// set. Decoding errors count as not a CA.
func (c *Certificate) IsCA() bool {
	bc, _, err := c.BasicConstraints()
	return err == nil && bc.IsCA
}
