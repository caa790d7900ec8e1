package x509

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/sensiblebit/derkit/asn1"
)

// ErrMalformedCertificate is wrapped by errors for certificates that decode
// but violate RFC 5280 structure rules.
var ErrMalformedCertificate = errors.New("malformed certificate")

// Extension is one certificate extension. Value holds the extnValue
// octets, itself usually a DER encoding.
type Extension struct {
	ID       asn1.ObjectIdentifier
	Critical bool
	Value    []byte
}

func (e Extension) node() *asn1.Node {
	return asn1.SequenceNode(
		asn1.ValueNode(e.ID),
		asn1.ValueNode(asn1.Boolean(e.Critical)),
		asn1.ValueNode(asn1.OctetString(e.Value)),
	)
}

// Certificate is an X.509 certificate.
//
// A parsed certificate keeps the exact bytes of its to-be-signed part so
// that signature checks and re-encoding see the original encoding. Every
// setter drops those bytes; the part is then re-encoded from the fields.
// Names and keys passed to or returned by a Certificate are shared, so a
// caller that modifies one must pass it back through the matching setter.
// A Certificate is not safe for concurrent modification.
type Certificate struct {
	raw    []byte
	rawTBS []byte

	version         int
	serial          asn1.Integer
	tbsSignature    AlgorithmIdentifier
	issuer          *Name
	notBefore       asn1.Time
	notAfter        asn1.Time
	subject         *Name
	publicKey       *SubjectPublicKeyInfo
	issuerUniqueID  *asn1.BitString
	subjectUniqueID *asn1.BitString
	extensions      []Extension

	signatureAlgorithm AlgorithmIdentifier
	signature          asn1.BitString
}

// NewCertificate returns an empty version 3 certificate with empty names.
func NewCertificate() *Certificate {
	return &Certificate{version: 3, issuer: NewName(), subject: NewName()}
}

// ParseCertificate decodes a DER certificate. Beyond the DER rules it
// enforces: version 1, 2 or 3; unique identifiers only from version 2;
// extensions only in version 3 and without duplicates; identical inner and
// outer signature algorithms.
func ParseCertificate(der []byte) (*Certificate, error) {
	n, err := asn1.Decode(CertificateSchema, der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	c, err := certificateFromNode(n)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return c, nil
}

func certificateFromNode(n *asn1.Node) (*Certificate, error) {
	tbs := n.Field("tbsCertificate")
	c := &Certificate{raw: bytes.Clone(n.Raw), rawTBS: bytes.Clone(tbs.Raw)}

	version := tbs.Field("version").Value.(asn1.Integer)
	v, ok := version.Int64()
	if !ok || v < 0 || v > 2 {
		return nil, fmt.Errorf("%w: unsupported version value %s", ErrMalformedCertificate, version)
	}
	c.version = int(v) + 1
	c.serial = tbs.Field("serialNumber").Value.(asn1.Integer)

	var err error
	if c.tbsSignature, err = algorithmFromNode(tbs.Field("signature")); err != nil {
		return nil, err
	}
	if c.issuer, err = nameFromNode(tbs.Field("issuer")); err != nil {
		return nil, err
	}
	validity := tbs.Field("validity")
	c.notBefore = leafValue(validity.Field("notBefore")).(asn1.Time)
	c.notAfter = leafValue(validity.Field("notAfter")).(asn1.Time)
	if c.subject, err = nameFromNode(tbs.Field("subject")); err != nil {
		return nil, err
	}
	if c.publicKey, err = spkiFromNode(tbs.Field("subjectPublicKeyInfo")); err != nil {
		return nil, err
	}
	if f := tbs.Field("issuerUniqueID"); f != nil {
		id := f.Value.(asn1.BitString)
		c.issuerUniqueID = &id
	}
	if f := tbs.Field("subjectUniqueID"); f != nil {
		id := f.Value.(asn1.BitString)
		c.subjectUniqueID = &id
	}
	if f := tbs.Field("extensions"); f != nil {
		for _, el := range f.Elems {
			c.extensions = append(c.extensions, Extension{
				ID:       el.Field("extnID").Value.(asn1.ObjectIdentifier),
				Critical: bool(el.Field("critical").Value.(asn1.Boolean)),
				Value:    el.Field("extnValue").Value.(asn1.String).Bytes,
			})
		}
	}

	if c.signatureAlgorithm, err = algorithmFromNode(n.Field("signatureAlgorithm")); err != nil {
		return nil, err
	}
	c.signature = n.Field("signatureValue").Value.(asn1.BitString)

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Certificate) validate() error {
	if c.version < 1 || c.version > 3 {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedCertificate, c.version)
	}
	if c.version == 1 && (c.issuerUniqueID != nil || c.subjectUniqueID != nil) {
		return fmt.Errorf("%w: unique identifiers in a version 1 certificate", ErrMalformedCertificate)
	}
	if c.version != 3 && len(c.extensions) > 0 {
		return fmt.Errorf("%w: extensions in a version %d certificate", ErrMalformedCertificate, c.version)
	}
	seen := make(map[string]bool, len(c.extensions))
	for _, e := range c.extensions {
		if seen[string(e.ID)] {
			return fmt.Errorf("%w: duplicate extension %s", ErrMalformedCertificate, e.ID)
		}
		seen[string(e.ID)] = true
	}
	if !c.tbsSignature.Equal(c.signatureAlgorithm) {
		return fmt.Errorf("%w: signature algorithm %s does not match %s", ErrMalformedCertificate,
			c.signatureAlgorithm.Algorithm, c.tbsSignature.Algorithm)
	}
	return nil
}

func (c *Certificate) invalidate() {
	c.raw = nil
	c.rawTBS = nil
}

func (c *Certificate) tbsNode() (*asn1.Node, error) {
	if c.issuer == nil || c.subject == nil || c.publicKey == nil {
		return nil, fmt.Errorf("%w: issuer, subject and public key are required", ErrMalformedCertificate)
	}
	issuer, err := c.issuer.DER()
	if err != nil {
		return nil, err
	}
	subject, err := c.subject.DER()
	if err != nil {
		return nil, err
	}
	var ids [2]*asn1.Node
	for i, id := range []*asn1.BitString{c.issuerUniqueID, c.subjectUniqueID} {
		if id != nil {
			ids[i] = asn1.ValueNode(*id)
		}
	}
	var exts *asn1.Node
	if len(c.extensions) > 0 {
		elems := make([]*asn1.Node, len(c.extensions))
		for i, e := range c.extensions {
			elems[i] = e.node()
		}
		exts = asn1.ListNode(elems...)
	}
	return asn1.SequenceNode(
		asn1.ValueNode(asn1.NewInt64(int64(c.version-1))),
		asn1.ValueNode(c.serial),
		c.tbsSignature.node(),
		asn1.RawNode(issuer),
		asn1.SequenceNode(timeNode(c.notBefore), timeNode(c.notAfter)),
		asn1.RawNode(subject),
		c.publicKey.node(),
		ids[0],
		ids[1],
		exts,
	), nil
}

func timeNode(t asn1.Time) *asn1.Node {
	i := 0
	if t.Type == asn1.TagGeneralizedTime {
		i = 1
	}
	return asn1.ChoiceNode(i, asn1.ValueNode(t))
}

// RawTBS returns the DER encoding of the to-be-signed part: the original
// bytes of a parsed, unmodified certificate, otherwise a fresh encoding.
func (c *Certificate) RawTBS() ([]byte, error) {
	if c.rawTBS != nil {
		return c.rawTBS, nil
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	n, err := c.tbsNode()
	if err != nil {
		return nil, err
	}
	return asn1.Encode(TBSCertificateSchema, n)
}

// Marshal returns the DER encoding of the whole certificate.
func (c *Certificate) Marshal() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	tbs, err := c.RawTBS()
	if err != nil {
		return nil, err
	}
	return asn1.Encode(CertificateSchema, asn1.SequenceNode(
		asn1.RawNode(tbs),
		c.signatureAlgorithm.node(),
		asn1.ValueNode(c.signature),
	))
}

// Version returns 1, 2 or 3.
func (c *Certificate) Version() int { return c.version }

// SerialNumber returns the serial number.
func (c *Certificate) SerialNumber() asn1.Integer { return c.serial }

// SignatureAlgorithm returns the outer signature algorithm, which always
// equals the one inside the to-be-signed part.
func (c *Certificate) SignatureAlgorithm() AlgorithmIdentifier { return c.signatureAlgorithm }

// Issuer returns the issuer name.
func (c *Certificate) Issuer() *Name { return c.issuer }

// Subject returns the subject name.
func (c *Certificate) Subject() *Name { return c.subject }

// NotBefore returns the start of the validity period as encoded.
func (c *Certificate) NotBefore() asn1.Time { return c.notBefore }

// NotAfter returns the end of the validity period as encoded.
func (c *Certificate) NotAfter() asn1.Time { return c.notAfter }

// PublicKey returns the subject public key.
func (c *Certificate) PublicKey() *SubjectPublicKeyInfo { return c.publicKey }

// IssuerUniqueID returns the issuer unique identifier, or nil.
func (c *Certificate) IssuerUniqueID() *asn1.BitString { return c.issuerUniqueID }

// SubjectUniqueID returns the subject unique identifier, or nil.
func (c *Certificate) SubjectUniqueID() *asn1.BitString { return c.subjectUniqueID }

// Extensions returns the extensions in encoding order.
func (c *Certificate) Extensions() []Extension { return c.extensions }

// Extension returns the extension with the given identifier.
func (c *Certificate) Extension(id asn1.ObjectIdentifier) (Extension, bool) {
	for _, e := range c.extensions {
		if e.ID.Equal(id) {
			return e, true
		}
	}
	return Extension{}, false
}

// Signature returns the signature value.
func (c *Certificate) Signature() asn1.BitString { return c.signature }

// SetVersion sets the version, 1 to 3.
func (c *Certificate) SetVersion(v int) error {
	if v < 1 || v > 3 {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedCertificate, v)
	}
	c.version = v
	c.invalidate()
	return nil
}

// SetSerialNumber sets the serial number.
func (c *Certificate) SetSerialNumber(serial asn1.Integer) {
	c.serial = serial
	c.invalidate()
}

// SetSignatureAlgorithm sets both copies of the signature algorithm.
func (c *Certificate) SetSignatureAlgorithm(alg AlgorithmIdentifier) {
	c.tbsSignature = alg
	c.signatureAlgorithm = alg
	c.invalidate()
}

// SetIssuer sets the issuer name.
func (c *Certificate) SetIssuer(n *Name) {
	c.issuer = n
	c.invalidate()
}

// SetSubject sets the subject name.
func (c *Certificate) SetSubject(n *Name) {
	c.subject = n
	c.invalidate()
}

// SetValidity sets the validity period. Each bound is encoded as UTCTime
// for years 1950 through 2049 and as GeneralizedTime otherwise.
func (c *Certificate) SetValidity(notBefore, notAfter time.Time) error {
	nb, err := asn1.NewTime(notBefore)
	if err != nil {
		return fmt.Errorf("notBefore: %w", err)
	}
	na, err := asn1.NewTime(notAfter)
	if err != nil {
		return fmt.Errorf("notAfter: %w", err)
	}
	c.notBefore, c.notAfter = nb, na
	c.invalidate()
	return nil
}

// SetPublicKey sets the subject public key.
func (c *Certificate) SetPublicKey(spki *SubjectPublicKeyInfo) {
	c.publicKey = spki
	c.invalidate()
}

// SetUniqueIDs sets the issuer and subject unique identifiers. Either may
// be nil.
func (c *Certificate) SetUniqueIDs(issuer, subject *asn1.BitString) {
	c.issuerUniqueID, c.subjectUniqueID = issuer, subject
	c.invalidate()
}

// AddExtension appends an extension. Adding an identifier twice fails.
func (c *Certificate) AddExtension(e Extension) error {
	if _, ok := c.Extension(e.ID); ok {
		return fmt.Errorf("%w: duplicate extension %s", ErrMalformedCertificate, e.ID)
	}
	c.extensions = append(c.extensions, e)
	c.invalidate()
	return nil
}

// SetExtensions replaces all extensions.
func (c *Certificate) SetExtensions(exts []Extension) {
	c.extensions = exts
	c.invalidate()
}

// IsSelfIssued reports whether issuer and subject are equal names.
func (c *Certificate) IsSelfIssued() bool {
	return c.issuer != nil && c.issuer.Equal(c.subject)
}
