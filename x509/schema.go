package x509

import (
	"github.com/sensiblebit/derkit/asn1"
)

// Well-known object identifiers used by the schemas and the verifiers.
var (
	OIDRSAEncryption   = asn1.MustOID("1.2.840.113549.1.1.1")
	OIDRSASSAPSS       = asn1.MustOID("1.2.840.113549.1.1.10")
	OIDECPublicKey     = asn1.MustOID("1.2.840.10045.2.1")
	OIDEd25519         = asn1.MustOID("1.3.101.112")
	OIDSHA1WithRSA     = asn1.MustOID("1.2.840.113549.1.1.5")
	OIDSHA256WithRSA   = asn1.MustOID("1.2.840.113549.1.1.11")
	OIDSHA384WithRSA   = asn1.MustOID("1.2.840.113549.1.1.12")
	OIDSHA512WithRSA   = asn1.MustOID("1.2.840.113549.1.1.13")
	OIDECDSAWithSHA256 = asn1.MustOID("1.2.840.10045.4.3.2")
	OIDECDSAWithSHA384 = asn1.MustOID("1.2.840.10045.4.3.3")
	OIDECDSAWithSHA512 = asn1.MustOID("1.2.840.10045.4.3.4")

	OIDCommonName       = asn1.MustOID("2.5.4.3")
	OIDCountry          = asn1.MustOID("2.5.4.6")
	OIDOrganization     = asn1.MustOID("2.5.4.10")
	OIDOrganizationUnit = asn1.MustOID("2.5.4.11")
)

func timeChoice(name string) *asn1.Schema {
	return asn1.Choice(name,
		asn1.Primitive("utcTime", asn1.TagUTCTime),
		asn1.Primitive("generalTime", asn1.TagGeneralizedTime),
	)
}

// rsaParameters covers the algorithms whose parameters must be NULL.
func rsaParameters() map[string]*asn1.Schema {
	null := asn1.Primitive("null", asn1.TagNull)
	m := map[string]*asn1.Schema{}
	for _, oid := range []asn1.ObjectIdentifier{OIDRSAEncryption, OIDSHA1WithRSA, OIDSHA256WithRSA, OIDSHA384WithRSA, OIDSHA512WithRSA} {
		m[oid.String()] = null
	}
	return m
}

// ECParametersSchema is the SEC 1 ECParameters CHOICE. Only namedCurve is
// used in practice.
var ECParametersSchema = asn1.Choice("ECParameters",
	asn1.Primitive("namedCurve", asn1.TagOID),
	asn1.Primitive("implicitCurve", asn1.TagNull),
	asn1.AnyField("specifiedCurve"),
)

// AlgorithmIdentifierSchema is RFC 5280 Section 4.1.1.2. Parameters of RSA
// algorithms must be NULL and those of ecPublicKey an ECParameters; other
// parameters are kept as captured.
var AlgorithmIdentifierSchema = asn1.Sequence("AlgorithmIdentifier",
	asn1.Primitive("algorithm", asn1.TagOID),
	asn1.AnyDefinedBy("parameters", "algorithm", func() map[string]*asn1.Schema {
		m := rsaParameters()
		m[OIDECPublicKey.String()] = ECParametersSchema
		return m
	}(), asn1.Optional()),
)

var (
	AttributeTypeAndValueSchema = asn1.Sequence("AttributeTypeAndValue",
		asn1.Primitive("type", asn1.TagOID),
		asn1.AnyField("value"),
	)

	RelativeDistinguishedNameSchema = asn1.SetOf("RelativeDistinguishedName", AttributeTypeAndValueSchema, asn1.NonEmpty())

	NameSchema = asn1.SequenceOf("Name", RelativeDistinguishedNameSchema)
)

var ValiditySchema = asn1.Sequence("validity",
	timeChoice("notBefore"),
	timeChoice("notAfter"),
)

var SubjectPublicKeyInfoSchema = asn1.Sequence("SubjectPublicKeyInfo",
	AlgorithmIdentifierSchema.With(asn1.Named("algorithm")),
	asn1.Primitive("subjectPublicKey", asn1.TagBitString),
)

var ExtensionSchema = asn1.Sequence("Extension",
	asn1.Primitive("extnID", asn1.TagOID),
	asn1.Primitive("critical", asn1.TagBoolean, asn1.Default(asn1.Boolean(false))),
	asn1.Primitive("extnValue", asn1.TagOctetString),
)

// TBSCertificateSchema is RFC 5280 Section 4.1.
var TBSCertificateSchema = asn1.Sequence("tbsCertificate",
	asn1.Primitive("version", asn1.TagInteger, asn1.Explicit(asn1.ContextSpecific(0)), asn1.Default(asn1.NewInt64(0))),
	asn1.Primitive("serialNumber", asn1.TagInteger),
	AlgorithmIdentifierSchema.With(asn1.Named("signature")),
	NameSchema.With(asn1.Named("issuer")),
	ValiditySchema,
	NameSchema.With(asn1.Named("subject")),
	SubjectPublicKeyInfoSchema.With(asn1.Named("subjectPublicKeyInfo")),
	asn1.Primitive("issuerUniqueID", asn1.TagBitString, asn1.Implicit(asn1.ContextSpecific(1)), asn1.Optional()),
	asn1.Primitive("subjectUniqueID", asn1.TagBitString, asn1.Implicit(asn1.ContextSpecific(2)), asn1.Optional()),
	asn1.SequenceOf("extensions", ExtensionSchema, asn1.Explicit(asn1.ContextSpecific(3)), asn1.Optional(), asn1.NonEmpty()),
)

// CertificateSchema is the signed certificate. The outer signature is
// decoded leniently because some deployed certificates carry non-minimal
// lengths there.
var CertificateSchema = asn1.Sequence("Certificate",
	TBSCertificateSchema,
	AlgorithmIdentifierSchema.With(asn1.Named("signatureAlgorithm")),
	asn1.Primitive("signatureValue", asn1.TagBitString, asn1.Lenient()),
)
