package x509

import (
	"errors"
	"fmt"

	"github.com/sensiblebit/derkit/asn1"
)

// Key structures from RFC 8017, RFC 5915 and RFC 5958.
var (
	RSAPublicKeySchema = asn1.Sequence("RSAPublicKey",
		asn1.Primitive("modulus", asn1.TagInteger),
		asn1.Primitive("publicExponent", asn1.TagInteger),
	)

	RSAPrivateKeySchema = asn1.Sequence("RSAPrivateKey",
		asn1.Primitive("version", asn1.TagInteger),
		asn1.Primitive("modulus", asn1.TagInteger),
		asn1.Primitive("publicExponent", asn1.TagInteger),
		asn1.Primitive("privateExponent", asn1.TagInteger),
		asn1.Primitive("prime1", asn1.TagInteger),
		asn1.Primitive("prime2", asn1.TagInteger),
		asn1.Primitive("exponent1", asn1.TagInteger),
		asn1.Primitive("exponent2", asn1.TagInteger),
		asn1.Primitive("coefficient", asn1.TagInteger),
		asn1.SequenceOf("otherPrimeInfos", asn1.AnyField("OtherPrimeInfo"), asn1.Optional()),
	)

	ECPrivateKeySchema = asn1.Sequence("ECPrivateKey",
		asn1.Primitive("version", asn1.TagInteger),
		asn1.Primitive("privateKey", asn1.TagOctetString),
		ECParametersSchema.With(asn1.Named("parameters"), asn1.Explicit(asn1.ContextSpecific(0)), asn1.Optional()),
		asn1.Primitive("publicKey", asn1.TagBitString, asn1.Explicit(asn1.ContextSpecific(1)), asn1.Optional()),
	)

	PrivateKeyInfoSchema = asn1.Sequence("PrivateKeyInfo",
		asn1.Primitive("version", asn1.TagInteger),
		AlgorithmIdentifierSchema.With(asn1.Named("privateKeyAlgorithm")),
		asn1.Primitive("privateKey", asn1.TagOctetString),
		asn1.SetOf("attributes", asn1.AnyField("Attribute"), asn1.Implicit(asn1.ContextSpecific(0)), asn1.Optional()),
		asn1.Primitive("publicKey", asn1.TagBitString, asn1.Implicit(asn1.ContextSpecific(1)), asn1.Optional()),
	)
)

// RSAPublicKey is a PKCS #1 public key.
type RSAPublicKey struct {
	Modulus        asn1.Integer
	PublicExponent asn1.Integer
}

// ParseRSAPublicKey decodes a PKCS #1 RSAPublicKey.
func ParseRSAPublicKey(der []byte) (RSAPublicKey, error) {
	n, err := asn1.Decode(RSAPublicKeySchema, der)
	if err != nil {
		return RSAPublicKey{}, fmt.Errorf("parsing RSA public key: %w", err)
	}
	k := RSAPublicKey{
		Modulus:        n.Field("modulus").Value.(asn1.Integer),
		PublicExponent: n.Field("publicExponent").Value.(asn1.Integer),
	}
	if k.Modulus.Sign() <= 0 || k.PublicExponent.Sign() <= 0 {
		return RSAPublicKey{}, errors.New("parsing RSA public key: modulus and exponent must be positive")
	}
	return k, nil
}

// Marshal returns the DER encoding.
func (k RSAPublicKey) Marshal() ([]byte, error) {
	return asn1.Encode(RSAPublicKeySchema, asn1.SequenceNode(
		asn1.ValueNode(k.Modulus),
		asn1.ValueNode(k.PublicExponent),
	))
}

// BitLen returns the size of the modulus in bits.
func (k RSAPublicKey) BitLen() int { return k.Modulus.BigInt().BitLen() }

// RSAPrivateKey is a PKCS #1 private key. Multi-prime keys are decoded but
// their extra primes are not exposed.
type RSAPrivateKey struct {
	Version         int
	Public          RSAPublicKey
	PrivateExponent asn1.Integer
	Primes          [2]asn1.Integer
	Exponents       [2]asn1.Integer
	Coefficient     asn1.Integer
}

// ParseRSAPrivateKey decodes a PKCS #1 RSAPrivateKey.
func ParseRSAPrivateKey(der []byte) (RSAPrivateKey, error) {
	n, err := asn1.Decode(RSAPrivateKeySchema, der)
	if err != nil {
		return RSAPrivateKey{}, fmt.Errorf("parsing RSA private key: %w", err)
	}
	integer := func(name string) asn1.Integer { return n.Field(name).Value.(asn1.Integer) }
	version, ok := integer("version").Int64()
	if !ok || version < 0 || version > 1 {
		return RSAPrivateKey{}, fmt.Errorf("parsing RSA private key: unsupported version %s", integer("version"))
	}
	if version == 0 && n.Field("otherPrimeInfos") != nil {
		return RSAPrivateKey{}, errors.New("parsing RSA private key: extra primes in a two-prime key")
	}
	return RSAPrivateKey{
		Version:         int(version),
		Public:          RSAPublicKey{Modulus: integer("modulus"), PublicExponent: integer("publicExponent")},
		PrivateExponent: integer("privateExponent"),
		Primes:          [2]asn1.Integer{integer("prime1"), integer("prime2")},
		Exponents:       [2]asn1.Integer{integer("exponent1"), integer("exponent2")},
		Coefficient:     integer("coefficient"),
	}, nil
}

// ECPrivateKey is a SEC 1 elliptic curve private key.
type ECPrivateKey struct {
	PrivateKey []byte
	Curve      asn1.ObjectIdentifier // nil when the parameters are absent
	PublicKey  *asn1.BitString
}

// ParseECPrivateKey decodes an RFC 5915 ECPrivateKey.
func ParseECPrivateKey(der []byte) (ECPrivateKey, error) {
	n, err := asn1.Decode(ECPrivateKeySchema, der)
	if err != nil {
		return ECPrivateKey{}, fmt.Errorf("parsing EC private key: %w", err)
	}
	if v, ok := n.Field("version").Value.(asn1.Integer).Int64(); !ok || v != 1 {
		return ECPrivateKey{}, errors.New("parsing EC private key: version must be 1")
	}
	k := ECPrivateKey{PrivateKey: n.Field("privateKey").Value.(asn1.String).Bytes}
	if curve, ok := leafValue(n.Field("parameters")).(asn1.ObjectIdentifier); ok {
		k.Curve = curve
	}
	if f := n.Field("publicKey"); f != nil {
		bits := f.Value.(asn1.BitString)
		k.PublicKey = &bits
	}
	return k, nil
}

// PrivateKeyInfo is a PKCS #8 private key, or an RFC 5958 OneAsymmetricKey
// when it carries a public key.
type PrivateKeyInfo struct {
	Version    int
	Algorithm  AlgorithmIdentifier
	PrivateKey []byte
	PublicKey  *asn1.BitString
}

// ParsePrivateKeyInfo decodes a PKCS #8 PrivateKeyInfo.
func ParsePrivateKeyInfo(der []byte) (PrivateKeyInfo, error) {
	n, err := asn1.Decode(PrivateKeyInfoSchema, der)
	if err != nil {
		return PrivateKeyInfo{}, fmt.Errorf("parsing private key info: %w", err)
	}
	v, ok := n.Field("version").Value.(asn1.Integer).Int64()
	if !ok || v < 0 || v > 1 {
		return PrivateKeyInfo{}, errors.New("parsing private key info: version must be 0 or 1")
	}
	alg, err := algorithmFromNode(n.Field("privateKeyAlgorithm"))
	if err != nil {
		return PrivateKeyInfo{}, err
	}
	k := PrivateKeyInfo{
		Version:    int(v),
		Algorithm:  alg,
		PrivateKey: n.Field("privateKey").Value.(asn1.String).Bytes,
	}
	if f := n.Field("publicKey"); f != nil {
		if v == 0 {
			return PrivateKeyInfo{}, errors.New("parsing private key info: public key in a version 0 structure")
		}
		bits := f.Value.(asn1.BitString)
		k.PublicKey = &bits
	}
	return k, nil
}
