package x509

import (
	"crypto"
	stdx509 "crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sensiblebit/derkit/asn1"
)

// AlgorithmIdentifier names an algorithm and carries its optional
// parameters.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.Value // nil when absent
}

// NewAlgorithm returns an identifier with the parameters the algorithm
// conventionally carries: NULL for the RSA family, none otherwise.
func NewAlgorithm(alg asn1.ObjectIdentifier) AlgorithmIdentifier {
	if _, ok := rsaParameters()[alg.String()]; ok {
		return AlgorithmIdentifier{Algorithm: alg, Parameters: asn1.Null{}}
	}
	return AlgorithmIdentifier{Algorithm: alg}
}

// Equal reports whether a and b encode identically.
func (a AlgorithmIdentifier) Equal(b AlgorithmIdentifier) bool {
	return a.Algorithm.Equal(b.Algorithm) && asn1.Equal(a.Parameters, b.Parameters)
}

func (a AlgorithmIdentifier) node() *asn1.Node {
	var params *asn1.Node
	if a.Parameters != nil {
		params = asn1.ValueNode(a.Parameters)
	}
	return asn1.SequenceNode(asn1.ValueNode(a.Algorithm), params)
}

// Marshal returns the DER encoding.
func (a AlgorithmIdentifier) Marshal() ([]byte, error) {
	return asn1.Encode(AlgorithmIdentifierSchema, a.node())
}

// ParseAlgorithmIdentifier decodes a DER AlgorithmIdentifier.
func ParseAlgorithmIdentifier(der []byte) (AlgorithmIdentifier, error) {
	n, err := asn1.Decode(AlgorithmIdentifierSchema, der)
	if err != nil {
		return AlgorithmIdentifier{}, fmt.Errorf("parsing algorithm identifier: %w", err)
	}
	return algorithmFromNode(n)
}

func algorithmFromNode(n *asn1.Node) (AlgorithmIdentifier, error) {
	alg, ok := n.Field("algorithm").Value.(asn1.ObjectIdentifier)
	if !ok {
		return AlgorithmIdentifier{}, errors.New("algorithm identifier without OBJECT IDENTIFIER")
	}
	return AlgorithmIdentifier{Algorithm: alg, Parameters: leafValue(n.Field("parameters"))}, nil
}

// leafValue follows resolved CHOICE and ANY DEFINED BY nodes down to the
// value they hold.
func leafValue(n *asn1.Node) asn1.Value {
	for n != nil {
		if n.Value != nil {
			return n.Value
		}
		if n.Chosen == nil && n.Raw != nil {
			v, err := asn1.NewAny(n.Raw)
			if err != nil {
				return nil
			}
			return v
		}
		n = n.Chosen
	}
	return nil
}

// NamedCurve returns the curve of an ecPublicKey algorithm.
func (a AlgorithmIdentifier) NamedCurve() (asn1.ObjectIdentifier, bool) {
	if !a.Algorithm.Equal(OIDECPublicKey) {
		return nil, false
	}
	curve, ok := a.Parameters.(asn1.ObjectIdentifier)
	return curve, ok
}

// SubjectPublicKeyInfo is a public key with its algorithm. The
// crypto.PublicKey is derived on first use, so the fields must not change
// after [SubjectPublicKeyInfo.PublicKey] has been called.
type SubjectPublicKeyInfo struct {
	Algorithm     AlgorithmIdentifier
	PublicKeyBits asn1.BitString

	keyOnce sync.Once
	key     crypto.PublicKey
}

// NewSubjectPublicKeyInfo builds a SubjectPublicKeyInfo from its parts.
func NewSubjectPublicKeyInfo(alg AlgorithmIdentifier, bits asn1.BitString) *SubjectPublicKeyInfo {
	return &SubjectPublicKeyInfo{Algorithm: alg, PublicKeyBits: bits}
}

// SubjectPublicKeyInfoFromKey encodes a Go public key.
func SubjectPublicKeyInfoFromKey(pub crypto.PublicKey) (*SubjectPublicKeyInfo, error) {
	der, err := stdx509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return ParseSubjectPublicKeyInfo(der)
}

// ParseSubjectPublicKeyInfo decodes a DER SubjectPublicKeyInfo.
func ParseSubjectPublicKeyInfo(der []byte) (*SubjectPublicKeyInfo, error) {
	n, err := asn1.Decode(SubjectPublicKeyInfoSchema, der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key info: %w", err)
	}
	return spkiFromNode(n)
}

func spkiFromNode(n *asn1.Node) (*SubjectPublicKeyInfo, error) {
	alg, err := algorithmFromNode(n.Field("algorithm"))
	if err != nil {
		return nil, err
	}
	bits, ok := n.Field("subjectPublicKey").Value.(asn1.BitString)
	if !ok {
		return nil, errors.New("public key info without BIT STRING")
	}
	return &SubjectPublicKeyInfo{Algorithm: alg, PublicKeyBits: bits}, nil
}

func (s *SubjectPublicKeyInfo) node() *asn1.Node {
	return asn1.SequenceNode(s.Algorithm.node(), asn1.ValueNode(s.PublicKeyBits))
}

// Marshal returns the DER encoding.
func (s *SubjectPublicKeyInfo) Marshal() ([]byte, error) {
	return asn1.Encode(SubjectPublicKeyInfoSchema, s.node())
}

// PublicKey returns the key as a Go value (*rsa.PublicKey,
// *ecdsa.PublicKey, ed25519.PublicKey, ...), or nil if the algorithm is not
// supported by crypto/x509.
func (s *SubjectPublicKeyInfo) PublicKey() crypto.PublicKey {
	s.keyOnce.Do(func() {
		der, err := s.Marshal()
		if err != nil {
			slog.Debug("encoding public key info", "error", err)
			return
		}
		key, err := stdx509.ParsePKIXPublicKey(der)
		if err != nil {
			slog.Debug("deriving public key", "algorithm", s.Algorithm.Algorithm.String(), "error", err)
			return
		}
		s.key = key
	})
	return s.key
}
