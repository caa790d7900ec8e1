package x509

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"github.com/sensiblebit/derkit/asn1"
)

// ErrUnsupportedAlgorithm is returned when no signer or verifier is known
// for an algorithm identifier.
var ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

// ErrSignatureInvalid is returned by [Certificate.CheckSignatureFrom] when
// the verifier rejects the signature.
var ErrSignatureInvalid = errors.New("signature verification failed")

// Signer produces a signature over a message.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// SignFunc adapts a function to [Signer].
type SignFunc func(message []byte) ([]byte, error)

func (f SignFunc) Sign(message []byte) ([]byte, error) { return f(message) }

// Verifier checks a signature over a message.
type Verifier interface {
	Verify(message, signature []byte) bool
}

// VerifyFunc adapts a function to [Verifier].
type VerifyFunc func(message, signature []byte) bool

func (f VerifyFunc) Verify(message, signature []byte) bool { return f(message, signature) }

// SignTBS signs the encoded to-be-signed bytes and wraps the result as a
// BIT STRING.
func SignTBS(tbs []byte, s Signer) (asn1.BitString, error) {
	sig, err := s.Sign(tbs)
	if err != nil {
		return asn1.BitString{}, fmt.Errorf("signing: %w", err)
	}
	return asn1.NewBitString(sig), nil
}

// Verify checks sig over tbs with v. A signature that is not a whole number
// of bytes is an error, not a failed check.
func Verify(tbs []byte, sig asn1.BitString, v Verifier) (bool, error) {
	octets, ok := sig.Octets()
	if !ok {
		return false, fmt.Errorf("%w: signature has %d unused bits", asn1.ErrInvalidBitStringPadding, sig.UnusedBits)
	}
	return v.Verify(tbs, octets), nil
}

// Sign sets the signature algorithm to alg, signs the to-be-signed part
// with s and stores the signature.
func (c *Certificate) Sign(s Signer, alg AlgorithmIdentifier) error {
	if !alg.Equal(c.signatureAlgorithm) || !alg.Equal(c.tbsSignature) {
		c.SetSignatureAlgorithm(alg)
	}
	tbs, err := c.RawTBS()
	if err != nil {
		return err
	}
	sig, err := SignTBS(tbs, s)
	if err != nil {
		return err
	}
	c.raw = nil
	c.rawTBS = tbs
	c.signature = sig
	return nil
}

// CheckSignature verifies the certificate signature with v.
func (c *Certificate) CheckSignature(v Verifier) error {
	tbs, err := c.RawTBS()
	if err != nil {
		return err
	}
	ok, err := Verify(tbs, c.signature, v)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSignatureInvalid
	}
	return nil
}

// CheckSignatureFrom verifies that issuer's key signed c, using the
// verifier registered in reg for c's signature algorithm. A nil reg means
// [StdVerifiers].
func (c *Certificate) CheckSignatureFrom(issuer *Certificate, reg *VerifierRegistry) error {
	if issuer == nil || issuer.PublicKey() == nil {
		return errors.New("checking signature: issuer has no public key")
	}
	if reg == nil {
		reg = StdVerifiers()
	}
	v, err := reg.Verifier(c.signatureAlgorithm, issuer.PublicKey())
	if err != nil {
		return err
	}
	return c.CheckSignature(v)
}

// VerifierFactory builds a verifier for a public key under an algorithm.
type VerifierFactory func(alg AlgorithmIdentifier, key *SubjectPublicKeyInfo) (Verifier, error)

// VerifierRegistry maps signature algorithm identifiers to verifier
// factories. It is safe for concurrent use.
type VerifierRegistry struct {
	mu        sync.RWMutex
	factories map[string]VerifierFactory
}

// NewVerifierRegistry returns an empty registry.
func NewVerifierRegistry() *VerifierRegistry {
	return &VerifierRegistry{factories: make(map[string]VerifierFactory)}
}

// Register binds f to alg, replacing any earlier binding.
func (r *VerifierRegistry) Register(alg asn1.ObjectIdentifier, f VerifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[string(alg)] = f
}

// Verifier returns a verifier for alg and key.
func (r *VerifierRegistry) Verifier(alg AlgorithmIdentifier, key *SubjectPublicKeyInfo) (Verifier, error) {
	r.mu.RLock()
	f, ok := r.factories[string(alg.Algorithm)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg.Algorithm)
	}
	if key == nil {
		return nil, errors.New("no public key to verify with")
	}
	return f(alg, key)
}

var stdVerifiers = sync.OnceValue(func() *VerifierRegistry {
	r := NewVerifierRegistry()
	r.Register(OIDSHA1WithRSA, rsaVerifier(crypto.SHA1))
	r.Register(OIDSHA256WithRSA, rsaVerifier(crypto.SHA256))
	r.Register(OIDSHA384WithRSA, rsaVerifier(crypto.SHA384))
	r.Register(OIDSHA512WithRSA, rsaVerifier(crypto.SHA512))
	r.Register(OIDECDSAWithSHA256, ecdsaVerifier(crypto.SHA256))
	r.Register(OIDECDSAWithSHA384, ecdsaVerifier(crypto.SHA384))
	r.Register(OIDECDSAWithSHA512, ecdsaVerifier(crypto.SHA512))
	r.Register(OIDEd25519, ed25519Verifier)
	return r
})

// StdVerifiers returns the shared registry of verifiers backed by the
// standard library: RSA PKCS #1 v1.5 with SHA-1 and SHA-2, ECDSA with SHA-2
// and Ed25519. RSASSA-PSS is not registered.
func StdVerifiers() *VerifierRegistry { return stdVerifiers() }

func digest(h crypto.Hash, message []byte) []byte {
	hh := h.New()
	hh.Write(message)
	return hh.Sum(nil)
}

func rsaVerifier(h crypto.Hash) VerifierFactory {
	return func(alg AlgorithmIdentifier, key *SubjectPublicKeyInfo) (Verifier, error) {
		pub, ok := key.PublicKey().(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs an RSA key", ErrUnsupportedAlgorithm, alg.Algorithm)
		}
		return VerifyFunc(func(message, sig []byte) bool {
			return rsa.VerifyPKCS1v15(pub, h, digest(h, message), sig) == nil
		}), nil
	}
}

func ecdsaVerifier(h crypto.Hash) VerifierFactory {
	return func(alg AlgorithmIdentifier, key *SubjectPublicKeyInfo) (Verifier, error) {
		pub, ok := key.PublicKey().(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs an ECDSA key", ErrUnsupportedAlgorithm, alg.Algorithm)
		}
		return VerifyFunc(func(message, sig []byte) bool {
			return ecdsa.VerifyASN1(pub, digest(h, message), sig)
		}), nil
	}
}

func ed25519Verifier(alg AlgorithmIdentifier, key *SubjectPublicKeyInfo) (Verifier, error) {
	pub, ok := key.PublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s needs an Ed25519 key", ErrUnsupportedAlgorithm, alg.Algorithm)
	}
	return VerifyFunc(func(message, sig []byte) bool {
		return ed25519.Verify(pub, message, sig)
	}), nil
}

// StdSigner returns a Signer and the matching algorithm identifier for a
// Go private key: SHA-256 with RSA PKCS #1 v1.5, ECDSA with the hash sized
// to the curve, or Ed25519.
func StdSigner(key crypto.Signer) (Signer, AlgorithmIdentifier, error) {
	var (
		alg asn1.ObjectIdentifier
		h   crypto.Hash
	)
	switch pub := key.Public().(type) {
	case *rsa.PublicKey:
		alg, h = OIDSHA256WithRSA, crypto.SHA256
	case *ecdsa.PublicKey:
		switch size := pub.Curve.Params().BitSize; {
		case size > 384:
			alg, h = OIDECDSAWithSHA512, crypto.SHA512
		case size > 256:
			alg, h = OIDECDSAWithSHA384, crypto.SHA384
		default:
			alg, h = OIDECDSAWithSHA256, crypto.SHA256
		}
	case ed25519.PublicKey:
		alg = OIDEd25519
	default:
		return nil, AlgorithmIdentifier{}, fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, pub)
	}
	s := SignFunc(func(message []byte) ([]byte, error) {
		if h == 0 {
			return key.Sign(rand.Reader, message, crypto.Hash(0))
		}
		return key.Sign(rand.Reader, digest(h, message), h)
	})
	return s, NewAlgorithm(alg), nil
}
