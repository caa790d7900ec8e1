package derkit

import (
	"crypto/sha256"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/breml/rootcerts/embedded"

	"github.com/sensiblebit/derkit/asn1"
	"github.com/sensiblebit/derkit/x509"
)

// ErrIssuerNotFound is returned when no issuer for a certificate is found
// among the intermediates and roots.
var ErrIssuerNotFound = errors.New("issuer not found")

// Pool is a set of certificates indexed by the hash of their subject name,
// the way certificate directories are indexed by c_rehash.
type Pool struct {
	certs  []*x509.Certificate
	byHash map[uint32][]*x509.Certificate
	seen   map[[32]byte]bool
}

// NewPool returns a pool holding certs. Certificates whose subject cannot
// be encoded are skipped.
func NewPool(certs ...*x509.Certificate) *Pool {
	p := &Pool{
		byHash: make(map[uint32][]*x509.Certificate),
		seen:   make(map[[32]byte]bool),
	}
	for _, c := range certs {
		if err := p.Add(c); err != nil {
			slog.Debug("skipping certificate", "subject", c.Subject().String(nil), "error", err)
		}
	}
	return p
}

// Add adds c to the pool. Adding a certificate that is already present is
// a no-op.
func (p *Pool) Add(c *x509.Certificate) error {
	der, err := c.Marshal()
	if err != nil {
		return err
	}
	h, err := c.Subject().Hash()
	if err != nil {
		return err
	}
	fp := sha256.Sum256(der)
	if p.seen[fp] {
		return nil
	}
	p.seen[fp] = true
	p.certs = append(p.certs, c)
	p.byHash[h] = append(p.byHash[h], c)
	return nil
}

// Len returns the number of certificates in the pool.
func (p *Pool) Len() int { return len(p.certs) }

// Certificates returns the pooled certificates in insertion order.
func (p *Pool) Certificates() []*x509.Certificate { return slices.Clone(p.certs) }

// Contains reports whether a certificate with the same encoding as c is in
// the pool.
func (p *Pool) Contains(c *x509.Certificate) bool {
	der, err := c.Marshal()
	if err != nil {
		return false
	}
	return p.seen[sha256.Sum256(der)]
}

// FindIssuer returns the first certificate in the pool whose subject equals
// the issuer of c under canonical comparison and whose key verifies the
// signature of c. reg selects the verifiers; nil means x509.StdVerifiers.
func (p *Pool) FindIssuer(c *x509.Certificate, reg *x509.VerifierRegistry) *x509.Certificate {
	h, err := c.Issuer().Hash()
	if err != nil {
		return nil
	}
	for _, cand := range p.byHash[h] {
		if !cand.Subject().Equal(c.Issuer()) {
			continue
		}
		if err := c.CheckSignatureFrom(cand, reg); err != nil {
			slog.Debug("issuer candidate rejected", "candidate", cand.Subject().String(nil), "error", err)
			continue
		}
		return cand
	}
	return nil
}

var mozillaRoots = sync.OnceValues(func() (*Pool, error) {
	pool := NewPool()
	rest := []byte(embedded.MozillaCACertificatesPEM())
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := parseDER(block.Bytes)
		if err != nil {
			slog.Debug("skipping Mozilla root", "error", err)
			continue
		}
		if err := pool.Add(cert); err != nil {
			slog.Debug("skipping Mozilla root", "subject", cert.Subject().String(nil), "error", err)
		}
	}
	if pool.Len() == 0 {
		return nil, errors.New("no usable certificates in the Mozilla root store")
	}
	return pool, nil
})

// MozillaRoots returns the Mozilla root store embedded in the binary. Roots
// the strict parser rejects are skipped and logged at debug level.
func MozillaRoots() (*Pool, error) {
	return mozillaRoots()
}

// ChainOptions configures BuildChain.
type ChainOptions struct {
	// Intermediates are candidate intermediate certificates.
	Intermediates []*x509.Certificate
	// Roots are the trust anchors. Nil means MozillaRoots.
	Roots *Pool
	// Verifiers selects the signature algorithms. Nil means x509.StdVerifiers.
	Verifiers *x509.VerifierRegistry
	// MaxDepth limits the number of certificates in the chain.
	MaxDepth int
	// ExpiryWindow is how close to expiry a certificate must be to be warned
	// about.
	ExpiryWindow time.Duration
}

// DefaultChainOptions returns sensible defaults.
func DefaultChainOptions() ChainOptions {
	return ChainOptions{
		MaxDepth:     10,
		ExpiryWindow: 30 * 24 * time.Hour,
	}
}

// ChainResult holds a resolved chain.
type ChainResult struct {
	// Leaf is the end-entity certificate.
	Leaf *x509.Certificate
	// Intermediates are the CA certificates between the leaf and the root.
	Intermediates []*x509.Certificate
	// Root is the trust anchor.
	Root *x509.Certificate
	// Warnings are non-fatal issues found while building the chain.
	Warnings []string
}

// Chain returns the leaf, intermediates and root in order. A leaf that is
// itself a trust anchor appears once.
func (r *ChainResult) Chain() []*x509.Certificate {
	out := append([]*x509.Certificate{r.Leaf}, r.Intermediates...)
	if r.Root != nil && r.Root != r.Leaf {
		out = append(out, r.Root)
	}
	return out
}

// BuildChain links leaf to a root by subject/issuer name and signature. If
// leaf is a CA and exactly one of the intermediates is not, the two are
// swapped and a warning is added.
func BuildChain(leaf *x509.Certificate, opts ChainOptions) (*ChainResult, error) {
	roots := opts.Roots
	if roots == nil {
		var err error
		if roots, err = MozillaRoots(); err != nil {
			return nil, err
		}
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultChainOptions().MaxDepth
	}

	result := &ChainResult{}
	leaf, extras, warnings := detectAndSwapLeaf(leaf, opts.Intermediates)
	result.Leaf = leaf
	result.Warnings = append(result.Warnings, warnings...)
	pool := NewPool(extras...)

	if roots.Contains(leaf) {
		result.Root = leaf
	}
	for current := leaf; result.Root == nil; {
		if len(result.Intermediates)+2 > opts.MaxDepth {
			return nil, fmt.Errorf("chain longer than %d certificates", opts.MaxDepth)
		}
		if root := roots.FindIssuer(current, opts.Verifiers); root != nil {
			result.Root = root
			break
		}
		next := pool.FindIssuer(current, opts.Verifiers)
		if next == nil || next == current || slices.Contains(result.Intermediates, next) {
			return nil, fmt.Errorf("%w for %q (issuer %q)", ErrIssuerNotFound,
				current.Subject().String(nil), current.Issuer().String(nil))
		}
		result.Intermediates = append(result.Intermediates, next)
		current = next
	}

	chain := result.Chain()
	result.Warnings = append(result.Warnings, checkSHA1Signatures(chain)...)
	window := opts.ExpiryWindow
	if window == 0 {
		window = DefaultChainOptions().ExpiryWindow
	}
	result.Warnings = append(result.Warnings, checkExpiryWarnings(chain, window)...)
	return result, nil
}

// detectAndSwapLeaf checks whether the "leaf" is actually a CA and a non-CA
// cert exists among the extras. If so, it swaps them and returns a warning.
func detectAndSwapLeaf(leaf *x509.Certificate, extras []*x509.Certificate) (*x509.Certificate, []*x509.Certificate, []string) {
	if !leaf.IsCA() {
		return leaf, extras, nil
	}

	var nonCAIdx []int
	for i, c := range extras {
		if !c.IsCA() {
			nonCAIdx = append(nonCAIdx, i)
		}
	}
	if len(nonCAIdx) != 1 {
		return leaf, extras, nil
	}

	idx := nonCAIdx[0]
	realLeaf := extras[idx]
	newExtras := make([]*x509.Certificate, 0, len(extras))
	newExtras = append(newExtras, extras[:idx]...)
	newExtras = append(newExtras, extras[idx+1:]...)
	newExtras = append(newExtras, leaf)

	warnings := []string{
		fmt.Sprintf("reversed chain detected: swapped CA %q with leaf %q", leaf.Subject().CommonName(), realLeaf.Subject().CommonName()),
	}
	return realLeaf, newExtras, warnings
}

var sha1SignatureAlgorithms = []asn1.ObjectIdentifier{
	x509.OIDSHA1WithRSA,
	asn1.MustOID("1.2.840.10045.4.1"), // ecdsa-with-SHA1
	asn1.MustOID("1.2.840.10040.4.3"), // dsa-with-sha1
}

// checkSHA1Signatures warns about certificates signed with SHA-1. The root
// is included; its self-signature is not relied upon but still reported.
func checkSHA1Signatures(chain []*x509.Certificate) []string {
	var warnings []string
	for _, cert := range chain {
		alg := cert.SignatureAlgorithm().Algorithm
		if slices.ContainsFunc(sha1SignatureAlgorithms, alg.Equal) {
			warnings = append(warnings, fmt.Sprintf("certificate %q uses deprecated SHA-1 signature algorithm (%s)", cert.Subject().CommonName(), alg))
		}
	}
	return warnings
}

// checkExpiryWarnings checks the chain for expired or soon-to-expire
// certificates.
func checkExpiryWarnings(chain []*x509.Certificate, window time.Duration) []string {
	var warnings []string
	now := time.Now()
	for _, cert := range chain {
		notAfter, err := cert.NotAfter().Time()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("certificate %q has an unreadable expiry time (%s)", cert.Subject().CommonName(), cert.NotAfter()))
			continue
		}
		if now.After(notAfter) {
			warnings = append(warnings, fmt.Sprintf("certificate %q has expired (not after: %s)", cert.Subject().CommonName(), notAfter.UTC().Format("2006-01-02")))
		} else if now.Add(window).After(notAfter) {
			warnings = append(warnings, fmt.Sprintf("certificate %q expires within %s (not after: %s)", cert.Subject().CommonName(), window, notAfter.UTC().Format("2006-01-02")))
		}
	}
	return warnings
}
