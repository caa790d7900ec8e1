package derkit

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	stdx509 "crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/sensiblebit/derkit/x509"
)

// testPKI is a root, intermediate and leaf issued with crypto/x509.
type testPKI struct {
	rootDER, intDER, leafDER []byte
	rootKey, intKey, leafKey *ecdsa.PrivateKey
}

func (p testPKI) pem() string {
	var out []byte
	for _, der := range [][]byte{p.leafDER, p.intDER, p.rootDER} {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	return string(out)
}

// generateTestPKI creates a self-signed CA, an intermediate and a leaf.
func generateTestPKI(t *testing.T) testPKI {
	t.Helper()
	var p testPKI
	var err error
	for _, k := range []**ecdsa.PrivateKey{&p.rootKey, &p.intKey, &p.leafKey} {
		if *k, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
			t.Fatal(err)
		}
	}
	rootTemplate := caTemplate(1, "Test CA")
	p.rootDER = createCert(t, rootTemplate, rootTemplate, p.rootKey.Public(), p.rootKey)
	root := mustStdParse(t, p.rootDER)

	intTemplate := caTemplate(2, "Test Intermediate")
	p.intDER = createCert(t, intTemplate, root, p.intKey.Public(), p.rootKey)
	inter := mustStdParse(t, p.intDER)

	p.leafDER = createCert(t, leafTemplate(3, "test.example.com"), inter, p.leafKey.Public(), p.intKey)
	return p
}

func caTemplate(serial int64, cn string) *stdx509.Certificate {
	return &stdx509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              stdx509.KeyUsageCertSign | stdx509.KeyUsageCRLSign,
	}
}

func leafTemplate(serial int64, cn string) *stdx509.Certificate {
	return &stdx509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     stdx509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []stdx509.ExtKeyUsage{stdx509.ExtKeyUsageServerAuth},
	}
}

func createCert(t *testing.T, template, parent *stdx509.Certificate, pub crypto.PublicKey, priv crypto.Signer) []byte {
	t.Helper()
	der, err := stdx509.CreateCertificate(rand.Reader, template, parent, pub, priv)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func mustStdParse(t *testing.T, der []byte) *stdx509.Certificate {
	t.Helper()
	c, err := stdx509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func mustParse(t *testing.T, der []byte) *x509.Certificate {
	t.Helper()
	c, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func mustMarshal(t *testing.T, c *x509.Certificate) []byte {
	t.Helper()
	der, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return der
}

// buildChain creates a chain of the given depth using ECDSA P-256 keys.
// depth=2 produces root->leaf, depth=3 root->intermediate->leaf, and so on.
// The root has CN "Chain Root CA", intermediates "Intermediate CA 1" and up,
// and the leaf "chain-leaf.example.com".
func buildChain(t *testing.T, depth int) (root *x509.Certificate, intermediates []*x509.Certificate, leaf *x509.Certificate) {
	t.Helper()
	if depth < 2 {
		t.Fatalf("buildChain: depth must be >= 2, got %d", depth)
	}

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	rootTemplate := caTemplate(1, "Chain Root CA")
	rootDER := createCert(t, rootTemplate, rootTemplate, rootKey.Public(), rootKey)
	root = mustParse(t, rootDER)

	parentCert := mustStdParse(t, rootDER)
	parentKey := rootKey
	for i := range depth - 2 {
		intKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		intDER := createCert(t, caTemplate(int64(i+2), fmt.Sprintf("Intermediate CA %d", i+1)), parentCert, intKey.Public(), parentKey)
		intermediates = append(intermediates, mustParse(t, intDER))
		parentCert = mustStdParse(t, intDER)
		parentKey = intKey
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	leaf = mustParse(t, createCert(t, leafTemplate(int64(depth), "chain-leaf.example.com"), parentCert, leafKey.Public(), parentKey))
	return root, intermediates, leaf
}
