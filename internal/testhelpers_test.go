package internal

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	stdx509 "crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/sensiblebit/derkit/x509"
)

// testCert holds a generated certificate in both representations.
type testCert struct {
	std  *stdx509.Certificate
	cert *x509.Certificate
	der  []byte
	pem  []byte
	key  crypto.Signer
}

func nextSerial() *big.Int {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		panic(err)
	}
	return n.Add(n, big.NewInt(1))
}

func newCertFromTemplate(t *testing.T, tmpl *stdx509.Certificate, parent *testCert, key crypto.Signer) testCert {
	t.Helper()
	parentStd, signer := tmpl, key
	if parent != nil {
		parentStd, signer = parent.std, parent.key
	}
	der, err := stdx509.CreateCertificate(rand.Reader, tmpl, parentStd, key.Public(), signer)
	if err != nil {
		t.Fatalf("create certificate %q: %v", tmpl.Subject.CommonName, err)
	}
	std, err := stdx509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate %q: %v", tmpl.Subject.CommonName, err)
	}
	return testCert{
		std:  std,
		cert: cert,
		der:  der,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		key:  key,
	}
}

// newRSACA generates a self-signed RSA root CA.
func newRSACA(t *testing.T, cn string) testCert {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA CA key: %v", err)
	}
	return newCertFromTemplate(t, caTemplate(cn, time.Now().Add(10*365*24*time.Hour)), nil, key)
}

// newIntermediate generates an ECDSA intermediate CA signed by parent.
func newIntermediate(t *testing.T, parent testCert, cn string) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate intermediate key: %v", err)
	}
	return newCertFromTemplate(t, caTemplate(cn, time.Now().Add(5*365*24*time.Hour)), &parent, key)
}

// newLeaf generates an ECDSA leaf signed by parent.
func newLeaf(t *testing.T, parent testCert, cn string, notAfter time.Time) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	tmpl := &stdx509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"TestOrg"}},
		DNSNames:     []string{cn},
		NotBefore:    time.Now().Add(-2 * time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     stdx509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []stdx509.ExtKeyUsage{stdx509.ExtKeyUsageServerAuth},
	}
	return newCertFromTemplate(t, tmpl, &parent, key)
}

func caTemplate(cn string, notAfter time.Time) *stdx509.Certificate {
	return &stdx509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"TestOrg"}},
		NotBefore:             time.Now().Add(-2 * time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              stdx509.KeyUsageCertSign | stdx509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

// writeTestFile writes data under dir and returns the path.
func writeTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func sortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func createTestZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedNames(files) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create ZIP entry: %v", err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("write ZIP entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close ZIP: %v", err)
	}
	return buf.Bytes()
}

func writeTar(t *testing.T, w *tar.Writer, files map[string][]byte) {
	t.Helper()
	for _, name := range sortedNames(files) {
		if err := w.WriteHeader(&tar.Header{Name: name, Size: int64(len(files[name])), Mode: 0644, Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("write TAR header: %v", err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("write TAR entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close TAR: %v", err)
	}
}

func createTestTar(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeTar(t, tar.NewWriter(&buf), files)
	return buf.Bytes()
}

func createTestTarGz(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	writeTar(t, tar.NewWriter(gw), files)
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}
