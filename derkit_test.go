package derkit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sensiblebit/derkit/x509"
)

func TestParsePEMCertificate(t *testing.T) {
	// WHY: Verifies single-cert PEM parsing produces the correct cert, not
	// just "no error".
	t.Parallel()
	p := generateTestPKI(t)

	cert, err := ParsePEMCertificate([]byte(p.pem()))
	if err != nil {
		t.Fatal(err)
	}
	if cn := cert.Subject().CommonName(); cn != "test.example.com" {
		t.Errorf("got CN=%q, want test.example.com", cn)
	}
}

func TestParsePEMCertificates_NoCertificates(t *testing.T) {
	// WHY: Inputs without CERTIFICATE blocks must fail instead of returning
	// an empty slice.
	t.Parallel()
	tests := []struct {
		name  string
		input []byte
	}{
		{"nil", nil},
		{"text", []byte("hello world")},
		{"key only", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParsePEMCertificates(tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParsePEMCertificates_MixedBlockTypes(t *testing.T) {
	// WHY: Bundles often interleave keys and certificates; only the
	// certificates are returned, in file order.
	t.Parallel()
	p := generateTestPKI(t)

	var buf bytes.Buffer
	buf.Write(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.leafDER}))
	buf.Write(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{1, 2, 3}}))
	buf.Write(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.rootDER}))

	certs, err := ParsePEMCertificates(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, c := range certs {
		got = append(got, c.Subject().CommonName())
	}
	if diff := cmp.Diff([]string{"test.example.com", "Test CA"}, got); diff != "" {
		t.Errorf("subjects mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePEMCertificates_InvalidDER(t *testing.T) {
	// WHY: A CERTIFICATE block with garbage content is an error, not a skip.
	t.Parallel()
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x30, 0x03, 0x02, 0x01}})
	if _, err := ParsePEMCertificates(data); err == nil {
		t.Error("expected error")
	}
}

func TestCertToPEM_RoundTrip(t *testing.T) {
	// WHY: The PEM output must carry the exact original encoding.
	t.Parallel()
	p := generateTestPKI(t)

	out, err := CertToPEM(mustParse(t, p.leafDER))
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode([]byte(out))
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("bad PEM output %q", out)
	}
	if !bytes.Equal(block.Bytes, p.leafDER) {
		t.Error("PEM round trip changed the encoding")
	}
}

func TestCertFingerprint(t *testing.T) {
	// WHY: Fingerprints are taken over the original encoding and printed in
	// the uppercase colon format OpenSSL uses.
	t.Parallel()
	p := generateTestPKI(t)
	cert := mustParse(t, p.rootDER)

	sum := sha256.Sum256(p.rootDER)
	want := strings.ToUpper(ColonHex(sum[:]))
	got, err := CertFingerprint(cert)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("CertFingerprint = %s, want %s", got, want)
	}
	sha1FP, err := CertFingerprintSHA1(cert)
	if err != nil {
		t.Fatal(err)
	}
	if len(sha1FP) != 20*3-1 {
		t.Errorf("SHA-1 fingerprint %q has wrong length", sha1FP)
	}
}

func TestComputeSKI(t *testing.T) {
	// WHY: crypto/x509 fills in the RFC 5280 method 1 key identifier for CAs,
	// so the legacy computation must reproduce it; the RFC 7093 form is the
	// truncated SHA-256.
	t.Parallel()
	p := generateTestPKI(t)
	root := mustParse(t, p.rootDER)

	ext, ok := root.Extension(x509.OIDExtSubjectKeyID)
	if !ok {
		t.Fatal("subjectKeyIdentifier missing")
	}
	embedded, err := x509.ParseSubjectKeyID(ext.Value)
	if err != nil {
		t.Fatal(err)
	}
	if got := ComputeSKILegacy(root.PublicKey()); !bytes.Equal(got, embedded) {
		t.Errorf("ComputeSKILegacy = %x, embedded %x", got, embedded)
	}

	sum := sha256.Sum256(root.PublicKey().PublicKeyBits.Bytes)
	if got := ComputeSKI(root.PublicKey()); !bytes.Equal(got, sum[:20]) {
		t.Errorf("ComputeSKI = %x", got)
	}
}

func TestColonHex(t *testing.T) {
	// WHY: ColonHex formats every fingerprint and key identifier; empty input
	// must not produce a stray separator.
	t.Parallel()
	tests := []struct {
		in   []byte
		want string
	}{
		{nil, ""},
		{[]byte{0xab}, "ab"},
		{[]byte{0x01, 0xff, 0x10}, "01:ff:10"},
	}
	for _, tt := range tests {
		if got := ColonHex(tt.in); got != tt.want {
			t.Errorf("ColonHex(%x) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCertificateType(t *testing.T) {
	// WHY: The type label drives chain ordering in output; it depends on
	// basicConstraints and on whether issuer and subject match.
	t.Parallel()
	p := generateTestPKI(t)
	tests := []struct {
		name string
		der  []byte
		want string
	}{
		{"root", p.rootDER, "root"},
		{"intermediate", p.intDER, "intermediate"},
		{"leaf", p.leafDER, "leaf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CertificateType(mustParse(t, tt.der)); got != tt.want {
				t.Errorf("CertificateType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCertExpiresWithin(t *testing.T) {
	// WHY: Expiry windows are measured from now against notAfter.
	t.Parallel()
	p := generateTestPKI(t)
	leaf := mustParse(t, p.leafDER)

	if CertExpiresWithin(leaf, time.Minute) {
		t.Error("leaf valid for a day reported as expiring within a minute")
	}
	if !CertExpiresWithin(leaf, 48*time.Hour) {
		t.Error("leaf valid for a day not reported as expiring within two days")
	}
}

// toIndefinite rewrites the outer definite-length SEQUENCE header of der as
// an indefinite-length BER header.
func toIndefinite(t *testing.T, der []byte) []byte {
	t.Helper()
	if der[0] != 0x30 || der[1] != 0x82 {
		t.Fatalf("unexpected header % x", der[:4])
	}
	out := []byte{0x30, 0x80}
	out = append(out, der[4:]...)
	return append(out, 0x00, 0x00)
}

func TestParseCertificatesAny(t *testing.T) {
	// WHY: Every supported container must yield the same certificates, and
	// the dispatch order must not let one format shadow another.
	t.Parallel()
	p := generateTestPKI(t)
	leaf := mustParse(t, p.leafDER)
	root := mustParse(t, p.rootDER)

	p7, err := EncodePKCS7([]*x509.Certificate{leaf, root})
	if err != nil {
		t.Fatal(err)
	}
	jks, err := EncodeJKS([]*x509.Certificate{leaf, root}, "changeit")
	if err != nil {
		t.Fatal(err)
	}
	p12, err := EncodePKCS12TrustStore([]*x509.Certificate{leaf, root}, "secret")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		data      []byte
		passwords []string
		want      int
		wantErr   bool
	}{
		{name: "DER", data: p.leafDER, want: 1},
		{name: "BER", data: toIndefinite(t, p.leafDER), want: 1},
		{name: "PEM", data: []byte(p.pem()), want: 3},
		{name: "PKCS#7", data: p7, want: 2},
		{name: "JKS", data: jks, passwords: DefaultPasswords(), want: 2},
		{name: "PKCS#12", data: p12, passwords: DeduplicatePasswords([]string{"secret"}), want: 2},
		{name: "PKCS#12 wrong password", data: p12, passwords: DefaultPasswords(), wantErr: true},
		{name: "garbage", data: []byte("not a certificate"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			certs, err := ParseCertificatesAny(tt.data, tt.passwords)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(certs) != tt.want {
				t.Fatalf("got %d certificates, want %d", len(certs), tt.want)
			}
			if !bytes.Equal(mustMarshal(t, certs[0]), p.leafDER) {
				t.Error("first certificate is not the leaf")
			}
		})
	}
}

func TestParseCertificatesAny_BERNormalized(t *testing.T) {
	// WHY: After BER normalization the certificate re-encodes as the original
	// DER, so fingerprints match the canonical form.
	t.Parallel()
	p := generateTestPKI(t)

	certs, err := ParseCertificatesAny(toIndefinite(t, p.rootDER), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := mustMarshal(t, certs[0]); !bytes.Equal(got, p.rootDER) {
		t.Errorf("normalized encoding differs:\n got %s\nwant %s", hex.EncodeToString(got), hex.EncodeToString(p.rootDER))
	}
}

func TestDeduplicatePasswords(t *testing.T) {
	// WHY: Defaults are tried first and repeated passwords only once.
	t.Parallel()
	got := DeduplicatePasswords([]string{"changeit", "s3cret", "s3cret"})
	want := []string{"", "password", "changeit", "keypassword", "s3cret"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DeduplicatePasswords mismatch (-want +got):\n%s", diff)
	}
}
