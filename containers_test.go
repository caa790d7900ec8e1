package derkit

import (
	"bytes"
	"crypto/rand"
	stdx509 "crypto/x509"
	"testing"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/sensiblebit/derkit/x509"
)

// sameCertificates fails unless got carries exactly the encodings in want,
// in order.
func sameCertificates(t *testing.T, got []*x509.Certificate, want ...[]byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d certificates, want %d", len(got), len(want))
	}
	for i := range got {
		if !bytes.Equal(mustMarshal(t, got[i]), want[i]) {
			t.Errorf("certificate %d differs", i)
		}
	}
}

func TestPKCS7_RoundTrip(t *testing.T) {
	// WHY: Certificates taken out of a PKCS#7 bundle are reparsed by the
	// strict parser and must keep their exact encodings.
	t.Parallel()
	p := generateTestPKI(t)

	data, err := EncodePKCS7([]*x509.Certificate{mustParse(t, p.leafDER), mustParse(t, p.intDER)})
	if err != nil {
		t.Fatal(err)
	}
	certs, err := DecodePKCS7(data)
	if err != nil {
		t.Fatal(err)
	}
	sameCertificates(t, certs, p.leafDER, p.intDER)
}

func TestEncodePKCS7_NoCertificates(t *testing.T) {
	// WHY: An empty bundle is a caller error, not an empty container.
	t.Parallel()
	if _, err := EncodePKCS7(nil); err == nil {
		t.Error("expected error")
	}
}

func TestDecodePKCS7_Garbage(t *testing.T) {
	// WHY: Non-PKCS#7 input must fail cleanly so the format probe can move on.
	t.Parallel()
	if _, err := DecodePKCS7([]byte{0x30, 0x03, 0x02, 0x01, 0x01}); err == nil {
		t.Error("expected error")
	}
}

func TestDecodePKCS12_Chain(t *testing.T) {
	// WHY: A key bundle yields the leaf first and then the CA certificates.
	t.Parallel()
	p := generateTestPKI(t)

	pfx, err := gopkcs12.Modern.Encode(p.leafKey, mustStdParse(t, p.leafDER),
		[]*stdx509.Certificate{mustStdParse(t, p.intDER), mustStdParse(t, p.rootDER)}, "chain-pass")
	if err != nil {
		t.Fatal(err)
	}
	certs, err := DecodePKCS12(pfx, "chain-pass")
	if err != nil {
		t.Fatal(err)
	}
	sameCertificates(t, certs, p.leafDER, p.intDER, p.rootDER)
}

func TestDecodePKCS12_TrustStore(t *testing.T) {
	// WHY: Trust stores have no key and are decoded through the trust store
	// fallback.
	t.Parallel()
	p := generateTestPKI(t)

	pfx, err := EncodePKCS12TrustStore([]*x509.Certificate{mustParse(t, p.rootDER)}, "store-pass")
	if err != nil {
		t.Fatal(err)
	}
	certs, err := DecodePKCS12(pfx, "store-pass")
	if err != nil {
		t.Fatal(err)
	}
	sameCertificates(t, certs, p.rootDER)
}

func TestDecodePKCS12_WrongPassword(t *testing.T) {
	// WHY: Wrong passwords must produce an error, not an empty result.
	t.Parallel()
	p := generateTestPKI(t)

	pfx, err := gopkcs12.Modern.Encode(p.leafKey, mustStdParse(t, p.leafDER), nil, "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodePKCS12(pfx, "wrong"); err == nil {
		t.Error("expected error")
	}
}

func TestJKS_RoundTrip(t *testing.T) {
	// WHY: EncodeJKS writes trusted certificate entries that DecodeJKS reads
	// back in alias order.
	t.Parallel()
	p := generateTestPKI(t)

	data, err := EncodeJKS([]*x509.Certificate{mustParse(t, p.intDER), mustParse(t, p.rootDER)}, "changeit")
	if err != nil {
		t.Fatal(err)
	}
	if !IsJKS(data) {
		t.Fatal("encoded store lacks the JKS magic")
	}
	certs, err := DecodeJKS(data, "changeit")
	if err != nil {
		t.Fatal(err)
	}
	sameCertificates(t, certs, p.intDER, p.rootDER)
}

func TestDecodeJKS_PrivateKeyEntry(t *testing.T) {
	// WHY: The chain of a private key entry is readable without decrypting
	// the key.
	t.Parallel()
	p := generateTestPKI(t)

	pkcs8, err := stdx509.MarshalPKCS8PrivateKey(p.leafKey)
	if err != nil {
		t.Fatal(err)
	}
	ks := keystore.New()
	if err := ks.SetPrivateKeyEntry("server", keystore.PrivateKeyEntry{
		CreationTime: time.Now(),
		PrivateKey:   pkcs8,
		CertificateChain: []keystore.Certificate{
			{Type: "X.509", Content: p.leafDER},
			{Type: "X.509", Content: p.intDER},
		},
	}, []byte("changeit")); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte("changeit")); err != nil {
		t.Fatal(err)
	}

	certs, err := DecodeJKS(buf.Bytes(), "changeit")
	if err != nil {
		t.Fatal(err)
	}
	sameCertificates(t, certs, p.leafDER, p.intDER)
}

func TestDecodeJKS_Errors(t *testing.T) {
	// WHY: A wrong store password and non-JKS data must both fail.
	t.Parallel()
	p := generateTestPKI(t)

	data, err := EncodeJKS([]*x509.Certificate{mustParse(t, p.rootDER)}, "changeit")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeJKS(data, "wrong"); err == nil {
		t.Error("wrong password accepted")
	}
	garbage := make([]byte, 64)
	if _, err := rand.Read(garbage); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeJKS(garbage, "changeit"); err == nil {
		t.Error("garbage accepted")
	}
	if _, err := EncodeJKS(nil, "changeit"); err == nil {
		t.Error("empty store accepted")
	}
}
