package derkit

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/sensiblebit/derkit/asn1"
	"github.com/sensiblebit/derkit/x509"
)

func TestSSH_RoundTrip(t *testing.T) {
	// WHY: A key moved from an authorized_keys line into a
	// SubjectPublicKeyInfo and back must keep its SSH fingerprint.
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		pub  any
		alg  asn1.ObjectIdentifier
	}{
		{"rsa", rsaKey.Public(), x509.OIDRSAEncryption},
		{"ecdsa", ecKey.Public(), x509.OIDECPublicKey},
		{"ed25519", edPub, x509.OIDEd25519},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sshKey, err := ssh.NewPublicKey(tt.pub)
			if err != nil {
				t.Fatal(err)
			}
			line := ssh.MarshalAuthorizedKey(sshKey)

			spki, err := SPKIFromAuthorizedKey(line)
			if err != nil {
				t.Fatal(err)
			}
			if !spki.Algorithm.Algorithm.Equal(tt.alg) {
				t.Errorf("algorithm = %s, want %s", spki.Algorithm.Algorithm, tt.alg)
			}
			fp, err := SSHFingerprint(spki)
			if err != nil {
				t.Fatal(err)
			}
			if want := ssh.FingerprintSHA256(sshKey); fp != want {
				t.Errorf("SSHFingerprint = %s, want %s", fp, want)
			}
			back, err := MarshalAuthorizedKey(spki)
			if err != nil {
				t.Fatal(err)
			}
			if back != strings.TrimSpace(string(line)) {
				t.Errorf("MarshalAuthorizedKey = %q, want %q", back, line)
			}
		})
	}
}

func TestSSH_Errors(t *testing.T) {
	// WHY: Unparsable lines and keys without a Go form must fail with an
	// error instead of a zero value.
	t.Parallel()

	if _, err := SPKIFromAuthorizedKey([]byte("ssh-rsa not-base64")); err == nil {
		t.Error("bad authorized key accepted")
	}
	unknown := x509.NewSubjectPublicKeyInfo(x509.NewAlgorithm(asn1.MustOID("1.2.3.4")), asn1.NewBitString([]byte{1}))
	if _, err := SSHFingerprint(unknown); err == nil {
		t.Error("fingerprint of unknown key type succeeded")
	}
}
