// Package derkit reads certificates from the containers they travel in
// (DER, PEM, PKCS#7, PKCS#12, JKS), links them into chains and bridges
// their keys to SSH, on top of the strict DER codec in the asn1 and x509
// packages.
package derkit

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sensiblebit/derkit/asn1"
	"github.com/sensiblebit/derkit/x509"
)

// ParsePEMCertificates parses all CERTIFICATE blocks of a PEM bundle.
// Other block types are skipped.
func ParsePEMCertificates(pemData []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := pemData
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
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in PEM data")
	}
	return certs, nil
}

// ParsePEMCertificate parses the first certificate of a PEM bundle.
func ParsePEMCertificate(pemData []byte) (*x509.Certificate, error) {
	certs, err := ParsePEMCertificates(pemData)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// parseDER parses one certificate, converting BER input to DER first when
// the strict parse fails.
func parseDER(der []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err == nil {
		return cert, nil
	}
	normalized, berErr := asn1.BERToDER(der)
	if berErr != nil || bytes.Equal(normalized, der) {
		return nil, err
	}
	cert, berErr = x509.ParseCertificate(normalized)
	if berErr != nil {
		return nil, err
	}
	slog.Debug("parsed certificate after BER normalization", "subject", cert.Subject().String(nil))
	return cert, nil
}

// ParseCertificatesAny parses certificates from raw bytes, trying DER
// first, then PEM, PKCS#7, JKS and PKCS#12. Passwords are tried for the
// password-protected containers.
func ParseCertificatesAny(data []byte, passwords []string) ([]*x509.Certificate, error) {
	cert, derErr := parseDER(data)
	if derErr == nil {
		return []*x509.Certificate{cert}, nil
	}
	if IsPEM(data) {
		return ParsePEMCertificates(data)
	}
	certs, p7Err := DecodePKCS7(data)
	if p7Err == nil {
		return certs, nil
	}
	if IsJKS(data) {
		return decodeJKSAny(data, passwords)
	}
	certs, p12Err := decodePKCS12Any(data, passwords)
	if p12Err == nil {
		return certs, nil
	}
	return nil, fmt.Errorf("not DER (%v) or PEM or PKCS#7 (%v) or PKCS#12 (%v)", derErr, p7Err, p12Err)
}

// IsPEM returns true if the data appears to contain PEM-encoded content.
func IsPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN"))
}

// CertToPEM encodes a certificate as PEM.
func CertToPEM(cert *x509.Certificate) (string, error) {
	der, err := cert.Marshal()
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})), nil
}

// CertFingerprint returns the SHA-256 fingerprint of a certificate in
// uppercase colon-separated hex, as shown by OpenSSL and browsers.
func CertFingerprint(cert *x509.Certificate) (string, error) {
	der, err := cert.Marshal()
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(der)
	return strings.ToUpper(ColonHex(hash[:])), nil
}

// CertFingerprintSHA1 returns the SHA-1 fingerprint in the same format.
func CertFingerprintSHA1(cert *x509.Certificate) (string, error) {
	der, err := cert.Marshal()
	if err != nil {
		return "", err
	}
	hash := sha1.Sum(der)
	return strings.ToUpper(ColonHex(hash[:])), nil
}

// ComputeSKI computes a Subject Key Identifier per RFC 7093 Section 2
// Method 1: the leftmost 160 bits of the SHA-256 hash of the subjectPublicKey
// BIT STRING value.
func ComputeSKI(spki *x509.SubjectPublicKeyInfo) []byte {
	sum := sha256.Sum256(spki.PublicKeyBits.Bytes)
	return sum[:20]
}

// ComputeSKILegacy computes the RFC 5280 Subject Key Identifier: the SHA-1
// hash of the subjectPublicKey BIT STRING value.
func ComputeSKILegacy(spki *x509.SubjectPublicKeyInfo) []byte {
	sum := sha1.Sum(spki.PublicKeyBits.Bytes)
	return sum[:]
}

// ColonHex formats a byte slice as colon-separated lowercase hex.
func ColonHex(b []byte) string {
	h := hex.EncodeToString(b)
	parts := make([]string, 0, len(h)/2)
	for i := 0; i < len(h); i += 2 {
		end := min(i+2, len(h))
		parts = append(parts, h[i:end])
	}
	return strings.Join(parts, ":")
}

// CertificateType classifies a certificate as root, intermediate or leaf.
func CertificateType(cert *x509.Certificate) string {
	if cert.IsCA() {
		if cert.IsSelfIssued() {
			return "root"
		}
		return "intermediate"
	}
	return "leaf"
}

// CertExpiresWithin reports whether the certificate expires within d of
// now. Certificates whose notAfter cannot be read are treated as expired.
func CertExpiresWithin(cert *x509.Certificate, d time.Duration) bool {
	notAfter, err := cert.NotAfter().Time()
	if err != nil {
		return true
	}
	return time.Now().Add(d).After(notAfter)
}

// DefaultPasswords returns the passwords tried by default when opening
// PKCS#12 and JKS containers. Returns a fresh copy each call.
func DefaultPasswords() []string {
	return []string{"", "password", "changeit", "keypassword"}
}

// DeduplicatePasswords merges additional passwords with the defaults and
// removes duplicates while preserving order. Defaults come first.
func DeduplicatePasswords(extra []string) []string {
	all := append(DefaultPasswords(), extra...)
	seen := make(map[string]bool, len(all))
	result := make([]string, 0, len(all))
	for _, p := range all {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
