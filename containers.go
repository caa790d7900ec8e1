package derkit

import (
	"bytes"
	stdx509 "crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/smallstep/pkcs7"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/sensiblebit/derkit/x509"
)

var jksMagic = []byte{0xfe, 0xed, 0xfe, 0xed}

// IsJKS reports whether data starts with the Java KeyStore magic number.
func IsJKS(data []byte) bool {
	return bytes.HasPrefix(data, jksMagic)
}

// reparse converts certificates decoded by a container library into our
// model by parsing their raw DER again.
func reparse(certs []*stdx509.Certificate) ([]*x509.Certificate, error) {
	out := make([]*x509.Certificate, 0, len(certs))
	for _, c := range certs {
		cert, err := parseDER(c.Raw)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate %q: %w", c.Subject.String(), err)
		}
		out = append(out, cert)
	}
	return out, nil
}

// toStd converts our certificates to crypto/x509 ones for the container
// encoders.
func toStd(certs []*x509.Certificate) ([]*stdx509.Certificate, error) {
	out := make([]*stdx509.Certificate, 0, len(certs))
	for _, c := range certs {
		der, err := c.Marshal()
		if err != nil {
			return nil, err
		}
		std, err := stdx509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("converting certificate: %w", err)
		}
		out = append(out, std)
	}
	return out, nil
}

// DecodePKCS7 decodes a DER-encoded PKCS#7 bundle and returns the
// certificates it contains.
func DecodePKCS7(derData []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(derData)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#7: %w", err)
	}
	if len(p7.Certificates) == 0 {
		return nil, errors.New("PKCS#7 bundle contains no certificates")
	}
	return reparse(p7.Certificates)
}

// EncodePKCS7 creates a certs-only PKCS#7 bundle from a certificate chain.
func EncodePKCS7(certs []*x509.Certificate) ([]byte, error) {
	if len(certs) == 0 {
		return nil, errors.New("no certificates to encode")
	}
	var derBytes []byte
	for _, cert := range certs {
		der, err := cert.Marshal()
		if err != nil {
			return nil, err
		}
		derBytes = append(derBytes, der...)
	}
	return pkcs7.DegenerateCertificate(derBytes)
}

// DecodePKCS12 decodes a PKCS#12 file and returns its certificates, leaf
// first. Trust stores without a key are accepted too.
func DecodePKCS12(pfxData []byte, password string) ([]*x509.Certificate, error) {
	_, leaf, caCerts, err := gopkcs12.DecodeChain(pfxData, password)
	if err == nil {
		return reparse(append([]*stdx509.Certificate{leaf}, caCerts...))
	}
	trusted, tsErr := gopkcs12.DecodeTrustStore(pfxData, password)
	if tsErr != nil {
		return nil, fmt.Errorf("decoding PKCS#12: %w", err)
	}
	if len(trusted) == 0 {
		return nil, errors.New("PKCS#12 trust store contains no certificates")
	}
	return reparse(trusted)
}

// EncodePKCS12TrustStore creates a PKCS#12 trust store holding certs.
func EncodePKCS12TrustStore(certs []*x509.Certificate, password string) ([]byte, error) {
	std, err := toStd(certs)
	if err != nil {
		return nil, err
	}
	return gopkcs12.Modern.EncodeTrustStore(std, password)
}

func decodePKCS12Any(data []byte, passwords []string) ([]*x509.Certificate, error) {
	var lastErr error
	for _, pw := range passwords {
		certs, err := DecodePKCS12(data, pw)
		if err == nil {
			return certs, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no passwords to try")
	}
	return nil, lastErr
}

// DecodeJKS decodes a Java KeyStore and returns the certificates of its
// trusted certificate entries and the chains of its private key entries.
// The same password is used for the store and the entries. Entries that
// cannot be read are skipped.
func DecodeJKS(data []byte, password string) ([]*x509.Certificate, error) {
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		return nil, fmt.Errorf("loading JKS: %w", err)
	}

	var certs []*x509.Certificate
	add := func(alias string, der []byte) {
		cert, err := parseDER(der)
		if err != nil {
			slog.Debug("skipping JKS certificate", "alias", alias, "error", err)
			return
		}
		certs = append(certs, cert)
	}

	for _, alias := range ks.Aliases() {
		switch {
		case ks.IsTrustedCertificateEntry(alias):
			entry, err := ks.GetTrustedCertificateEntry(alias)
			if err != nil {
				continue
			}
			add(alias, entry.Certificate.Content)
		case ks.IsPrivateKeyEntry(alias):
			chain, err := ks.GetPrivateKeyEntryCertificateChain(alias)
			if err != nil {
				continue
			}
			for _, c := range chain {
				add(alias, c.Content)
			}
		}
	}

	if len(certs) == 0 {
		return nil, errors.New("JKS contains no usable certificates")
	}
	return certs, nil
}

func decodeJKSAny(data []byte, passwords []string) ([]*x509.Certificate, error) {
	var lastErr error
	for _, pw := range passwords {
		certs, err := DecodeJKS(data, pw)
		if err == nil {
			return certs, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no passwords to try")
	}
	return nil, lastErr
}

// EncodeJKS creates a Java KeyStore with one trusted certificate entry per
// certificate, under the aliases "cert-0", "cert-1" and so on.
func EncodeJKS(certs []*x509.Certificate, password string) ([]byte, error) {
	if len(certs) == 0 {
		return nil, errors.New("no certificates to encode")
	}
	ks := keystore.New()
	now := time.Now()
	for i, c := range certs {
		der, err := c.Marshal()
		if err != nil {
			return nil, err
		}
		if err := ks.SetTrustedCertificateEntry(fmt.Sprintf("cert-%d", i), keystore.TrustedCertificateEntry{
			CreationTime: now,
			Certificate:  keystore.Certificate{Type: "X.509", Content: der},
		}); err != nil {
			return nil, fmt.Errorf("setting JKS entry: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		return nil, fmt.Errorf("storing JKS: %w", err)
	}
	return buf.Bytes(), nil
}
