package internal

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/asn1"
	"github.com/sensiblebit/derkit/oid"
	"github.com/sensiblebit/derkit/x509"
)

// InspectResult holds the inspection details for one certificate.
type InspectResult struct {
	Type           string          `json:"type" yaml:"type"`
	Version        int             `json:"version" yaml:"version"`
	Subject        string          `json:"subject" yaml:"subject"`
	Issuer         string          `json:"issuer" yaml:"issuer"`
	Serial         string          `json:"serial" yaml:"serial"`
	NotBefore      string          `json:"not_before" yaml:"not_before"`
	NotAfter       string          `json:"not_after" yaml:"not_after"`
	CertType       string          `json:"cert_type" yaml:"cert_type"`
	KeyAlgo        string          `json:"key_algorithm" yaml:"key_algorithm"`
	KeySize        string          `json:"key_size,omitempty" yaml:"key_size,omitempty"`
	SigAlg         string          `json:"signature_algorithm" yaml:"signature_algorithm"`
	SANs           []string        `json:"sans,omitempty" yaml:"sans,omitempty"`
	KeyUsage       []string        `json:"key_usage,omitempty" yaml:"key_usage,omitempty"`
	ExtKeyUsage    []string        `json:"ext_key_usage,omitempty" yaml:"ext_key_usage,omitempty"`
	SHA256         string          `json:"sha256_fingerprint" yaml:"sha256_fingerprint"`
	SHA1           string          `json:"sha1_fingerprint" yaml:"sha1_fingerprint"`
	SKI            string          `json:"subject_key_id,omitempty" yaml:"subject_key_id,omitempty"`
	ComputedSKI    string          `json:"computed_subject_key_id" yaml:"computed_subject_key_id"`
	SKILegacy      string          `json:"computed_subject_key_id_sha1" yaml:"computed_subject_key_id_sha1"`
	AKI            string          `json:"authority_key_id,omitempty" yaml:"authority_key_id,omitempty"`
	SubjectHash    string          `json:"subject_hash" yaml:"subject_hash"`
	IssuerHash     string          `json:"issuer_hash" yaml:"issuer_hash"`
	SSHFingerprint string          `json:"ssh_fingerprint,omitempty" yaml:"ssh_fingerprint,omitempty"`
	Extensions     []ExtensionInfo `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// ExtensionInfo describes one extension by name.
type ExtensionInfo struct {
	Name     string `json:"name" yaml:"name"`
	OID      string `json:"oid" yaml:"oid"`
	Critical bool   `json:"critical,omitempty" yaml:"critical,omitempty"`
}

// InspectFile reads a file in any supported container format and returns
// inspection results for every certificate found.
func InspectFile(path string, passwords []string, reg *oid.Registry) ([]InspectResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	certs, err := derkit.ParseCertificatesAny(data, passwords)
	if err != nil {
		return nil, fmt.Errorf("no certificates found in %s: %w", path, err)
	}
	results := make([]InspectResult, 0, len(certs))
	for _, cert := range certs {
		r, err := InspectCertificate(cert, reg)
		if err != nil {
			return nil, fmt.Errorf("inspecting %s: %w", path, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// InspectCertificate collects the displayable details of cert. Malformed
// extensions are reported by name and otherwise skipped.
func InspectCertificate(cert *x509.Certificate, reg *oid.Registry) (InspectResult, error) {
	sha256fp, err := derkit.CertFingerprint(cert)
	if err != nil {
		return InspectResult{}, err
	}
	sha1fp, err := derkit.CertFingerprintSHA1(cert)
	if err != nil {
		return InspectResult{}, err
	}
	subjectHash, err := cert.Subject().Hash()
	if err != nil {
		return InspectResult{}, err
	}
	issuerHash, err := cert.Issuer().Hash()
	if err != nil {
		return InspectResult{}, err
	}

	spki := cert.PublicKey()
	r := InspectResult{
		Type:        "certificate",
		Version:     cert.Version(),
		Subject:     cert.Subject().String(reg),
		Issuer:      cert.Issuer().String(reg),
		Serial:      cert.SerialNumber().String(),
		NotBefore:   formatTime(cert.NotBefore()),
		NotAfter:    formatTime(cert.NotAfter()),
		CertType:    derkit.CertificateType(cert),
		KeyAlgo:     reg.Label(spki.Algorithm.Algorithm),
		KeySize:     publicKeySize(spki, reg),
		SigAlg:      reg.Label(cert.SignatureAlgorithm().Algorithm),
		SHA256:      sha256fp,
		SHA1:        sha1fp,
		ComputedSKI: derkit.ColonHex(derkit.ComputeSKI(spki)),
		SKILegacy:   derkit.ColonHex(derkit.ComputeSKILegacy(spki)),
		SubjectHash: fmt.Sprintf("%08x", subjectHash),
		IssuerHash:  fmt.Sprintf("%08x", issuerHash),
	}
	if fp, err := derkit.SSHFingerprint(spki); err == nil {
		r.SSHFingerprint = fp
	}

	for _, ext := range cert.Extensions() {
		r.Extensions = append(r.Extensions, ExtensionInfo{
			Name:     reg.Label(ext.ID),
			OID:      ext.ID.String(),
			Critical: ext.Critical,
		})
		if err := r.decodeExtension(ext, reg); err != nil {
			r.Extensions[len(r.Extensions)-1].Name += " (malformed)"
		}
	}
	return r, nil
}

func (r *InspectResult) decodeExtension(ext x509.Extension, reg *oid.Registry) error {
	switch {
	case ext.ID.Equal(x509.OIDExtSubjectAltName):
		names, err := x509.ParseGeneralNames(ext.Value)
		if err != nil {
			return err
		}
		for _, g := range names {
			r.SANs = append(r.SANs, g.String(reg))
		}
	case ext.ID.Equal(x509.OIDExtKeyUsage):
		ku, err := x509.ParseKeyUsage(ext.Value)
		if err != nil {
			return err
		}
		r.KeyUsage = ku.Names()
	case ext.ID.Equal(x509.OIDExtExtendedKeyUsage):
		ids, err := x509.ParseExtKeyUsage(ext.Value)
		if err != nil {
			return err
		}
		for _, id := range ids {
			r.ExtKeyUsage = append(r.ExtKeyUsage, reg.Label(id))
		}
	case ext.ID.Equal(x509.OIDExtSubjectKeyID):
		ski, err := x509.ParseSubjectKeyID(ext.Value)
		if err != nil {
			return err
		}
		r.SKI = derkit.ColonHex(ski)
	case ext.ID.Equal(x509.OIDExtAuthorityKeyID):
		aki, err := x509.ParseAuthorityKeyID(ext.Value)
		if err != nil {
			return err
		}
		if aki != nil {
			r.AKI = derkit.ColonHex(aki)
		}
	case ext.ID.Equal(x509.OIDExtBasicConstraints):
		_, err := x509.ParseBasicConstraints(ext.Value)
		return err
	}
	return nil
}

// formatTime renders a validity time in RFC 3339, or verbatim when it does
// not denote an instant.
func formatTime(t asn1.Time) string {
	tm, err := t.Time()
	if err != nil {
		return t.String()
	}
	return tm.UTC().Format(time.RFC3339)
}

func publicKeySize(spki *x509.SubjectPublicKeyInfo, reg *oid.Registry) string {
	alg := spki.Algorithm.Algorithm
	switch {
	case alg.Equal(x509.OIDRSAEncryption):
		k, err := x509.ParseRSAPublicKey(spki.PublicKeyBits.Bytes)
		if err != nil {
			return "unknown"
		}
		return fmt.Sprintf("%d", k.BitLen())
	case alg.Equal(x509.OIDECPublicKey):
		if curve, ok := spki.Algorithm.NamedCurve(); ok {
			return reg.Label(curve)
		}
		return "unknown"
	case alg.Equal(x509.OIDEd25519):
		return "256"
	}
	return ""
}

// FormatInspectResults formats inspection results as text, JSON or YAML.
func FormatInspectResults(results []InspectResult, format string) (string, error) {
	return Render(results, format, func() string { return formatInspectText(results) })
}

func formatInspectText(results []InspectResult) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Certificate:\n")
		fmt.Fprintf(&sb, "  Subject:     %s\n", r.Subject)
		if len(r.SANs) > 0 {
			fmt.Fprintf(&sb, "  SANs:        %s\n", strings.Join(r.SANs, ", "))
		}
		fmt.Fprintf(&sb, "  Issuer:      %s\n", r.Issuer)
		fmt.Fprintf(&sb, "  Serial:      %s\n", r.Serial)
		fmt.Fprintf(&sb, "  Version:     %d\n", r.Version)
		fmt.Fprintf(&sb, "  Type:        %s\n", r.CertType)
		fmt.Fprintf(&sb, "  Not Before:  %s\n", r.NotBefore)
		fmt.Fprintf(&sb, "  Not After:   %s\n", r.NotAfter)
		fmt.Fprintf(&sb, "  Key:         %s\n", strings.TrimSpace(r.KeyAlgo+" "+r.KeySize))
		fmt.Fprintf(&sb, "  Signature:   %s\n", r.SigAlg)
		if len(r.KeyUsage) > 0 {
			fmt.Fprintf(&sb, "  Key Usage:   %s\n", strings.Join(r.KeyUsage, ", "))
		}
		if len(r.ExtKeyUsage) > 0 {
			fmt.Fprintf(&sb, "  Ext Usage:   %s\n", strings.Join(r.ExtKeyUsage, ", "))
		}
		fmt.Fprintf(&sb, "  SHA-256:     %s\n", r.SHA256)
		fmt.Fprintf(&sb, "  SHA-1:       %s\n", r.SHA1)
		if r.SKI != "" {
			fmt.Fprintf(&sb, "  SKI:         %s\n", r.SKI)
		}
		fmt.Fprintf(&sb, "  SKI (calc):  %s\n", r.ComputedSKI)
		if r.AKI != "" {
			fmt.Fprintf(&sb, "  AKI:         %s\n", r.AKI)
		}
		fmt.Fprintf(&sb, "  Name Hash:   %s (issuer %s)\n", r.SubjectHash, r.IssuerHash)
		if r.SSHFingerprint != "" {
			fmt.Fprintf(&sb, "  SSH Key:     %s\n", r.SSHFingerprint)
		}
		if len(r.Extensions) > 0 {
			fmt.Fprintf(&sb, "  Extensions:\n")
			for _, e := range r.Extensions {
				critical := ""
				if e.Critical {
					critical = " (critical)"
				}
				fmt.Fprintf(&sb, "    %s%s\n", e.Name, critical)
			}
		}
	}
	return sb.String()
}
