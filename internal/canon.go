package internal

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sensiblebit/derkit/oid"
	"github.com/sensiblebit/derkit/x509"
)

// CanonResult shows one name in its display, DER and canonical forms.
type CanonResult struct {
	Field     string `json:"field" yaml:"field"`
	Name      string `json:"name" yaml:"name"`
	DER       string `json:"der" yaml:"der"`
	Canonical string `json:"canonical" yaml:"canonical"`
	Hash      string `json:"hash" yaml:"hash"`
}

// CanonName describes one name. field labels it in the output.
func CanonName(field string, name *x509.Name, reg *oid.Registry) (CanonResult, error) {
	der, err := name.DER()
	if err != nil {
		return CanonResult{}, err
	}
	canon, err := name.Canonical()
	if err != nil {
		return CanonResult{}, err
	}
	h, err := name.Hash()
	if err != nil {
		return CanonResult{}, err
	}
	return CanonResult{
		Field:     field,
		Name:      name.String(reg),
		DER:       hex.EncodeToString(der),
		Canonical: hex.EncodeToString(canon),
		Hash:      fmt.Sprintf("%08x", h),
	}, nil
}

// CanonNameDER parses a DER Name and describes it.
func CanonNameDER(der []byte, reg *oid.Registry) (CanonResult, error) {
	name, err := x509.ParseName(der)
	if err != nil {
		return CanonResult{}, err
	}
	return CanonName("name", name, reg)
}

// CanonCertificate describes the subject and issuer of cert.
func CanonCertificate(cert *x509.Certificate, reg *oid.Registry) ([]CanonResult, error) {
	subject, err := CanonName("subject", cert.Subject(), reg)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	issuer, err := CanonName("issuer", cert.Issuer(), reg)
	if err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}
	return []CanonResult{subject, issuer}, nil
}

// FormatCanonResults formats canonical name results as text, JSON or YAML.
func FormatCanonResults(results []CanonResult, format string) (string, error) {
	return Render(results, format, func() string {
		var sb strings.Builder
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%s: %s\n", r.Field, r.Name)
			fmt.Fprintf(&sb, "  Hash:      %s\n", r.Hash)
			fmt.Fprintf(&sb, "  DER:       %s\n", r.DER)
			fmt.Fprintf(&sb, "  Canonical: %s\n", r.Canonical)
		}
		return sb.String()
	})
}
