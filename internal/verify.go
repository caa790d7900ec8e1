package internal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/oid"
	"github.com/sensiblebit/derkit/x509"
)

// VerifyInput holds the parsed certificates and verification options.
type VerifyInput struct {
	Cert *x509.Certificate
	// Issuer, when set, is checked as the direct signer of Cert.
	Issuer        *x509.Certificate
	Intermediates []*x509.Certificate
	// Roots are the trust anchors for chain building. Nil means the
	// embedded Mozilla store.
	Roots          *derkit.Pool
	CheckChain     bool
	MaxDepth       int
	ExpiryDuration time.Duration
	// WarningWindow is how close to expiry a chain certificate must be to
	// be warned about when ExpiryDuration is not set.
	WarningWindow time.Duration
	Registry      *oid.Registry
}

// ChainCert holds display information for one certificate in the chain.
type ChainCert struct {
	Subject string `json:"subject" yaml:"subject"`
	Expiry  string `json:"expiry" yaml:"expiry"`
	SKI     string `json:"ski" yaml:"ski"`
	IsRoot  bool   `json:"is_root,omitempty" yaml:"is_root,omitempty"`
}

// VerifyResult holds the results of certificate verification checks.
type VerifyResult struct {
	Subject      string      `json:"subject" yaml:"subject"`
	SANs         []string    `json:"sans,omitempty" yaml:"sans,omitempty"`
	NotAfter     string      `json:"not_after" yaml:"not_after"`
	SKI          string      `json:"ski" yaml:"ski"`
	SelfIssued   bool        `json:"self_issued" yaml:"self_issued"`
	SignatureOK  *bool       `json:"signature_valid,omitempty" yaml:"signature_valid,omitempty"`
	SignatureErr string      `json:"signature_error,omitempty" yaml:"signature_error,omitempty"`
	ChainValid   *bool       `json:"chain_valid,omitempty" yaml:"chain_valid,omitempty"`
	ChainErr     string      `json:"chain_error,omitempty" yaml:"chain_error,omitempty"`
	Chain        []ChainCert `json:"chain,omitempty" yaml:"chain,omitempty"`
	Warnings     []string    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Expiry       *bool       `json:"expires_within,omitempty" yaml:"expires_within,omitempty"`
	ExpiryInfo   string      `json:"expiry_info,omitempty" yaml:"expiry_info,omitempty"`
	Errors       []string    `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// VerifyCert checks the signature against an explicit issuer, builds the
// chain to a trust anchor and checks expiry, as requested by input.
func VerifyCert(input *VerifyInput) (*VerifyResult, error) {
	cert := input.Cert
	reg := input.Registry
	info, err := InspectCertificate(cert, reg)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Subject:    info.Subject,
		SANs:       info.SANs,
		NotAfter:   info.NotAfter,
		SKI:        info.ComputedSKI,
		SelfIssued: cert.IsSelfIssued(),
	}

	signer := input.Issuer
	if signer == nil && result.SelfIssued && !input.CheckChain {
		signer = cert
	}
	if signer != nil {
		err := cert.CheckSignatureFrom(signer, nil)
		ok := err == nil
		result.SignatureOK = &ok
		if err != nil {
			result.SignatureErr = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("signature: %s", err))
		}
	}

	if input.CheckChain {
		opts := derkit.DefaultChainOptions()
		opts.Intermediates = input.Intermediates
		if input.Issuer != nil {
			opts.Intermediates = append(opts.Intermediates, input.Issuer)
		}
		opts.Roots = input.Roots
		if input.MaxDepth > 0 {
			opts.MaxDepth = input.MaxDepth
		}
		switch {
		case input.ExpiryDuration > 0:
			opts.ExpiryWindow = input.ExpiryDuration
		case input.WarningWindow > 0:
			opts.ExpiryWindow = input.WarningWindow
		}
		chain, err := derkit.BuildChain(cert, opts)
		valid := err == nil
		result.ChainValid = &valid
		if err != nil {
			result.ChainErr = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("chain validation: %s", err))
		} else {
			result.Chain = buildChainDisplay(chain, reg)
			result.Warnings = chain.Warnings
		}
	}

	if input.ExpiryDuration > 0 {
		expires := derkit.CertExpiresWithin(cert, input.ExpiryDuration)
		result.Expiry = &expires
		if expires {
			result.ExpiryInfo = fmt.Sprintf("certificate expires within %s (not after: %s)", input.ExpiryDuration, result.NotAfter)
			result.Errors = append(result.Errors, result.ExpiryInfo)
		} else {
			result.ExpiryInfo = fmt.Sprintf("certificate does not expire within %s", input.ExpiryDuration)
		}
	}

	return result, nil
}

// buildChainDisplay creates the display chain from a ChainResult.
func buildChainDisplay(chain *derkit.ChainResult, reg *oid.Registry) []ChainCert {
	var out []ChainCert
	for _, c := range chain.Chain() {
		expiry := c.NotAfter().String()
		if t, err := c.NotAfter().Time(); err == nil {
			expiry = t.UTC().Format("2006-01-02")
		}
		out = append(out, ChainCert{
			Subject: c.Subject().String(reg),
			Expiry:  expiry,
			SKI:     derkit.ColonHex(derkit.ComputeSKI(c.PublicKey())),
			IsRoot:  c == chain.Root,
		})
	}
	return out
}

// daysUntil returns the number of days from now until t, rounded down.
func daysUntil(t time.Time) int {
	return int(math.Floor(time.Until(t).Hours() / 24))
}

// FormatVerifyResult formats a verify result as text, JSON or YAML.
func FormatVerifyResult(r *VerifyResult, format string) (string, error) {
	return Render(r, format, func() string { return formatVerifyText(r) })
}

func formatVerifyText(r *VerifyResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Certificate: %s\n", r.Subject)

	if len(r.SANs) > 0 {
		fmt.Fprintf(&sb, "       SANs: %s\n", strings.Join(r.SANs, ", "))
	}

	notAfter, err := time.Parse(time.RFC3339, r.NotAfter)
	if err == nil {
		fmt.Fprintf(&sb, "  Not After: %s (%d days)\n", r.NotAfter, daysUntil(notAfter))
	} else {
		fmt.Fprintf(&sb, "  Not After: %s\n", r.NotAfter)
	}

	fmt.Fprintf(&sb, "        SKI: %s\n", r.SKI)

	if r.SignatureOK != nil {
		if *r.SignatureOK {
			sb.WriteString("  Signature: OK\n")
		} else {
			fmt.Fprintf(&sb, "  Signature: INVALID (%s)\n", r.SignatureErr)
		}
	}

	if r.ChainValid != nil {
		if *r.ChainValid {
			sb.WriteString("      Chain: VALID\n")
		} else {
			fmt.Fprintf(&sb, "      Chain: INVALID (%s)\n", r.ChainErr)
		}
	}

	if len(r.Chain) > 0 {
		sb.WriteString("\nChain:\n")
		for i, c := range r.Chain {
			tag := ""
			if c.IsRoot {
				tag = "  [root]"
			}
			fmt.Fprintf(&sb, "  %d: %s  (expires %s)%s\n", i, c.Subject, c.Expiry, tag)
			fmt.Fprintf(&sb, "     SKI: %s\n", c.SKI)
		}
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&sb, "  - %s\n", w)
		}
	}

	if r.Expiry != nil {
		fmt.Fprintf(&sb, "\n  Expiry: %s\n", r.ExpiryInfo)
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&sb, "\nVerification FAILED (%d error(s))\n", len(r.Errors))
	} else {
		sb.WriteString("\nVerification OK\n")
	}

	return sb.String()
}
