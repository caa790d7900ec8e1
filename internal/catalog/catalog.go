// Package catalog indexes certificates by canonical subject and issuer
// names and persists them to SQLite.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/x509"
)

// Record holds a parsed certificate and its computed metadata.
type Record struct {
	Cert        *x509.Certificate
	SubjectHash uint32 // OpenSSL-compatible subject name hash
	IssuerHash  uint32
	Serial      string
	CertType    string // "root", "intermediate", "leaf"
	NotAfter    time.Time
	Source      string // file that contributed this cert
}

// Catalog is an in-memory certificate index. Certificates are deduplicated
// by (canonical issuer, serial). It is not safe for concurrent use.
type Catalog struct {
	records   []*Record
	byID      map[string]*Record
	bySubject map[string][]*Record // canonical subject encoding → records
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{
		byID:      make(map[string]*Record),
		bySubject: make(map[string][]*Record),
	}
}

// Add records cert. It returns false without error when a certificate with
// the same issuer and serial is already present.
func (c *Catalog) Add(cert *x509.Certificate, source string) (bool, error) {
	rec, err := c.addRecord(cert, source)
	return rec != nil, err
}

// addRecord returns the new record, or nil if cert is a duplicate.
func (c *Catalog) addRecord(cert *x509.Certificate, source string) (*Record, error) {
	if cert == nil {
		return nil, errors.New("certificate is nil")
	}
	subject, err := cert.Subject().Canonical()
	if err != nil {
		return nil, fmt.Errorf("canonicalizing subject: %w", err)
	}
	issuer, err := cert.Issuer().Canonical()
	if err != nil {
		return nil, fmt.Errorf("canonicalizing issuer: %w", err)
	}
	serial := cert.SerialNumber().String()
	id := string(issuer) + "\x00" + serial
	if _, exists := c.byID[id]; exists {
		return nil, nil
	}

	subjectHash, err := cert.Subject().Hash()
	if err != nil {
		return nil, err
	}
	issuerHash, err := cert.Issuer().Hash()
	if err != nil {
		return nil, err
	}
	notAfter, err := cert.NotAfter().Time()
	if err != nil {
		slog.Debug("unreadable notAfter", "serial", serial, "source", source, "error", err)
	}

	rec := &Record{
		Cert:        cert,
		SubjectHash: subjectHash,
		IssuerHash:  issuerHash,
		Serial:      serial,
		CertType:    derkit.CertificateType(cert),
		NotAfter:    notAfter,
		Source:      source,
	}
	c.records = append(c.records, rec)
	c.byID[id] = rec
	c.bySubject[string(subject)] = append(c.bySubject[string(subject)], rec)
	return rec, nil
}

// Len returns the number of records.
func (c *Catalog) Len() int { return len(c.records) }

// All returns all records in insertion order.
func (c *Catalog) All() []*Record { return slices.Clone(c.records) }

// BySubject returns the records whose subject equals name under canonical
// comparison.
func (c *Catalog) BySubject(name *x509.Name) []*Record {
	canon, err := name.Canonical()
	if err != nil {
		return nil
	}
	return slices.Clone(c.bySubject[string(canon)])
}

// IssuersOf returns the records whose subject matches the issuer of cert
// and whose key verifies its signature.
func (c *Catalog) IssuersOf(cert *x509.Certificate) []*Record {
	var out []*Record
	for _, rec := range c.BySubject(cert.Issuer()) {
		if err := cert.CheckSignatureFrom(rec.Cert, nil); err != nil {
			slog.Debug("issuer candidate rejected", "candidate", rec.Serial, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Pool returns the catalogued CA certificates as a pool for chain building.
func (c *Catalog) Pool() *derkit.Pool {
	pool := derkit.NewPool()
	for _, rec := range c.records {
		if rec.CertType == "leaf" {
			continue
		}
		if err := pool.Add(rec.Cert); err != nil {
			slog.Debug("skipping certificate", "serial", rec.Serial, "error", err)
		}
	}
	return pool
}

// Summary holds aggregate counts of a catalog.
type Summary struct {
	Roots                int `json:"roots" yaml:"roots"`
	Intermediates        int `json:"intermediates" yaml:"intermediates"`
	Leaves               int `json:"leaves" yaml:"leaves"`
	ExpiredRoots         int `json:"expired_roots" yaml:"expired_roots"`
	ExpiredIntermediates int `json:"expired_intermediates" yaml:"expired_intermediates"`
	ExpiredLeaves        int `json:"expired_leaves" yaml:"expired_leaves"`
	Orphans              int `json:"orphans" yaml:"orphans"`
}

// Summary counts records by type and expiry. Orphans are non-root
// certificates whose issuer is not in the catalog.
func (c *Catalog) Summary(now time.Time) Summary {
	var s Summary
	for _, rec := range c.records {
		expired := now.After(rec.NotAfter)
		switch rec.CertType {
		case "root":
			s.Roots++
			if expired {
				s.ExpiredRoots++
			}
		case "intermediate":
			s.Intermediates++
			if expired {
				s.ExpiredIntermediates++
			}
		default:
			s.Leaves++
			if expired {
				s.ExpiredLeaves++
			}
		}
		if rec.CertType != "root" && len(c.IssuersOf(rec.Cert)) == 0 {
			s.Orphans++
		}
	}
	return s
}

// String formats the summary on one line, such as
// "1 root, 2 intermediates, 5 leaves (1 expired)".
func (s Summary) String() string {
	expired := s.ExpiredRoots + s.ExpiredIntermediates + s.ExpiredLeaves
	parts := []string{
		plural(s.Roots, "root", "roots"),
		plural(s.Intermediates, "intermediate", "intermediates"),
		plural(s.Leaves, "leaf", "leaves"),
	}
	var notes []string
	if expired > 0 {
		notes = append(notes, fmt.Sprintf("%d expired", expired))
	}
	if s.Orphans > 0 {
		notes = append(notes, fmt.Sprintf("%d without issuer", s.Orphans))
	}
	out := strings.Join(parts, ", ")
	if len(notes) > 0 {
		out += " (" + strings.Join(notes, ", ") + ")"
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
