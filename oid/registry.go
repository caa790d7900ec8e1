// Package oid maps object identifiers to short names for display. It is
// never consulted for wire correctness: the codec works on identifiers
// alone.
package oid

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sensiblebit/derkit/asn1"
)

// Entry is one name/identifier pair.
type Entry struct {
	Name string `yaml:"name"`
	OID  string `yaml:"oid"`
}

// Registry is a bidirectional name/OID table. The zero value is not usable;
// use [New] or [NewDefault]. A Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byOID  map[string]string // DER content octets -> name
	byName map[string]asn1.ObjectIdentifier
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byOID:  make(map[string]string),
		byName: make(map[string]asn1.ObjectIdentifier),
	}
}

// NewDefault returns a registry seeded with X.520 attribute types, the
// common signature and key algorithms and the RFC 5280 extensions.
func NewDefault() *Registry {
	r := New()
	for _, e := range defaults {
		if err := r.Add(e.Name, asn1.MustOID(e.OID)); err != nil {
			panic(err)
		}
	}
	return r
}

// Add binds name to oid. Re-adding an identical pair is a no-op; binding a
// name or identifier that is already bound to something else fails.
func (r *Registry) Add(name string, oid asn1.ObjectIdentifier) error {
	if name == "" {
		return fmt.Errorf("adding OID %s: empty name", oid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[name]; ok {
		if prev.Equal(oid) {
			return nil
		}
		return fmt.Errorf("adding %s=%s: name already bound to %s", name, oid, prev)
	}
	if prev, ok := r.byOID[string(oid)]; ok {
		return fmt.Errorf("adding %s=%s: OID already named %s", name, oid, prev)
	}
	r.byName[name] = slices.Clone(oid)
	r.byOID[string(oid)] = name
	return nil
}

// LookupName returns the name bound to oid.
func (r *Registry) LookupName(oid asn1.ObjectIdentifier) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byOID[string(oid)]
	return name, ok
}

// LookupOID returns the identifier bound to name.
func (r *Registry) LookupOID(name string) (asn1.ObjectIdentifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	oid, ok := r.byName[name]
	return oid, ok
}

// Resolve accepts a registered name or a dotted identifier.
func (r *Registry) Resolve(s string) (asn1.ObjectIdentifier, error) {
	if oid, ok := r.LookupOID(s); ok {
		return oid, nil
	}
	oid, err := asn1.ParseOID(s)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: not a known name or dotted OID", s)
	}
	return oid, nil
}

// Label returns the name of oid, or its dotted form if it has none.
func (r *Registry) Label(oid asn1.ObjectIdentifier) string {
	if r != nil {
		if name, ok := r.LookupName(oid); ok {
			return name
		}
	}
	return oid.String()
}

// Entries returns all pairs sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.byName))
	for name, oid := range r.byName {
		out = append(out, Entry{Name: name, OID: oid.String()})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// registryFile is the YAML layout accepted by LoadYAML.
type registryFile struct {
	OIDs []Entry `yaml:"oids"`
}

// LoadYAML adds the entries of a YAML document of the form
//
//	oids:
//	  - name: msCertificateTemplate
//	    oid: 1.3.6.1.4.1.311.21.7
func (r *Registry) LoadYAML(in io.Reader) error {
	var f registryFile
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parsing OID registry: %w", err)
	}
	for _, e := range f.OIDs {
		oid, err := asn1.ParseOID(e.OID)
		if err != nil {
			return fmt.Errorf("OID registry entry %q: %w", e.Name, err)
		}
		if err := r.Add(e.Name, oid); err != nil {
			return err
		}
	}
	return nil
}

var defaults = []Entry{
	// X.520 and PKCS#9 attribute types
	{"CN", "2.5.4.3"},
	{"SN", "2.5.4.4"},
	{"serialNumber", "2.5.4.5"},
	{"C", "2.5.4.6"},
	{"L", "2.5.4.7"},
	{"ST", "2.5.4.8"},
	{"street", "2.5.4.9"},
	{"O", "2.5.4.10"},
	{"OU", "2.5.4.11"},
	{"title", "2.5.4.12"},
	{"postalCode", "2.5.4.17"},
	{"name", "2.5.4.41"},
	{"GN", "2.5.4.42"},
	{"initials", "2.5.4.43"},
	{"generationQualifier", "2.5.4.44"},
	{"dnQualifier", "2.5.4.46"},
	{"pseudonym", "2.5.4.65"},
	{"organizationIdentifier", "2.5.4.97"},
	{"UID", "0.9.2342.19200300.100.1.1"},
	{"DC", "0.9.2342.19200300.100.1.25"},
	{"emailAddress", "1.2.840.113549.1.9.1"},
	{"jurisdictionC", "1.3.6.1.4.1.311.60.2.1.3"},
	{"businessCategory", "2.5.4.15"},

	// Public key algorithms and curves
	{"rsaEncryption", "1.2.840.113549.1.1.1"},
	{"rsassaPss", "1.2.840.113549.1.1.10"},
	{"ecPublicKey", "1.2.840.10045.2.1"},
	{"ed25519", "1.3.101.112"},
	{"x25519", "1.3.101.110"},
	{"prime256v1", "1.2.840.10045.3.1.7"},
	{"secp384r1", "1.3.132.0.34"},
	{"secp521r1", "1.3.132.0.35"},

	// Signature algorithms
	{"md5WithRSAEncryption", "1.2.840.113549.1.1.4"},
	{"sha1WithRSAEncryption", "1.2.840.113549.1.1.5"},
	{"sha256WithRSAEncryption", "1.2.840.113549.1.1.11"},
	{"sha384WithRSAEncryption", "1.2.840.113549.1.1.12"},
	{"sha512WithRSAEncryption", "1.2.840.113549.1.1.13"},
	{"ecdsa-with-SHA1", "1.2.840.10045.4.1"},
	{"ecdsa-with-SHA256", "1.2.840.10045.4.3.2"},
	{"ecdsa-with-SHA384", "1.2.840.10045.4.3.3"},
	{"ecdsa-with-SHA512", "1.2.840.10045.4.3.4"},

	// Digests
	{"sha1", "1.3.14.3.2.26"},
	{"sha256", "2.16.840.1.101.3.4.2.1"},
	{"sha384", "2.16.840.1.101.3.4.2.2"},
	{"sha512", "2.16.840.1.101.3.4.2.3"},

	// RFC 5280 extensions
	{"subjectDirectoryAttributes", "2.5.29.9"},
	{"subjectKeyIdentifier", "2.5.29.14"},
	{"keyUsage", "2.5.29.15"},
	{"subjectAltName", "2.5.29.17"},
	{"issuerAltName", "2.5.29.18"},
	{"basicConstraints", "2.5.29.19"},
	{"nameConstraints", "2.5.29.30"},
	{"cRLDistributionPoints", "2.5.29.31"},
	{"certificatePolicies", "2.5.29.32"},
	{"policyMappings", "2.5.29.33"},
	{"authorityKeyIdentifier", "2.5.29.35"},
	{"policyConstraints", "2.5.29.36"},
	{"extKeyUsage", "2.5.29.37"},
	{"inhibitAnyPolicy", "2.5.29.54"},
	{"authorityInfoAccess", "1.3.6.1.5.5.7.1.1"},
	{"subjectInfoAccess", "1.3.6.1.5.5.7.1.11"},
	{"ctPrecertificateSCTs", "1.3.6.1.4.1.11129.2.4.2"},
	{"ctPrecertificatePoison", "1.3.6.1.4.1.11129.2.4.3"},

	// Extended key usages
	{"serverAuth", "1.3.6.1.5.5.7.3.1"},
	{"clientAuth", "1.3.6.1.5.5.7.3.2"},
	{"codeSigning", "1.3.6.1.5.5.7.3.3"},
	{"emailProtection", "1.3.6.1.5.5.7.3.4"},
	{"timeStamping", "1.3.6.1.5.5.7.3.8"},
	{"OCSPSigning", "1.3.6.1.5.5.7.3.9"},

	// PKCS#7 content types
	{"pkcs7-data", "1.2.840.113549.1.7.1"},
	{"pkcs7-signedData", "1.2.840.113549.1.7.2"},
}
