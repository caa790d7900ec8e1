package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sensiblebit/derkit"
)

// AIAFetcher fetches raw certificate bytes from a URL.
type AIAFetcher func(ctx context.Context, url string) ([]byte, error)

// ResolveAIAInput holds parameters for ResolveAIA.
type ResolveAIAInput struct {
	Catalog  *Catalog
	Fetch    AIAFetcher
	MaxDepth int // 0 defaults to 5

	// Roots are trust anchors whose subjects need no fetching. Nil means
	// derkit.MozillaRoots.
	Roots *derkit.Pool
}

// ResolveAIA follows the caIssuers URLs of every non-root certificate whose
// issuer is missing from the catalog and adds what it fetches. Each round
// may uncover new orphans, so it repeats up to MaxDepth times.
//
// Returns warnings for fetch and parse failures.
func ResolveAIA(ctx context.Context, input ResolveAIAInput) []string {
	maxDepth := input.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	roots := input.Roots
	if roots == nil {
		var err error
		if roots, err = derkit.MozillaRoots(); err != nil {
			slog.Warn("loading Mozilla roots", "error", err)
			roots = derkit.NewPool()
		}
	}

	var warnings []string
	seen := make(map[string]bool)

	for range maxDepth {
		var queue []*Record
		for _, rec := range input.Catalog.All() {
			if rec.CertType == "root" {
				continue
			}
			if len(input.Catalog.IssuersOf(rec.Cert)) > 0 {
				continue
			}
			if roots.FindIssuer(rec.Cert, nil) != nil {
				continue
			}
			queue = append(queue, rec)
		}
		if len(queue) == 0 {
			break
		}

		fetched := 0
		for _, rec := range queue {
			for _, aiaURL := range rec.Cert.IssuingCertificateURLs() {
				if seen[aiaURL] {
					continue
				}
				seen[aiaURL] = true
				if err := ctx.Err(); err != nil {
					return append(warnings, fmt.Sprintf("AIA resolution stopped: %v", err))
				}

				body, err := input.Fetch(ctx, aiaURL)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("could not fetch issuer for %q from %s: %v",
						rec.Cert.Subject().CommonName(), aiaURL, err))
					continue
				}
				issuers, err := derkit.ParseCertificatesAny(body, nil)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("fetched %s but could not parse: %v", aiaURL, err))
					continue
				}
				for _, issuer := range issuers {
					added, err := input.Catalog.Add(issuer, "AIA: "+aiaURL)
					if err != nil {
						slog.Debug("skipping fetched certificate", "url", aiaURL, "error", err)
						continue
					}
					if added {
						fetched++
					}
				}
			}
		}
		if fetched == 0 {
			break
		}
	}
	return warnings
}
