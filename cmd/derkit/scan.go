package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/derkit/internal"
	"github.com/sensiblebit/derkit/internal/catalog"
)

var (
	scanDBPath      string
	scanMaxFileSize int64
	scanFetchAIA    bool
	scanAIATimeout  time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Scan and catalog certificates",
	Long: "Scan a file, directory or archive for certificates, deduplicate them by issuer and " +
		"serial number and print a summary. With --db the catalog is loaded from and saved to SQLite.",
	Example: `  derkit scan /etc/ssl/certs
  derkit scan backups/ --db certs.db --format json`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: directoryCompletion,
	RunE:              runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanDBPath, "db", "d", "", "SQLite catalog to load and update")
	scanCmd.Flags().Int64Var(&scanMaxFileSize, "max-file-size", internal.DefaultArchiveLimits().MaxEntrySize, "Skip files and archive entries larger than this many bytes")
	scanCmd.Flags().BoolVar(&scanFetchAIA, "fetch-aia", false, "Fetch missing issuers from AIA CA Issuers URLs")
	scanCmd.Flags().DurationVar(&scanAIATimeout, "aia-timeout", 10*time.Second, "Timeout for each AIA fetch")
	registerCompletion(scanCmd, completionInput{"db", fileCompletion})
}

// scanReport is the scan output.
type scanReport struct {
	Scan     *internal.ScanResult `json:"scan" yaml:"scan"`
	Summary  catalog.Summary      `json:"summary" yaml:"summary"`
	Total    int                  `json:"total" yaml:"total"`
	Warnings []string             `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	cat := catalog.New()
	if scanDBPath != "" {
		if _, err := os.Stat(scanDBPath); err == nil {
			if err := catalog.LoadFromSQLite(cat, scanDBPath); err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}
			slog.Info("loaded catalog", "path", scanDBPath, "certificates", cat.Len())
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking catalog: %w", err)
		}
	}

	limits := internal.DefaultArchiveLimits()
	limits.MaxEntrySize = scanMaxFileSize
	result, err := internal.Scan(internal.ScanInput{
		Path:      args[0],
		Catalog:   cat,
		Passwords: passwords,
		Limits:    limits,
	})
	if err != nil {
		return err
	}

	var warnings []string
	if scanFetchAIA {
		warnings = catalog.ResolveAIA(cmd.Context(), catalog.ResolveAIAInput{
			Catalog:  cat,
			Fetch:    httpAIAFetcher(scanAIATimeout),
			MaxDepth: cfg.MaxChainDepth,
		})
		for _, w := range warnings {
			slog.Warn(w)
		}
	}

	if scanDBPath != "" {
		if err := os.Remove(scanDBPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("replacing catalog: %w", err)
		}
		if err := catalog.SaveToSQLite(cat, scanDBPath); err != nil {
			return fmt.Errorf("saving catalog: %w", err)
		}
	}

	report := scanReport{Scan: result, Summary: cat.Summary(time.Now()), Total: cat.Len(), Warnings: warnings}
	output, err := internal.Render(report, outputFormat, func() string {
		return fmt.Sprintf("Scanned %d file(s) and %d archive(s), %d skipped\nFound %d certificate(s), %d new: %s\n",
			result.Files, result.Archives, result.Skipped, report.Total, result.Added, report.Summary)
	})
	if err != nil {
		return err
	}
	fmt.Print(output)
	return nil
}

// httpAIAFetcher fetches AIA URLs over HTTP with a per-request timeout.
// Responses are limited to 1MB.
func httpAIAFetcher(timeout time.Duration) catalog.AIAFetcher {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, url string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	}
}
