package internal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/internal/catalog"
)

// ScanInput holds the parameters for a scan.
type ScanInput struct {
	Path      string
	Catalog   *catalog.Catalog
	Passwords []string
	Limits    ArchiveLimits
}

// ScanResult counts what a scan looked at.
type ScanResult struct {
	Files    int `json:"files" yaml:"files"`
	Archives int `json:"archives" yaml:"archives"`
	Added    int `json:"added" yaml:"added"`
	Skipped  int `json:"skipped" yaml:"skipped"`
}

// skippableDirs holds directory names that are not descended into.
var skippableDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"vendor":       true,
}

// IsSkippableDir reports whether a directory with this name is skipped
// during scanning.
func IsSkippableDir(name string) bool {
	return skippableDirs[name]
}

// ProcessData adds the certificates found in data to cat. Duplicates are
// ignored. It returns an error if data holds no certificates.
func ProcessData(data []byte, source string, cat *catalog.Catalog, passwords []string) error {
	certs, err := derkit.ParseCertificatesAny(data, passwords)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		added, err := cat.Add(cert, source)
		if err != nil {
			slog.Debug("cataloging certificate", "source", source, "error", err)
			continue
		}
		if added {
			slog.Debug("cataloged certificate", "source", source, "subject", cert.Subject().String(nil))
		}
	}
	return nil
}

// Scan walks a file or directory, reading every regular file and archive
// into the catalog. A path of "-" reads standard input.
func Scan(input ScanInput) (*ScanResult, error) {
	before := input.Catalog.Len()
	result := &ScanResult{}
	if input.Path == "-" {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, safeLimitSize(input.Limits.MaxEntrySize)))
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		result.Files++
		if err := ProcessData(data, "stdin", input.Catalog, input.Passwords); err != nil {
			result.Skipped++
			slog.Debug("processing stdin", "error", err)
		}
		result.Added = input.Catalog.Len() - before
		return result, nil
	}

	if _, err := os.Stat(input.Path); err != nil {
		return nil, fmt.Errorf("input path %s: %w", input.Path, err)
	}
	err := filepath.WalkDir(input.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != input.Path && IsSkippableDir(d.Name()) {
			slog.Debug("skipping directory", "path", path)
			return filepath.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := scanFile(path, d, input, result); err != nil {
			result.Skipped++
			slog.Debug("skipping file", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking input path: %w", err)
	}
	result.Added = input.Catalog.Len() - before
	return result, nil
}

func scanFile(path string, d fs.DirEntry, input ScanInput, result *ScanResult) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	format := ArchiveFormat(path)
	limit := input.Limits.MaxEntrySize
	if format != "" {
		limit = input.Limits.MaxTotalSize
	}
	if info.Size() > limit {
		return fmt.Errorf("file size %d exceeds limit %d", info.Size(), limit)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if format != "" {
		result.Archives++
		_, err := ProcessArchive(ProcessArchiveInput{
			ArchivePath: path,
			Data:        data,
			Format:      format,
			Limits:      input.Limits,
			Catalog:     input.Catalog,
			Passwords:   input.Passwords,
		})
		return err
	}
	result.Files++
	if len(data) == 0 {
		return errors.New("empty file")
	}
	return ProcessData(data, path, input.Catalog, input.Passwords)
}
