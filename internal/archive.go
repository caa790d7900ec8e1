package internal

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/sensiblebit/derkit/internal/catalog"
)

// ArchiveLimits controls zip bomb protection thresholds.
type ArchiveLimits struct {
	// MaxDecompressionRatio is the maximum allowed ratio of uncompressed to
	// compressed size for a single ZIP entry. TAR entries are not
	// ratio-checked because TAR stores uncompressed data.
	MaxDecompressionRatio int64

	// MaxTotalSize is the maximum total bytes that may be extracted from a
	// single archive across all entries.
	MaxTotalSize int64

	// MaxEntryCount is the maximum number of entries that will be processed
	// from a single archive.
	MaxEntryCount int

	// MaxEntrySize is the maximum allowed size of a single decompressed
	// entry. The scanner applies the same limit to plain files.
	MaxEntrySize int64
}

// DefaultArchiveLimits returns conservative defaults for archive extraction.
func DefaultArchiveLimits() ArchiveLimits {
	return ArchiveLimits{
		MaxDecompressionRatio: 100,
		MaxTotalSize:          256 * 1024 * 1024, // 256 MB
		MaxEntryCount:         10_000,
		MaxEntrySize:          10 * 1024 * 1024, // 10 MB
	}
}

// ProcessArchiveInput holds the parameters for archive processing.
type ProcessArchiveInput struct {
	ArchivePath string
	Data        []byte
	Format      string
	Limits      ArchiveLimits
	Catalog     *catalog.Catalog
	Passwords   []string
}

// archiveExtensions maps file extensions to archive format identifiers.
// The ".tar.gz" compound extension is handled separately in ArchiveFormat.
var archiveExtensions = map[string]string{
	".zip": "zip",
	".tar": "tar",
	".tgz": "tar.gz",
}

// ArchiveFormat returns the archive format for the given path based on its
// extension, or "" if the path is not a recognized archive.
func ArchiveFormat(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".tar.gz") {
		return "tar.gz"
	}
	return archiveExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsArchive reports whether the given path has a recognized archive extension.
func IsArchive(path string) bool {
	return ArchiveFormat(path) != ""
}

// ProcessArchive extracts entries from an archive and adds the certificates
// found in each to the catalog. Returns the number of entries processed.
// Archives inside archives are not recursed into.
func ProcessArchive(input ProcessArchiveInput) (int, error) {
	x := &extraction{input: input}
	var err error
	switch input.Format {
	case "zip":
		err = x.zip()
	case "tar":
		err = x.tar(false)
	case "tar.gz":
		err = x.tar(true)
	default:
		return 0, fmt.Errorf("unsupported archive format: %q", input.Format)
	}
	if err != nil {
		return 0, err
	}
	slog.Info("processed archive", "archive", input.ArchivePath, "format", input.Format, "entries", x.processed)
	return x.processed, nil
}

// errStop ends an extraction early without failing it.
var errStop = errors.New("stop extraction")

// extraction tracks the limits of one archive walk.
type extraction struct {
	input     ProcessArchiveInput
	total     int64
	processed int
}

// admit decides whether an entry of the claimed size is read. It returns
// errStop once a whole-archive limit is reached.
func (x *extraction) admit(name string, size int64) (bool, error) {
	limits := x.input.Limits
	if x.processed >= limits.MaxEntryCount {
		slog.Warn("archive entry count limit reached, stopping",
			"archive", x.input.ArchivePath, "limit", limits.MaxEntryCount)
		return false, errStop
	}
	if IsArchive(name) {
		slog.Debug("skipping nested archive", "archive", x.input.ArchivePath, "entry", name)
		return false, nil
	}
	if size > limits.MaxEntrySize {
		slog.Debug("skipping oversized archive entry",
			"archive", x.input.ArchivePath, "entry", name,
			"size", size, "limit", limits.MaxEntrySize)
		return false, nil
	}
	if x.total+size > limits.MaxTotalSize {
		slog.Warn("archive total size limit reached, stopping",
			"archive", x.input.ArchivePath, "limit", limits.MaxTotalSize)
		return false, errStop
	}
	return true, nil
}

func (x *extraction) ingest(name string, data []byte) {
	x.total += int64(len(data))
	x.processed++
	virtualPath := x.input.ArchivePath + ":" + name
	if err := ProcessData(data, virtualPath, x.input.Catalog, x.input.Passwords); err != nil {
		slog.Debug("processing archive entry", "path", virtualPath, "error", err)
	}
}

func (x *extraction) zip() error {
	reader, err := zip.NewReader(bytes.NewReader(x.input.Data), int64(len(x.input.Data)))
	if err != nil {
		return fmt.Errorf("opening ZIP archive %s: %w", x.input.ArchivePath, err)
	}

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.CompressedSize64 > 0 {
			ratio := int64(f.UncompressedSize64 / f.CompressedSize64)
			if ratio > x.input.Limits.MaxDecompressionRatio {
				slog.Warn("skipping suspicious ZIP entry: decompression ratio too high",
					"archive", x.input.ArchivePath, "entry", f.Name,
					"ratio", ratio, "limit", x.input.Limits.MaxDecompressionRatio)
				continue
			}
		}
		ok, err := x.admit(f.Name, int64(f.UncompressedSize64))
		if errors.Is(err, errStop) {
			break
		}
		if !ok {
			continue
		}
		data, err := readZipEntry(f, x.input.Limits.MaxEntrySize)
		if err != nil {
			slog.Debug("reading ZIP entry", "archive", x.input.ArchivePath, "entry", f.Name, "error", err)
			continue
		}
		x.ingest(f.Name, data)
	}
	return nil
}

func (x *extraction) tar(gzipped bool) error {
	var reader io.Reader = bytes.NewReader(x.input.Data)
	if gzipped {
		gr, err := gzip.NewReader(reader)
		if err != nil {
			return fmt.Errorf("opening gzip layer for %s: %w", x.input.ArchivePath, err)
		}
		defer func() {
			if closeErr := gr.Close(); closeErr != nil {
				slog.Warn("closing gzip reader", "archive", x.input.ArchivePath, "error", closeErr)
			}
		}()
		reader = gr
	}

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Keep what was read before the corruption.
			if x.processed > 0 {
				slog.Warn("tar read error after processing entries",
					"archive", x.input.ArchivePath, "processed", x.processed, "error", err)
				return nil
			}
			return fmt.Errorf("reading TAR archive %s: %w", x.input.ArchivePath, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		ok, err := x.admit(header.Name, header.Size)
		if errors.Is(err, errStop) {
			return nil
		}
		if !ok {
			continue
		}

		// The header size is not trusted.
		data, err := io.ReadAll(io.LimitReader(tr, safeLimitSize(x.input.Limits.MaxEntrySize)))
		if err != nil {
			slog.Debug("reading TAR entry", "archive", x.input.ArchivePath, "entry", header.Name, "error", err)
			continue
		}
		if int64(len(data)) > x.input.Limits.MaxEntrySize {
			slog.Warn("TAR entry exceeded max size despite header claim",
				"archive", x.input.ArchivePath, "entry", header.Name)
			continue
		}
		x.ingest(header.Name, data)
	}
}

// readZipEntry reads the contents of a ZIP file entry, enforcing maxSize
// regardless of what the ZIP header claims.
func readZipEntry(f *zip.File, maxSize int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening ZIP entry %s: %w", f.Name, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			slog.Warn("closing ZIP entry", "entry", f.Name, "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(rc, safeLimitSize(maxSize)))
	if err != nil {
		return nil, fmt.Errorf("reading ZIP entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("ZIP entry %s exceeds max size (%d bytes)", f.Name, maxSize)
	}
	return data, nil
}

// safeLimitSize returns maxSize+1 for overflow detection in io.LimitReader,
// clamped to math.MaxInt64.
func safeLimitSize(maxSize int64) int64 {
	if maxSize == math.MaxInt64 {
		return math.MaxInt64
	}
	return maxSize + 1
}
