package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	_ "modernc.org/sqlite"

	"github.com/sensiblebit/derkit/x509"
)

// certRow maps a row in the certificates table.
type certRow struct {
	IssuerCanonical  []byte         `db:"issuer_canonical"`
	SerialNumber     string         `db:"serial_number"`
	SubjectCanonical []byte         `db:"subject_canonical"`
	SubjectHash      string         `db:"subject_hash"`
	IssuerHash       string         `db:"issuer_hash"`
	CertType         string         `db:"cert_type"`
	Expiry           time.Time      `db:"expiry"`
	CommonName       sql.NullString `db:"common_name"`
	Metadata         types.JSONText `db:"metadata"`
	DER              []byte         `db:"der"`
	Source           string         `db:"source"`
}

// rowMetadata is stored as JSON in the metadata column.
type rowMetadata struct {
	Subject            string `json:"subject"`
	Issuer             string `json:"issuer"`
	SignatureAlgorithm string `json:"signature_algorithm"`
}

// openMemDB creates an in-memory SQLite database with the catalog schema.
func openMemDB() (*sqlx.DB, error) {
	dsn := "file::memory:?_pragma=temp_store(2)&_pragma=journal_mode(off)&_pragma=synchronous(off)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

func initSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS certificates (
			issuer_canonical  blob NOT NULL,
			serial_number     text NOT NULL,
			subject_canonical blob NOT NULL,
			subject_hash      text NOT NULL,
			issuer_hash       text NOT NULL,
			cert_type         text NOT NULL,
			expiry            timestamp,
			common_name       text,
			metadata          text,
			der               blob NOT NULL,
			source            text NOT NULL,
			PRIMARY KEY(issuer_canonical, serial_number)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating certificates table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_certificates_subject_hash ON certificates (subject_hash);`); err != nil {
		return fmt.Errorf("creating subject hash index: %w", err)
	}
	return nil
}

func hashHex(h uint32) string { return fmt.Sprintf("%08x", h) }

// SaveToSQLite writes the catalog to a SQLite database file. The file must
// not exist yet.
func SaveToSQLite(c *Catalog, dbPath string) error {
	db, err := openMemDB()
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	for _, rec := range c.records {
		der, err := rec.Cert.Marshal()
		if err != nil {
			slog.Warn("encoding certificate", "serial", rec.Serial, "error", err)
			continue
		}
		subject, err := rec.Cert.Subject().Canonical()
		if err != nil {
			slog.Warn("canonicalizing subject", "serial", rec.Serial, "error", err)
			continue
		}
		issuer, err := rec.Cert.Issuer().Canonical()
		if err != nil {
			slog.Warn("canonicalizing issuer", "serial", rec.Serial, "error", err)
			continue
		}
		meta, err := json.Marshal(rowMetadata{
			Subject:            rec.Cert.Subject().String(nil),
			Issuer:             rec.Cert.Issuer().String(nil),
			SignatureAlgorithm: rec.Cert.SignatureAlgorithm().Algorithm.String(),
		})
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		cn := rec.Cert.Subject().CommonName()
		row := certRow{
			IssuerCanonical:  issuer,
			SerialNumber:     rec.Serial,
			SubjectCanonical: subject,
			SubjectHash:      hashHex(rec.SubjectHash),
			IssuerHash:       hashHex(rec.IssuerHash),
			CertType:         rec.CertType,
			Expiry:           rec.NotAfter,
			CommonName:       sql.NullString{String: cn, Valid: cn != ""},
			Metadata:         types.JSONText(meta),
			DER:              der,
			Source:           rec.Source,
		}
		_, err = db.NamedExec(`
			INSERT OR IGNORE INTO certificates (issuer_canonical, serial_number, subject_canonical, subject_hash, issuer_hash, cert_type, expiry, common_name, metadata, der, source)
			VALUES (:issuer_canonical, :serial_number, :subject_canonical, :subject_hash, :issuer_hash, :cert_type, :expiry, :common_name, :metadata, :der, :source)
		`, row)
		if err != nil {
			slog.Warn("saving cert to DB", "serial", rec.Serial, "error", err)
		}
	}

	// VACUUM INTO produces a clean, compact copy
	if _, err := db.Exec("VACUUM INTO ?", dbPath); err != nil {
		return fmt.Errorf("saving database to %s: %w", dbPath, err)
	}

	slog.Info("database saved", "path", dbPath, "certificates", c.Len())
	return nil
}

// LoadFromSQLite reads a database written by SaveToSQLite into c. Every row
// is parsed again with the strict parser; rows that fail are skipped.
func LoadFromSQLite(c *Catalog, dbPath string) error {
	db, err := openMemDB()
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	// ATTACH the on-disk database and copy data into memory
	if _, err := db.Exec("ATTACH DATABASE ? AS diskdb", dbPath); err != nil {
		return fmt.Errorf("attaching database %s: %w", dbPath, err)
	}
	defer func() {
		if _, detachErr := db.Exec("DETACH DATABASE diskdb"); detachErr != nil {
			slog.Warn("detaching database", "path", dbPath, "error", detachErr)
		}
	}()
	if _, err := db.Exec("INSERT OR IGNORE INTO certificates SELECT * FROM diskdb.certificates"); err != nil {
		return fmt.Errorf("loading certificates from %s: %w", dbPath, err)
	}

	var rows []certRow
	if err := db.Select(&rows, "SELECT * FROM certificates ORDER BY rowid"); err != nil {
		return fmt.Errorf("reading certificates: %w", err)
	}
	for _, row := range rows {
		cert, err := x509.ParseCertificate(row.DER)
		if err != nil {
			slog.Debug("skipping certificate with invalid DER", "serial", row.SerialNumber, "error", err)
			continue
		}
		rec, err := c.addRecord(cert, row.Source)
		if err != nil {
			slog.Warn("loading cert from DB", "serial", row.SerialNumber, "error", err)
			continue
		}
		if rec != nil && hashHex(rec.SubjectHash) != row.SubjectHash {
			slog.Warn("stored subject hash differs from recomputed hash",
				"serial", row.SerialNumber, "stored", row.SubjectHash, "computed", hashHex(rec.SubjectHash))
		}
	}

	slog.Info("loaded database into catalog", "path", dbPath, "certificates", len(rows))
	return nil
}
