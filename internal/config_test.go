package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sensiblebit/derkit/asn1"
)

func TestLoadConfig(t *testing.T) {
	// WHY: Fields present in the file override the defaults and the rest
	// keep them; the extra OIDs reach the display registry.
	t.Parallel()
	path := filepath.Join(t.TempDir(), "derkit.yaml")
	content := `
output: yaml
expiry_window: 168h
passwords: ["s3cret"]
oids:
  - name: msCertificateTemplate
    oid: 1.3.6.1.4.1.311.21.7
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output != FormatYAML || cfg.ExpiryWindow != 7*24*time.Hour || cfg.MaxChainDepth != 10 {
		t.Errorf("config = %+v", cfg)
	}
	if diff := cmp.Diff([]string{"s3cret"}, cfg.Passwords); diff != "" {
		t.Errorf("passwords mismatch (-want +got):\n%s", diff)
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if got := reg.Label(asn1.MustOID("1.3.6.1.4.1.311.21.7")); got != "msCertificateTemplate" {
		t.Errorf("Label = %q", got)
	}
	if got := reg.Label(asn1.MustOID("2.5.4.3")); got != "CN" {
		t.Errorf("default entry lost: Label = %q", got)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	// WHY: Typos in the config file must fail loudly instead of silently
	// falling back to defaults.
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown field", "outptu: json\n", "parsing config"},
		{"bad format", "output: xml\n", "config output"},
		{"negative window", "expiry_window: -1h\n", "negative"},
		{"zero depth", "max_chain_depth: 0\n", "at least 1"},
		{"bad OID", "oids:\n  - name: x\n    oid: 1.x\n", "config OID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseConfig(strings.NewReader(tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseConfig_Empty(t *testing.T) {
	// WHY: An empty file is valid and yields the defaults.
	t.Parallel()
	cfg, err := ParseConfig(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}
