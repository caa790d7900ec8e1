package main

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	// WHY: --expiry accepts day counts that time.ParseDuration does not.
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"12h", 12 * time.Hour, false},
		{"1h30m", 90 * time.Minute, false},
		{"xd", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := parseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeCertificates_UnknownFormat(t *testing.T) {
	// WHY: An unsupported --to value must fail before anything is written.
	t.Parallel()
	if _, err := encodeCertificates(nil, "pfx", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}
