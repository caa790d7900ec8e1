package asn1

import (
	"bytes"
	"testing"
)

func TestBERToDER(t *testing.T) {
	// WHY: Each BER-only construct (indefinite length, constructed strings,
	// non-minimal lengths) has a single DER spelling that must be produced.
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already DER", "30 06 02 01 05 01 01 ff", "30 06 02 01 05 01 01 ff"},
		{"indefinite sequence", "30 80 02 01 05 00 00", "30 03 02 01 05"},
		{"nested indefinite", "30 80 30 80 00 00 00 00", "30 02 30 00"},
		{"non-minimal length", "04 81 03 61 62 63", "04 03 61 62 63"},
		{"constructed octet string", "24 80 04 02 61 62 04 01 63 00 00", "04 03 61 62 63"},
		{"nested constructed octet string", "24 09 24 80 04 01 61 00 00 04 00", "04 01 61"},
		{"constructed bit string", "23 80 03 02 00 ff 03 02 04 f0 00 00", "03 03 04 ff f0"},
		{"empty constructed bit string", "23 80 00 00", "03 01 00"},
		{"constructed utf8", "2c 80 0c 01 61 0c 01 62 00 00", "0c 02 61 62"},
		{"explicit tag with indefinite length", "a0 80 02 01 01 00 00", "a0 03 02 01 01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := BERToDER(mustHex(t, tt.input))
			if err != nil {
				t.Fatal(err)
			}
			if want := mustHex(t, tt.want); !bytes.Equal(got, want) {
				t.Errorf("BERToDER(%s) = %x, want %x", tt.input, got, want)
			}
		})
	}
}

func TestBERToDER_Rejects(t *testing.T) {
	// WHY: Tolerance covers lengths and segmentation only; structural damage
	// must still fail.
	t.Parallel()

	tests := []struct {
		name  string
		input string
		kind  error
	}{
		{"missing end of contents", "30 80 02 01 05", ErrTruncated},
		{"trailing data", "30 00 00", ErrLengthMismatch},
		{"wrong segment type", "24 80 02 01 00 00 00", ErrInvalidTag},
		{"unused bits in middle segment", "23 80 03 02 04 f0 03 02 00 ff 00 00", ErrInvalidBitStringPadding},
		{"indefinite primitive", "04 80 00 00", ErrInvalidLength},
		{"stray end of contents", "30 02 00 00", ErrInvalidTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := BERToDER(mustHex(t, tt.input))
			wantErr(t, err, tt.kind)
		})
	}
}

func TestBERToDER_DepthCap(t *testing.T) {
	// WHY: The converter recurses over constructed elements and shares the
	// decoder's nesting cap.
	t.Parallel()

	der := nested(MaxDepth)
	got, err := BERToDER(der)
	if err != nil {
		t.Fatalf("%d levels: %v", MaxDepth, err)
	}
	if !bytes.Equal(got, der) {
		t.Error("DER input was modified")
	}
	_, err = BERToDER(nested(MaxDepth + 1))
	wantErr(t, err, ErrNestedTooDeep)
}
