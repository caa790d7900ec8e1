package main

import (
	"bytes"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/asn1"
)

var (
	normalizeOut string
	normalizePEM bool
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <file>",
	Short: "Convert BER to DER",
	Long: "Re-encode a BER file as DER: definite minimal lengths, primitive string encodings " +
		"and sorted SET OF elements. PEM input is converted block by block. Binary output " +
		"to a terminal is shown as a hex dump.",
	Example: `  derkit normalize legacy.ber --out cert.der
  derkit normalize legacy.pem --pem > cert.pem`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: fileCompletion,
	RunE:              runNormalize,
}

func init() {
	normalizeCmd.Flags().StringVar(&normalizeOut, "out", "", "Output file (default: stdout)")
	normalizeCmd.Flags().BoolVar(&normalizePEM, "pem", false, "Write PEM instead of DER")
	registerCompletion(normalizeCmd, completionInput{"out", fileCompletion})
}

func runNormalize(_ *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}

	blocks := []*pem.Block{{Type: "CERTIFICATE", Bytes: data}}
	if derkit.IsPEM(data) {
		blocks = nil
		for rest := data; ; {
			var block *pem.Block
			if block, rest = pem.Decode(rest); block == nil {
				break
			}
			blocks = append(blocks, block)
		}
		if len(blocks) == 0 {
			return fmt.Errorf("no PEM blocks found in %s", args[0])
		}
	}

	var out bytes.Buffer
	for i, block := range blocks {
		der, err := asn1.BERToDER(block.Bytes)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		if !bytes.Equal(der, block.Bytes) {
			slog.Info("normalized BER encoding", "block", i, "type", block.Type, "before", len(block.Bytes), "after", len(der))
		}
		if normalizePEM {
			if err := pem.Encode(&out, &pem.Block{Type: block.Type, Bytes: der}); err != nil {
				return err
			}
		} else {
			out.Write(der)
		}
	}

	if normalizeOut != "" {
		if err := os.WriteFile(normalizeOut, out.Bytes(), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", normalizeOut, err)
		}
		return nil
	}
	if !normalizePEM && isTerminal(os.Stdout) {
		fmt.Print(hex.Dump(out.Bytes()))
		return nil
	}
	_, err = os.Stdout.Write(out.Bytes())
	return err
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
