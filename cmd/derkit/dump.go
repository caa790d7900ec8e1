package main

import (
	"encoding/pem"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/asn1"
	"github.com/sensiblebit/derkit/internal"
)

var dumpBER bool

var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print the DER element tree of a file",
	Long: "Decode a DER file without a schema and print every element with its offset, " +
		"header length and content length (similar to openssl asn1parse -i). " +
		"PEM input is dumped block by block.",
	Example: `  derkit dump cert.der
  derkit dump cert.pem --format yaml
  derkit dump legacy.ber --ber`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: fileCompletion,
	RunE:              runDump,
}

func init() {
	dumpCmd.Flags().BoolVar(&dumpBER, "ber", false, "Convert BER input to DER before dumping")
}

func runDump(_ *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}

	blocks := [][]byte{data}
	if derkit.IsPEM(data) {
		blocks = nil
		for rest := data; ; {
			var block *pem.Block
			if block, rest = pem.Decode(rest); block == nil {
				break
			}
			blocks = append(blocks, block.Bytes)
		}
		if len(blocks) == 0 {
			return fmt.Errorf("no PEM blocks found in %s", args[0])
		}
	}

	for _, der := range blocks {
		if dumpBER {
			if der, err = asn1.BERToDER(der); err != nil {
				return fmt.Errorf("converting BER: %w", err)
			}
		}
		nodes, err := internal.Dump(der, registry)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", args[0], err)
		}
		output, err := internal.FormatDump(nodes, outputFormat)
		if err != nil {
			return err
		}
		fmt.Print(output)
	}
	return nil
}
