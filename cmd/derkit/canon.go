package main

import (
	"encoding/pem"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/internal"
)

var canonName bool

var canonCmd = &cobra.Command{
	Use:   "canon <file>",
	Short: "Show canonical names and name hashes",
	Long: "Print the subject and issuer of each certificate in display, DER and canonical form, " +
		"together with the name hash used by c_rehash certificate directories. " +
		"With --name the file holds a bare DER (or PEM) Name instead.",
	Example: `  derkit canon cert.pem
  derkit canon subject.der --name`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: fileCompletion,
	RunE:              runCanon,
}

func init() {
	canonCmd.Flags().BoolVar(&canonName, "name", false, "Treat the input as a DER-encoded Name")
}

func runCanon(_ *cobra.Command, args []string) error {
	var results []internal.CanonResult
	if canonName {
		data, err := readInput(args[0])
		if err != nil {
			return err
		}
		if derkit.IsPEM(data) {
			block, _ := pem.Decode(data)
			if block == nil {
				return fmt.Errorf("no PEM block found in %s", args[0])
			}
			data = block.Bytes
		}
		r, err := internal.CanonNameDER(data, registry)
		if err != nil {
			return err
		}
		results = append(results, r)
	} else {
		certs, err := loadCertificates(args[0])
		if err != nil {
			return err
		}
		for _, cert := range certs {
			rs, err := internal.CanonCertificate(cert, registry)
			if err != nil {
				return err
			}
			results = append(results, rs...)
		}
	}

	output, err := internal.FormatCanonResults(results, outputFormat)
	if err != nil {
		return err
	}
	fmt.Print(output)
	return nil
}
