package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/derkit/internal"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Display certificate information",
	Long: "Show detailed information about the certificates in a PEM, DER, PKCS#7, PKCS#12 or JKS file " +
		"(similar to openssl x509 -text). BER-encoded certificates are normalized first.",
	Example: `  derkit inspect cert.pem
  derkit inspect truststore.jks -p changeit
  derkit inspect cert.der --format json`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: fileCompletion,
	RunE:              runInspect,
}

func runInspect(_ *cobra.Command, args []string) error {
	results, err := internal.InspectFile(args[0], passwords, registry)
	if err != nil {
		return err
	}
	output, err := internal.FormatInspectResults(results, outputFormat)
	if err != nil {
		return err
	}
	fmt.Print(output)
	return nil
}
