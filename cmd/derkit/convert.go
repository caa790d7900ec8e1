package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/x509"
)

var (
	convertTo            string
	convertOut           string
	convertStorePassword string
)

var convertFormats = []string{"pem", "der", "p7b", "jks", "p12"}

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert certificates between container formats",
	Long: "Read certificates from any supported container and write them as PEM, DER (first certificate only), " +
		"PKCS#7, a JKS trust store or a PKCS#12 trust store. Certificates are re-encoded from the strict parse.",
	Example: `  derkit convert chain.p7b --to pem --out chain.pem
  derkit convert chain.pem --to jks --out truststore.jks --store-password changeit`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: fileCompletion,
	RunE:              runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertTo, "to", "t", "pem", "Output format: "+strings.Join(convertFormats, ", "))
	convertCmd.Flags().StringVar(&convertOut, "out", "", "Output file (required for binary formats)")
	convertCmd.Flags().StringVar(&convertStorePassword, "store-password", "changeit", "Password for JKS and PKCS#12 output")
	registerCompletion(convertCmd, completionInput{"to", fixedCompletion(convertFormats...)})
	registerCompletion(convertCmd, completionInput{"out", fileCompletion})
}

func runConvert(_ *cobra.Command, args []string) error {
	certs, err := loadCertificates(args[0])
	if err != nil {
		return err
	}
	data, err := encodeCertificates(certs, convertTo, convertStorePassword)
	if err != nil {
		return err
	}
	if convertOut == "" {
		if convertTo != "pem" && isTerminal(os.Stdout) {
			return fmt.Errorf("refusing to write %s to a terminal, use --out", convertTo)
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	mode := os.FileMode(0644)
	if convertTo == "jks" || convertTo == "p12" {
		mode = 0600
	}
	if err := os.WriteFile(convertOut, data, mode); err != nil {
		return fmt.Errorf("writing %s: %w", convertOut, err)
	}
	return nil
}

func encodeCertificates(certs []*x509.Certificate, format, password string) ([]byte, error) {
	switch format {
	case "pem":
		var sb strings.Builder
		for _, cert := range certs {
			p, err := derkit.CertToPEM(cert)
			if err != nil {
				return nil, err
			}
			sb.WriteString(p)
		}
		return []byte(sb.String()), nil
	case "der":
		return certs[0].Marshal()
	case "p7b":
		return derkit.EncodePKCS7(certs)
	case "jks":
		return derkit.EncodeJKS(certs, password)
	case "p12":
		return derkit.EncodePKCS12TrustStore(certs, password)
	}
	return nil, fmt.Errorf("unsupported output format %q (use %s)", format, strings.Join(convertFormats, ", "))
}
