package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/derkit"
)

var sshCmd = &cobra.Command{
	Use:   "ssh <file>",
	Short: "Print certificate keys in OpenSSH format",
	Long: "Print the public key of each certificate as an authorized_keys line, followed by " +
		"its OpenSSH SHA-256 fingerprint.",
	Example:           `  derkit ssh cert.pem >> ~/.ssh/authorized_keys`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: fileCompletion,
	RunE:              runSSH,
}

func runSSH(_ *cobra.Command, args []string) error {
	certs, err := loadCertificates(args[0])
	if err != nil {
		return err
	}
	for _, cert := range certs {
		line, err := derkit.MarshalAuthorizedKey(cert.PublicKey())
		if err != nil {
			return fmt.Errorf("%s: %w", cert.Subject().String(registry), err)
		}
		fp, err := derkit.SSHFingerprint(cert.PublicKey())
		if err != nil {
			return err
		}
		if cn := cert.Subject().CommonName(); cn != "" {
			line += " " + cn
		}
		fmt.Println(line)
		fmt.Fprintf(os.Stderr, "%s %s\n", fp, cert.Subject().String(registry))
	}
	return nil
}
