package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/internal"
)

var (
	verifyIssuer   string
	verifyChain    bool
	verifyRoots    string
	verifyExpiry   string
	verifyMaxDepth int
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Verify a certificate signature, chain or expiry",
	Long: "Verify a certificate against an explicit issuer, build its chain to a trust anchor, " +
		"or check whether it expires within a given duration. The first certificate in the file " +
		"is verified; the others are used as intermediates.",
	Example: `  derkit verify leaf.pem --issuer ca.pem
  derkit verify fullchain.pem --chain
  derkit verify leaf.pem --chain --roots private-ca.pem --expiry 30d`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: fileCompletion,
	RunE:              runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyIssuer, "issuer", "", "Issuer certificate file to check the signature against")
	verifyCmd.Flags().BoolVar(&verifyChain, "chain", false, "Build and verify the chain to a trust anchor")
	verifyCmd.Flags().StringVar(&verifyRoots, "roots", "", "Trust anchor file (default: embedded Mozilla roots)")
	verifyCmd.Flags().StringVarP(&verifyExpiry, "expiry", "e", "", "Check if cert expires within duration (e.g., 30d, 720h)")
	verifyCmd.Flags().IntVar(&verifyMaxDepth, "max-depth", 0, "Maximum chain length (default from config)")

	registerCompletion(verifyCmd, completionInput{"issuer", fileCompletion})
	registerCompletion(verifyCmd, completionInput{"roots", fileCompletion})
}

// parseDuration extends time.ParseDuration to support a "d" suffix for days.
func parseDuration(s string) (time.Duration, error) {
	if trimmed, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q: %w", s, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func runVerify(_ *cobra.Command, args []string) error {
	var expiry time.Duration
	if verifyExpiry != "" {
		var err error
		if expiry, err = parseDuration(verifyExpiry); err != nil {
			return fmt.Errorf("invalid --expiry value: %w", err)
		}
	}

	certs, err := loadCertificates(args[0])
	if err != nil {
		return err
	}
	input := &internal.VerifyInput{
		Cert:           certs[0],
		Intermediates:  certs[1:],
		CheckChain:     verifyChain,
		MaxDepth:       cfg.MaxChainDepth,
		ExpiryDuration: expiry,
		WarningWindow:  cfg.ExpiryWindow,
		Registry:       registry,
	}
	if verifyMaxDepth > 0 {
		input.MaxDepth = verifyMaxDepth
	}
	if verifyIssuer != "" {
		issuers, err := loadCertificates(verifyIssuer)
		if err != nil {
			return err
		}
		input.Issuer = issuers[0]
	}
	if verifyRoots != "" {
		roots, err := loadCertificates(verifyRoots)
		if err != nil {
			return err
		}
		input.Roots = derkit.NewPool(roots...)
	}

	result, err := internal.VerifyCert(input)
	if err != nil {
		return err
	}
	output, err := internal.FormatVerifyResult(result, outputFormat)
	if err != nil {
		return err
	}
	fmt.Print(output)

	if len(result.Errors) > 0 {
		return errors.New("verification failed")
	}
	return nil
}
