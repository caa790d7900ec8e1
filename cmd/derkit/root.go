package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/derkit"
	"github.com/sensiblebit/derkit/internal"
	"github.com/sensiblebit/derkit/oid"
	"github.com/sensiblebit/derkit/x509"
)

var (
	logLevel     string
	logJSON      bool
	configPath   string
	passwordList []string
	passwordFile string
	outputFormat string

	cfg       *internal.Config
	registry  *oid.Registry
	passwords []string
)

var rootCmd = &cobra.Command{
	Use:   "derkit",
	Short: "Strict DER and X.509 toolkit",
	Long: "Inspect, dump, normalize and verify X.509 certificates with a strict DER parser, " +
		"compare names in canonical form and catalog certificates found on disk.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON lines")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to derkit YAML config")
	rootCmd.PersistentFlags().StringSliceVarP(&passwordList, "passwords", "p", nil, "Comma-separated passwords for PKCS#12 and JKS files")
	rootCmd.PersistentFlags().StringVar(&passwordFile, "password-file", "", "File containing passwords, one per line")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", internal.FormatText, "Output format: text, json or yaml")

	registerCompletion(rootCmd, completionInput{"log-level", fixedCompletion("debug", "info", "warn", "error")})
	registerCompletion(rootCmd, completionInput{"format", fixedCompletion(internal.FormatText, internal.FormatJSON, internal.FormatYAML)})
	registerCompletion(rootCmd, completionInput{"config", fileCompletion})
	registerCompletion(rootCmd, completionInput{"password-file", fileCompletion})

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(canonCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(sshCmd)
	rootCmd.AddCommand(scanCmd)
}

// setup runs before every command: logging, config, OID names and
// passwords, in that order.
func setup(cmd *cobra.Command, _ []string) error {
	internal.SetupLogger(logLevel, logJSON)

	cfg = internal.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = internal.LoadConfig(configPath); err != nil {
			return err
		}
	}
	if !cmd.Flags().Changed("format") && cfg.Output != "" {
		outputFormat = cfg.Output
	}

	var err error
	if registry, err = cfg.Registry(); err != nil {
		return err
	}
	if passwords, err = internal.ProcessPasswords(passwordList, passwordFile, cfg); err != nil {
		return fmt.Errorf("loading passwords: %w", err)
	}
	return nil
}

// loadCertificates reads every certificate from a file in any supported
// container format.
func loadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	certs, err := derkit.ParseCertificatesAny(data, passwords)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return certs, nil
}

// readInput reads a file, or standard input when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := readAllStdin()
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func readAllStdin() ([]byte, error) {
	limit := internal.DefaultArchiveLimits().MaxEntrySize
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("input exceeds %d bytes", limit)
	}
	return data, nil
}
