package internal

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sensiblebit/derkit"
)

// LoadPasswordsFromFile loads passwords from a file, one password per line.
// Blank lines are skipped.
func LoadPasswordsFromFile(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var passwords []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
			passwords = append(passwords, pwd)
		}
	}
	return passwords, scanner.Err()
}

// ProcessPasswords returns the passwords to try on containers: the defaults,
// then the command line list, the config file list and the password file,
// without duplicates.
func ProcessPasswords(passwordList []string, passwordFile string, cfg *Config) ([]string, error) {
	extra := append([]string(nil), passwordList...)
	if cfg != nil {
		extra = append(extra, cfg.Passwords...)
	}
	if passwordFile != "" {
		filePasswords, err := LoadPasswordsFromFile(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("loading passwords from file: %w", err)
		}
		extra = append(extra, filePasswords...)
	}
	return derkit.DeduplicatePasswords(extra), nil
}
