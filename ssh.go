package derkit

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/sensiblebit/derkit/x509"
)

func sshPublicKey(spki *x509.SubjectPublicKeyInfo) (ssh.PublicKey, error) {
	pub := spki.PublicKey()
	if pub == nil {
		return nil, fmt.Errorf("unsupported public key algorithm %s", spki.Algorithm.Algorithm)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("converting public key to SSH: %w", err)
	}
	return key, nil
}

// SSHFingerprint returns the OpenSSH SHA-256 fingerprint of the key, such
// as SHA256:uNiVztksCsDhcc0u9e8BujQXVUpKZIDTMczCvj3tD2s.
func SSHFingerprint(spki *x509.SubjectPublicKeyInfo) (string, error) {
	key, err := sshPublicKey(spki)
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(key), nil
}

// MarshalAuthorizedKey formats the key as an authorized_keys line without
// the trailing newline.
func MarshalAuthorizedKey(spki *x509.SubjectPublicKeyInfo) (string, error) {
	key, err := sshPublicKey(spki)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(ssh.MarshalAuthorizedKey(key), []byte("\n"))), nil
}

// SPKIFromAuthorizedKey parses one authorized_keys line and returns its key
// as a SubjectPublicKeyInfo. SSH certificates are not supported.
func SPKIFromAuthorizedKey(line []byte) (*x509.SubjectPublicKeyInfo, error) {
	key, comment, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return nil, fmt.Errorf("parsing authorized key: %w", err)
	}
	ck, ok := key.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("SSH key type %s has no X.509 form", key.Type())
	}
	pub := ck.CryptoPublicKey()
	if pub == nil {
		return nil, errors.New("SSH key has no public key")
	}
	spki, err := x509.SubjectPublicKeyInfoFromKey(pub)
	if err != nil {
		return nil, fmt.Errorf("converting %s key %q: %w", key.Type(), comment, err)
	}
	return spki, nil
}
