// Package pinning builds TLS configurations that only trust a server whose
// leaf certificate matches a pinned DER certificate on disk.
package pinning

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoCertificate means the pinned certificate could not be loaded.
	ErrNoCertificate = errors.New("pinned certificate unavailable")

	// ErrPinMismatch means the server presented a certificate other than the pinned one.
	ErrPinMismatch = errors.New("server certificate does not match pin")
)

// Mode selects what part of the certificate is compared.
type Mode int

const (
	// PublicKey compares the subject public key info, so the pin survives
	// certificate renewal with the same key.
	PublicKey Mode = iota
	// Certificate compares the whole DER certificate.
	Certificate
)

// ParseMode parses "public_key" or "certificate".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "public_key":
		return PublicKey, nil
	case "certificate":
		return Certificate, nil
	default:
		return 0, fmt.Errorf("unknown pin mode %q", s)
	}
}

// Validator pins connections to the certificate at Path. The file is read on
// every TLSConfig call, so a missing file fails the connection attempt rather
// than construction.
type Validator struct {
	Path string
	Mode Mode

	// Roots verifies the chain; nil uses the system pool.
	Roots *x509.CertPool
}

// New creates a Validator.
func New(path string, mode Mode) *Validator {
	return &Validator{Path: path, Mode: mode}
}

// TLSConfig returns a configuration that verifies the chain as usual and then
// requires the leaf to match the pin.
func (v *Validator) TLSConfig() (*tls.Config, error) {
	if v.Path == "" {
		return nil, fmt.Errorf("failed to load certificate: %w: no path configured", ErrNoCertificate)
	}
	der, err := os.ReadFile(v.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w: %v", ErrNoCertificate, err)
	}
	pinned, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate %s: %w: %v", v.Path, ErrNoCertificate, err)
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    v.Roots,
		VerifyConnection: func(cs tls.ConnectionState) error {
			return v.verify(pinned, cs.PeerCertificates)
		},
	}, nil
}

func (v *Validator) verify(pinned *x509.Certificate, peers []*x509.Certificate) error {
	if len(peers) == 0 {
		return fmt.Errorf("%w: no peer certificate", ErrPinMismatch)
	}
	leaf := peers[0]

	var ok bool
	switch v.Mode {
	case Certificate:
		ok = bytes.Equal(leaf.Raw, pinned.Raw)
	default:
		ok = bytes.Equal(leaf.RawSubjectPublicKeyInfo, pinned.RawSubjectPublicKeyInfo)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrPinMismatch, leaf.Subject)
	}
	return nil
}
