// Package tlsutil provides the TLS bootstrap a demo HTTP/3 endpoint needs:
// loading a configured certificate, or generating a self-signed one for
// local development, per SPEC_FULL §12.
package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// NextProtos is the ALPN protocol list an HTTP/3 listener advertises.
var NextProtos = []string{"h3"}

// Config builds a *tls.Config for an h3core listener. If certFile and
// keyFile are both set, the certificate is loaded from disk; otherwise a
// self-signed certificate is generated for development, matching the
// teacher's auto-TLS fallback.
func Config(certFile, keyFile string) (*tls.Config, error) {
	var cert tls.Certificate
	var err error

	if certFile != "" && keyFile != "" {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsutil: load certificate: %w", err)
		}
	} else {
		certPEM, keyPEM, genErr := GenerateSelfSigned()
		if genErr != nil {
			return nil, fmt.Errorf("tlsutil: generate self-signed cert: %w", genErr)
		}
		cert, err = tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("tlsutil: parse self-signed cert: %w", err)
		}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   NextProtos,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// GenerateSelfSigned returns a freshly generated, PEM-encoded certificate
// and private key valid for localhost, for development use when no
// cert/key pair is configured. The teacher's own server.go calls a
// generateSelfSignedCert helper that was never defined anywhere in that
// repository; this fills that gap the way the rest of the example pack's
// QUIC servers do it.
func GenerateSelfSigned() (certPEM, keyPEM []byte, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("tlsutil: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("tlsutil: generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"h3core"},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:        true,
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("tlsutil: create certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return certPEM, keyPEM, nil
}
