// Package certs generates the self-signed X.509 certificate and key that servers
// use for TLS when certificate_file and key_file are configured.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

const (
	CertificateFilename = "certificate.pem"
	PrivateKeyFilename  = "key.pem"

	validFor = 10 * 365 * 24 * time.Hour
)

// Generate returns a PEM encoded certificate valid for hosts (IP addresses or
// DNS names) along with its PEM encoded private key.
func Generate(hosts []string) (certPEM, keyPEM []byte, err error) {
	template, err := createX509Template(hosts)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating X.509 template: %w", err)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating RSA key: %w", err)
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM, nil
}

// WriteFiles generates a certificate for hosts and writes it and its key to
// certFile and keyFile. The key is only readable by the owner.
func WriteFiles(hosts []string, certFile, keyFile string) error {
	certPEM, keyPEM, err := Generate(hosts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		return fmt.Errorf("error writing certificate %s: %w", certFile, err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		return fmt.Errorf("error writing private key %s: %w", keyFile, err)
	}
	return nil
}

func createX509Template(hosts []string) (*x509.Certificate, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("at least one host is required")
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Realm Server"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(validFor),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}
	return template, nil
}
