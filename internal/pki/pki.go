package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// Authority owns the panel's CA material. Nodes enroll with certificates
// issued from this CA; the registry only trusts fingerprints it can tie back
// to a certificate chaining here.
type Authority struct {
	Dir string
}

// NewAuthority returns an authority rooted at dir.
func NewAuthority(dir string) *Authority {
	return &Authority{Dir: dir}
}

func (a *Authority) certPath() string { return filepath.Join(a.Dir, "ca.crt") }
func (a *Authority) keyPath() string  { return filepath.Join(a.Dir, "ca.key") }

// EnsureCA generates a self-signed CA certificate and key if none exist yet.
func (a *Authority) EnsureCA() error {
	if _, err := os.Stat(a.certPath()); err == nil {
		if _, err := os.Stat(a.keyPath()); err == nil {
			return nil
		}
	}

	if err := os.MkdirAll(a.Dir, 0o700); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate ca key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"tunnelctl"},
			CommonName:   "tunnelctl CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(3650 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("create ca certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(a.certPath(), certPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(a.keyPath(), keyPEM, 0o600)
}

// CACertPEM returns the CA certificate in PEM form, as served by
// GET /panel/ca.
func (a *Authority) CACertPEM() ([]byte, error) {
	return os.ReadFile(a.certPath())
}

// IssueNodeCert mints a client certificate for a node and returns
// (certPEM, keyPEM). Enrollment distribution is out of band; this exists so
// operators can hand nodes their identity.
func (a *Authority) IssueNodeCert(name string) ([]byte, []byte, error) {
	caCert, caKey, err := a.loadCA()
	if err != nil {
		return nil, nil, err
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(825 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, caCert, &priv.PublicKey, caKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// VerifyNodeCert checks that certPEM parses, chains to this CA, and that its
// fingerprint equals claimed. Returns the canonical fingerprint.
func (a *Authority) VerifyNodeCert(certPEM []byte, claimed string) (string, error) {
	cert, err := ParseCertPEM(certPEM)
	if err != nil {
		return "", err
	}

	fp := Fingerprint(cert.Raw)
	if claimed != "" && claimed != fp {
		return "", fmt.Errorf("fingerprint mismatch: claimed %s, certificate is %s", claimed, fp)
	}

	caPEM, err := a.CACertPEM()
	if err != nil {
		return "", fmt.Errorf("load ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return "", fmt.Errorf("invalid ca certificate")
	}
	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageAny},
	}); err != nil {
		return "", fmt.Errorf("certificate not issued by panel ca: %w", err)
	}

	return fp, nil
}

// ParseCertPEM decodes a single PEM certificate.
func ParseCertPEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

// Fingerprint returns the lowercase hex SHA-256 of the certificate DER.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

func (a *Authority) loadCA() (*x509.Certificate, *rsa.PrivateKey, error) {
	certPEM, err := a.CACertPEM()
	if err != nil {
		return nil, nil, fmt.Errorf("load ca cert: %w", err)
	}
	cert, err := ParseCertPEM(certPEM)
	if err != nil {
		return nil, nil, err
	}

	keyPEM, err := os.ReadFile(a.keyPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load ca key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("no key PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("ca key is not RSA")
	}
	return cert, rsaKey, nil
}
