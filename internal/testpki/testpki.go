// Package testpki builds throwaway certificate hierarchies and PKCS#12
// stores for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// KeyProfile is the key algorithm and size used for every certificate of
// a TestPKI.
type KeyProfile string

const (
	RSA_2048   KeyProfile = "RSA_2048"
	RSA_3072   KeyProfile = "RSA_3072"
	RSA_4096   KeyProfile = "RSA_4096"
	ECDSA_P256 KeyProfile = "ECDSA_P256"
	ECDSA_P384 KeyProfile = "ECDSA_P384"
	ECDSA_P521 KeyProfile = "ECDSA_P521"
)

const organization = "Batch Signer Test Org"

type TestPKIConfig struct {
	Profile         KeyProfile
	IntermediateCAs int
}

// TestPKI is a root CA with a line of intermediates, each issued by the
// previous one.
type TestPKI struct {
	T                 testing.TB
	Profile           KeyProfile
	RootKey           crypto.Signer
	RootCert          *x509.Certificate
	IntermediateKeys  []crypto.Signer
	IntermediateCerts []*x509.Certificate
}

// NewTestPKI creates an ECDSA P-256 root with one intermediate.
func NewTestPKI(t testing.TB) *TestPKI {
	return NewTestPKIWithConfig(t, TestPKIConfig{Profile: ECDSA_P256, IntermediateCAs: 1})
}

func NewTestPKIWithConfig(t testing.TB, config TestPKIConfig) *TestPKI {
	t.Helper()
	p := &TestPKI{T: t, Profile: config.Profile}

	p.RootKey = GenerateKey(t, config.Profile)
	root := caTemplate(1, "Batch Signer Test Root CA", []byte{1, 2, 3, 4})
	p.RootCert = p.certify(root, root, p.RootKey.Public(), p.RootKey)

	for i := 0; i < config.IntermediateCAs; i++ {
		parentCert, parentKey := p.issuer()
		key := GenerateKey(t, config.Profile)
		tmpl := caTemplate(int64(i+2), fmt.Sprintf("Batch Signer Test Intermediate CA %d", i+1), []byte{5, 6, 7, 8, byte(i)})
		tmpl.AuthorityKeyId = parentCert.SubjectKeyId

		p.IntermediateKeys = append(p.IntermediateKeys, key)
		p.IntermediateCerts = append(p.IntermediateCerts, p.certify(tmpl, parentCert, key.Public(), parentKey))
	}
	return p
}

func caTemplate(serial int64, commonName string, skid []byte) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{organization}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          skid,
	}
}

// issuer returns the last intermediate, or the root when there are none.
func (p *TestPKI) issuer() (*x509.Certificate, crypto.Signer) {
	if n := len(p.IntermediateCerts); n > 0 {
		return p.IntermediateCerts[n-1], p.IntermediateKeys[n-1]
	}
	return p.RootCert, p.RootKey
}

func (p *TestPKI) certify(tmpl, parent *x509.Certificate, pub crypto.PublicKey, parentKey crypto.Signer) *x509.Certificate {
	p.T.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, parentKey)
	if err != nil {
		p.T.Fatalf("failed to create certificate %q: %v", tmpl.Subject.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		p.T.Fatalf("failed to parse certificate %q: %v", tmpl.Subject.CommonName, err)
	}
	return cert
}

// IssueLeaf issues a document signing certificate from the last
// intermediate, or from the root when there are none.
func (p *TestPKI) IssueLeaf(commonName string, emails ...string) (crypto.Signer, *x509.Certificate) {
	p.T.Helper()
	key := GenerateKey(p.T, p.Profile)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		p.T.Fatalf("failed to generate serial: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:   serial,
		Subject:        pkix.Name{CommonName: commonName, Organization: []string{organization}},
		EmailAddresses: emails,
		NotBefore:      time.Now().Add(-time.Hour),
		NotAfter:       time.Now().Add(time.Hour),
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}

	parentCert, parentKey := p.issuer()
	return key, p.certify(tmpl, parentCert, key.Public(), parentKey)
}

// Chain returns the issuers of a leaf, nearest first, ending with the root.
func (p *TestPKI) Chain() []*x509.Certificate {
	chain := make([]*x509.Certificate, 0, len(p.IntermediateCerts)+1)
	for i := len(p.IntermediateCerts) - 1; i >= 0; i-- {
		chain = append(chain, p.IntermediateCerts[i])
	}
	return append(chain, p.RootCert)
}

// PKCS12 encodes key, leaf and chain into a password protected store.
// The chain is written in the order given.
func (p *TestPKI) PKCS12(key crypto.Signer, leaf *x509.Certificate, chain []*x509.Certificate, password string) []byte {
	p.T.Helper()
	pfx, err := pkcs12.Modern.Encode(key, leaf, chain, password)
	if err != nil {
		p.T.Fatalf("failed to encode PKCS#12: %v", err)
	}
	return pfx
}

// WritePKCS12 issues a leaf for commonName and writes it with the full
// chain to signer.p12 in a temporary directory.
func (p *TestPKI) WritePKCS12(commonName, password string) (string, crypto.Signer, *x509.Certificate) {
	p.T.Helper()
	key, leaf := p.IssueLeaf(commonName)

	path := filepath.Join(p.T.TempDir(), "signer.p12")
	if err := os.WriteFile(path, p.PKCS12(key, leaf, p.Chain(), password), 0o600); err != nil {
		p.T.Fatalf("failed to write PKCS#12: %v", err)
	}
	return path, key, leaf
}

// Pool returns the root as a trust pool for chain verification.
func (p *TestPKI) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.RootCert)
	return pool
}

var rsaBits = map[KeyProfile]int{RSA_2048: 2048, RSA_3072: 3072, RSA_4096: 4096}

var curves = map[KeyProfile]func() elliptic.Curve{
	ECDSA_P256: elliptic.P256,
	ECDSA_P384: elliptic.P384,
	ECDSA_P521: elliptic.P521,
}

// GenerateKey creates a private key for profile.
func GenerateKey(t testing.TB, profile KeyProfile) crypto.Signer {
	t.Helper()
	var (
		key crypto.Signer
		err error
	)
	if bits, ok := rsaBits[profile]; ok {
		key, err = rsa.GenerateKey(rand.Reader, bits)
	} else if curve, ok := curves[profile]; ok {
		key, err = ecdsa.GenerateKey(curve(), rand.Reader)
	} else {
		t.Fatalf("unknown key profile: %s", profile)
	}
	if err != nil {
		t.Fatalf("failed to generate %s key: %v", profile, err)
	}
	return key
}
