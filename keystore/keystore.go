// Package keystore loads the signing credential from a PKCS#12 store.
//
// A store holds at most one private key. The certificate whose public key
// matches it is the leaf; the remaining certificates are ordered by issuer
// linkage starting from the leaf, and certificates that do not link are
// appended in store order.
package keystore

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"sync"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var (
	// ErrCredentialStoreUnreadable is returned when the store cannot be read
	// or decoded, including when the password is wrong.
	ErrCredentialStoreUnreadable = errors.New("credential store unreadable")
	// ErrNoUsableEntry is returned when the store holds no key with a
	// matching certificate.
	ErrNoUsableEntry = errors.New("no usable key entry in credential store")
	// ErrCredentialClosed is returned by the signer after Close.
	ErrCredentialClosed = errors.New("credential closed")
)

// Credential is a private key with its certificate chain. It is immutable
// after Load and safe for concurrent use.
type Credential struct {
	// Signer produces signatures with the private key.
	Signer crypto.Signer
	// Certificate is the leaf certificate matching the key.
	Certificate *x509.Certificate
	// Chain holds the leaf followed by its issuers, nearest first.
	Chain []*x509.Certificate
	// Algorithm is the signature algorithm the certificate was issued for.
	Algorithm x509.SignatureAlgorithm

	key *closableSigner
}

// Option configures Load.
type Option func(*options)

type options struct {
	alias string
}

// WithAlias requires the leaf certificate subject CN, an email address
// SAN or the PKCS#12 friendly name to equal alias.
func WithAlias(alias string) Option {
	return func(o *options) {
		o.alias = alias
	}
}

// Load reads a PKCS#12 store from path.
func Load(path, password string, opts ...Option) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialStoreUnreadable, err)
	}
	return LoadBytes(data, password, opts...)
}

// LoadBytes decodes a PKCS#12 store held in memory.
func LoadBytes(data []byte, password string, opts ...Option) (*Credential, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	priv, first, rest, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		if isMissingEntry(err) {
			return nil, fmt.Errorf("%w: %v", ErrNoUsableEntry, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialStoreUnreadable, err)
	}

	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported private key type %T", ErrNoUsableEntry, priv)
	}

	certs := append([]*x509.Certificate{first}, rest...)
	leafIndex := -1
	for i, cert := range certs {
		if SameKey(signer.Public(), cert.PublicKey) {
			leafIndex = i
			break
		}
	}
	if leafIndex < 0 {
		return nil, fmt.Errorf("%w: no certificate matches the private key", ErrNoUsableEntry)
	}
	leaf := certs[leafIndex]

	if o.alias != "" && !matchesAlias(leaf, o.alias, friendlyNames(data, password)) {
		return nil, fmt.Errorf("%w: certificate %q does not match alias %q", ErrNoUsableEntry, leaf.Subject.CommonName, o.alias)
	}

	others := make([]*x509.Certificate, 0, len(certs)-1)
	for i, cert := range certs {
		if i != leafIndex {
			others = append(others, cert)
		}
	}

	key := &closableSigner{signer: signer}
	return &Credential{
		Signer:      key,
		Certificate: leaf,
		Chain:       orderChain(leaf, others),
		Algorithm:   leaf.SignatureAlgorithm,
		key:         key,
	}, nil
}

// Issuers returns the chain without the leaf.
func (c *Credential) Issuers() []*x509.Certificate {
	if len(c.Chain) < 2 {
		return nil
	}
	return c.Chain[1:]
}

// Close zeroes the private key material. The signer refuses to sign
// afterwards.
func (c *Credential) Close() error {
	if c == nil || c.key == nil {
		return nil
	}
	c.key.close()
	return nil
}

func isMissingEntry(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "private key missing") || strings.Contains(msg, "certificate missing")
}

// orderChain walks issuer links from leaf. Certificates that are not
// reached are appended in the order given.
func orderChain(leaf *x509.Certificate, others []*x509.Certificate) []*x509.Certificate {
	chain := []*x509.Certificate{leaf}
	used := make([]bool, len(others))
	current := leaf
	for {
		if bytes.Equal(current.RawIssuer, current.RawSubject) {
			break
		}
		next := -1
		for i, cert := range others {
			if !used[i] && bytes.Equal(cert.RawSubject, current.RawIssuer) {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		used[next] = true
		current = others[next]
		chain = append(chain, current)
	}
	for i, cert := range others {
		if !used[i] {
			chain = append(chain, cert)
		}
	}
	return chain
}

func matchesAlias(leaf *x509.Certificate, alias string, names []string) bool {
	if leaf.Subject.CommonName == alias {
		return true
	}
	for _, email := range leaf.EmailAddresses {
		if strings.EqualFold(email, alias) {
			return true
		}
	}
	for _, name := range names {
		if name == alias {
			return true
		}
	}
	return false
}

// friendlyNames returns the friendlyName attributes of the store bags.
// Stores that ToPEM cannot convert yield no names.
func friendlyNames(data []byte, password string) []string {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil
	}
	var names []string
	for _, block := range blocks {
		if name, ok := block.Headers["friendlyName"]; ok {
			names = append(names, name)
		}
	}
	return names
}

// SameKey reports whether two public keys are equal.
func SameKey(a, b crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	if k, ok := a.(equaler); ok {
		return k.Equal(b)
	}
	return false
}

type closableSigner struct {
	mu     sync.RWMutex
	signer crypto.Signer
	closed bool
}

func (s *closableSigner) Public() crypto.PublicKey {
	return s.signer.Public()
}

func (s *closableSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrCredentialClosed
	}
	return s.signer.Sign(rand, digest, opts)
}

func (s *closableSigner) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	zeroKey(s.signer)
}

func zeroKey(key crypto.Signer) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		zeroInt(k.D)
		for _, p := range k.Primes {
			zeroInt(p)
		}
		zeroInt(k.Precomputed.Dp)
		zeroInt(k.Precomputed.Dq)
		zeroInt(k.Precomputed.Qinv)
		for _, crt := range k.Precomputed.CRTValues {
			zeroInt(crt.Exp)
			zeroInt(crt.Coeff)
			zeroInt(crt.R)
		}
	case *ecdsa.PrivateKey:
		zeroInt(k.D)
	case ed25519.PrivateKey:
		for i := range k {
			k[i] = 0
		}
	}
}

func zeroInt(n *big.Int) {
	if n == nil {
		return
	}
	words := n.Bits()
	for i := range words {
		words[i] = 0
	}
	n.SetInt64(0)
}
