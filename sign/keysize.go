package sign

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/digitorus/pkcs7"
)

var (
	ErrNilSigner      = errors.New("signer cannot be nil")
	ErrNilPublicKey   = errors.New("public key cannot be nil")
	ErrNilCertificate = errors.New("certificate cannot be nil")
	ErrUnsupportedKey = errors.New("unsupported key type")
	ErrKeyMismatch    = errors.New("signer public key does not match certificate")
)

const (
	// containerOverhead covers the CMS structure and signed attributes.
	containerOverhead = 512
	// timestampMaxLength is reserved for an RFC 3161 token.
	timestampMaxLength = 9000
	// unknownSignatureSize is reserved for keys SignatureSize cannot measure.
	unknownSignatureSize = 8192
)

// SignatureSize returns the largest signature value pub can produce, in
// bytes. It depends on the key, not on Certificate.SignatureAlgorithm.
func SignatureSize(pub crypto.PublicKey) (int, error) {
	switch k := pub.(type) {
	case nil:
		return 0, ErrNilPublicKey
	case *rsa.PublicKey:
		if k.N == nil {
			return 0, fmt.Errorf("%w: RSA key has nil modulus", ErrUnsupportedKey)
		}
		return k.Size(), nil
	case *ecdsa.PublicKey:
		if k.Curve == nil {
			return 0, fmt.Errorf("%w: ECDSA key has nil curve", ErrUnsupportedKey)
		}
		// SEQUENCE of two INTEGERs, each possibly with a leading zero.
		n := (k.Curve.Params().BitSize + 7) / 8
		return 2*n + 9, nil
	case ed25519.PublicKey:
		return ed25519.SignatureSize, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
}

// PlaceholderSize returns the number of DER bytes to reserve for a CMS
// container signed by chain[0] and carrying chain[1:].
func PlaceholderSize(chain []*x509.Certificate, hash crypto.Hash, tsa bool) (int, error) {
	if len(chain) == 0 || chain[0] == nil {
		return 0, ErrNilCertificate
	}
	leaf := chain[0]

	sigSize, err := SignatureSize(leaf.PublicKey)
	if err != nil {
		sigSize = unknownSignatureSize
	}

	// The digest is in messageDigest and in signingCertificateV2.
	size := containerOverhead + sigSize + 2*hash.Size() + len(leaf.RawIssuer)
	for _, cert := range chain {
		der, err := pkcs7.DegenerateCertificate(cert.Raw)
		if err != nil {
			return 0, fmt.Errorf("failed to degenerate certificate: %w", err)
		}
		size += len(der)
	}
	if tsa {
		size += timestampMaxLength
	}
	return size, nil
}

// MatchCertificate returns ErrKeyMismatch unless signer holds the key
// certified by cert.
func MatchCertificate(signer crypto.Signer, cert *x509.Certificate) error {
	if signer == nil {
		return ErrNilSigner
	}
	if cert == nil {
		return ErrNilCertificate
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, signer.Public())
	}
	if !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}
