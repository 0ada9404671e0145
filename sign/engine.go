package sign

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"io"
)

// Engine signs digests with a credential key and digests document byte
// ranges with one hash algorithm. It is safe for concurrent use when the
// wrapped signer is.
type Engine struct {
	signer crypto.Signer
	hash   crypto.Hash
}

// NewEngine returns an Engine for signer and hash. hash defaults to SHA-256.
func NewEngine(signer crypto.Signer, hash crypto.Hash) (*Engine, error) {
	if signer == nil {
		return nil, ErrNilSigner
	}
	if hash == 0 {
		hash = crypto.SHA256
	}
	if err := checkDigestAlgorithm(hash); err != nil {
		return nil, err
	}
	return &Engine{signer: signer, hash: hash}, nil
}

// Hash returns the digest algorithm.
func (e *Engine) Hash() crypto.Hash {
	return e.hash
}

// Public returns the public key of the signer.
func (e *Engine) Public() crypto.PublicKey {
	return e.signer.Public()
}

// Sign signs digest with the credential key.
func (e *Engine) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts != nil && opts.HashFunc() != 0 && opts.HashFunc() != e.hash {
		return nil, fmt.Errorf("%w: engine uses %v, asked for %v", ErrUnsupportedDigest, e.hash, opts.HashFunc())
	}
	return e.signer.Sign(rand, digest, opts)
}

// Digest hashes everything read from r.
func (e *Engine) Digest(r io.Reader) ([]byte, error) {
	h := e.hash.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("failed to digest document: %w", err)
	}
	return h.Sum(nil), nil
}

func checkDigestAlgorithm(hash crypto.Hash) error {
	switch hash {
	case crypto.SHA256, crypto.SHA384, crypto.SHA512:
		if hash.Available() {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrUnsupportedDigest, hash)
}
