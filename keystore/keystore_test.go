package keystore

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/pdfbatchsign/internal/testpki"
)

func newPKI(t *testing.T, intermediates int) *testpki.TestPKI {
	return testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{
		Profile:         testpki.ECDSA_P256,
		IntermediateCAs: intermediates,
	})
}

func TestLoadOrdersChain(t *testing.T) {
	pki := newPKI(t, 2)
	key, leaf := pki.IssueLeaf("Alice Signer")

	// Store the issuers root first to check the reordering.
	chain := pki.Chain()
	reversed := []*x509.Certificate{chain[2], chain[0], chain[1]}
	pfx := pki.PKCS12(key, leaf, reversed, "secret")

	cred, err := LoadBytes(pfx, "secret")
	require.NoError(t, err)
	defer cred.Close()

	assert.True(t, cred.Certificate.Equal(leaf))
	require.Len(t, cred.Chain, 4)
	assert.True(t, cred.Chain[0].Equal(leaf))
	assert.True(t, cred.Chain[1].Equal(chain[0]))
	assert.True(t, cred.Chain[2].Equal(chain[1]))
	assert.True(t, cred.Chain[3].Equal(chain[2]))
	assert.Len(t, cred.Issuers(), 3)
	assert.Equal(t, leaf.SignatureAlgorithm, cred.Algorithm)
	assert.True(t, SameKey(cred.Signer.Public(), leaf.PublicKey))
}

func TestLoadFromFile(t *testing.T) {
	pki := newPKI(t, 1)
	path, _, leaf := pki.WritePKCS12("File Signer", "pw")

	cred, err := Load(path, "pw")
	require.NoError(t, err)
	defer cred.Close()
	assert.Equal(t, "File Signer", cred.Certificate.Subject.CommonName)
	assert.True(t, cred.Certificate.Equal(leaf))
}

func TestLoadErrors(t *testing.T) {
	pki := newPKI(t, 1)
	path, _, _ := pki.WritePKCS12("Error Signer", "right")

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.p12"), "right")
		assert.ErrorIs(t, err, ErrCredentialStoreUnreadable)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := Load(path, "wrong")
		assert.ErrorIs(t, err, ErrCredentialStoreUnreadable)
	})

	t.Run("garbage", func(t *testing.T) {
		garbage := filepath.Join(t.TempDir(), "garbage.p12")
		require.NoError(t, os.WriteFile(garbage, []byte("not a pkcs12 file"), 0o600))
		_, err := Load(garbage, "right")
		assert.ErrorIs(t, err, ErrCredentialStoreUnreadable)
	})

	t.Run("key does not match any certificate", func(t *testing.T) {
		key, _ := pki.IssueLeaf("Key Owner")
		_, other := pki.IssueLeaf("Someone Else")
		pfx := pki.PKCS12(key, other, nil, "pw")
		_, err := LoadBytes(pfx, "pw")
		assert.ErrorIs(t, err, ErrNoUsableEntry)
	})
}

func TestLoadAlias(t *testing.T) {
	pki := newPKI(t, 1)
	key, leaf := pki.IssueLeaf("Bob Signer", "bob@example.com")
	pfx := pki.PKCS12(key, leaf, pki.Chain(), "pw")

	tests := []struct {
		alias   string
		wantErr error
	}{
		{"Bob Signer", nil},
		{"BOB@example.com", nil},
		{"Carol Signer", ErrNoUsableEntry},
	}
	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			cred, err := LoadBytes(pfx, "pw", WithAlias(tt.alias))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, cred.Certificate.Equal(leaf))
		})
	}
}

func TestCloseRefusesToSign(t *testing.T) {
	pki := newPKI(t, 0)
	key, leaf := pki.IssueLeaf("Closing Signer")
	pfx := pki.PKCS12(key, leaf, pki.Chain(), "pw")

	cred, err := LoadBytes(pfx, "pw")
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("document"))
	_, err = cred.Signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)

	require.NoError(t, cred.Close())
	require.NoError(t, cred.Close())

	_, err = cred.Signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	assert.ErrorIs(t, err, ErrCredentialClosed)
}

func TestOrderChainAppendsUnlinked(t *testing.T) {
	a := newPKI(t, 1)
	_, leaf := a.IssueLeaf("Leaf")
	_, stray := a.IssueLeaf("Stray")

	chain := orderChain(leaf, []*x509.Certificate{stray, a.RootCert, a.IntermediateCerts[0]})
	require.Len(t, chain, 4)
	assert.True(t, chain[1].Equal(a.IntermediateCerts[0]))
	assert.True(t, chain[2].Equal(a.RootCert))
	assert.True(t, chain[3].Equal(stray))
}
