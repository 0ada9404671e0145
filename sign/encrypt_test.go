package sign

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"testing"

	"github.com/digitorus/pdfbatchsign/crypt"
	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
	"github.com/digitorus/pdfbatchsign/internal/testpdf"
	"github.com/digitorus/pdfbatchsign/internal/testpki"
)

func signedMinimal(t *testing.T, s *testSigner) *FinalizedDocument {
	t.Helper()

	source := testpdf.Minimal(1, false)
	doc, err := Reserve(context.Background(), bytes.NewReader(source), int64(len(source)), s.reserveOptions())
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	signed, err := Sign(context.Background(), doc, s.cred, s.engine)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return signed
}

func TestEncrypt(t *testing.T) {
	tests := []struct {
		algorithm crypt.Algorithm
		version   string
	}{
		{crypt.RC4128, "%PDF-1.7"},
		{crypt.AES128, "%PDF-1.7"},
		{crypt.AES256, "%PDF-1.7"},
	}

	s := newTestSigner(t, testpki.TestPKIConfig{Profile: testpki.ECDSA_P256, IntermediateCAs: 1}, crypto.SHA256)

	for _, tt := range tests {
		t.Run(tt.algorithm.String(), func(t *testing.T) {
			signed := signedMinimal(t, s)
			original := append([]byte{}, signed.Bytes()...)

			out, err := Encrypt(context.Background(), signed, "user", "owner", crypt.PermissionPrint, WithAlgorithm(tt.algorithm))
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			if !bytes.Equal(original, signed.Bytes()) {
				t.Error("Encrypt modified the signed document")
			}
			if !bytes.HasPrefix(out, []byte(tt.version)) {
				t.Errorf("header = %q, want %q", out[:8], tt.version)
			}
			if bytes.Contains(out, []byte("(Hello)")) {
				t.Error("page content left in plain text")
			}

			verifyDocument(t, out, s.pki.Pool())

			for _, password := range []string{"user", "owner"} {
				f, err := crypt.Decrypt(out, password)
				if err != nil {
					t.Fatalf("Decrypt with %q failed: %v", password, err)
				}
				stream, ok := f.Objects[4].Value.(*pdfobj.Stream)
				if !ok {
					t.Fatalf("object 4 is %T", f.Objects[4].Value)
				}
				if !bytes.Contains(stream.Data, []byte("(Hello)")) {
					t.Errorf("decrypted content = %q", stream.Data)
				}
			}

			if _, err := crypt.Decrypt(out, "wrong"); !errors.Is(err, crypt.ErrInvalidPassword) {
				t.Errorf("expected ErrInvalidPassword, got %v", err)
			}
		})
	}
}

func TestEncryptPermissions(t *testing.T) {
	s := newTestSigner(t, testpki.TestPKIConfig{Profile: testpki.ECDSA_P256}, crypto.SHA256)
	signed := signedMinimal(t, s)

	perms := crypt.PermissionPrint | crypt.PermissionCopy
	out, err := Encrypt(context.Background(), signed, "user", "", perms)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	f, err := pdfobj.Scan(out)
	if err != nil {
		t.Fatal(err)
	}
	dict, ok := f.Resolve(f.Trailer.Get("Encrypt")).(*pdfobj.Dict)
	if !ok {
		t.Fatal("no /Encrypt dictionary")
	}
	if p, _ := dict.Int("P"); int32(p) != perms.Value() {
		t.Errorf("/P = %d, want %d", p, perms.Value())
	}
	if filter, _ := dict.Name("Filter"); filter != "Standard" {
		t.Errorf("/Filter = %s, want Standard", filter)
	}

	// The user password opens the document when no owner password is set.
	if _, err := crypt.Decrypt(out, "user"); err != nil {
		t.Errorf("Decrypt failed: %v", err)
	}
}

func TestEncryptInvalidParameters(t *testing.T) {
	s := newTestSigner(t, testpki.TestPKIConfig{Profile: testpki.ECDSA_P256}, crypto.SHA256)
	signed := signedMinimal(t, s)

	if _, err := Encrypt(context.Background(), signed, "", "", crypt.PermissionAll); !errors.Is(err, ErrEncryptionParameterInvalid) {
		t.Errorf("expected ErrEncryptionParameterInvalid, got %v", err)
	}
	if _, err := Encrypt(context.Background(), signed, "user", "owner", crypt.PermissionAll, WithAlgorithm(crypt.Algorithm(42))); !errors.Is(err, ErrEncryptionParameterInvalid) {
		t.Errorf("expected ErrEncryptionParameterInvalid for an unknown algorithm, got %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Encrypt(cancelled, signed, "user", "owner", crypt.PermissionAll); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
