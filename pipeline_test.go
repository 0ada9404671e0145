package pdfbatchsign

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/digitorus/pkcs7"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/pdfbatchsign/crypt"
	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
	"github.com/digitorus/pdfbatchsign/internal/testpdf"
	"github.com/digitorus/pdfbatchsign/internal/testpki"
	"github.com/digitorus/pdfbatchsign/keystore"
	"github.com/digitorus/pdfbatchsign/metrics"
	"github.com/digitorus/pdfbatchsign/sign"
)

func newPipeline(t *testing.T) (*Pipeline, *testpki.TestPKI) {
	t.Helper()

	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.ECDSA_P256, IntermediateCAs: 1})
	key, leaf := pki.IssueLeaf("Batch Signer")
	cred, err := keystore.LoadBytes(pki.PKCS12(key, leaf, pki.Chain(), "secret"), "secret")
	require.NoError(t, err)

	p, err := NewPipeline(cred, Options{
		DigestAlgorithm: crypto.SHA256,
		Encryption:      crypt.AES128,
		Permissions:     crypt.PermissionPrint,
	})
	require.NoError(t, err)
	p.Metrics = metrics.New()
	return p, pki
}

func verifySignature(t *testing.T, data []byte, pki *testpki.TestPKI) {
	t.Helper()

	f, err := pdfobj.Scan(data)
	require.NoError(t, err)

	for _, num := range f.Nums() {
		d, ok := f.Objects[num].Value.(*pdfobj.Dict)
		if !ok || !crypt.IsSignatureDict(d) {
			continue
		}
		arr := d.Get("ByteRange").(pdfobj.Array)
		var br [4]int64
		for i := range br {
			br[i] = int64(arr[i].(pdfobj.Integer))
		}
		contents := d.Get("Contents").(pdfobj.String)

		p7, err := pkcs7.Parse(contents.Value)
		require.NoError(t, err)
		p7.Content = append(append([]byte{}, data[br[0]:br[1]]...), data[br[2]:br[2]+br[3]]...)
		require.NoError(t, p7.VerifyWithChain(pki.Pool()))
		return
	}
	t.Fatal("no signature dictionary found")
}

func TestProcess(t *testing.T) {
	p, pki := newPipeline(t)
	dir := t.TempDir()
	src := testpdf.Write(t, dir, "in.pdf", testpdf.Generated(t, 2))
	dst := filepath.Join(dir, "out.pdf")

	err := p.Process(context.Background(), SigningRequest{
		Source:        src,
		Destination:   dst,
		UserPassword:  "user",
		OwnerPassword: "owner",
		Reason:        "Contract note",
		Contact:       "support@example.com",
		Location:      "Bangalore",
		Rect:          [4]float64{36, 36, 236, 96},
		Page:          2,
	})
	require.NoError(t, err)

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	verifySignature(t, out, pki)

	for _, password := range []string{"user", "owner"} {
		_, err := crypt.Decrypt(out, password)
		assert.NoError(t, err, "password %q", password)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.Documents.WithLabelValues("signed")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files left behind")
}

func TestProcessOverwritesDestination(t *testing.T) {
	p, pki := newPipeline(t)
	dir := t.TempDir()
	src := testpdf.Write(t, dir, "in.pdf", testpdf.Minimal(1, false))
	dst := testpdf.Write(t, dir, "out.pdf", []byte("stale"))

	require.NoError(t, p.Process(context.Background(), SigningRequest{
		Source:       src,
		Destination:  dst,
		UserPassword: "pw",
	}))

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	verifySignature(t, out, pki)
}

func TestProcessErrors(t *testing.T) {
	p, _ := newPipeline(t)
	dir := t.TempDir()
	src := testpdf.Write(t, dir, "in.pdf", testpdf.Minimal(1, false))

	tests := []struct {
		name   string
		req    SigningRequest
		want   error
		reason string
	}{
		{
			name:   "missing source",
			req:    SigningRequest{Source: filepath.Join(dir, "missing.pdf"), Destination: filepath.Join(dir, "a.pdf"), UserPassword: "pw"},
			want:   sign.ErrSourceUnreadable,
			reason: "source_unreadable",
		},
		{
			name:   "garbage source",
			req:    SigningRequest{Source: testpdf.Write(t, dir, "garbage.pdf", []byte("not a pdf")), Destination: filepath.Join(dir, "b.pdf"), UserPassword: "pw"},
			want:   sign.ErrSourceUnreadable,
			reason: "source_unreadable",
		},
		{
			name:   "missing destination directory",
			req:    SigningRequest{Source: src, Destination: filepath.Join(dir, "missing", "c.pdf"), UserPassword: "pw"},
			want:   ErrDestinationUnwritable,
			reason: "destination_unwritable",
		},
		{
			name:   "page outside document",
			req:    SigningRequest{Source: src, Destination: filepath.Join(dir, "d.pdf"), UserPassword: "pw", Page: 3, Rect: [4]float64{0, 0, 100, 50}},
			want:   sign.ErrInvalidAppearanceTarget,
			reason: "invalid_appearance_target",
		},
		{
			name:   "no passwords",
			req:    SigningRequest{Source: src, Destination: filepath.Join(dir, "e.pdf")},
			want:   sign.ErrEncryptionParameterInvalid,
			reason: "encryption_parameter_invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.Metrics = metrics.New()
			err := p.Process(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.reason, Reason(err))
			assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.Failures.WithLabelValues(tt.reason)))

			_, statErr := os.Stat(tt.req.Destination)
			assert.True(t, os.IsNotExist(statErr), "destination was created")
		})
	}
}

func TestProcessCancelled(t *testing.T) {
	p, _ := newPipeline(t)
	src := testpdf.Write(t, t.TempDir(), "in.pdf", testpdf.Minimal(1, false))
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Process(ctx, SigningRequest{Source: src, Destination: filepath.Join(out, "out.pdf"), UserPassword: "pw"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", Reason(err))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteCancelledBeforeCommit(t *testing.T) {
	p, _ := newPipeline(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.write(ctx, filepath.Join(dir, "out.pdf"), []byte("%PDF-1.7"))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary file left behind")
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, "timeout", Reason(fmt.Errorf("item: %w", context.DeadlineExceeded)))
	assert.Equal(t, "panic", Reason(fmt.Errorf("%w: boom", ErrPipelinePanic)))
	assert.Equal(t, "placeholder_too_small", Reason(fmt.Errorf("x: %w", sign.ErrPlaceholderTooSmall)))
	assert.Equal(t, "other", Reason(errors.New("unknown")))
}

func TestNewPipelineRejectsWeakDigest(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	key, leaf := pki.IssueLeaf("Signer")
	cred, err := keystore.LoadBytes(pki.PKCS12(key, leaf, pki.Chain(), "pw"), "pw")
	require.NoError(t, err)

	_, err = NewPipeline(cred, Options{DigestAlgorithm: crypto.SHA1})
	assert.ErrorIs(t, err, sign.ErrUnsupportedDigest)

	_, err = NewPipeline(nil, Options{})
	assert.Error(t, err)
}
