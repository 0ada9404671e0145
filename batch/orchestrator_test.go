package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/pdfbatchsign"
	"github.com/digitorus/pdfbatchsign/crypt"
	"github.com/digitorus/pdfbatchsign/internal/testpdf"
	"github.com/digitorus/pdfbatchsign/internal/testpki"
	"github.com/digitorus/pdfbatchsign/keystore"
	"github.com/digitorus/pdfbatchsign/metrics"
)

type fakeProcessor struct {
	mu       sync.Mutex
	requests []pdfbatchsign.SigningRequest

	active    atomic.Int32
	maxActive atomic.Int32

	fn func(ctx context.Context, req pdfbatchsign.SigningRequest) error
}

func (f *fakeProcessor) Process(ctx context.Context, req pdfbatchsign.SigningRequest) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return nil
}

func requests(n int) []Request {
	out := make([]Request, n)
	for i := range out {
		out[i] = Request{Source: fmt.Sprintf("in/%d.pdf", i), Destination: fmt.Sprintf("out/%d.pdf", i)}
	}
	return out
}

func TestRunSequentialByDefault(t *testing.T) {
	proc := &fakeProcessor{fn: func(ctx context.Context, req pdfbatchsign.SigningRequest) error {
		time.Sleep(time.Millisecond)
		return nil
	}}
	o := &Orchestrator{
		Processor: proc,
		Template:  pdfbatchsign.SigningRequest{Reason: "Contract note", Page: 1},
		Passwords: Passwords{UserPassword: "user"},
	}
	assert.Equal(t, StateInit, o.State())

	result, err := o.Run(context.Background(), requests(5))
	require.NoError(t, err)
	assert.Equal(t, StateDone, o.State())
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 5, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Equal(t, int32(1), proc.maxActive.Load())

	require.Len(t, proc.requests, 5)
	for i, req := range proc.requests {
		assert.Equal(t, fmt.Sprintf("in/%d.pdf", i), req.Source)
		assert.Equal(t, "Contract note", req.Reason)
		assert.Equal(t, "user", req.UserPassword)
		assert.Len(t, req.OwnerPassword, 32)
	}
	assert.NotEqual(t, proc.requests[0].OwnerPassword, proc.requests[1].OwnerPassword)
}

func TestRunWorkerLimit(t *testing.T) {
	proc := &fakeProcessor{fn: func(ctx context.Context, req pdfbatchsign.SigningRequest) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}}
	o := &Orchestrator{Processor: proc, Workers: 3, Passwords: Passwords{UserPassword: "u"}}

	result, err := o.Run(context.Background(), requests(12))
	require.NoError(t, err)
	assert.Equal(t, 12, result.Succeeded)
	assert.LessOrEqual(t, proc.maxActive.Load(), int32(3))
	assert.Greater(t, proc.maxActive.Load(), int32(1))
}

func TestRunCollectsFailures(t *testing.T) {
	proc := &fakeProcessor{fn: func(ctx context.Context, req pdfbatchsign.SigningRequest) error {
		if strings.HasSuffix(req.Source, "1.pdf") || strings.HasSuffix(req.Source, "3.pdf") {
			return fmt.Errorf("broken input: %w", errors.New("boom"))
		}
		return nil
	}}
	var logs bytes.Buffer
	o := &Orchestrator{
		Processor: proc,
		Workers:   2,
		Passwords: Passwords{UserPassword: "u"},
		Logger:    zerolog.New(&logs),
	}

	result, err := o.Run(context.Background(), requests(5))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 3, result.Succeeded)
	require.Len(t, result.Failed, 2)

	var sources []string
	for _, f := range result.Failed {
		sources = append(sources, f.Source)
		assert.Error(t, f.Err)
	}
	assert.ElementsMatch(t, []string{"in/1.pdf", "in/3.pdf"}, sources)
	assert.Contains(t, logs.String(), `"src":"in/1.pdf"`)
	assert.Contains(t, logs.String(), "signing finished")
}

func TestRunItemTimeout(t *testing.T) {
	proc := &fakeProcessor{fn: func(ctx context.Context, req pdfbatchsign.SigningRequest) error {
		if req.Source == "in/0.pdf" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}}
	o := &Orchestrator{Processor: proc, ItemTimeout: 20 * time.Millisecond, Passwords: Passwords{UserPassword: "u"}}

	result, err := o.Run(context.Background(), requests(3))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.ErrorIs(t, result.Failed[0].Err, context.DeadlineExceeded)
}

func TestRunStopsOnCredentialFailure(t *testing.T) {
	proc := &fakeProcessor{fn: func(ctx context.Context, req pdfbatchsign.SigningRequest) error {
		if req.Source == "in/2.pdf" {
			return fmt.Errorf("signing: %w", keystore.ErrCredentialClosed)
		}
		return nil
	}}
	o := &Orchestrator{Processor: proc, Passwords: Passwords{UserPassword: "u"}}

	result, err := o.Run(context.Background(), requests(10))
	require.ErrorIs(t, err, keystore.ErrCredentialClosed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Len(t, proc.requests, 3)
	assert.Equal(t, StateDone, o.State())
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcessor{fn: func(_ context.Context, req pdfbatchsign.SigningRequest) error {
		if req.Source == "in/1.pdf" {
			cancel()
		}
		return nil
	}}
	o := &Orchestrator{Processor: proc, Passwords: Passwords{UserPassword: "u"}}

	result, err := o.Run(ctx, requests(10))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Empty(t, result.Failed)
}

func TestPasswords(t *testing.T) {
	user, owner, err := Passwords{}.resolve(Request{Password: "prefix"})
	require.NoError(t, err)
	assert.Equal(t, "prefix", user)
	assert.Equal(t, "prefix", owner)

	user, owner, err = Passwords{OwnerPassword: "admin"}.resolve(Request{Password: "prefix"})
	require.NoError(t, err)
	assert.Equal(t, "prefix", user)
	assert.Equal(t, "admin", owner)

	user, owner, err = Passwords{UserPassword: "reader", OwnerPassword: "admin"}.resolve(Request{})
	require.NoError(t, err)
	assert.Equal(t, "reader", user)
	assert.Equal(t, "admin", owner)

	user, owner, err = Passwords{Rand: bytes.NewReader(bytes.Repeat([]byte{0xab}, 16))}.resolve(Request{})
	require.NoError(t, err)
	assert.Empty(t, user)
	assert.Equal(t, strings.Repeat("ab", 16), owner)

	_, _, err = Passwords{Rand: bytes.NewReader(nil)}.resolve(Request{})
	assert.Error(t, err)
}

func TestRunManifest(t *testing.T) {
	proc := &fakeProcessor{}
	m := metrics.New()
	o := &Orchestrator{Processor: proc, Metrics: m}

	result, err := o.RunManifest(context.Background(), strings.NewReader("a.pdf b.pdf\nbroken\nc.pdf d.pdf\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
}

func TestRunDirectoryRejectsSameDirectory(t *testing.T) {
	dir := t.TempDir()
	proc := &fakeProcessor{}
	o := &Orchestrator{Processor: proc}

	_, err := o.RunDirectory(context.Background(), dir, dir)
	require.ErrorIs(t, err, ErrSameSourceAndDest)
	assert.Empty(t, proc.requests)
	assert.Equal(t, StateInit, o.State())
}

// TestRunDirectorySignsFiles runs the real pipeline over a directory.
func TestRunDirectorySignsFiles(t *testing.T) {
	pki := testpki.NewTestPKIWithConfig(t, testpki.TestPKIConfig{Profile: testpki.ECDSA_P256, IntermediateCAs: 1})
	key, leaf := pki.IssueLeaf("Batch Signer")
	cred, err := keystore.LoadBytes(pki.PKCS12(key, leaf, pki.Chain(), "secret"), "secret")
	require.NoError(t, err)

	pipeline, err := pdfbatchsign.NewPipeline(cred, pdfbatchsign.Options{Permissions: crypt.PermissionPrint})
	require.NoError(t, err)

	src := t.TempDir()
	dst := t.TempDir()
	testpdf.Write(t, src, "alpha_first.pdf", testpdf.Generated(t, 1))
	testpdf.Write(t, src, "beta_second.pdf", testpdf.Minimal(2, true))
	testpdf.Write(t, src, "unprefixed.pdf", testpdf.Minimal(1, false))
	testpdf.Write(t, src, "gamma_broken.pdf", []byte("not a pdf"))

	o := &Orchestrator{
		Processor: pipeline,
		Template:  pdfbatchsign.SigningRequest{Reason: "Batch", Rect: [4]float64{20, 20, 220, 80}, Page: 1},
		Workers:   2,
	}
	result, err := o.RunDirectory(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Failed, 2)

	for name, password := range map[string]string{"first.pdf": "alpha", "second.pdf": "beta"} {
		data, err := os.ReadFile(filepath.Join(dst, name))
		require.NoError(t, err)
		_, err = crypt.Decrypt(data, password)
		assert.NoError(t, err, name)
	}

	_, err = os.Stat(filepath.Join(dst, "broken.pdf"))
	assert.True(t, os.IsNotExist(err))
}
