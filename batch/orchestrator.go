// Package batch resolves the documents of a run and feeds them through a
// bounded pool of signing workers.
package batch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/digitorus/pdfbatchsign"
	"github.com/digitorus/pdfbatchsign/keystore"
	"github.com/digitorus/pdfbatchsign/metrics"
)

const (
	DefaultWorkers          = 1
	DefaultItemTimeout      = 2 * time.Minute
	DefaultProgressInterval = 100
)

// State is the phase of an Orchestrator.
type State int32

const (
	StateInit State = iota
	StateResolvingManifest
	StateProcessing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateResolvingManifest:
		return "RESOLVING_MANIFEST"
	case StateProcessing:
		return "PROCESSING"
	case StateDone:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Processor signs a single document.
type Processor interface {
	Process(ctx context.Context, req pdfbatchsign.SigningRequest) error
}

// ItemFailure records a document that could not be signed.
type ItemFailure struct {
	Source      string
	Destination string
	Err         error
}

// Result summarizes a run.
type Result struct {
	Total     int
	Succeeded int
	Failed    []ItemFailure
	// Skipped counts malformed manifest lines.
	Skipped  int
	Duration time.Duration
}

// Passwords decides the encryption passwords of each document.
//
// In directory mode both passwords are the file name prefix unless
// OwnerPassword is set. In manifest mode the user password is
// UserPassword and the owner password is OwnerPassword, or 32 random hex
// characters when that is empty.
type Passwords struct {
	UserPassword  string
	OwnerPassword string
	// Rand defaults to crypto/rand.
	Rand io.Reader
}

func (p Passwords) resolve(req Request) (string, string, error) {
	if req.Password != "" {
		owner := p.OwnerPassword
		if owner == "" {
			owner = req.Password
		}
		return req.Password, owner, nil
	}

	owner := p.OwnerPassword
	if owner == "" {
		r := p.Rand
		if r == nil {
			r = rand.Reader
		}
		buf := make([]byte, 16)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", "", fmt.Errorf("failed to generate owner password: %w", err)
		}
		owner = hex.EncodeToString(buf)
	}
	return p.UserPassword, owner, nil
}

// Orchestrator runs a Processor over many requests.
type Orchestrator struct {
	Processor Processor

	// Template carries the fields shared by every document: reason,
	// contact, location, rectangle, page and font.
	Template  pdfbatchsign.SigningRequest
	Passwords Passwords

	// Workers is the number of documents processed at once.
	Workers int
	// ItemTimeout bounds the processing of one document.
	ItemTimeout time.Duration
	// ProgressInterval is the number of finished documents between
	// progress messages.
	ProgressInterval int

	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	state atomic.Int32
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	if prev := State(o.state.Swap(int32(s))); prev != s {
		o.Logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("state changed")
	}
}

// RunManifest signs the documents listed in a manifest.
func (o *Orchestrator) RunManifest(ctx context.Context, r io.Reader) (*Result, error) {
	o.setState(StateResolvingManifest)
	requests, skipped, err := ResolveManifest(r)
	if err != nil {
		o.setState(StateDone)
		return nil, err
	}
	if skipped > 0 {
		o.Logger.Debug().Int("lines", skipped).Msg("skipped malformed manifest lines")
		o.Metrics.SkippedLines(skipped)
	}

	result, err := o.Run(ctx, requests)
	if result != nil {
		result.Skipped = skipped
	}
	return result, err
}

// RunDirectory signs the PDF files of src into dst.
func (o *Orchestrator) RunDirectory(ctx context.Context, src, dst string) (*Result, error) {
	if err := CheckDirectories(src, dst); err != nil {
		return nil, err
	}

	o.setState(StateResolvingManifest)
	requests, failures, err := ResolveDirectory(src, dst)
	if err != nil {
		o.setState(StateDone)
		return nil, err
	}
	for _, f := range failures {
		o.Logger.Warn().Str("src", f.Source).Err(f.Err).Msg("document failed")
		o.Metrics.Failed(time.Time{}, "malformed_filename")
	}

	result, err := o.Run(ctx, requests)
	if result != nil {
		result.Total += len(failures)
		result.Failed = append(failures, result.Failed...)
	}
	return result, err
}

// Run processes requests with a bounded number of workers. Failures of
// single documents are collected in the Result. A credential failure
// stops the run and is returned. Requests not started before ctx is done
// are left out of the Result.
func (o *Orchestrator) Run(ctx context.Context, requests []Request) (*Result, error) {
	start := time.Now()
	o.setState(StateProcessing)
	defer o.setState(StateDone)

	workers := o.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := o.ItemTimeout
	if timeout <= 0 {
		timeout = DefaultItemTimeout
	}
	interval := o.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	o.Logger.Info().Int("documents", len(requests)).Int("workers", workers).Msg("signing documents")

	var (
		mu        sync.Mutex
		failed    []ItemFailure
		started   atomic.Int64
		succeeded atomic.Int64
		finished  atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, req := range requests {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			started.Add(1)

			err := o.process(gctx, req, timeout)
			if n := finished.Add(1); n%int64(interval) == 0 {
				o.Logger.Info().Int64("done", n).Int("total", len(requests)).Msg("progress")
			}
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			if isFatal(err) {
				return err
			}

			o.Logger.Warn().Str("src", req.Source).Str("dst", req.Destination).Err(err).Msg("document failed")
			mu.Lock()
			failed = append(failed, ItemFailure{Source: req.Source, Destination: req.Destination, Err: err})
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	result := &Result{
		Total:     int(started.Load()),
		Succeeded: int(succeeded.Load()),
		Failed:    failed,
		Duration:  time.Since(start),
	}
	o.Logger.Info().
		Int("total", result.Total).
		Int("succeeded", result.Succeeded).
		Int("failed", len(result.Failed)).
		Dur("duration", result.Duration).
		Msg("signing finished")

	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) process(ctx context.Context, req Request, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	user, owner, err := o.Passwords.resolve(req)
	if err != nil {
		return err
	}

	signing := o.Template
	signing.Source = req.Source
	signing.Destination = req.Destination
	signing.UserPassword = user
	signing.OwnerPassword = owner
	return o.Processor.Process(ctx, signing)
}

func isFatal(err error) bool {
	return errors.Is(err, keystore.ErrCredentialStoreUnreadable) ||
		errors.Is(err, keystore.ErrNoUsableEntry) ||
		errors.Is(err, keystore.ErrCredentialClosed)
}
