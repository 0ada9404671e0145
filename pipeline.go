// Package pdfbatchsign signs, stamps and encrypts PDF documents one at a
// time on behalf of the batch orchestrator.
//
// Basic usage:
//
//	cred, err := keystore.Load("signer.p12", password)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p, err := pdfbatchsign.NewPipeline(cred, pdfbatchsign.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = p.Process(ctx, pdfbatchsign.SigningRequest{
//	    Source:       "in.pdf",
//	    Destination:  "out.pdf",
//	    UserPassword: "secret",
//	    Rect:         [4]float64{36, 36, 236, 96},
//	})
package pdfbatchsign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/digitorus/pdfbatchsign/keystore"
	"github.com/digitorus/pdfbatchsign/metrics"
	"github.com/digitorus/pdfbatchsign/sign"
)

// Pipeline turns a SigningRequest into a signed, encrypted output file.
// It is safe for concurrent use; the credential is only read.
type Pipeline struct {
	Credential *keystore.Credential
	Engine     *sign.Engine
	Options    Options

	// Logger defaults to a disabled logger.
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// NewPipeline creates a Pipeline with an Engine for the credential's key
// and the configured digest algorithm.
func NewPipeline(cred *keystore.Credential, opts Options) (*Pipeline, error) {
	if cred == nil {
		return nil, errors.New("credential is nil")
	}
	engine, err := sign.NewEngine(cred.Signer, opts.DigestAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing engine: %w", err)
	}
	return &Pipeline{
		Credential: cred,
		Engine:     engine,
		Options:    opts,
		Logger:     zerolog.Nop(),
	}, nil
}

// Process reserves, stamps, signs and encrypts req.Source and writes the
// result to req.Destination. Nothing is written to the destination
// unless every step succeeds.
func (p *Pipeline) Process(ctx context.Context, req SigningRequest) (err error) {
	start := time.Now()
	logger := p.Logger.With().Str("src", req.Source).Str("dst", req.Destination).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPipelinePanic, r)
		}
		if err != nil {
			p.Metrics.Failed(start, Reason(err))
			logger.Debug().Err(err).Dur("elapsed", time.Since(start)).Msg("document failed")
		}
	}()

	if p.Credential == nil || p.Engine == nil {
		return errors.New("pipeline has no credential")
	}

	signed, err := p.sign(ctx, req)
	if err != nil {
		return err
	}

	out, err := p.encrypt(ctx, req, signed)
	if err != nil {
		return err
	}

	if err := p.write(ctx, req.Destination, out); err != nil {
		return err
	}

	p.Metrics.Signed(start, len(signed.Container.DER), signed.PlaceholderSize)
	logger.Debug().
		Int("bytes", len(out)).
		Int("placeholder", signed.PlaceholderSize).
		Int("container", len(signed.Container.DER)).
		Dur("elapsed", time.Since(start)).
		Msg("document signed")
	return nil
}

// Reason classifies err for the failure metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, sign.ErrSourceUnreadable):
		return "source_unreadable"
	case errors.Is(err, ErrDestinationUnwritable):
		return "destination_unwritable"
	case errors.Is(err, sign.ErrPlaceholderTooSmall):
		return "placeholder_too_small"
	case errors.Is(err, sign.ErrInvalidAppearanceTarget):
		return "invalid_appearance_target"
	case errors.Is(err, sign.ErrEncryptionParameterInvalid):
		return "encryption_parameter_invalid"
	case errors.Is(err, ErrPipelinePanic):
		return "panic"
	}
	return "other"
}
