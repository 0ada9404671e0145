package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/howeyc/gopass"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/digitorus/pdfbatchsign"
	"github.com/digitorus/pdfbatchsign/batch"
	"github.com/digitorus/pdfbatchsign/config"
	"github.com/digitorus/pdfbatchsign/fonts"
	"github.com/digitorus/pdfbatchsign/keystore"
	"github.com/digitorus/pdfbatchsign/metrics"
)

// readPassword asks for the keystore password when stdin is a terminal.
var readPassword = func(w io.Writer) (string, bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", false, nil
	}
	pw, err := gopass.GetPasswdPrompt("Keystore password: ", false, os.Stdin, w)
	if err != nil {
		return "", false, err
	}
	return string(pw), true, nil
}

// RunBatch loads the configuration and credential and signs the
// documents named by args: a manifest file, or a source and destination
// directory.
func RunBatch(cmd *cobra.Command, opts *Options, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stderr := cmd.ErrOrStderr()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	if err := applyFlags(cfg, opts); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	logger, err := newLogger(stderr, opts.LogFormat, cfg.LogLevel)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	logger = logger.With().Str("run_id", uuid.NewString()).Logger()

	if !cfg.PasswordSet {
		pw, ok, err := readPassword(stderr)
		if err != nil {
			return &ExitError{Code: 1, Err: fmt.Errorf("failed to read password: %w", err)}
		}
		if ok {
			cfg.Password = pw
		}
	}

	cred, err := keystore.Load(cfg.KeyFile, cfg.Password, keystore.WithAlias(cfg.Alias))
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	defer cred.Close()

	logger.Info().
		Str("subject", cred.Certificate.Subject.String()).
		Str("algorithm", cred.Algorithm.String()).
		Int("chain", len(cred.Chain)).
		Msg("credential loaded")

	var font *fonts.Font
	switch {
	case cfg.FontFile != "":
		if font, err = fonts.Load(cfg.FontFile); err != nil {
			return &ExitError{Code: 1, Err: err}
		}
	case cfg.Font != "":
		font, _ = fonts.ByName(cfg.Font)
	}

	pipeline, err := pdfbatchsign.NewPipeline(cred, pdfbatchsign.Options{
		DigestAlgorithm: cfg.Digest,
		TSA:             cfg.TSA,
		Encryption:      cfg.Encryption,
		EncryptMetadata: cfg.EncryptMetadata,
		Permissions:     cfg.Permissions,
		FontSize:        cfg.FontSize,
		Color:           cfg.Color,
	})
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	m := metrics.New()
	pipeline.Logger = logger
	pipeline.Metrics = m

	o := &batch.Orchestrator{
		Processor: pipeline,
		Template: pdfbatchsign.SigningRequest{
			Reason:   cfg.Reason,
			Contact:  cfg.Contact,
			Location: cfg.Location,
			Rect:     cfg.Rect,
			Page:     cfg.Page,
			Font:     font,
		},
		Passwords: batch.Passwords{
			UserPassword:  cfg.UserPassword,
			OwnerPassword: cfg.OwnerPassword,
		},
		Workers:          cfg.Workers,
		ItemTimeout:      cfg.Timeout,
		ProgressInterval: cfg.ProgressInterval,
		Logger:           logger,
		Metrics:          m,
	}

	var result *batch.Result
	if len(args) == 2 {
		result, err = o.RunDirectory(ctx, args[0], args[1])
		if errors.Is(err, batch.ErrSameSourceAndDest) {
			return &ExitError{Code: 1, Err: errors.New("Can't read and write from the same directory")}
		}
	} else {
		var f *os.File
		f, err = os.Open(args[0])
		if err != nil {
			return &ExitError{Code: 1, Err: fmt.Errorf("failed to open file list: %w", err)}
		}
		defer f.Close()
		result, err = o.RunManifest(ctx, f)
	}

	if opts.MetricsFile != "" {
		if merr := m.WriteTextfile(opts.MetricsFile); merr != nil {
			logger.Warn().Err(merr).Str("path", opts.MetricsFile).Msg("failed to write metrics")
		}
	}

	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	if len(result.Failed) > 0 {
		return &ExitError{Code: 2, Err: fmt.Errorf("%d of %d documents failed", len(result.Failed), result.Total)}
	}
	return nil
}

// applyFlags lets command line flags override the configuration file.
func applyFlags(cfg *config.Config, opts *Options) error {
	if opts.Workers < 0 {
		return fmt.Errorf("workers: %d is not a positive number", opts.Workers)
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.Timeout != "" {
		d, err := time.ParseDuration(opts.Timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("timeout: %q is not a positive duration", opts.Timeout)
		}
		cfg.Timeout = d
	}
	if opts.LogLevel != "" {
		level, err := zerolog.ParseLevel(opts.LogLevel)
		if err != nil {
			return fmt.Errorf("log-level: %w", err)
		}
		cfg.LogLevel = level
	}
	return nil
}
