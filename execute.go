package pdfbatchsign

import (
	"context"
	"fmt"

	"github.com/digitorus/pdfbatchsign/internal/atomicfile"
	"github.com/digitorus/pdfbatchsign/sign"
)

// sign reserves the placeholder, draws the appearance when a rectangle
// is given and embeds the signature.
func (p *Pipeline) sign(ctx context.Context, req SigningRequest) (*sign.FinalizedDocument, error) {
	opts := p.Options

	doc, err := sign.ReserveFile(ctx, req.Source, sign.ReserveOptions{
		Chain:           p.Credential.Chain,
		DigestAlgorithm: p.Engine.Hash(),
		TSA:             opts.TSA,
		PlaceholderSize: opts.PlaceholderSize,
		Page:            req.Page,
		FieldName:       opts.FieldName,
		CompressLevel:   opts.CompressLevel,
		Info: sign.SignDataSignatureInfo{
			Reason:      req.Reason,
			Location:    req.Location,
			ContactInfo: req.Contact,
		},
	})
	if err != nil {
		return nil, err
	}

	if req.Rect != [4]float64{} {
		err := doc.Render(sign.AppearanceSpec{
			Page:     req.Page,
			Rect:     req.Rect,
			Lines:    opts.Lines,
			Font:     req.Font,
			FontSize: opts.FontSize,
			Color:    opts.Color,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render appearance: %w", err)
		}
	}

	signed, err := sign.Sign(ctx, doc, p.Credential, p.Engine)
	if err != nil {
		return nil, fmt.Errorf("failed to sign document: %w", err)
	}
	return signed, nil
}

func (p *Pipeline) encrypt(ctx context.Context, req SigningRequest, signed *sign.FinalizedDocument) ([]byte, error) {
	out, err := sign.Encrypt(ctx, signed, req.UserPassword, req.OwnerPassword, p.Options.Permissions,
		sign.WithAlgorithm(p.Options.Encryption),
		sign.WithEncryptMetadata(p.Options.EncryptMetadata),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt document: %w", err)
	}
	return out, nil
}

// write commits data to name through a temporary file in the same
// directory. A cancelled context discards the temporary file.
func (p *Pipeline) write(ctx context.Context, name string, data []byte) error {
	f, err := atomicfile.New(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDestinationUnwritable, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrDestinationUnwritable, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrDestinationUnwritable, err)
	}
	return nil
}
