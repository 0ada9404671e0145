package sign

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/digitorus/pdfbatchsign/keystore"
)

// Sign digests the byte ranges of doc, builds a detached CMS container
// with cred and engine and embeds it in the placeholder. doc is consumed
// whether or not Sign succeeds.
func Sign(ctx context.Context, doc *ReservedDocument, cred *keystore.Credential, engine *Engine) (*FinalizedDocument, error) {
	if doc == nil || doc.context == nil {
		return nil, errors.New("reserved document is nil")
	}
	if doc.consumed {
		return nil, ErrDocumentConsumed
	}
	doc.consumed = true

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cred == nil || cred.Certificate == nil {
		return nil, ErrNilCertificate
	}
	if engine == nil {
		return nil, ErrNilSigner
	}

	context := doc.context
	if engine.Hash() != context.SignData.DigestAlgorithm {
		return nil, fmt.Errorf("%w: document reserved for %v, engine uses %v", ErrUnsupportedDigest, context.SignData.DigestAlgorithm, engine.Hash())
	}
	if !bytes.Equal(cred.Certificate.Raw, context.SignData.Certificate.Raw) {
		return nil, fmt.Errorf("credential certificate differs from the reserved chain")
	}
	if err := MatchCertificate(engine, cred.Certificate); err != nil {
		return nil, fmt.Errorf("signer/certificate validation failed: %w", err)
	}

	builder := &SignatureBuilder{
		Certificate:     cred.Certificate,
		Issuers:         cred.Issuers(),
		Signer:          engine,
		DigestAlgorithm: engine.Hash(),
		TSA:             context.SignData.TSA,
	}

	file_content := context.OutputBuffer.Buff.Bytes()
	container, err := replaceSignature(ctx, file_content, doc.ByteRange, builder, engine)
	if err != nil {
		return nil, err
	}

	return &FinalizedDocument{
		Container:       container,
		ByteRange:       doc.ByteRange,
		PlaceholderSize: doc.PlaceholderSize,
		SignatureObject: doc.SignatureObject,
		data:            file_content,
		builder:         builder,
		engine:          engine,
	}, nil
}

// byteRangeReader streams the signed parts of file_content.
func byteRangeReader(file_content []byte, byteRange [4]int64) io.Reader {
	return io.MultiReader(
		bytes.NewReader(file_content[byteRange[0]:byteRange[0]+byteRange[1]]),
		bytes.NewReader(file_content[byteRange[2]:byteRange[2]+byteRange[3]]),
	)
}

// replaceSignature signs the byte ranges of file_content and writes the
// hex encoded container into the /Contents placeholder in place.
func replaceSignature(ctx context.Context, file_content []byte, byteRange [4]int64, builder *SignatureBuilder, engine *Engine) (*SignatureContainer, error) {
	if byteRange[1] < 1 || byteRange[2] > int64(len(file_content)) || byteRange[2]+byteRange[3] != int64(len(file_content)) {
		return nil, fmt.Errorf("byte range %v does not match document of %d bytes", byteRange, len(file_content))
	}

	digest, err := engine.Digest(byteRangeReader(file_content, byteRange))
	if err != nil {
		return nil, err
	}

	sign_content, err := io.ReadAll(byteRangeReader(file_content, byteRange))
	if err != nil {
		return nil, err
	}

	container, err := builder.Build(ctx, sign_content)
	if err != nil {
		return nil, fmt.Errorf("failed to create signature: %w", err)
	}
	if !bytes.Equal(container.MessageDigest, digest) {
		return nil, ErrDigestMismatch
	}

	dst := make([]byte, hex.EncodedLen(len(container.DER)))
	hex.Encode(dst, container.DER)

	// Contents is written as <hex>, the placeholder excludes the brackets.
	placeholder := byteRange[2] - byteRange[1] - 2
	if int64(len(dst)) > placeholder {
		return nil, fmt.Errorf("%w: container needs %d bytes, %d reserved", ErrPlaceholderTooSmall, len(container.DER), placeholder/2)
	}

	if err := patchBytes(file_content, byteRange[1]+1, dst); err != nil {
		return nil, err
	}
	return container, nil
}
