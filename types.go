package pdfbatchsign

import (
	"crypto"
	"errors"

	"github.com/digitorus/pdfbatchsign/crypt"
	"github.com/digitorus/pdfbatchsign/fonts"
	"github.com/digitorus/pdfbatchsign/sign"
)

var (
	// ErrDestinationUnwritable is returned when the output file cannot be
	// created or moved into place.
	ErrDestinationUnwritable = errors.New("destination unwritable")

	// ErrPipelinePanic is returned when processing a document panicked.
	ErrPipelinePanic = errors.New("document processing panicked")
)

// SigningRequest describes one document to sign. It is consumed by a
// single Process call.
type SigningRequest struct {
	Source      string
	Destination string

	UserPassword  string
	OwnerPassword string

	Reason   string
	Contact  string
	Location string

	// Rect is the visible widget [x1 y1 x2 y2]. The zero value signs
	// without an appearance.
	Rect [4]float64
	// Page is 1-based, 1 when zero.
	Page int
	// Font defaults to Helvetica-Bold.
	Font *fonts.Font
}

// Options applies to every document of a run.
type Options struct {
	// DigestAlgorithm is SHA-256 when zero.
	DigestAlgorithm crypto.Hash

	TSA sign.TSA

	// PlaceholderSize overrides the computed container size in bytes.
	PlaceholderSize int

	// Encryption is the cipher of the output, crypt.AES128 by default.
	Encryption      crypt.Algorithm
	EncryptMetadata bool
	Permissions     crypt.Permissions

	FontSize float64
	Color    *sign.Color
	// Lines overrides sign.DefaultAppearanceLines.
	Lines []string

	FieldName     string
	CompressLevel int
}
