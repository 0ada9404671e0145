package sign

import (
	"crypto"
	"crypto/x509"
	"time"

	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"

	"github.com/digitorus/pdfbatchsign/fonts"
	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

type TSA struct {
	URL      string
	Username string
	Password string
}

type SignDataSignatureInfo struct {
	Name        string
	Location    string
	Reason      string
	ContactInfo string
	Date        time.Time
}

// ReserveOptions configures the signature placeholder of a document.
type ReserveOptions struct {
	// Chain is the signing certificate followed by its issuers.
	Chain []*x509.Certificate

	// DigestAlgorithm defaults to SHA-256.
	DigestAlgorithm crypto.Hash

	// TSA enlarges the placeholder for a timestamp token when URL is set.
	TSA TSA

	// PlaceholderSize is the number of DER bytes reserved for the CMS
	// container. Zero derives it from Chain, DigestAlgorithm and TSA.
	PlaceholderSize int

	// Page is the 1-based page the signature field is attached to.
	Page int

	// FieldName is the preferred field name; a numeric suffix is added
	// when it is already taken.
	FieldName string

	// Info is written to the signature dictionary. Name defaults to the
	// certificate common name and Date to the current time.
	Info SignDataSignatureInfo

	// CompressLevel determines compression level (zlib) for stream objects.
	CompressLevel int
}

// Color is an RGB color.
type Color struct {
	R, G, B uint8
}

// AppearanceSpec describes the visible signature widget.
type AppearanceSpec struct {
	// Page is the 1-based page to draw on.
	Page int
	// Rect is the widget rectangle [x1 y1 x2 y2] in default user space.
	Rect [4]float64
	// Lines are templates expanded with {{Name}}, {{Date}}, {{Reason}},
	// {{Contact}} and {{Location}}. DefaultAppearanceLines when nil.
	Lines []string
	// Font defaults to Helvetica-Bold.
	Font *fonts.Font
	// FontSize is the starting size, reduced down to 4pt until the text fits.
	FontSize float64
	// Color defaults to DefaultAppearanceColor.
	Color *Color
}

// DefaultAppearanceLines are the lines drawn by default. Lines whose
// variables are all empty are left out.
var DefaultAppearanceLines = []string{
	"Digitally signed by {{Name}}",
	"Date: {{Date}}",
	"Reason: {{Reason}}",
	"Contact: {{Contact}}",
	"Location: {{Location}}",
}

// DefaultAppearanceColor is the text color of the appearance.
var DefaultAppearanceColor = Color{R: 16, G: 181, B: 60}

const (
	DefaultAppearanceFontSize = 9.0
	MinAppearanceFontSize     = 4.0
)

type SignData struct {
	Signature       SignDataSignatureInfo
	DigestAlgorithm crypto.Hash
	Certificate     *x509.Certificate
	Chain           []*x509.Certificate
	TSA             TSA
	FieldName       string
	Appearance      *AppearanceSpec
}

type xrefEntry struct {
	ID     uint32
	Gen    int
	Offset int64
}

// SignContext holds the state of one incremental update while it is
// being built.
type SignContext struct {
	PDFReader    *pdf.Reader
	Source       *pdfobj.File
	SourceSize   int64
	OutputBuffer *filebuffer.Buffer
	SignData     SignData

	// SignatureMaxLength is the number of hex digits in /Contents.
	SignatureMaxLength uint32
	ByteRangeValues    []int64
	NewXrefStart       int64

	// CompressLevel determines compression level (zlib) for stream objects.
	CompressLevel int

	xrefStream     bool
	prevXref       int64
	lastXrefID     uint32
	nextObjectID   uint32
	newXrefEntries []xrefEntry

	rootRef pdfobj.Ref
	infoRef pdfobj.Ref
	id      pdfobj.Array

	signatureObjectID uint32
	widgetObjectID    uint32
	catalogObjectID   uint32
	pageRef           pdfobj.Ref
	pageCount         int

	updateStart    int64
	byteRangeStart int64
	contentsStart  int64
}

// ReservedDocument is a document with an empty signature placeholder.
// Sign consumes it; it cannot be used afterwards.
type ReservedDocument struct {
	// ByteRange covers everything but the /Contents hex string.
	ByteRange [4]int64
	// PlaceholderSize is the number of DER bytes that fit in /Contents.
	PlaceholderSize int
	// SignatureObject is the object number of the signature dictionary.
	SignatureObject uint32

	context  *SignContext
	rendered bool
	consumed bool
}

// Bytes returns the current document bytes. The slice is only valid
// until the next call on the document.
func (d *ReservedDocument) Bytes() []byte {
	return d.context.OutputBuffer.Buff.Bytes()
}

// SignatureContainer describes an embedded CMS SignedData.
type SignatureContainer struct {
	DigestAlgorithm crypto.Hash
	// MessageDigest is the digest of the signed byte ranges.
	MessageDigest  []byte
	Chain          []*x509.Certificate
	SignatureValue []byte
	// Timestamp is the RFC 3161 token, nil without a TSA.
	Timestamp []byte
	DER       []byte
}

// FinalizedDocument is a signed document. It is only produced by Sign.
type FinalizedDocument struct {
	Container       *SignatureContainer
	ByteRange       [4]int64
	PlaceholderSize int
	SignatureObject uint32

	data    []byte
	builder *SignatureBuilder
	engine  *Engine
}

// Bytes returns the signed document. Callers must not modify it.
func (d *FinalizedDocument) Bytes() []byte {
	return d.data
}
