package sign

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/digitorus/pdf"
	"github.com/google/uuid"
	"github.com/mattetti/filebuffer"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

// ReserveFile opens path and reserves a signature placeholder in it.
func ReserveFile(ctx context.Context, path string, opts ReserveOptions) (*ReservedDocument, error) {
	input_file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer func() {
		_ = input_file.Close()
	}()

	finfo, err := input_file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	return Reserve(ctx, input_file, finfo.Size(), opts)
}

// Reserve copies the size bytes of source into memory and appends an
// incremental update holding an empty signature field. The placeholder
// size is fixed here and never changes afterwards.
func Reserve(ctx context.Context, source io.ReaderAt, size int64, opts ReserveOptions) (*ReservedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(opts.Chain) == 0 || opts.Chain[0] == nil {
		return nil, ErrNilCertificate
	}

	hash := opts.DigestAlgorithm
	if hash == 0 {
		hash = crypto.SHA256
	}
	if err := checkDigestAlgorithm(hash); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.NewSectionReader(source, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	rdr, err := openReader(data)
	if err != nil {
		return nil, err
	}

	src, err := pdfobj.Scan(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	if src.Trailer.Get("Encrypt") != nil {
		return nil, fmt.Errorf("%w: encrypted documents are not supported", ErrSourceUnreadable)
	}

	context := &SignContext{
		PDFReader:     rdr,
		Source:        src,
		SourceSize:    size,
		CompressLevel: opts.CompressLevel,
		SignData: SignData{
			Signature:       opts.Info,
			DigestAlgorithm: hash,
			Certificate:     opts.Chain[0],
			Chain:           opts.Chain,
			TSA:             opts.TSA,
			FieldName:       uniqueFieldName(opts.FieldName, existingFieldNames(src)),
		},
	}
	if context.CompressLevel == 0 {
		context.CompressLevel = zlib.DefaultCompression
	}
	if context.SignData.Signature.Name == "" {
		context.SignData.Signature.Name = opts.Chain[0].Subject.CommonName
	}
	if context.SignData.Signature.Date.IsZero() {
		context.SignData.Signature.Date = time.Now()
	}

	if err := context.readTrailer(data); err != nil {
		return nil, err
	}

	page := opts.Page
	if page == 0 {
		page = 1
	}
	context.pageRef, err = context.findPage(page)
	if err != nil {
		return nil, err
	}

	// Size for signature.
	placeholder := opts.PlaceholderSize
	if placeholder <= 0 {
		placeholder, err = PlaceholderSize(opts.Chain, hash, opts.TSA.URL != "")
		if err != nil {
			return nil, err
		}
	}
	context.SignatureMaxLength = uint32(hex.EncodedLen(placeholder))

	context.OutputBuffer = filebuffer.New([]byte{})

	// Copy old file into new buffer.
	if _, err := context.OutputBuffer.Write(data); err != nil {
		return nil, err
	}

	// File always needs an empty line after %%EOF.
	if _, err := context.OutputBuffer.Write([]byte("\n")); err != nil {
		return nil, err
	}

	if err := context.writeSignatureObject(); err != nil {
		return nil, fmt.Errorf("failed to add signature object: %w", err)
	}

	if err := context.layout(); err != nil {
		return nil, err
	}

	doc := &ReservedDocument{
		PlaceholderSize: placeholder,
		SignatureObject: context.signatureObjectID,
		context:         context,
	}
	doc.sync()
	return doc, nil
}

func (d *ReservedDocument) sync() {
	copy(d.ByteRange[:], d.context.ByteRangeValues)
}

// openReader parses data with the page tree reader. The reader panics on
// some malformed input.
func openReader(data []byte) (rdr *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			rdr, err = nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, r)
		}
	}()

	rdr, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	return rdr, nil
}

// readTrailer collects the references carried into the new trailer and
// allocates the object numbers of the update.
func (context *SignContext) readTrailer(data []byte) error {
	trailer := context.Source.Trailer

	root, ok := trailer.Get("Root").(pdfobj.Ref)
	if !ok {
		return fmt.Errorf("%w: trailer has no Root reference", ErrSourceUnreadable)
	}
	context.rootRef = root

	if info, ok := trailer.Get("Info").(pdfobj.Ref); ok {
		if _, exists := context.Source.Objects[info.Num]; exists {
			context.infoRef = info
		}
	}

	if id, ok := trailer.Get("ID").(pdfobj.Array); ok && len(id) == 2 {
		context.id = id
	} else {
		fileID := uuid.New()
		value := pdfobj.String{Value: fileID[:], Hex: true}
		context.id = pdfobj.Array{value, value}
	}

	prev, err := lastStartXref(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	context.prevXref = prev
	context.xrefStream = !bytes.HasPrefix(bytes.TrimLeft(data[prev:], " \t\r\n\f\x00"), []byte("xref"))

	size, _ := trailer.Int("Size")
	if nums := context.Source.Nums(); len(nums) > 0 && int64(nums[len(nums)-1])+1 > size {
		size = int64(nums[len(nums)-1]) + 1
	}
	context.lastXrefID = uint32(size - 1)

	context.signatureObjectID = uint32(size)
	context.widgetObjectID = uint32(size + 1)
	context.catalogObjectID = uint32(size + 2)
	context.nextObjectID = uint32(size + 3)
	return nil
}

// findPage returns the reference of the 1-based page num.
func (context *SignContext) findPage(num int) (ref pdfobj.Ref, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSourceUnreadable, r)
		}
	}()

	context.pageCount = context.PDFReader.NumPage()
	if num < 1 || num > context.pageCount {
		return pdfobj.Ref{}, fmt.Errorf("%w: page %d outside 1..%d", ErrInvalidAppearanceTarget, num, context.pageCount)
	}

	pages := context.PDFReader.Trailer().Key("Root").Key("Pages")
	page, _ := findPageRec(pages, num)
	if page.Kind() == pdf.Null {
		return pdfobj.Ref{}, fmt.Errorf("%w: page %d not found in page tree", ErrSourceUnreadable, num)
	}
	ptr := page.GetPtr()
	if ptr.GetID() == 0 {
		return pdfobj.Ref{}, fmt.Errorf("%w: page %d is not an indirect object", ErrSourceUnreadable, num)
	}
	return pdfobj.Ref{Num: int(ptr.GetID()), Gen: int(ptr.GetGen())}, nil
}

func findPageRec(node pdf.Value, pageNum int) (pdf.Value, int) {
	switch node.Key("Type").Name() {
	case "Page":
		if pageNum == 1 {
			return node, 0
		}
		return pdf.Value{}, pageNum - 1

	case "Pages":
		kids := node.Key("Kids")
		for i := 0; i < kids.Len(); i++ {
			p, n := findPageRec(kids.Index(i), pageNum)
			if p.Kind() != pdf.Null {
				return p, 0
			}
			pageNum = n
		}
	}
	return pdf.Value{}, pageNum
}

// writeSignatureObject writes the signature dictionary right after the
// original bytes and records where its placeholders are.
func (context *SignContext) writeSignatureObject() error {
	signature_object, byte_range_start, contents_start := context.createSignaturePlaceholder()

	header := fmt.Sprintf("%d 0 obj\n", context.signatureObjectID)
	object_start := int64(context.OutputBuffer.Buff.Len()) + int64(len(header))

	if err := context.writeObject(context.signatureObjectID, 0, []byte(signature_object)); err != nil {
		return err
	}

	context.byteRangeStart = object_start + byte_range_start
	context.contentsStart = object_start + contents_start
	context.updateStart = int64(context.OutputBuffer.Buff.Len())
	return nil
}

// layout writes everything of the update that follows the signature
// dictionary. It starts over from the end of the signature dictionary
// on every call, so the appearance can be added after reservation.
func (context *SignContext) layout() error {
	context.OutputBuffer.Buff.Truncate(int(context.updateStart))
	context.OutputBuffer.Index = context.updateStart
	context.newXrefEntries = context.newXrefEntries[:1]
	context.nextObjectID = context.catalogObjectID + 1

	var rect [4]float64
	var appearance uint32
	if context.SignData.Appearance != nil {
		var err error
		appearance, err = context.createAppearance()
		if err != nil {
			return fmt.Errorf("failed to create appearance: %w", err)
		}
		rect = context.SignData.Appearance.Rect
	}

	// Write the signature field widget.
	widget := context.createVisualSignature(rect, appearance)
	if err := context.updateObject(pdfobj.Ref{Num: int(context.widgetObjectID)}, widget); err != nil {
		return fmt.Errorf("failed to add visual signature object: %w", err)
	}

	inc_page_update, err := context.createIncPageUpdate()
	if err != nil {
		return fmt.Errorf("failed to create incremental page update: %w", err)
	}
	if err := context.updateObject(context.pageRef, inc_page_update); err != nil {
		return fmt.Errorf("failed to add incremental page update object: %w", err)
	}

	// Create a new catalog object
	catalog, err := context.createCatalog()
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}
	if err := context.updateObject(pdfobj.Ref{Num: int(context.catalogObjectID)}, catalog); err != nil {
		return fmt.Errorf("failed to add catalog object: %w", err)
	}

	if info := context.createInfo(); info != nil {
		if err := context.updateObject(context.infoRef, info); err != nil {
			return fmt.Errorf("failed to add info object: %w", err)
		}
	}

	if err := context.writeXref(); err != nil {
		return err
	}

	if err := context.writeTrailer(); err != nil {
		return fmt.Errorf("failed to write trailer: %w", err)
	}

	if err := context.updateByteRange(); err != nil {
		return fmt.Errorf("failed to update byte range: %w", err)
	}
	return nil
}
