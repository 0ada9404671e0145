package sign

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/digitorus/pdfbatchsign/crypt"
	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

// EncryptOption configures Encrypt.
type EncryptOption func(*encryptOptions)

type encryptOptions struct {
	algorithm       crypt.Algorithm
	encryptMetadata bool
	rand            io.Reader
}

// WithAlgorithm selects the cipher, crypt.AES128 by default.
func WithAlgorithm(algorithm crypt.Algorithm) EncryptOption {
	return func(o *encryptOptions) { o.algorithm = algorithm }
}

// WithEncryptMetadata encrypts XMP metadata streams as well. They are
// left in plain text by default.
func WithEncryptMetadata(encrypt bool) EncryptOption {
	return func(o *encryptOptions) { o.encryptMetadata = encrypt }
}

// WithRandom sets the source for salts and IVs.
func WithRandom(r io.Reader) EncryptOption {
	return func(o *encryptOptions) { o.rand = r }
}

// minimumVersion is the lowest header version that supports an algorithm.
var minimumVersion = map[crypt.Algorithm]string{
	crypt.RC4128: "1.4",
	crypt.AES128: "1.6",
	crypt.AES256: "1.7",
}

// Encrypt rewrites the signed document with the Standard Security
// Handler and signs it again over the encrypted bytes with the same
// credential and placeholder size. doc itself is not modified.
func Encrypt(ctx context.Context, doc *FinalizedDocument, userPassword, ownerPassword string, perms crypt.Permissions, opts ...EncryptOption) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc == nil || doc.builder == nil || doc.engine == nil {
		return nil, errors.New("finalized document is nil")
	}
	if userPassword == "" && ownerPassword == "" {
		return nil, fmt.Errorf("%w: no password given", ErrEncryptionParameterInvalid)
	}

	o := encryptOptions{algorithm: crypt.AES128}
	for _, opt := range opts {
		opt(&o)
	}

	f, err := pdfobj.Scan(doc.data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signed document: %w", err)
	}

	id, ok := f.Trailer.Get("ID").(pdfobj.Array)
	if !ok || len(id) != 2 {
		fileID := uuid.New()
		value := pdfobj.String{Value: fileID[:], Hex: true}
		id = pdfobj.Array{value, value}
	}
	first, _ := id[0].(pdfobj.String)

	handler, err := crypt.New(userPassword, ownerPassword, first.Value, crypt.Options{
		Algorithm:       o.algorithm,
		Permissions:     perms,
		EncryptMetadata: o.encryptMetadata,
		Rand:            o.rand,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionParameterInvalid, err)
	}

	sigNum := int(doc.SignatureObject)
	sigObject, ok := f.Objects[sigNum]
	if !ok {
		return nil, fmt.Errorf("signature object %d not found", sigNum)
	}
	sigDict, ok := sigObject.Value.(*pdfobj.Dict)
	if !ok {
		return nil, fmt.Errorf("signature object %d is not a dictionary", sigNum)
	}
	sigDict.Set("ByteRange", pdfobj.Raw(signatureByteRangePlaceholder))
	sigDict.Set("Contents", pdfobj.Raw("<"+strings.Repeat("0", 2*doc.PlaceholderSize)+">"))

	if err := handler.EncryptFile(f); err != nil {
		return nil, fmt.Errorf("failed to encrypt document: %w", err)
	}

	encryptNum := 1
	if nums := f.Nums(); len(nums) > 0 {
		encryptNum = nums[len(nums)-1] + 1
	}
	encryptRef := pdfobj.Ref{Num: encryptNum}
	f.Objects[encryptNum] = &pdfobj.Indirect{Ref: encryptRef, Value: handler.Dict()}

	trailer := pdfobj.NewDict()
	trailer.Set("Root", f.Trailer.Get("Root"))
	if info, ok := f.Trailer.Get("Info").(pdfobj.Ref); ok {
		trailer.Set("Info", info)
	}
	trailer.Set("ID", id)
	trailer.Set("Encrypt", encryptRef)

	version := f.Version
	if required := minimumVersion[o.algorithm]; version < required {
		version = required
	}

	var buf bytes.Buffer
	w, err := pdfobj.NewWriter(&buf, version)
	if err != nil {
		return nil, err
	}
	for _, num := range f.Nums() {
		ind := f.Objects[num]
		if err := w.WriteObject(ind.Ref, ind.Value); err != nil {
			return nil, err
		}
	}
	if err := w.Finish(trailer); err != nil {
		return nil, err
	}
	file_content := buf.Bytes()

	byteRangeStart, contentsStart, err := locatePlaceholders(file_content, w, sigNum)
	if err != nil {
		return nil, err
	}

	byteRange := [4]int64{0, contentsStart, contentsStart + int64(2*doc.PlaceholderSize) + 2, 0}
	byteRange[3] = int64(len(file_content)) - byteRange[2]

	new_byte_range, err := formatByteRange(byteRange[:])
	if err != nil {
		return nil, err
	}
	if err := patchBytes(file_content, byteRangeStart, new_byte_range); err != nil {
		return nil, err
	}

	if _, err := replaceSignature(ctx, file_content, byteRange, doc.builder, doc.engine); err != nil {
		return nil, fmt.Errorf("failed to reseal encrypted document: %w", err)
	}
	return file_content, nil
}

// locatePlaceholders returns the offsets of the ByteRange array and the
// /Contents hex string of the signature dictionary written as object num.
func locatePlaceholders(file_content []byte, w *pdfobj.Writer, num int) (int64, int64, error) {
	offset, ok := w.Offset(num)
	if !ok {
		return 0, 0, fmt.Errorf("signature object %d was not written", num)
	}
	object := file_content[offset:]
	if end := bytes.Index(object, []byte("endobj")); end >= 0 {
		object = object[:end]
	}

	byteRange := bytes.Index(object, []byte("/ByteRange "+signatureByteRangePlaceholder))
	if byteRange < 0 {
		return 0, 0, errors.New("signature ByteRange placeholder not found")
	}
	contents := bytes.Index(object, []byte("/Contents <0"))
	if contents < 0 {
		return 0, 0, errors.New("signature Contents placeholder not found")
	}

	return offset + int64(byteRange+len("/ByteRange ")), offset + int64(contents+len("/Contents ")), nil
}
