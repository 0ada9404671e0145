package crypt

import (
	"fmt"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

// EncryptFile encrypts every string and stream of f in place.
//
// Left in plain text are the /Encrypt dictionary, the trailer, the
// /Contents of signature dictionaries and, when EncryptMetadata is false,
// metadata streams. Values written as pdfobj.Raw are never touched.
func (h *Handler) EncryptFile(f *pdfobj.File) error {
	return h.transformFile(f, h.Encrypt, true)
}

// DecryptFile reverses EncryptFile.
func (h *Handler) DecryptFile(f *pdfobj.File) error {
	return h.transformFile(f, h.Decrypt, false)
}

func (h *Handler) transformFile(f *pdfobj.File, fn func(num, gen int, data []byte) ([]byte, error), hex bool) error {
	encryptRef, _ := f.Trailer.Get("Encrypt").(pdfobj.Ref)

	for _, num := range f.Nums() {
		ind := f.Objects[num]
		if encryptRef.Num != 0 && num == encryptRef.Num {
			continue
		}
		gen := ind.Ref.Gen
		sig := IsSignatureDict(dictOf(ind.Value))

		value, err := pdfobj.Walk(ind.Value, nil, func(path []pdfobj.Name, s pdfobj.String) (pdfobj.Object, error) {
			if sig && len(path) == 1 && path[0] == "Contents" {
				return s, nil
			}
			out, err := fn(num, gen, s.Value)
			if err != nil {
				return nil, err
			}
			return pdfobj.String{Value: out, Hex: hex || s.Hex}, nil
		})
		if err != nil {
			return fmt.Errorf("object %d: %w", num, err)
		}
		ind.Value = value

		stream, ok := value.(*pdfobj.Stream)
		if !ok {
			continue
		}
		if t, _ := stream.Dict.Name("Type"); t == "Metadata" && !h.EncryptMetadata {
			continue
		}
		data, err := fn(num, gen, stream.Data)
		if err != nil {
			return fmt.Errorf("stream %d: %w", num, err)
		}
		stream.Data = data
	}
	return nil
}

func dictOf(obj pdfobj.Object) *pdfobj.Dict {
	switch v := obj.(type) {
	case *pdfobj.Dict:
		return v
	case *pdfobj.Stream:
		return v.Dict
	}
	return nil
}

// IsSignatureDict reports whether d is a signature value dictionary.
func IsSignatureDict(d *pdfobj.Dict) bool {
	if d == nil || d.Get("Contents") == nil {
		return false
	}
	if t, _ := d.Name("Type"); t == "Sig" || t == "DocTimeStamp" {
		return true
	}
	return d.Get("ByteRange") != nil
}

// Decrypt parses an encrypted document and returns its object model with
// every string and stream decrypted and the /Encrypt entry removed.
func Decrypt(data []byte, password string) (*pdfobj.File, error) {
	f, err := pdfobj.Scan(data)
	if err != nil {
		return nil, err
	}
	encryptRef, ok := f.Trailer.Get("Encrypt").(pdfobj.Ref)
	if !ok {
		return nil, fmt.Errorf("%w: document is not encrypted", ErrUnsupported)
	}
	dict := dictOf(f.Resolve(encryptRef))
	if dict == nil {
		return nil, fmt.Errorf("%w: missing /Encrypt dictionary", ErrUnsupported)
	}

	var id []byte
	if ids, ok := f.Trailer.Get("ID").(pdfobj.Array); ok && len(ids) > 0 {
		id = stringValue(ids[0])
	}

	h, err := Open(dict, id, password)
	if err != nil {
		return nil, err
	}
	if err := h.DecryptFile(f); err != nil {
		return nil, err
	}
	delete(f.Objects, encryptRef.Num)
	f.Trailer.Delete("Encrypt")
	return f, nil
}
