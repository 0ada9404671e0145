package sign

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

// xrefStreamWidths is the /W array, 1 byte type, 4 bytes offset, 1 byte generation.
var xrefStreamWidths = pdfobj.Array{pdfobj.Integer(1), pdfobj.Integer(4), pdfobj.Integer(1)}

// writeXrefStream writes the cross-reference stream to the output buffer.
// The stream lists itself and carries the trailer entries.
func (context *SignContext) writeXrefStream() error {
	id := context.nextObjectID
	context.nextObjectID++
	context.NewXrefStart = int64(context.OutputBuffer.Buff.Len())

	entries := append(context.newXrefEntries, xrefEntry{
		ID:     id,
		Offset: context.NewXrefStart,
	})

	var index pdfobj.Array
	var buffer bytes.Buffer
	for _, section := range xrefSubsections(entries) {
		index = append(index, pdfobj.Integer(section.Start), pdfobj.Integer(len(section.Entries)))
		for _, entry := range section.Entries {
			if err := writeXrefStreamLine(&buffer, 1, entry.Offset, entry.Gen); err != nil {
				return err
			}
		}
	}

	streamBytes, err := encodeXrefStream(buffer.Bytes(), context.CompressLevel)
	if err != nil {
		return fmt.Errorf("failed to encode xref stream: %w", err)
	}

	dict := context.createTrailer()
	dict.Set("Type", pdfobj.Name("XRef"))
	dict.Set("W", xrefStreamWidths)
	dict.Set("Index", index)
	dict.Set("Filter", pdfobj.Name("FlateDecode"))

	var object bytes.Buffer
	if err := pdfobj.AppendObject(&object, &pdfobj.Stream{Dict: dict, Data: streamBytes}); err != nil {
		return fmt.Errorf("failed to serialize xref stream: %w", err)
	}

	if err := context.writeObject(id, 0, object.Bytes()); err != nil {
		return fmt.Errorf("failed to add xref stream object: %w", err)
	}
	return nil
}

// encodeXrefStream compresses the xref rows without a predictor.
func encodeXrefStream(data []byte, level int) ([]byte, error) {
	var b bytes.Buffer
	w, err := zlib.NewWriterLevel(&b, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// writeXrefStreamLine writes a single line in the xref stream.
func writeXrefStreamLine(b *bytes.Buffer, xreftype byte, offset int64, gen int) error {
	if offset > 0xFFFFFFFF {
		return fmt.Errorf("offset %d does not fit the xref stream", offset)
	}
	if gen > 0xFF {
		return fmt.Errorf("generation %d does not fit the xref stream", gen)
	}

	// Write type (1 byte)
	b.WriteByte(xreftype)

	// Write offset (4 bytes)
	offsetBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(offsetBytes, uint32(offset))
	b.Write(offsetBytes)

	// Write generation (1 byte)
	b.WriteByte(byte(gen))
	return nil
}
