package sign

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

// createTrailer returns the trailer entries of the incremental update.
// Size covers every object number allocated so far.
func (context *SignContext) createTrailer() *pdfobj.Dict {
	trailer := pdfobj.NewDict()
	trailer.Set("Size", pdfobj.Integer(context.nextObjectID))
	trailer.Set("Root", pdfobj.Ref{Num: int(context.catalogObjectID)})
	if context.infoRef.Num > 0 {
		trailer.Set("Info", context.infoRef)
	}
	if len(context.id) > 0 {
		trailer.Set("ID", context.id)
	}
	trailer.Set("Prev", pdfobj.Integer(context.prevXref))
	return trailer
}

func (context *SignContext) writeTrailer() error {
	var buf bytes.Buffer

	if !context.xrefStream {
		buf.WriteString("trailer\n")
		if err := pdfobj.AppendObject(&buf, context.createTrailer()); err != nil {
			return fmt.Errorf("failed to serialize trailer: %w", err)
		}
		buf.WriteString("\n")
	}

	// Write the new xref start position.
	buf.WriteString("startxref\n")
	buf.WriteString(strconv.FormatInt(context.NewXrefStart, 10) + "\n")

	// Write PDF ending.
	buf.WriteString("%%EOF\n")

	if _, err := context.OutputBuffer.Write(buf.Bytes()); err != nil {
		return err
	}
	return nil
}
