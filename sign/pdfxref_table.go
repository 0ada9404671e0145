package sign

import (
	"bytes"
	"fmt"
)

// writeIncrXrefTable writes the incremental cross-reference table to the output buffer.
func (context *SignContext) writeIncrXrefTable() error {
	context.NewXrefStart = int64(context.OutputBuffer.Buff.Len())

	var buf bytes.Buffer
	buf.WriteString("xref\n")

	for _, section := range xrefSubsections(context.newXrefEntries) {
		// Write xref subsection header
		fmt.Fprintf(&buf, "%d %d\n", section.Start, len(section.Entries))

		for _, entry := range section.Entries {
			fmt.Fprintf(&buf, "%010d %05d n\r\n", entry.Offset, entry.Gen)
		}
	}

	if _, err := context.OutputBuffer.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write incremental xref table: %w", err)
	}
	return nil
}
