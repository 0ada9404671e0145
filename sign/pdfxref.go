package sign

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

// AddObject appends a new indirect object to the incremental update and
// returns its object number.
func (context *SignContext) AddObject(object []byte) (uint32, error) {
	id := context.nextObjectID
	if err := context.writeObject(id, 0, object); err != nil {
		return 0, err
	}
	context.nextObjectID++
	return id, nil
}

// updateObject writes a new revision of an existing object.
func (context *SignContext) updateObject(ref pdfobj.Ref, object pdfobj.Object) error {
	var buf bytes.Buffer
	if err := pdfobj.AppendObject(&buf, object); err != nil {
		return fmt.Errorf("failed to serialize object %d: %w", ref.Num, err)
	}
	return context.writeObject(uint32(ref.Num), ref.Gen, buf.Bytes())
}

// addDictObject is AddObject for the object model.
func (context *SignContext) addDictObject(object pdfobj.Object) (uint32, error) {
	var buf bytes.Buffer
	if err := pdfobj.AppendObject(&buf, object); err != nil {
		return 0, fmt.Errorf("failed to serialize object: %w", err)
	}
	return context.AddObject(buf.Bytes())
}

func (context *SignContext) writeObject(id uint32, gen int, object []byte) error {
	offset := int64(context.OutputBuffer.Buff.Len())

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", id, gen)
	buf.Write(bytes.TrimRight(object, "\n"))
	buf.WriteString("\nendobj\n")

	if _, err := context.OutputBuffer.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write object %d: %w", id, err)
	}

	context.newXrefEntries = append(context.newXrefEntries, xrefEntry{
		ID:     id,
		Gen:    gen,
		Offset: offset,
	})
	return nil
}

// writeXref writes a cross-reference section of the same kind as the
// source document.
func (context *SignContext) writeXref() error {
	if context.xrefStream {
		if err := context.writeXrefStream(); err != nil {
			return fmt.Errorf("failed to write xref stream: %w", err)
		}
		return nil
	}
	if err := context.writeIncrXrefTable(); err != nil {
		return fmt.Errorf("failed to write xref table: %w", err)
	}
	return nil
}

// xrefSubsection is a run of consecutive object numbers.
type xrefSubsection struct {
	Start   uint32
	Entries []xrefEntry
}

// xrefSubsections sorts the new entries and groups them into runs of
// consecutive object numbers.
func xrefSubsections(entries []xrefEntry) []xrefSubsection {
	sorted := make([]xrefEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var sections []xrefSubsection
	for _, entry := range sorted {
		n := len(sections)
		if n > 0 {
			last := &sections[n-1]
			if last.Start+uint32(len(last.Entries)) == entry.ID {
				last.Entries = append(last.Entries, entry)
				continue
			}
		}
		sections = append(sections, xrefSubsection{Start: entry.ID, Entries: []xrefEntry{entry}})
	}
	return sections
}
