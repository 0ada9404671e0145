// Package testpdf produces PDF documents for tests.
package testpdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
)

// Generated returns a document with the given number of text pages
// produced by gofpdf. It has a classic xref table and an /Info dictionary.
func Generated(t testing.TB, pages int) []byte {
	t.Helper()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Batch signing fixture", true)
	pdf.SetAuthor("pdfbatchsign tests", true)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 16)
		pdf.CellFormat(0, 10, fmt.Sprintf("Fixture page %d of %d", i, pages), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, strings.Repeat("Lorem ipsum dolor sit amet. ", 12), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		t.Fatalf("failed to generate PDF: %v", err)
	}
	return buf.Bytes()
}

// Write stores data as name in a temporary directory and returns its path.
func Write(t testing.TB, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// Build assembles a document from object bodies numbered from 1. Object
// 1 must be the catalog. With xrefStream the cross-reference section is
// an uncompressed stream object, otherwise a classic table.
func Build(objects []string, xrefStream bool) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int, len(objects)+1)
	for i, body := range objects {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	id := "<0123456789abcdef0123456789abcdef>"
	xrefStart := buf.Len()

	if !xrefStream {
		fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
		buf.WriteString("0000000000 65535 f\r\n")
		for _, off := range offsets[1:] {
			fmt.Fprintf(&buf, "%010d 00000 n\r\n", off)
		}
		fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /ID [%s %s] >>\n", len(objects)+1, id, id)
		fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefStart)
		return buf.Bytes()
	}

	num := len(objects) + 1
	var rows bytes.Buffer
	row := func(kind byte, offset int, gen byte) {
		rows.WriteByte(kind)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(offset))
		rows.Write(b[:])
		rows.WriteByte(gen)
	}
	row(0, 0, 255)
	for _, off := range offsets[1:] {
		row(1, off, 0)
	}
	row(1, xrefStart, 0)

	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 1] /Root 1 0 R /ID [%s %s] /Length %d >>\nstream\n",
		num, num+1, id, id, rows.Len())
	buf.Write(rows.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefStart)
	return buf.Bytes()
}

const pageContent = "BT /F1 12 Tf 72 720 Td (Hello) Tj ET"

// Minimal returns a hand-built document with the given number of pages.
func Minimal(pages int, xrefStream bool) []byte {
	// 1 catalog, 2 page tree, 3 font, 4 content, 5.. pages
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 5+i)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(pageContent), pageContent),
	}
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents 4 0 R >>")
	}
	return Build(objects, xrefStream)
}

// WithSignatureField returns a one-page document whose form already
// holds a signature field called name.
func WithSignatureField(name string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [6 0 R] /SigFlags 1 >> >>",
		"<< /Type /Pages /Kids [5 0 R] /Count 1 >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(pageContent), pageContent),
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents 4 0 R /Annots [6 0 R] >>",
		fmt.Sprintf("<< /Type /Annot /Subtype /Widget /FT /Sig /T (%s) /Rect [0 0 0 0] /P 5 0 R /F 132 >>", name),
	}
	return Build(objects, false)
}
