// Package render draws signature appearances as PDF form XObjects.
package render

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/digitorus/pdfbatchsign/fonts"
)

// ErrInvalidSize is returned for appearances without a positive finite area.
var ErrInvalidSize = errors.New("appearance must have a positive width and height")

// ObjectWriter stores an indirect object in the document being built and
// returns its object number.
type ObjectWriter interface {
	AddObject(data []byte) (uint32, error)
}

// Renderer turns an Appearance into a form XObject.
type Renderer struct {
	Objects       ObjectWriter
	CompressLevel int
}

// NewRenderer returns a Renderer that stores fonts through w.
func NewRenderer(w ObjectWriter) *Renderer {
	return &Renderer{Objects: w, CompressLevel: zlib.DefaultCompression}
}

// Render returns the XObject dictionary and stream for a. Font resources
// are written through the ObjectWriter.
func (r *Renderer) Render(a *Appearance) ([]byte, error) {
	width, height := a.Width, a.Height
	if !(width > 0 && height > 0) || math.IsInf(width, 0) || math.IsInf(height, 0) {
		return nil, ErrInvalidSize
	}

	var fontsBuf bytes.Buffer
	var stream bytes.Buffer

	// Clip everything to the bounding box.
	fmt.Fprintf(&stream, "0 0 %.2f %.2f re W n\n", width, height)

	fontNames := make(map[*fonts.Font]string)
	resourceName := func(font *fonts.Font) (string, error) {
		if name, ok := fontNames[font]; ok {
			return name, nil
		}
		num, err := r.RegisterFont(font)
		if err != nil {
			return "", err
		}
		name := fmt.Sprintf("F%d", len(fontNames)+1)
		fontNames[font] = name
		fmt.Fprintf(&fontsBuf, "      /%s %d 0 R\n", name, num)
		return name, nil
	}

	for _, b := range a.Blocks {
		if len(b.Lines) == 0 {
			continue
		}
		font := b.Font
		if font == nil {
			font = fonts.Standard(fonts.Helvetica)
		}
		fontName, err := resourceName(font)
		if err != nil {
			return nil, err
		}

		size := FitBlock(b.Lines, font, b.Size, b.MinSize, width-2*b.Padding, height-2*b.Padding)
		y := height - b.Padding - size
		for _, line := range b.Lines {
			x := b.Padding
			switch b.Align {
			case AlignCenter:
				x = math.Max((width-font.StringWidth(line, size))/2, 0)
			case AlignRight:
				x = math.Max(width-b.Padding-font.StringWidth(line, size), 0)
			}
			writeText(&stream, fontName, size, b.Color, x, y, font.Encode(line))
			y -= size * 1.2
		}
	}

	var buf bytes.Buffer
	buf.WriteString("<<\n")
	buf.WriteString("  /Type /XObject\n")
	buf.WriteString("  /Subtype /Form\n")
	fmt.Fprintf(&buf, "  /BBox [0 0 %.2f %.2f]\n", width, height)
	buf.WriteString("  /Matrix [1 0 0 1 0 0]\n")
	buf.WriteString("  /Resources <<\n")
	if fontsBuf.Len() > 0 {
		buf.WriteString("    /Font <<\n")
		buf.Write(fontsBuf.Bytes())
		buf.WriteString("    >>\n")
	}
	buf.WriteString("  >>\n")
	buf.WriteString("  /FormType 1\n")
	fmt.Fprintf(&buf, "  /Length %d\n", stream.Len())
	buf.WriteString(">>\nstream\n")
	buf.Write(stream.Bytes())
	buf.WriteString("\nendstream")

	return buf.Bytes(), nil
}

func writeText(stream *bytes.Buffer, fontName string, size float64, color Color, x, y float64, encoded []byte) {
	cr, cg, cb := color.components()
	stream.WriteString("q\nBT\n")
	fmt.Fprintf(stream, "  /%s %.2f Tf\n", fontName, size)
	fmt.Fprintf(stream, "  %.2f %.2f %.2f rg\n", cr, cg, cb)
	fmt.Fprintf(stream, "  %.2f %.2f Td\n", x, y)
	fmt.Fprintf(stream, "  <%s> Tj\n", hex.EncodeToString(encoded))
	stream.WriteString("ET\nQ\n")
}

// FitBlock returns the largest size, stepping down one point at a time
// from size to minSize, at which every line fits within width and the
// block of lines fits within height. minSize is returned when nothing fits.
func FitBlock(lines []string, font *fonts.Font, size, minSize, width, height float64) float64 {
	if minSize <= 0 {
		minSize = 4
	}
	if size < minSize {
		size = minSize
	}
	for ; size > minSize; size-- {
		if blockFits(lines, font, size, width, height) {
			return size
		}
	}
	return minSize
}

func blockFits(lines []string, font *fonts.Font, size, width, height float64) bool {
	if float64(len(lines))*size*1.2 > height {
		return false
	}
	for _, line := range lines {
		if font.StringWidth(line, size) > width {
			return false
		}
	}
	return true
}

// RegisterFont writes the font dictionary for f and returns its object
// number. TrueType fonts are embedded with their descriptor.
func (r *Renderer) RegisterFont(f *fonts.Font) (uint32, error) {
	if f != nil && len(f.Data) > 0 {
		fontData := f.Data
		filter := ""
		if r.CompressLevel != zlib.NoCompression {
			var buf bytes.Buffer
			zw, err := zlib.NewWriterLevel(&buf, r.CompressLevel)
			if err != nil {
				return 0, err
			}
			if _, err := zw.Write(f.Data); err != nil {
				return 0, err
			}
			if err := zw.Close(); err != nil {
				return 0, err
			}
			fontData = buf.Bytes()
			filter = "/Filter /FlateDecode"
		}

		streamDict := fmt.Sprintf("<< /Length %d /Length1 %d %s >>\nstream\n", len(fontData), len(f.Data), filter)
		streamData := append([]byte(streamDict), fontData...)
		streamData = append(streamData, []byte("\nendstream")...)
		fontStreamID, err := r.Objects.AddObject(streamData)
		if err != nil {
			return 0, err
		}

		fdDict := fmt.Sprintf("<< /Type /FontDescriptor /FontName /%s /Flags 32 /FontBBox [-500 -200 1000 900] /ItalicAngle 0 /Ascent 800 /Descent -200 /CapHeight 700 /StemV 80 /FontFile2 %d 0 R >>", f.Name, fontStreamID)
		descriptorID, err := r.Objects.AddObject([]byte(fdDict))
		if err != nil {
			return 0, err
		}

		var fontBuf bytes.Buffer
		fmt.Fprintf(&fontBuf, "<< /Type /Font /Subtype /TrueType /BaseFont /%s /FontDescriptor %d 0 R /FirstChar 32 /LastChar 255 /Encoding /WinAnsiEncoding /Widths [", f.Name, descriptorID)
		for _, w := range f.Metrics.Widths() {
			fmt.Fprintf(&fontBuf, " %d", w)
		}
		fontBuf.WriteString(" ] >>")
		return r.Objects.AddObject(fontBuf.Bytes())
	}

	baseFont := "Helvetica"
	if f != nil && f.Name != "" {
		baseFont = f.Name
	}
	fontDict := fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /%s /Encoding /WinAnsiEncoding >>", baseFont)
	return r.Objects.AddObject([]byte(fontDict))
}
