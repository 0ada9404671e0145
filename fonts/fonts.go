// Package fonts measures and encodes the text of signature appearances.
// The standard fonts carry width tables for Helvetica and Courier. A
// TrueType file is parsed for its advance widths and embedded in full.
package fonts

import (
	"fmt"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// StandardType is one of the PDF base fonts every viewer provides.
type StandardType int

const (
	// Helvetica is the standard sans-serif font.
	Helvetica StandardType = iota
	// HelveticaBold is bold Helvetica.
	HelveticaBold
	// HelveticaOblique is italic/oblique Helvetica.
	HelveticaOblique
	// TimesRoman is the standard serif font.
	TimesRoman
	// TimesBold is bold Times Roman.
	TimesBold
	// Courier is the standard monospace font.
	Courier
	// CourierBold is bold Courier.
	CourierBold
)

var standardNames = map[StandardType]string{
	Helvetica:        "Helvetica",
	HelveticaBold:    "Helvetica-Bold",
	HelveticaOblique: "Helvetica-Oblique",
	TimesRoman:       "Times-Roman",
	TimesBold:        "Times-Bold",
	Courier:          "Courier",
	CourierBold:      "Courier-Bold",
}

// Font is an appearance font. Data is nil for the standard fonts.
type Font struct {
	// Name is the PostScript name used as /BaseFont.
	Name    string
	Data    []byte
	Metrics *Metrics
}

// Standard returns a standard font. Times has no width table and is
// measured at half an em per character.
func Standard(ft StandardType) *Font {
	f := &Font{Name: standardNames[ft]}
	switch ft {
	case Helvetica, HelveticaOblique:
		f.Metrics = asciiMetrics(helveticaWidths)
	case HelveticaBold:
		f.Metrics = asciiMetrics(helveticaBoldWidths)
	case Courier, CourierBold:
		f.Metrics = monospaceMetrics(600)
	}
	return f
}

// ByName returns the standard font with the given PostScript name.
func ByName(name string) (*Font, bool) {
	for ft, n := range standardNames {
		if n == name {
			return Standard(ft), true
		}
	}
	return nil, false
}

// Load reads a TrueType font file.
func Load(path string) (*Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font: %w", err)
	}
	return New(data)
}

// New parses TrueType font data.
func New(data []byte) (*Font, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	var buf sfnt.Buffer
	name, err := f.Name(&buf, sfnt.NameIDPostScript)
	if err != nil || name == "" {
		name = "EmbeddedFont"
	}
	return &Font{Name: name, Data: data, Metrics: winAnsiMetrics(f, &buf)}, nil
}

// Encode converts text to WinAnsiEncoding, the encoding the appearance
// font dictionaries declare. Characters outside of it become '?'.
func (f *Font) Encode(text string) []byte {
	enc := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())
	out, err := enc.Bytes([]byte(text))
	if err != nil {
		return []byte(text)
	}
	return out
}

// StringWidth returns the width of text in points.
func (f *Font) StringWidth(text string, size float64) float64 {
	if f == nil {
		return float64(len(text)) * size * 0.5
	}
	return f.Metrics.Width(text, size)
}

// Metrics are the advance widths of the characters 32 to 255.
type Metrics struct {
	UnitsPerEm int
	Advances   map[rune]int
}

func winAnsiMetrics(f *sfnt.Font, buf *sfnt.Buffer) *Metrics {
	upem := f.UnitsPerEm()
	m := &Metrics{UnitsPerEm: int(upem), Advances: make(map[rune]int)}

	// A ppem of unitsPerEm returns advances in font units.
	ppem := fixed.Int26_6(upem) << 6
	for r := rune(32); r <= 255; r++ {
		idx, err := f.GlyphIndex(buf, r)
		if err != nil || idx == 0 {
			continue
		}
		adv, err := f.GlyphAdvance(buf, idx, ppem, font.HintingNone)
		if err != nil {
			continue
		}
		m.Advances[r] = int(adv >> 6)
	}
	return m
}

// Width returns the width of text in points at size.
func (m *Metrics) Width(text string, size float64) float64 {
	if m == nil || m.UnitsPerEm == 0 {
		return float64(len(text)) * size * 0.5
	}
	var units int
	for _, r := range text {
		units += m.Advance(r)
	}
	return float64(units) / float64(m.UnitsPerEm) * size
}

// Advance returns the width of r in font units, half an em when unknown.
func (m *Metrics) Advance(r rune) int {
	if m == nil {
		return 0
	}
	if w, ok := m.Advances[r]; ok {
		return w
	}
	return m.UnitsPerEm / 2
}

// Widths returns the /Widths array for FirstChar 32 and LastChar 255 in
// thousandths of an em.
func (m *Metrics) Widths() []int {
	widths := make([]int, 256-32)
	if m == nil || m.UnitsPerEm == 0 {
		for i := range widths {
			widths[i] = 500
		}
		return widths
	}
	scale := 1000.0 / float64(m.UnitsPerEm)
	for i := range widths {
		widths[i] = int(float64(m.Advance(rune(i+32))) * scale)
	}
	return widths
}
