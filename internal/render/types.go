package render

import (
	"github.com/digitorus/pdfbatchsign/fonts"
)

// Color is an RGB fill color.
type Color struct {
	R, G, B uint8
}

func (c Color) components() (float64, float64, float64) {
	return float64(c.R) / 255.0, float64(c.G) / 255.0, float64(c.B) / 255.0
}

// TextAlign is the horizontal placement of each line in a TextBlock.
type TextAlign int

const (
	AlignLeft TextAlign = iota
	AlignCenter
	AlignRight
)

// Appearance is the content of a signature widget of Width by Height
// points.
type Appearance struct {
	Width, Height float64
	Blocks        []TextBlock
}

// TextBlock stacks lines from the top of the appearance. The font size
// is reduced in whole points, down to MinSize, until every line fits.
type TextBlock struct {
	Lines   []string
	Font    *fonts.Font
	Size    float64
	MinSize float64
	Color   Color
	Padding float64
	Align   TextAlign
}
