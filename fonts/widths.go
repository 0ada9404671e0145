package fonts

// Advance widths for the printable ASCII range 32..126, in 1/1000 em,
// from the Adobe Core 14 AFM files.
var helveticaWidths = [95]int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278, // ' ' .. '/'
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, // '0' .. '9'
	278, 278, 584, 584, 584, 556, 1015, // ':' .. '@'
	667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, // 'A' .. 'M'
	722, 778, 667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, // 'N' .. 'Z'
	278, 278, 278, 469, 556, 333, // '[' .. '`'
	556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, // 'a' .. 'm'
	556, 556, 556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, // 'n' .. 'z'
	334, 260, 334, 584, // '{' .. '~'
}

var helveticaBoldWidths = [95]int{
	278, 333, 474, 556, 556, 889, 722, 238, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556,
	333, 333, 584, 584, 584, 611, 975,
	722, 722, 722, 722, 667, 611, 778, 722, 278, 556, 722, 611, 833,
	722, 778, 667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611,
	333, 278, 333, 584, 556, 333,
	556, 611, 556, 611, 556, 333, 611, 611, 278, 278, 556, 278, 889,
	611, 611, 611, 611, 389, 556, 333, 611, 556, 778, 556, 556, 500,
	389, 280, 389, 584,
}

func asciiMetrics(widths [95]int) *Metrics {
	m := &Metrics{UnitsPerEm: 1000, Advances: make(map[rune]int, len(widths))}
	for i, w := range widths {
		m.Advances[rune(32+i)] = w
	}
	return m
}

func monospaceMetrics(width int) *Metrics {
	m := &Metrics{UnitsPerEm: 1000, Advances: make(map[rune]int, 224)}
	for r := rune(32); r < 256; r++ {
		m.Advances[r] = width
	}
	return m
}
