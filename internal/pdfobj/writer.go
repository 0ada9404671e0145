package pdfobj

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
)

// AppendObject appends the serialized form of obj to buf.
func AppendObject(buf *bytes.Buffer, obj Object) error {
	switch v := obj.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(v)))
	case Integer:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int:
		buf.WriteString(strconv.Itoa(v))
	case Real:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite real", ErrInvalidObject)
		}
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	case Name:
		appendName(buf, v)
	case String:
		appendString(buf, v)
	case Raw:
		buf.Write(v)
	case Ref:
		fmt.Fprintf(buf, "%d %d R", v.Num, v.Gen)
	case Array:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := AppendObject(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *Dict:
		buf.WriteString("<<")
		for _, key := range v.keys {
			appendName(buf, key)
			buf.WriteByte(' ')
			if err := AppendObject(buf, v.values[key]); err != nil {
				return err
			}
		}
		buf.WriteString(">>")
	case *Stream:
		v.Dict.Set("Length", Integer(len(v.Data)))
		if err := AppendObject(buf, v.Dict); err != nil {
			return err
		}
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	default:
		return fmt.Errorf("%w: cannot serialize %T", ErrInvalidObject, obj)
	}
	return nil
}

func appendName(buf *bytes.Buffer, n Name) {
	buf.WriteByte('/')
	for i := 0; i < len(n); i++ {
		b := n[i]
		if b < 0x21 || b > 0x7e || b == '#' || isDelimiter(b) {
			fmt.Fprintf(buf, "#%02X", b)
			continue
		}
		buf.WriteByte(b)
	}
}

func appendString(buf *bytes.Buffer, s String) {
	if s.Hex || !printable(s.Value) {
		buf.WriteByte('<')
		buf.WriteString(hex.EncodeToString(s.Value))
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, b := range s.Value {
		switch b {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(b)
		case '\r':
			buf.WriteString(`\r`)
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(')')
}

func printable(value []byte) bool {
	for _, b := range value {
		if (b < 0x20 && b != '\n' && b != '\r' && b != '\t') || b > 0x7e {
			return false
		}
	}
	return true
}

// Writer serializes a complete PDF file with a classic xref table.
type Writer struct {
	w       io.Writer
	n       int64
	offsets map[int]int64
	gens    map[int]int
}

// NewWriter writes the file header for version and returns a Writer.
func NewWriter(w io.Writer, version string) (*Writer, error) {
	pw := &Writer{w: w, offsets: make(map[int]int64), gens: make(map[int]int)}
	if err := pw.write([]byte("%PDF-" + version + "\n%\xe2\xe3\xcf\xd3\n")); err != nil {
		return nil, err
	}
	return pw, nil
}

func (pw *Writer) write(p []byte) error {
	n, err := pw.w.Write(p)
	pw.n += int64(n)
	return err
}

// Len returns the number of bytes written so far.
func (pw *Writer) Len() int64 {
	return pw.n
}

// Offset returns the offset at which object num was written.
func (pw *Writer) Offset(num int) (int64, bool) {
	off, ok := pw.offsets[num]
	return off, ok
}

// WriteObject writes "num gen obj ... endobj".
func (pw *Writer) WriteObject(ref Ref, obj Object) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	if err := AppendObject(&buf, obj); err != nil {
		return fmt.Errorf("failed to serialize object %d: %w", ref.Num, err)
	}
	buf.WriteString("\nendobj\n")

	pw.offsets[ref.Num] = pw.n
	pw.gens[ref.Num] = ref.Gen
	return pw.write(buf.Bytes())
}

// Finish writes the xref table, the trailer with /Size set, startxref and
// the end-of-file marker.
func (pw *Writer) Finish(trailer *Dict) error {
	size := 1
	for num := range pw.offsets {
		if num+1 > size {
			size = num + 1
		}
	}

	var free []int
	for num := 1; num < size; num++ {
		if _, ok := pw.offsets[num]; !ok {
			free = append(free, num)
		}
	}

	xrefStart := pw.n
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	next := 0
	if len(free) > 0 {
		next = free[0]
	}
	fmt.Fprintf(&buf, "%010d 65535 f\r\n", next)
	fi := 0
	for num := 1; num < size; num++ {
		if off, ok := pw.offsets[num]; ok {
			fmt.Fprintf(&buf, "%010d %05d n\r\n", off, pw.gens[num])
			continue
		}
		fi++
		next = 0
		if fi < len(free) {
			next = free[fi]
		}
		fmt.Fprintf(&buf, "%010d 00001 f\r\n", next)
	}

	trailer.Set("Size", Integer(size))
	buf.WriteString("trailer\n")
	if err := AppendObject(&buf, trailer); err != nil {
		return err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefStart)
	return pw.write(buf.Bytes())
}
