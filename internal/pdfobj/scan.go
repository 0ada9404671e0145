package pdfobj

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

var (
	objHeader     = regexp.MustCompile(`(\d+)[ \t\r\n\f\x00]+(\d+)[ \t\r\n\f\x00]+obj\b`)
	versionHeader = regexp.MustCompile(`%PDF-(\d\.\d)`)
)

// Scan parses every indirect object in data.
//
// Objects are located by a linear scan rather than through the xref
// sections, so files with damaged cross-reference data still load. When an
// object number is defined more than once the last definition wins, which
// matches the semantics of incremental updates. Objects inside object
// streams are expanded into regular objects; object streams and
// cross-reference streams themselves are dropped. The trailer is the merge
// of all trailer dictionaries and cross-reference stream dictionaries in
// file order.
func Scan(data []byte) (*File, error) {
	f := &File{
		Version: "1.7",
		Objects: make(map[int]*Indirect),
		Trailer: NewDict(),
	}
	if m := versionHeader.FindSubmatch(data); m != nil {
		f.Version = string(m[1])
	}

	pos := 0
	for pos < len(data) {
		loc := objHeader.FindSubmatchIndex(data[pos:])
		if loc == nil {
			f.mergeTrailers(data, pos, len(data))
			break
		}
		start := pos + loc[0]
		if start > 0 && !isWhitespace(data[start-1]) && !isDelimiter(data[start-1]) {
			pos = pos + loc[1]
			continue
		}
		f.mergeTrailers(data, pos, start)

		num, _ := strconv.Atoi(string(data[pos+loc[2] : pos+loc[3]]))
		gen, _ := strconv.Atoi(string(data[pos+loc[4] : pos+loc[5]]))
		ind, end, err := parseIndirect(data, pos+loc[1], num, gen)
		if err != nil {
			// Skip what cannot be read, later revisions may redefine it.
			pos = pos + loc[1]
			continue
		}
		ind.Offset = int64(start)
		pos = end

		if stream, ok := ind.Value.(*Stream); ok {
			switch t, _ := stream.Dict.Name("Type"); t {
			case "XRef":
				f.mergeDict(stream.Dict)
				continue
			case "ObjStm":
				if err := f.expandObjectStream(stream); err != nil {
					return nil, fmt.Errorf("failed to expand object stream %d: %w", num, err)
				}
				continue
			}
		}
		f.Objects[num] = ind
	}

	if len(f.Objects) == 0 {
		return nil, fmt.Errorf("%w: no objects found", ErrInvalidObject)
	}
	return f, nil
}

func parseIndirect(data []byte, offset, num, gen int) (*Indirect, int, error) {
	p := NewParser(data, offset)
	value, err := p.ParseObject()
	if err != nil {
		return nil, 0, err
	}

	if dict, ok := value.(*Dict); ok && p.Keyword("stream") {
		start := p.pos
		if start < len(data) && data[start] == '\r' {
			start++
		}
		if start < len(data) && data[start] == '\n' {
			start++
		}
		body, end, err := streamBody(data, start, dict)
		if err != nil {
			return nil, 0, err
		}
		value = &Stream{Dict: dict, Data: body}
		p.pos = end
		p.Keyword("endstream")
	}

	p.Keyword("endobj")
	return &Indirect{Ref: Ref{Num: num, Gen: gen}, Value: value}, p.pos, nil
}

// streamBody returns the stream bytes starting at start. A direct /Length
// is trusted when it is followed by endstream; otherwise the data runs to
// the next endstream keyword.
func streamBody(data []byte, start int, dict *Dict) ([]byte, int, error) {
	if length, ok := dict.Int("Length"); ok && length >= 0 && start+int(length) <= len(data) {
		end := start + int(length)
		rest := bytes.TrimLeft(data[end:min(end+32, len(data))], " \t\r\n\f\x00")
		if bytes.HasPrefix(rest, []byte("endstream")) {
			return data[start:end], end, nil
		}
	}

	idx := bytes.Index(data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, 0, fmt.Errorf("%w: unterminated stream", ErrUnexpectedEOF)
	}
	end := start + idx
	body := data[start:end]
	switch {
	case bytes.HasSuffix(body, []byte("\r\n")):
		body = body[:len(body)-2]
	case bytes.HasSuffix(body, []byte("\n")), bytes.HasSuffix(body, []byte("\r")):
		body = body[:len(body)-1]
	}
	return body, end, nil
}

func (f *File) mergeTrailers(data []byte, from, to int) {
	gap := data[from:to]
	for {
		idx := bytes.Index(gap, []byte("trailer"))
		if idx < 0 {
			return
		}
		p := NewParser(data, from+idx+len("trailer"))
		if obj, err := p.ParseObject(); err == nil {
			if dict, ok := obj.(*Dict); ok {
				f.mergeDict(dict)
			}
		}
		next := p.pos - from
		if next <= idx {
			next = idx + len("trailer")
		}
		if next >= len(gap) {
			return
		}
		from += next
		gap = gap[next:]
	}
}

func (f *File) mergeDict(dict *Dict) {
	for _, key := range []Name{"Root", "Info", "ID", "Encrypt", "Size"} {
		if v := dict.Get(key); v != nil {
			f.Trailer.Set(key, v)
		}
	}
}

func (f *File) expandObjectStream(stream *Stream) error {
	content, err := Decode(stream)
	if err != nil {
		return err
	}
	n, _ := stream.Dict.Int("N")
	first, _ := stream.Dict.Int("First")
	if first < 0 || int(first) > len(content) {
		return fmt.Errorf("%w: bad /First", ErrInvalidObject)
	}

	header := NewParser(content[:first], 0)
	for i := int64(0); i < n; i++ {
		numObj, err := header.parseNumber()
		if err != nil {
			return err
		}
		offObj, err := header.parseNumber()
		if err != nil {
			return err
		}
		num, ok1 := numObj.(Integer)
		off, ok2 := offObj.(Integer)
		if !ok1 || !ok2 || int(first)+int(off) > len(content) {
			return fmt.Errorf("%w: bad object stream header", ErrInvalidObject)
		}
		value, err := NewParser(content, int(first)+int(off)).ParseObject()
		if err != nil {
			return err
		}
		f.Objects[int(num)] = &Indirect{Ref: Ref{Num: int(num)}, Value: value, Offset: -1}
	}
	return nil
}

// Decode returns the decoded data of a stream. Only /FlateDecode without
// predictors and unfiltered streams are supported.
func Decode(stream *Stream) ([]byte, error) {
	switch filter := stream.Dict.Get("Filter").(type) {
	case nil:
		return stream.Data, nil
	case Name:
		if filter == "FlateDecode" {
			return inflate(stream.Data)
		}
		return nil, fmt.Errorf("%w: unsupported filter %s", ErrInvalidObject, filter)
	case Array:
		if len(filter) == 1 && filter[0] == Name("FlateDecode") {
			return inflate(stream.Data)
		}
		return nil, fmt.Errorf("%w: unsupported filter chain %v", ErrInvalidObject, filter)
	default:
		return nil, fmt.Errorf("%w: bad /Filter", ErrInvalidObject)
	}
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
