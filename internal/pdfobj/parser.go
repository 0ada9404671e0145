package pdfobj

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnexpectedEOF = errors.New("unexpected end of data")
	ErrInvalidObject = errors.New("invalid PDF object")
)

// Parser reads objects from an in-memory buffer.
type Parser struct {
	data []byte
	pos  int
}

// NewParser returns a parser positioned at offset.
func NewParser(data []byte, offset int) *Parser {
	return &Parser{data: data, pos: offset}
}

// Pos returns the current offset.
func (p *Parser) Pos() int {
	return p.pos
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == 0 || b == '\f'
}

func isDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (p *Parser) skipWhitespace() {
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		switch {
		case isWhitespace(b):
			p.pos++
		case b == '%':
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *Parser) readToken() []byte {
	p.skipWhitespace()
	start := p.pos
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		p.pos++
	}
	return p.data[start:p.pos]
}

// Keyword consumes kw when it is the next token and reports whether it did.
func (p *Parser) Keyword(kw string) bool {
	save := p.pos
	if string(p.readToken()) == kw {
		return true
	}
	p.pos = save
	return false
}

// ParseObject parses the next direct object or reference.
func (p *Parser) ParseObject() (Object, error) {
	p.skipWhitespace()
	if p.pos >= len(p.data) {
		return nil, ErrUnexpectedEOF
	}

	switch b := p.data[p.pos]; {
	case b == '/':
		return p.parseName()
	case b == '(':
		return p.parseLiteralString()
	case b == '<':
		if p.pos+1 < len(p.data) && p.data[p.pos+1] == '<' {
			p.pos += 2
			return p.parseDict()
		}
		return p.parseHexString()
	case b == '[':
		p.pos++
		return p.parseArray()
	case b == '+' || b == '-' || b == '.' || (b >= '0' && b <= '9'):
		return p.parseNumberOrRef()
	}

	start := p.pos
	token := p.readToken()
	switch string(token) {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	case "null":
		return Null{}, nil
	}
	if len(token) == 0 {
		p.pos++
	}
	return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidObject, token, start)
}

func (p *Parser) parseName() (Name, error) {
	p.pos++ // '/'
	var buf bytes.Buffer
	for p.pos < len(p.data) {
		b := p.data[p.pos]
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		if b == '#' && p.pos+2 < len(p.data) {
			if v, err := strconv.ParseUint(string(p.data[p.pos+1:p.pos+3]), 16, 8); err == nil {
				buf.WriteByte(byte(v))
				p.pos += 3
				continue
			}
		}
		buf.WriteByte(b)
		p.pos++
	}
	return Name(buf.String()), nil
}

func (p *Parser) parseLiteralString() (String, error) {
	p.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for {
		if p.pos >= len(p.data) {
			return String{}, fmt.Errorf("%w: unterminated string", ErrUnexpectedEOF)
		}
		b := p.data[p.pos]
		p.pos++
		switch b {
		case '(':
			depth++
			buf.WriteByte(b)
		case ')':
			depth--
			if depth == 0 {
				return String{Value: buf.Bytes()}, nil
			}
			buf.WriteByte(b)
		case '\\':
			if p.pos >= len(p.data) {
				return String{}, fmt.Errorf("%w: unterminated string", ErrUnexpectedEOF)
			}
			e := p.data[p.pos]
			p.pos++
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if p.pos < len(p.data) && p.data[p.pos] == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && p.pos < len(p.data); i++ {
						c := p.data[p.pos]
						if c < '0' || c > '7' {
							break
						}
						v = v*8 + int(c-'0')
						p.pos++
					}
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(e)
				}
			}
		case '\r':
			// An unescaped end-of-line is read as a single newline.
			if p.pos < len(p.data) && p.data[p.pos] == '\n' {
				p.pos++
			}
			buf.WriteByte('\n')
		default:
			buf.WriteByte(b)
		}
	}
}

func (p *Parser) parseHexString() (String, error) {
	p.pos++ // '<'
	end := bytes.IndexByte(p.data[p.pos:], '>')
	if end < 0 {
		return String{}, fmt.Errorf("%w: unterminated hex string", ErrUnexpectedEOF)
	}
	digits := make([]byte, 0, end)
	for _, b := range p.data[p.pos : p.pos+end] {
		if !isWhitespace(b) {
			digits = append(digits, b)
		}
	}
	p.pos += end + 1
	if len(digits)%2 != 0 {
		digits = append(digits, '0')
	}
	value := make([]byte, hex.DecodedLen(len(digits)))
	if _, err := hex.Decode(value, digits); err != nil {
		return String{}, fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}
	return String{Value: value, Hex: true}, nil
}

func (p *Parser) parseDict() (*Dict, error) {
	dict := NewDict()
	for {
		p.skipWhitespace()
		if p.pos+1 < len(p.data) && p.data[p.pos] == '>' && p.data[p.pos+1] == '>' {
			p.pos += 2
			return dict, nil
		}
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrUnexpectedEOF)
		}
		if p.data[p.pos] != '/' {
			return nil, fmt.Errorf("%w: dictionary key expected at offset %d", ErrInvalidObject, p.pos)
		}
		key, err := p.parseName()
		if err != nil {
			return nil, err
		}
		value, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		// A null value is equivalent to an absent entry.
		if _, ok := value.(Null); ok {
			continue
		}
		dict.Set(key, value)
	}
}

func (p *Parser) parseArray() (Array, error) {
	arr := Array{}
	for {
		p.skipWhitespace()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("%w: unterminated array", ErrUnexpectedEOF)
		}
		if p.data[p.pos] == ']' {
			p.pos++
			return arr, nil
		}
		item, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, item)
	}
}

func (p *Parser) parseNumber() (Object, error) {
	token := p.readToken()
	if len(token) == 0 {
		return nil, fmt.Errorf("%w: number expected at offset %d", ErrInvalidObject, p.pos)
	}
	if i, err := strconv.ParseInt(string(token), 10, 64); err == nil {
		return Integer(i), nil
	}
	s := string(token)
	if s[0] == '+' {
		s = s[1:]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad number %q", ErrInvalidObject, token)
	}
	return Real(f), nil
}

func (p *Parser) parseNumberOrRef() (Object, error) {
	first, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	num, ok := first.(Integer)
	if !ok || num < 0 {
		return first, nil
	}

	save := p.pos
	second, err := p.parseNumber()
	if err == nil {
		if gen, ok := second.(Integer); ok && gen >= 0 {
			p.skipWhitespace()
			if p.pos < len(p.data) && p.data[p.pos] == 'R' &&
				(p.pos+1 == len(p.data) || isWhitespace(p.data[p.pos+1]) || isDelimiter(p.data[p.pos+1])) {
				p.pos++
				return Ref{Num: int(num), Gen: int(gen)}, nil
			}
		}
	}
	p.pos = save
	return first, nil
}
