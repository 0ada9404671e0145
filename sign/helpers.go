package sign

import (
	"bytes"
	"crypto"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

// pdfString returns text as a PDF string literal. Non-ASCII text is
// written as UTF-16BE with a byte order mark, in hex.
func pdfString(text string) string {
	if !isASCII(text) {
		return "<" + hex.EncodeToString(utf16Text(text)) + ">"
	}

	// PDFDocEncoded
	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, ")", "\\)")
	text = strings.ReplaceAll(text, "(", "\\(")
	text = strings.ReplaceAll(text, "\r", "\\r")
	return "(" + text + ")"
}

// textString is pdfString for the object model.
func textString(text string) pdfobj.String {
	if !isASCII(text) {
		return pdfobj.String{Value: utf16Text(text), Hex: true}
	}
	return pdfobj.String{Value: []byte(text)}
}

func utf16Text(text string) []byte {
	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	res, _, err := transform.Bytes(enc, []byte(text))
	if err != nil {
		// Invalid UTF-8 is replaced by the encoder, this is not reached
		// for strings produced by Go code.
		return []byte(text)
	}
	return res
}

func pdfDateTime(date time.Time) string {
	return "(" + pdfDate(date) + ")"
}

// pdfDate formats date as D:YYYYMMDDHHmmSS+HH'mm'.
func pdfDate(date time.Time) string {
	_, offset := date.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("D:%s%c%02d'%02d'", date.Format("20060102150405"), sign, offset/3600, offset%3600/60)
}

// lastStartXref returns the offset recorded after the last startxref
// keyword of data.
func lastStartXref(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("startxref not found")
	}
	fields := bytes.Fields(data[idx+len("startxref"):])
	if len(fields) == 0 {
		return 0, fmt.Errorf("startxref without offset")
	}
	offset, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil || offset < 0 || offset >= int64(len(data)) {
		return 0, fmt.Errorf("invalid startxref offset %q", fields[0])
	}
	return offset, nil
}

var digestOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   {1, 3, 14, 3, 2, 26},
	crypto.SHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	crypto.SHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	crypto.SHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > '\u007F' {
			return false
		}
	}
	return true
}
