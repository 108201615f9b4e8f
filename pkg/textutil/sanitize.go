// Package textutil normalizes bill text before storage, tokenization, or
// prompt composition.
package textutil

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// C0 control characters except tab, newline, and carriage return.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// Binary file signatures recognized by DetectBinarySignature.
var (
	pdfMagic = []byte("%PDF-")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
	zipMagic = []byte("PK\x03\x04")
)

// EnsurePlainString coerces an arbitrary value into a clean UTF-8 string.
// Byte slices are decoded with invalid sequences replaced, any other non-string
// value is formatted, and C0 control characters are stripped.
func EnsurePlainString(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = strings.ToValidUTF8(string(t), "�")
	case nil:
		return ""
	default:
		s = fmt.Sprintf("%v", t)
	}
	s = strings.ToValidUTF8(s, "�")
	return controlChars.ReplaceAllString(s, "")
}

// StripControl removes C0 control characters (except \t \n \r) from s.
func StripControl(s string) string {
	return controlChars.ReplaceAllString(s, "")
}

// IsBinaryPDF reports whether v is a byte sequence starting with the PDF
// magic header. Strings are never treated as PDFs.
func IsBinaryPDF(v any) bool {
	b, ok := v.([]byte)
	return ok && bytes.HasPrefix(b, pdfMagic)
}

// DetectBinarySignature sniffs well-known binary signatures and returns the
// matching content type. Unrecognized content is reported as non-binary.
func DetectBinarySignature(data []byte) (contentType string, binary bool) {
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		return "application/pdf", true
	case bytes.HasPrefix(data, oleMagic):
		return "application/msword", true
	case bytes.HasPrefix(data, zipMagic):
		return "application/zip", true
	default:
		return "text/plain", false
	}
}
