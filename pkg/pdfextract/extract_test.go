package pdfextract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractRejectsGarbage(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract([]byte("this is not a pdf at all"))
	require.Error(t, err)
}

func TestExtractRejectsTruncatedPDF(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract([]byte("%PDF-1.7\n1 0 obj\n<<"))
	require.Error(t, err)
}

func TestExtractEmptyInput(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract(nil)
	require.Error(t, err)
}
