package analysis

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a legislative policy analyst for Texas public health agencies and local governments. Analyze the bill provided by the user and respond with a single JSON object following the required schema. Ground every finding in the bill text; do not invent provisions. If the provided text is too sparse to analyze, set the summary field to exactly "` + InsufficientTextMarker + `".`

// billPrompt renders the user prompt for a full-document call.
func billPrompt(billNumber, title, text string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following legislative bill for its impact on Texas public health and local government operations.\n\n")
	writeHeader(&sb, billNumber, title)
	sb.WriteString("Bill text:\n")
	sb.WriteString(text)
	return sb.String()
}

// chunkPrompt renders the user prompt for one chunk of an oversized bill.
// Each chunk is analyzed independently and merged afterwards.
func chunkPrompt(billNumber, title, chunk string, index, total int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze part %d of %d of the following legislative bill for its impact on Texas public health and local government operations. Base findings only on this part.\n\n", index+1, total)
	writeHeader(&sb, billNumber, title)
	fmt.Fprintf(&sb, "Bill text (part %d of %d):\n", index+1, total)
	sb.WriteString(chunk)
	return sb.String()
}

// pdfPrompt renders the prompt accompanying a PDF document upload.
func pdfPrompt(billNumber, title string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the attached legislative bill PDF for its impact on Texas public health and local government operations.\n\n")
	writeHeader(&sb, billNumber, title)
	return sb.String()
}

func writeHeader(sb *strings.Builder, billNumber, title string) {
	if billNumber != "" {
		fmt.Fprintf(sb, "Bill number: %s\n", billNumber)
	}
	if title != "" {
		fmt.Fprintf(sb, "Title: %s\n", title)
	}
	sb.WriteString("\n")
}
