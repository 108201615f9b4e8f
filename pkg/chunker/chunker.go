// Package chunker splits oversized bill text into token-bounded chunks.
//
// Splitting is structure-aware: legislative section markers are preferred
// boundaries, then paragraphs, then sentences, then raw character slices.
// Concatenating the returned chunks reproduces the input.
package chunker

import (
	"math"
	"regexp"
	"strings"
)

// TokenCounter is the counting dependency; satisfied by tokens.Counter.
type TokenCounter interface {
	Count(text string) int
	Approximate() bool
}

// Section-style boundaries that mark legislative structure. A document is
// considered structured when any single pattern yields more than
// structureThreshold matches.
var structurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^(?:Section|SEC\.|SECTION|Article|ARTICLE|Title|TITLE)\s+\d+\.?`),
	regexp.MustCompile(`(?m)^§+\s*\d+`),
	regexp.MustCompile(`(?m)^\d+\.\s+[A-Z]`),
	regexp.MustCompile(`(?m)^[A-Z][A-Z\s]+$`),
	regexp.MustCompile(`\*\*\*.*?\*\*\*`),
}

const structureThreshold = 3

var blankLineRe = regexp.MustCompile(`\n\s*\n`)

// Splitter packs text into chunks that each fit within a token budget.
type Splitter struct {
	counter TokenCounter
}

// NewSplitter returns a Splitter using the given counter.
func NewSplitter(counter TokenCounter) *Splitter {
	return &Splitter{counter: counter}
}

// Split divides text into chunks of at most maxTokens tokens each and reports
// whether legislative structure was detected. When the counter is running on
// its heuristic fallback the budget is tightened by a further 20%.
func (s *Splitter) Split(text string, maxTokens int) ([]string, bool) {
	if s.counter.Approximate() {
		maxTokens = maxTokens * 4 / 5
	}
	if maxTokens < 1 {
		maxTokens = 1
	}
	if s.counter.Count(text) <= maxTokens {
		return []string{text}, false
	}

	structured := hasStructure(text)
	var segments []string
	if structured {
		segments = splitAtBoundaries(text)
	} else {
		segments = splitParagraphs(text)
	}

	chunks := s.pack(segments, maxTokens)
	return chunks, structured
}

func hasStructure(text string) bool {
	for _, re := range structurePatterns {
		if len(re.FindAllStringIndex(text, structureThreshold+2)) > structureThreshold {
			return true
		}
	}
	return false
}

// splitAtBoundaries cuts the text at every structural marker, keeping each
// delimiter at the head of the segment it introduces.
func splitAtBoundaries(text string) []string {
	cutSet := map[int]struct{}{}
	for _, re := range structurePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if loc[0] > 0 {
				cutSet[loc[0]] = struct{}{}
			}
		}
	}
	if len(cutSet) == 0 {
		return []string{text}
	}

	cuts := make([]int, 0, len(cutSet))
	for c := range cutSet {
		cuts = append(cuts, c)
	}
	sortInts(cuts)

	segments := make([]string, 0, len(cuts)+1)
	prev := 0
	for _, c := range cuts {
		segments = append(segments, text[prev:c])
		prev = c
	}
	segments = append(segments, text[prev:])
	return segments
}

// splitParagraphs splits on blank lines, keeping separators attached to the
// preceding paragraph so concatenation is lossless.
func splitParagraphs(text string) []string {
	locs := blankLineRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	segments := make([]string, 0, len(locs)+1)
	prev := 0
	for _, loc := range locs {
		segments = append(segments, text[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(text) {
		segments = append(segments, text[prev:])
	}
	return segments
}

// pack greedily accumulates segments into chunks, always preferring to fill
// an earlier chunk. Segments that alone exceed the budget are broken down
// further by sentence and finally by character count.
func (s *Splitter) pack(segments []string, maxTokens int) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, seg := range segments {
		segTokens := s.counter.Count(seg)
		if segTokens > maxTokens {
			flush()
			chunks = append(chunks, s.splitOversized(seg, maxTokens)...)
			continue
		}
		if currentTokens+segTokens > maxTokens {
			flush()
		}
		current.WriteString(seg)
		currentTokens += segTokens
	}
	flush()
	return chunks
}

// splitOversized breaks a single over-budget segment by sentence boundaries,
// falling back to character slices for any sentence that still exceeds the
// budget.
func (s *Splitter) splitOversized(seg string, maxTokens int) []string {
	var pieces []string
	for _, sentence := range splitSentences(seg) {
		if s.counter.Count(sentence) > maxTokens {
			pieces = append(pieces, s.splitByChars(sentence, maxTokens)...)
		} else {
			pieces = append(pieces, sentence)
		}
	}
	return s.packStrings(pieces, maxTokens)
}

// packStrings is pack without the oversized recursion; every input already
// fits the budget.
func (s *Splitter) packStrings(pieces []string, maxTokens int) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0
	for _, p := range pieces {
		tok := s.counter.Count(p)
		if currentTokens+tok > maxTokens && current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
		current.WriteString(p)
		currentTokens += tok
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitByChars slices text at roughly 90% of the character budget implied by
// the observed chars-per-token ratio, cutting on rune boundaries.
func (s *Splitter) splitByChars(text string, maxTokens int) []string {
	tokens := s.counter.Count(text)
	if tokens == 0 {
		return []string{text}
	}
	ratio := float64(len(text)) / float64(tokens)
	cut := int(math.Ceil(float64(maxTokens)*ratio) * 0.9)
	if cut < 1 {
		cut = 1
	}

	var out []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += cut {
		end := start + cut
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// splitSentences cuts after sentence-final punctuation followed by
// whitespace, keeping the whitespace with the sentence it ends. Go's RE2
// engine has no lookbehind, so the abbreviation guards (initials like
// "J.R.", honorifics like "Dr.") are coded explicitly.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		c := text[i]
		if c != '.' && c != '?' && c != '!' {
			continue
		}
		next := text[i+1]
		if next != ' ' && next != '\t' && next != '\n' && next != '\r' {
			continue
		}
		if c == '.' && isAbbreviation(text, i) {
			continue
		}
		// Include the trailing whitespace run in this sentence.
		end := i + 1
		for end < len(text) && (text[end] == ' ' || text[end] == '\t' || text[end] == '\n' || text[end] == '\r') {
			end++
		}
		out = append(out, text[start:end])
		start = end
		i = end - 1
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// isAbbreviation reports whether the period at index i ends an initial or a
// short honorific rather than a sentence. Mirrors the guards
// (?<!\w\.\w.)(?<![A-Z][a-z]\.) of the classical sentence-split regex.
func isAbbreviation(text string, i int) bool {
	// "X.Y." style initials: word char, dot, word char immediately before.
	if i >= 3 && isWordChar(text[i-3]) && text[i-2] == '.' && isWordChar(text[i-1]) {
		return true
	}
	// "Dr." / "Mr." style: capital letter then lowercase letter before the dot.
	if i >= 2 && text[i-2] >= 'A' && text[i-2] <= 'Z' && text[i-1] >= 'a' && text[i-1] <= 'z' {
		return true
	}
	return false
}

func isWordChar(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

func sortInts(a []int) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}
