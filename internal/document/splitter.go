package document

import (
	"fmt"
	"regexp"
	"strings"
)

// Splitter implements the deterministic chunking policy: markdown documents
// split on headings first, then every section is windowed to at most
// chunkSize runes with a fixed overlap stride between adjacent windows.
// Plain text skips the heading pass.
type Splitter struct {
	chunkSize int
	overlap   int
}

// NewSplitter creates a Splitter. Overlap must be smaller than chunk size.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap %d must be in [0, chunk size %d)", overlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}, nil
}

var headingRe = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// section is an intermediate unit between heading split and windowing.
type section struct {
	heading string
	text    string
}

// Split turns a document into its ordered chunk set.
// The result is deterministic: same document, same chunks, same IDs.
func (s *Splitter) Split(doc Document) []Chunk {
	var sections []section
	if doc.ContentType == ContentTypeMarkdown {
		sections = splitByHeadings(doc.Text)
	} else {
		sections = []section{{text: normalizeWhitespace(doc.Text)}}
	}

	var chunks []Chunk
	ordinal := 0
	for _, sec := range sections {
		for _, window := range s.windows(sec.text) {
			text := strings.TrimSpace(window)
			if text == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				ID:         ChunkID(doc.ID, ordinal, text),
				DocumentID: doc.ID,
				Ordinal:    ordinal,
				Heading:    sec.heading,
				Text:       text,
			})
			ordinal++
		}
	}
	return chunks
}

// splitByHeadings partitions markdown text into heading-delimited sections.
// The heading line stays part of its section text so retrieval sees it.
func splitByHeadings(text string) []section {
	locs := headingRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []section{{text: text}}
	}

	var sections []section
	if pre := strings.TrimSpace(text[:locs[0][0]]); pre != "" {
		sections = append(sections, section{text: pre})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, section{
			heading: strings.TrimSpace(text[loc[4]:loc[5]]),
			text:    strings.TrimSpace(text[loc[0]:end]),
		})
	}
	return sections
}

// windows slices text into at most chunkSize-rune windows. Adjacent windows
// share exactly overlap runes, except that a window break prefers the last
// whitespace in the final fifth of the window so words stay intact.
func (s *Splitter) windows(text string) []string {
	runes := []rune(text)
	if len(runes) <= s.chunkSize {
		return []string{text}
	}

	var out []string
	stride := s.chunkSize - s.overlap
	for start := 0; start < len(runes); {
		end := min(start+s.chunkSize, len(runes))

		// Prefer breaking at whitespace near the end of the window.
		cut := end
		if end < len(runes) {
			for i := end; i > end-s.chunkSize/5 && i > start+1; i-- {
				if isSpace(runes[i-1]) {
					cut = i
					break
				}
			}
		}

		out = append(out, string(runes[start:cut]))
		if cut >= len(runes) {
			break
		}

		next := cut - s.overlap
		if next <= start {
			// Overlap would stall the cursor; fall back to the plain stride.
			next = start + stride
		}
		start = next
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

var whitespaceRe = regexp.MustCompile(`\s*\n\s*`)

// normalizeWhitespace collapses newline runs into single spaces, the same
// cleanup applied to extracted plain text before windowing.
func normalizeWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
