// Package chunker splits raw textbook documents into header-scoped
// chunks, the unit of embedding and retrieval.
//
// A chunk is the contiguous body text between two markdown headings,
// associated with the nearest preceding heading. Text before the first
// heading is collected under DefaultHeader. A chunk never spans two
// headings, and chunk order follows document order.
package chunker

import (
	"bufio"
	"regexp"
	"strings"
)

// DefaultHeader is assigned to body text that precedes the first
// heading, and to documents without any headings.
const DefaultHeader = "Introduction"

// DefaultMinChunkLen is the body-length floor used by ingestion.
// Chunks shorter than this are boilerplate (nav stubs, badge lines)
// that pollute nearest-neighbor results.
const DefaultMinChunkLen = 50

// headingPattern matches ATX-style markdown headings: one or more '#'
// markers followed by whitespace and the heading text.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Chunk is a header-scoped span of a document's body text.
type Chunk struct {
	DocID  string
	Header string
	Text   string
}

// Splitter splits document text into chunks.
//
// MinChunkLen is the minimum body length (in bytes, after trimming) a
// chunk must have to be kept; 0 keeps every non-empty chunk.
type Splitter struct {
	MinChunkLen int
}

// Split scans text top to bottom and returns its chunks in document
// order. Bodies are whitespace-trimmed; empty bodies and bodies below
// MinChunkLen are dropped. A document with no headings yields at most
// one chunk under DefaultHeader.
func (s Splitter) Split(docID, text string) []Chunk {
	chunks, _ := s.SplitCounting(docID, text)
	return chunks
}

// SplitCounting is Split plus the number of non-empty chunks dropped
// by the MinChunkLen floor.
func (s Splitter) SplitCounting(docID, text string) ([]Chunk, int) {
	var chunks []Chunk
	dropped := 0

	header := DefaultHeader
	var body strings.Builder

	flush := func() {
		trimmed := strings.TrimSpace(body.String())
		body.Reset()
		if trimmed == "" {
			return
		}
		if len(trimmed) < s.MinChunkLen {
			dropped++
			return
		}
		chunks = append(chunks, Chunk{
			DocID:  docID,
			Header: header,
			Text:   trimmed,
		})
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()
			header = strings.TrimSpace(m[2])
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()

	return chunks, dropped
}

// frontmatterDelim delimits the optional metadata block at the very
// start of a document. The block is repository metadata (title, slug,
// sidebar position), not content, and must not be indexed.
const frontmatterDelim = "---"

// StripFrontmatter removes a leading frontmatter block, returning the
// remaining document body. Text without a complete block at the very
// first line is returned unchanged.
func StripFrontmatter(text string) string {
	rest, ok := strings.CutPrefix(text, frontmatterDelim+"\n")
	if !ok {
		// Tolerate CRLF line endings from Windows-authored content.
		rest, ok = strings.CutPrefix(text, frontmatterDelim+"\r\n")
		if !ok {
			return text
		}
	}

	// Walk raw bytes rather than scanner tokens: bufio.ScanLines
	// strips the trailing \r, which would undercount CRLF lines and
	// leak frontmatter tail bytes into the body.
	offset := 0
	for offset < len(rest) {
		line := rest[offset:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
			offset += nl + 1
		} else {
			offset = len(rest)
		}
		if strings.TrimRight(line, "\r") == frontmatterDelim {
			return rest[offset:]
		}
	}

	// Unterminated block: treat the delimiter as content.
	return text
}
