// Package chunk splits extracted text into bounded, ordered spans. Splitting
// prefers paragraph boundaries, then sentence boundaries, and only cuts
// mid-sentence when a single sentence exceeds the target size.
package chunk

import (
	"strings"
	"unicode"
)

// DefaultTargetSize is the preferred chunk length in characters. It
// approximates 512 tokens of mixed prose.
const DefaultTargetSize = 2000

// MinSize is the floor below which a trailing fragment is merged into the
// previous chunk instead of emitted on its own.
const MinSize = 200

// Splitter produces chunks of roughly TargetSize characters.
type Splitter struct {
	TargetSize int
	MinSize    int
}

// New returns a Splitter with the default sizes.
func New() *Splitter {
	return &Splitter{TargetSize: DefaultTargetSize, MinSize: MinSize}
}

// Split returns the ordered chunks of text. Empty or whitespace-only input
// yields nil.
func (s *Splitter) Split(text string) []string {
	target := s.TargetSize
	if target <= 0 {
		target = DefaultTargetSize
	}
	min := s.MinSize
	if min <= 0 || min >= target {
		min = target / 10
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if t := strings.TrimSpace(current.String()); t != "" {
			chunks = append(chunks, t)
		}
		current.Reset()
	}

	for _, para := range splitParagraphs(text) {
		if current.Len() > 0 && current.Len()+len(para)+2 > target {
			flush()
		}
		if len(para) <= target {
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(para)
			continue
		}
		// Paragraph alone exceeds the target; fall back to sentences.
		for _, sent := range splitSentences(para) {
			if current.Len() > 0 && current.Len()+len(sent)+1 > target {
				flush()
			}
			if len(sent) <= target {
				if current.Len() > 0 {
					current.WriteByte(' ')
				}
				current.WriteString(sent)
				continue
			}
			// A single oversized sentence gets hard-cut on rune boundaries.
			flush()
			for _, piece := range hardCut(sent, target) {
				chunks = append(chunks, piece)
			}
		}
	}
	flush()

	// Merge a short trailing fragment into its predecessor.
	if n := len(chunks); n >= 2 && len(chunks[n-1]) < min {
		chunks[n-2] = chunks[n-2] + "\n\n" + chunks[n-1]
		chunks = chunks[:n-1]
	}
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sentence terminators cover both ASCII and CJK punctuation.
func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；', ';':
		return true
	}
	return false
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if !isTerminator(r) {
			continue
		}
		// Keep trailing quotes with the sentence.
		end := i + 1
		for end < len(runes) && (runes[end] == '"' || runes[end] == '”' || runes[end] == '\'') {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) && runes[end] < 0x2E80 {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func hardCut(text string, target int) []string {
	var out []string
	runes := []rune(text)
	var b strings.Builder
	for _, r := range runes {
		b.WriteRune(r)
		if b.Len() >= target {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
