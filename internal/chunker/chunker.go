// Package chunker splits raw text into an ordered sequence of overlapping
// chunks sized for embedding. Splitting is deterministic: the same input
// always produces the same output, on any machine.
package chunker

import (
	"strings"
	"unicode"
)

const (
	// DefaultTargetBytes is the target chunk window. Paragraphs and
	// sentences are packed up to roughly this size before a boundary is
	// forced.
	DefaultTargetBytes = 1536

	// DefaultOverlapBytes is carried from the tail of one chunk into the
	// head of the next to preserve context across a split.
	DefaultOverlapBytes = 128
)

// Config controls chunk sizing. A zero or negative TargetBytes falls back
// to DefaultTargetBytes; OverlapBytes of 0 means no overlap, and a negative
// OverlapBytes or one not below TargetBytes falls back to
// DefaultOverlapBytes.
type Config struct {
	TargetBytes  int
	OverlapBytes int
}

func (c Config) withDefaults() Config {
	if c.TargetBytes <= 0 {
		c.TargetBytes = DefaultTargetBytes
	}
	if c.OverlapBytes < 0 || c.OverlapBytes >= c.TargetBytes {
		c.OverlapBytes = DefaultOverlapBytes
	}
	return c
}

// Split breaks text into an ordered sequence of chunks. A short text
// produces exactly one chunk. The algorithm splits on paragraph
// boundaries first, falls through to sentence boundaries for any
// paragraph that still exceeds the target window, and hard-cuts on
// character boundaries as a last resort.
func Split(text string, cfg Config) []string {
	cfg = cfg.withDefaults()

	if len(text) <= cfg.TargetBytes {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	paragraphs := splitParagraphs(text)
	var units []string
	for _, p := range paragraphs {
		if len(p) <= cfg.TargetBytes {
			units = append(units, p)
			continue
		}
		sentences := splitSentences(p)
		for _, s := range sentences {
			if len(s) <= cfg.TargetBytes {
				units = append(units, s)
				continue
			}
			units = append(units, hardCut(s, cfg.TargetBytes)...)
		}
	}

	return pack(units, cfg)
}

// pack greedily packs units into windows of roughly TargetBytes, carrying
// OverlapBytes of trailing context from one chunk into the next.
func pack(units []string, cfg Config) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	for _, u := range units {
		if current.Len() > 0 && current.Len()+len(u)+1 > cfg.TargetBytes {
			flush()
			tail := overlapTail(current.String(), cfg.OverlapBytes)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(" ")
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(u)
	}
	flush()

	out := chunks[:0]
	for _, c := range chunks {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	start := len(s) - n
	for start < len(s) && !isBoundaryByte(s[start]) {
		start++
	}
	return strings.TrimSpace(s[start:])
}

func isBoundaryByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences splits on '.', '!', '?' followed by whitespace or end of
// string, keeping the terminator attached to its sentence.
func splitSentences(p string) []string {
	var out []string
	var start int
	runes := []rune(p)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		atEnd := i == len(runes)-1
		followedBySpace := !atEnd && unicode.IsSpace(runes[i+1])
		if !atEnd && !followedBySpace {
			continue
		}
		sentence := strings.TrimSpace(string(runes[start : i+1]))
		if sentence != "" {
			out = append(out, sentence)
		}
		start = i + 1
	}
	if start < len(runes) {
		rest := strings.TrimSpace(string(runes[start:]))
		if rest != "" {
			out = append(out, rest)
		}
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(p)}
	}
	return out
}

// hardCut splits s into windows of at most n bytes, cutting at the
// nearest preceding rune boundary so multi-byte UTF-8 sequences are never
// split in half.
func hardCut(s string, n int) []string {
	if n <= 0 {
		n = DefaultTargetBytes
	}
	var out []string
	for len(s) > n {
		cut := n
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = n
		}
		piece := strings.TrimSpace(s[:cut])
		if piece != "" {
			out = append(out, piece)
		}
		s = s[cut:]
	}
	if rest := strings.TrimSpace(s); rest != "" {
		out = append(out, rest)
	}
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
