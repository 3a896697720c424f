// Package chunk splits document bodies into overlapping windows sized for
// embedding, and provides the token estimator shared with context assembly.
package chunk

import (
	"strings"
	"unicode"
)

// Estimator converts text to an approximate token count. All budget math in
// the pipeline goes through the same estimator so the numbers stay
// comparable across components.
type Estimator interface {
	Tokens(s string) int
}

// CharEstimator approximates tokens as len(s)/CharsPerToken, rounded up.
// Good enough for budget packing; the generation model does its own exact
// accounting server-side.
type CharEstimator struct {
	CharsPerToken int
}

// NewCharEstimator returns the default 4-chars-per-token estimator.
func NewCharEstimator() CharEstimator { return CharEstimator{CharsPerToken: 4} }

// Tokens implements Estimator.
func (e CharEstimator) Tokens(s string) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + per - 1) / per
}

// Config bounds one splitter.
type Config struct {
	// MaxTokens is the chunk size cap. Default: 512.
	MaxTokens int `yaml:"max_tokens"`

	// OverlapTokens is how much of a chunk's tail is repeated at the head
	// of the next chunk. Default: 64.
	OverlapTokens int `yaml:"overlap_tokens"`
}

func (c *Config) defaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxTokens {
		c.OverlapTokens = 64
	}
}

// Splitter cuts text on paragraph boundaries first, sentences second and
// words last, then merges the pieces back into overlapping chunks.
type Splitter struct {
	maxChars     int
	overlapChars int
}

// NewSplitter creates a Splitter. Character budgets derive from the token
// config via the 4-chars-per-token approximation.
func NewSplitter(cfg Config) *Splitter {
	cfg.defaults()
	return &Splitter{
		maxChars:     cfg.MaxTokens * 4,
		overlapChars: cfg.OverlapTokens * 4,
	}
}

// Split returns the chunks of text in document order. Text at or under the
// cap comes back as a single chunk; empty or whitespace-only text yields nil.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.maxChars {
		return []string{text}
	}
	return merge(segments(text, s.maxChars), s.maxChars, s.overlapChars)
}

// segments breaks text into pieces no longer than maxChars, preferring
// paragraph boundaries, then sentences, then words.
func segments(text string, maxChars int) []string {
	var out []string
	for p := range strings.SplitSeq(text, "\n\n") {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case len(p) <= maxChars:
			out = append(out, p)
		default:
			for _, sent := range sentences(p) {
				if len(sent) <= maxChars {
					out = append(out, sent)
				} else {
					out = append(out, words(sent, maxChars)...)
				}
			}
		}
	}
	return out
}

// sentences splits a paragraph on terminal punctuation followed by space.
// Decimal points and single-letter initials do not terminate a sentence.
func sentences(p string) []string {
	var out []string
	runes := []rune(p)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		terminal := r == '!' || r == '?' || r == '。' || r == '！' || r == '？'
		if r == '.' {
			prevDigit := i > 0 && unicode.IsDigit(runes[i-1])
			nextDigit := i+1 < len(runes) && unicode.IsDigit(runes[i+1])
			initial := i >= 1 && unicode.IsUpper(runes[i-1]) && (i < 2 || !unicode.IsLetter(runes[i-2]))
			terminal = !(prevDigit && nextDigit) && !initial
		}
		if !terminal {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if sent := strings.TrimSpace(string(runes[start : i+1])); sent != "" {
			out = append(out, sent)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

// words packs whitespace-separated words greedily up to maxChars, hard
// splitting any single word longer than the cap.
func words(text string, maxChars int) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, w := range strings.Fields(text) {
		for len(w) > maxChars {
			flush()
			out = append(out, w[:maxChars])
			w = w[maxChars:]
		}
		if b.Len() > 0 && b.Len()+1+len(w) > maxChars {
			flush()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	flush()
	return out
}

// merge joins segments into chunks up to maxChars, carrying an overlap
// suffix from each finished chunk into the next.
func merge(segs []string, maxChars, overlapChars int) []string {
	var chunks []string
	var b strings.Builder
	for _, seg := range segs {
		if b.Len() > 0 && b.Len()+1+len(seg) > maxChars {
			done := b.String()
			chunks = append(chunks, done)
			b.Reset()
			if tail := overlapTail(done, overlapChars); tail != "" && len(tail)+1+len(seg) <= maxChars {
				b.WriteString(tail)
			}
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(seg)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// overlapTail returns the last n characters of text, trimmed to a word
// boundary so the overlap never starts mid-word.
func overlapTail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if i := strings.IndexAny(tail, " \n"); i >= 0 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}
