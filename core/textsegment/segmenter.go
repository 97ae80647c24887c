// Package textsegment splits chunk text into speakable sentence units, the
// granularity at which audio is synthesized and cached.
package textsegment

import (
	"strings"
	"unicode"
)

// SentenceUnit is the smallest independently-synthesizable span of text.
type SentenceUnit struct {
	Text                     string
	WordCount                int
	EstimatedDurationSeconds float64
}

// Options tune the segmenter. Zero values fall back to defaults.
type Options struct {
	// WordsPerMinute is a planning heuristic for estimated duration only,
	// never used for playback timing.
	WordsPerMinute int
	// MaxWords is the soft upper bound per unit; sentences longer than
	// HardSplitWords are split at a clause boundary.
	MaxWords       int
	HardSplitWords int
}

const (
	defaultWordsPerMinute = 150
	defaultMaxWords       = 25
	defaultHardSplitWords = 30
)

// Segmenter splits chunk text into sentence units.
type Segmenter struct {
	opts Options
}

// NewSegmenter creates a segmenter with the given options.
func NewSegmenter(opts Options) *Segmenter {
	if opts.WordsPerMinute <= 0 {
		opts.WordsPerMinute = defaultWordsPerMinute
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = defaultMaxWords
	}
	if opts.HardSplitWords <= 0 {
		opts.HardSplitWords = defaultHardSplitWords
	}
	return &Segmenter{opts: opts}
}

// abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"st": true, "jr": true, "sr": true, "rev": true, "hon": true,
	"vs": true, "etc": true, "e.g": true, "i.e": true, "vol": true,
	"col": true, "gen": true, "lt": true, "capt": true,
}

// Segment splits text into ordered sentence units. Empty or whitespace-only
// input yields an empty slice. If the boundary heuristic finds no boundary in
// input longer than one sentence's worth, it falls back to naive whitespace
// splitting so that no caller ever sees a single oversized unit.
func (s *Segmenter) Segment(text string) []SentenceUnit {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	sentences := splitSentences(trimmed)

	if len(sentences) == 1 && countWords(sentences[0]) > s.opts.HardSplitWords*2 {
		// No usable boundaries in a long passage, e.g. malformed punctuation.
		sentences = naiveSplit(sentences[0], s.opts.MaxWords)
	}

	var units []SentenceUnit
	for _, sent := range sentences {
		for _, piece := range s.splitLong(sent) {
			units = append(units, s.makeUnit(piece))
		}
	}

	return s.mergeFragments(units)
}

// makeUnit builds a SentenceUnit with the duration heuristic applied.
func (s *Segmenter) makeUnit(text string) SentenceUnit {
	wc := countWords(text)
	return SentenceUnit{
		Text:                     text,
		WordCount:                wc,
		EstimatedDurationSeconds: float64(wc) / float64(s.opts.WordsPerMinute) * 60,
	}
}

// splitLong hard-splits a sentence over the hard limit at a clause boundary
// (comma or semicolon), never mid-clause and never inside a word.
func (s *Segmenter) splitLong(sentence string) []string {
	if countWords(sentence) <= s.opts.HardSplitWords {
		return []string{sentence}
	}

	words := strings.Fields(sentence)
	var pieces []string
	start := 0
	for start < len(words) {
		end := start + s.opts.MaxWords
		if end >= len(words) {
			pieces = append(pieces, strings.Join(words[start:], " "))
			break
		}

		// Prefer the clause boundary closest to the soft limit, searching
		// backwards to roughly the midpoint of the window.
		split := -1
		for i := end - 1; i > start+s.opts.MaxWords/2; i-- {
			w := words[i]
			if strings.HasSuffix(w, ",") || strings.HasSuffix(w, ";") {
				split = i + 1
				break
			}
		}
		if split == -1 {
			split = end
		}
		pieces = append(pieces, strings.Join(words[start:split], " "))
		start = split
	}
	return pieces
}

// mergeFragments merges clause fragments produced by hard-splitting (pieces
// without sentence-final punctuation) into their neighbor when the result
// stays within the soft limit. Complete short sentences are left alone so
// cached audio lines up with the visible sentence boundaries.
func (s *Segmenter) mergeFragments(units []SentenceUnit) []SentenceUnit {
	if len(units) < 2 {
		return units
	}
	merged := make([]SentenceUnit, 0, len(units))
	for _, u := range units {
		n := len(merged)
		if n > 0 && !endsSentence(merged[n-1].Text) &&
			merged[n-1].WordCount+u.WordCount <= s.opts.MaxWords {
			merged[n-1] = s.makeUnit(merged[n-1].Text + " " + u.Text)
			continue
		}
		merged = append(merged, u)
	}
	return merged
}

// splitSentences finds sentence boundaries on final punctuation, respecting
// common abbreviations and trailing quotes.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		if r == '.' {
			if isAbbreviation(runes, i) {
				continue
			}
			// Decimal numbers and dotted initialisms.
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) && runes[i+1] != '"' && runes[i+1] != '”' && runes[i+1] != '\'' {
				continue
			}
		}

		// Fold trailing quotes and repeated punctuation into the sentence.
		end := i + 1
		for end < len(runes) && (runes[end] == '"' || runes[end] == '”' || runes[end] == '\'' || runes[end] == '!' || runes[end] == '?' || runes[end] == '.') {
			end++
		}

		sent := strings.TrimSpace(string(runes[start:end]))
		if sent != "" {
			sentences = append(sentences, sent)
		}
		start = end
		i = end - 1
	}

	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// isAbbreviation reports whether the period at runes[i] terminates a known
// abbreviation rather than a sentence.
func isAbbreviation(runes []rune, i int) bool {
	j := i - 1
	for j >= 0 && (unicode.IsLetter(runes[j]) || runes[j] == '.') {
		j--
	}
	word := strings.ToLower(strings.TrimSuffix(string(runes[j+1:i]), "."))
	if abbreviations[word] {
		return true
	}
	// "No." abbreviates only before a number ("No. 5"); a bare "No." is a
	// one-word sentence.
	if word == "no" {
		k := i + 1
		for k < len(runes) && unicode.IsSpace(runes[k]) {
			k++
		}
		return k < len(runes) && unicode.IsDigit(runes[k])
	}
	// Single-letter initials like "J." in "J. Austen".
	if i-j == 2 && unicode.IsUpper(runes[i-1]) {
		return true
	}
	return false
}

// naiveSplit falls back to fixed-size whitespace splitting.
func naiveSplit(text string, maxWords int) []string {
	words := strings.Fields(text)
	var pieces []string
	for start := 0; start < len(words); start += maxWords {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		pieces = append(pieces, strings.Join(words[start:end], " "))
	}
	return pieces
}

// endsSentence reports whether the text ends with sentence-final punctuation,
// allowing a trailing quote.
func endsSentence(text string) bool {
	t := strings.TrimRight(text, "\"'”")
	return strings.HasSuffix(t, ".") || strings.HasSuffix(t, "!") || strings.HasSuffix(t, "?")
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
