// Package transcript implements [kws.Verifier] by transcribing the span and
// matching the text against the configured wake phrases.
//
// Speech recognisers routinely mishear uncommon wake phrases ("hey hark"
// becomes "hey heart" or "a hark"), so matching is phonetic rather than
// literal. The algorithm proceeds in two stages for every window of the
// transcript with as many words as the phrase:
//
//  1. Phonetic alignment: Double Metaphone codes are computed for each word.
//     A window aligns phonetically when every phrase word shares a code with
//     the window word in the same position.
//
//  2. Jaro-Winkler ranking: the window's similarity is the best of the
//     full-string and space-stripped Jaro-Winkler scores. Aligned windows are
//     accepted above the phonetic threshold; others only above the higher
//     fuzzy threshold.
//
// The best-scoring phrase wins. A transcription failure is a verification
// fault, never a non-match.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/hark/pkg/provider/kws"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
)

// Option is a functional option for configuring a [Verifier].
type Option func(*Verifier)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically aligned window. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(v *Verifier) { v.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a window that
// does not align phonetically. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(v *Verifier) { v.fuzzyThreshold = threshold }
}

// WithSTTConfig sets the audio format and language forwarded to the
// transcriber. The wake phrases are always passed as the prompt hint.
func WithSTTConfig(cfg stt.Config) Option {
	return func(v *Verifier) { v.sttCfg = cfg }
}

// Verifier is a transcription-backed keyword verifier.
type Verifier struct {
	transcriber       stt.Transcriber
	phrases           []string
	tokens            [][]string
	codes             [][]map[string]struct{}
	sttCfg            stt.Config
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Verifier for phrases using tr for recognition.
func New(tr stt.Transcriber, phrases []string, opts ...Option) (*Verifier, error) {
	if tr == nil {
		return nil, errors.New("transcript: nil transcriber")
	}
	v := &Verifier{
		transcriber:       tr,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, p := range phrases {
		toks := normalize(p)
		if len(toks) == 0 {
			return nil, fmt.Errorf("transcript: empty wake phrase %q", p)
		}
		v.phrases = append(v.phrases, p)
		v.tokens = append(v.tokens, toks)
		v.codes = append(v.codes, codesPerToken(toks))
	}
	if len(v.phrases) == 0 {
		return nil, errors.New("transcript: at least one wake phrase is required")
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Verify transcribes pcm and returns the best-matching phrase.
func (v *Verifier) Verify(ctx context.Context, pcm []byte) (kws.Match, error) {
	m := kws.Match{Index: kws.NoMatch}
	if len(pcm) == 0 {
		return m, fmt.Errorf("%w: empty span", kws.ErrVerify)
	}
	cfg := v.sttCfg
	cfg.Prompt = strings.Join(v.phrases, ", ")

	text, err := v.transcriber.Transcribe(ctx, pcm, cfg)
	if err != nil {
		return m, fmt.Errorf("%w: transcribe: %w", kws.ErrVerify, err)
	}
	m.Text = text

	idx, _ := v.Score(text)
	if idx >= 0 {
		m.Index = idx
		m.Keyword = v.phrases[idx]
	}
	return m, nil
}

// Score returns the index of the best phrase found in text and its
// Jaro-Winkler score, or [kws.NoMatch] and 0.
func (v *Verifier) Score(text string) (int, float64) {
	words := normalize(text)
	if len(words) == 0 {
		return kws.NoMatch, 0
	}
	wordCodes := codesPerToken(words)

	best, bestScore := kws.NoMatch, 0.0
	for i, phrase := range v.tokens {
		n := len(phrase)
		if n > len(words) {
			n = len(words)
		}
		for start := 0; start+n <= len(words); start++ {
			window := words[start : start+n]
			score := similarity(window, phrase)
			threshold := v.fuzzyThreshold
			if len(window) == len(phrase) && aligned(wordCodes[start:start+n], v.codes[i]) {
				threshold = v.phoneticThreshold
			}
			if score >= threshold && score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	return best, bestScore
}

// Keywords implements [kws.Verifier].
func (v *Verifier) Keywords() []string { return v.phrases }

// Close implements [kws.Verifier]. The transcriber is owned by the caller.
func (v *Verifier) Close() error { return nil }

// normalize lowercases s, strips everything but letters, digits and spaces,
// and splits it into words.
func normalize(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// codesPerToken returns the Double Metaphone codes for each token. Empty
// codes are excluded; a token without any code stands for itself.
func codesPerToken(tokens []string) []map[string]struct{} {
	out := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		codes := make(map[string]struct{}, 2)
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
		if len(codes) == 0 {
			codes["="+t] = struct{}{}
		}
		out[i] = codes
	}
	return out
}

// aligned reports whether each position of a shares a code with b.
func aligned(a, b []map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !overlap(a[i], b[i]) {
			return false
		}
	}
	return true
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best of the full-string and space-stripped Jaro-Winkler
// scores between window and phrase.
func similarity(window, phrase []string) float64 {
	score := matchr.JaroWinkler(strings.Join(window, " "), strings.Join(phrase, " "), false)
	if len(window) > 1 || len(phrase) > 1 {
		if s := matchr.JaroWinkler(strings.Join(window, ""), strings.Join(phrase, ""), false); s > score {
			score = s
		}
	}
	return score
}

var _ kws.Verifier = (*Verifier)(nil)
