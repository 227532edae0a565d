// Package wakeword decides whether an utterance addresses the assistant.
//
// A Gate looks for a wake phrase — a greeting followed by the assistant's
// name, e.g. "hey hira" — anywhere in the transcript of a user turn. When the
// phrase is found, everything after it is returned as the actual request and
// the turn is considered addressed; otherwise the turn is ignored.
//
// Speech recognition rarely spells the name consistently ("hira", "hera",
// "hiera" all occur), so the gate matches in two stages: an exact
// case-insensitive phrase match against the configured name aliases, and a
// phonetic fallback using Double Metaphone codes with Jaro-Winkler ranking
// for recognised-but-misspelled names the alias list does not cover.
package wakeword

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// Defaults for a HiRA gate.
var (
	// DefaultGreetings are the accepted greeting words.
	DefaultGreetings = []string{"hey", "hi", "hello"}

	// DefaultNames are the accepted spellings of the assistant's name, as
	// produced by speech recognition.
	DefaultNames = []string{"hira", "hera", "hiera"}
)

const defaultPhoneticThreshold = 0.70

// leading separators stripped from the request after the wake phrase.
const requestCutset = " \t,.!?;:-"

// Option is a functional option for configuring a [Gate].
type Option func(*Gate)

// WithGreetings replaces the accepted greeting words.
func WithGreetings(greetings []string) Option {
	return func(g *Gate) {
		g.greetings = greetings
	}
}

// WithNames replaces the accepted name spellings.
func WithNames(names []string) Option {
	return func(g *Gate) {
		g.names = names
	}
}

// WithPhonetic enables or disables the phonetic fallback. Default: enabled.
func WithPhonetic(enabled bool) Option {
	return func(g *Gate) {
		g.phonetic = enabled
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(g *Gate) {
		g.phoneticThreshold = threshold
	}
}

// Gate detects the wake phrase in user utterances. It is read-only after
// construction and safe for concurrent use.
type Gate struct {
	greetings         []string
	names             []string
	phonetic          bool
	phoneticThreshold float64

	pattern   *regexp.Regexp
	nameCodes map[string]struct{}
}

// NewGate returns a Gate configured with the supplied options. With no
// options it recognises "hey/hi/hello" followed by "hira/hera/hiera".
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		greetings:         DefaultGreetings,
		names:             DefaultNames,
		phonetic:          true,
		phoneticThreshold: defaultPhoneticThreshold,
	}
	for _, o := range opts {
		o(g)
	}

	g.pattern = regexp.MustCompile(
		`(?i)\b(` + alternation(g.greetings) + `)[\s,]+(` + alternation(g.names) + `)\b`)
	g.nameCodes = metaphoneCodes(g.names)

	return g
}

// Match reports whether utterance contains the wake phrase. On a match it
// returns the text after the phrase, trimmed of leading punctuation, and
// ok=true. A wake phrase with nothing after it — the user said only
// "Hey HiRA" — returns ("", false): an addressed turn with no request is
// treated the same as an unaddressed one.
func (g *Gate) Match(utterance string) (request string, ok bool) {
	if loc := g.pattern.FindStringIndex(utterance); loc != nil {
		return requestAfter(utterance, loc[1])
	}
	if g.phonetic {
		if end, found := g.phoneticMatch(utterance); found {
			return requestAfter(utterance, end)
		}
	}
	return "", false
}

// requestAfter slices the request out of the utterance starting at end,
// rejecting empty remainders.
func requestAfter(utterance string, end int) (string, bool) {
	req := strings.TrimLeft(utterance[end:], requestCutset)
	req = strings.TrimSpace(req)
	if req == "" {
		return "", false
	}
	return req, true
}

// phoneticMatch scans adjacent token pairs for a greeting followed by a word
// that sounds like one of the configured names. The greeting must match
// exactly; only the name is matched phonetically. Returns the byte offset
// just past the matched name.
func (g *Gate) phoneticMatch(utterance string) (end int, found bool) {
	toks := tokenize(utterance)
	for i := 0; i+1 < len(toks); i++ {
		if !containsFold(g.greetings, toks[i].norm) {
			continue
		}
		if g.soundsLikeName(toks[i+1].norm) {
			return toks[i+1].end, true
		}
	}
	return 0, false
}

// soundsLikeName reports whether word shares a Double Metaphone code with any
// configured name and scores at least the phonetic threshold on Jaro-Winkler
// against that name.
func (g *Gate) soundsLikeName(word string) bool {
	if word == "" {
		return false
	}
	p, s := matchr.DoubleMetaphone(word)
	if !codeOverlaps(g.nameCodes, p, s) {
		return false
	}
	for _, name := range g.names {
		if matchr.JaroWinkler(word, strings.ToLower(name), false) >= g.phoneticThreshold {
			return true
		}
	}
	return false
}

// token is a word in the utterance with its byte span.
type token struct {
	norm string // lowercase, stripped of surrounding punctuation
	end  int    // byte offset just past the raw token
}

// tokenize splits on whitespace, keeping byte offsets so the request can be
// sliced out of the original string.
func tokenize(s string) []token {
	var toks []token
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if start >= 0 {
				toks = append(toks, newToken(s[start:i], i))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, newToken(s[start:], len(s)))
	}
	return toks
}

func newToken(raw string, end int) token {
	return token{
		norm: strings.ToLower(strings.Trim(raw, requestCutset)),
		end:  end,
	}
}

// alternation joins words into a regexp alternation, quoting each one.
func alternation(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}

// metaphoneCodes returns the union of Double Metaphone codes for words.
func metaphoneCodes(words []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		p, s := matchr.DoubleMetaphone(strings.ToLower(w))
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codeOverlaps(set map[string]struct{}, codes ...string) bool {
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

func containsFold(words []string, w string) bool {
	for _, cand := range words {
		if strings.EqualFold(cand, w) {
			return true
		}
	}
	return false
}
