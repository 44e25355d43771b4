// Package patterns recognizes inlined library code in rendered functions and
// replaces it with a call-like summary.
//
// A pattern is a prefix and a suffix of the library body as the renderer
// prints it. Both are compared with the function token by token, after
// renaming-insensitive normalization, and scored by Levenshtein similarity.
// When a window scores at least the threshold for the prefix and a later
// window does for the suffix, the text from the start of the first to the
// end of the second is replaced. Both ends must sit in the same block.
//
// Windows long enough to fingerprint are also compared by TLSH distance
// against the pattern, which rejects windows that align token by token but
// differ in overall content.
package patterns

import (
	"os"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/containerd/errdefs"
	"github.com/glaslos/tlsh"
	"github.com/opencontainers/go-digest"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/lexer"
	"github.com/monolab825/soroban-auditor/internal/parser"
)

// DefaultThreshold is the similarity a window needs to count as a match.
const DefaultThreshold = 0.85

// DefaultMaxDistance bounds the TLSH distance between a pattern and the
// window it matched. A window passes when its distance is below it.
const DefaultMaxDistance = 30

// minFingerprint is the shortest normalized text that gets a TLSH digest.
// Shorter text has too few byte triplets for a stable one.
const minFingerprint = 256

type Pattern struct {
	Name string `toml:"name"`
	// Hash identifies the library body the pattern was cut from. When set
	// it must be a digest such as "sha256:...".
	Hash          string `toml:"hash"`
	PrefixPattern string `toml:"prefix_pattern"`
	SuffixPattern string `toml:"suffix_pattern"`
	BodyReplace   string `toml:"body_replace"`

	prefix, suffix         []string
	prefixHash, suffixHash *tlsh.TLSH
}

type Set struct {
	Patterns  []Pattern `toml:"patterns"`
	Threshold float64   `toml:"threshold"`
	// MaxDistance is the TLSH gate. Zero selects DefaultMaxDistance and a
	// negative value turns the gate off.
	MaxDistance int `toml:"max_distance"`
}

// Match reports one replacement.
type Match struct {
	Name       string
	Hash       digest.Digest
	Start, End int // byte span of the replaced text
	Prefix     float64
	Suffix     float64
	// PrefixDistance and SuffixDistance are TLSH distances, or -1 when the
	// text was too short to fingerprint.
	PrefixDistance int
	SuffixDistance int
}

// Parse decodes a pattern file. A missing threshold defaults to
// DefaultThreshold.
func Parse(data []byte) (*Set, error) {
	s := &Set{}
	if err := toml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "patterns: %v", err)
	}
	if s.Threshold == 0 {
		s.Threshold = DefaultThreshold
	}
	if s.Threshold < 0 || s.Threshold > 1 {
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "patterns: threshold %v outside [0, 1]", s.Threshold)
	}
	if s.MaxDistance == 0 {
		s.MaxDistance = DefaultMaxDistance
	}
	for i := range s.Patterns {
		p := &s.Patterns[i]
		if p.Name == "" {
			return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "patterns: entry %d has no name", i)
		}
		if p.Hash != "" {
			if _, err := digest.Parse(p.Hash); err != nil {
				return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "patterns: %s: bad hash: %v", p.Name, err)
			}
		}
		p.prefix = normalize(lexer.Tokenize(p.PrefixPattern))
		p.suffix = normalize(lexer.Tokenize(p.SuffixPattern))
		if len(p.prefix) == 0 || len(p.suffix) == 0 {
			return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "patterns: %s: prefix and suffix must not be empty", p.Name)
		}
		p.prefixHash = fingerprint(p.prefix)
		p.suffixHash = fingerprint(p.suffix)
	}
	return s, nil
}

func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "patterns")
	}
	s, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return s, nil
}

func normalize(toks []lexer.Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Norm()
	}
	return out
}

// fingerprint digests normalized tokens, or returns nil when there is too
// little text.
func fingerprint(toks []string) *tlsh.TLSH {
	text := strings.Join(toks, " ")
	if len(text) < minFingerprint {
		return nil
	}
	h, err := tlsh.HashBytes([]byte(text))
	if err != nil {
		return nil
	}
	return h
}

// distance compares a pattern digest with the window toks. It returns -1
// when either side has no digest.
func distance(want *tlsh.TLSH, toks []string) int {
	if want == nil {
		return -1
	}
	got := fingerprint(toks)
	if got == nil {
		return -1
	}
	return want.Diff(got)
}

// alphabet maps normalized tokens to runes so token sequences can be
// compared as strings.
type alphabet map[string]rune

func (a alphabet) encode(toks []string) string {
	var b strings.Builder
	for _, t := range toks {
		r, ok := a[t]
		if !ok {
			r = rune(0xe000 + len(a))
			a[t] = r
		}
		b.WriteRune(r)
	}
	return b.String()
}

// window is the best-scoring position of a pattern in the body.
type window struct {
	at    int
	score float64
}

// best slides pat over body[from:] one token at a time. Ties keep the
// earliest position.
func best(body []rune, pat string, from int) window {
	n := len([]rune(pat))
	w := window{at: -1}
	for i := from; i+n <= len(body); i++ {
		sc := levenshtein.Similarity(string(body[i:i+n]), pat, nil)
		if sc > w.score {
			w = window{at: i, score: sc}
		}
	}
	return w
}

// Apply runs every pattern once, in file order, over src. It returns the
// rewritten text and what was replaced.
func (s *Set) Apply(src string) (string, []Match) {
	if s == nil {
		return src, nil
	}
	var matches []Match
	for i := range s.Patterns {
		out, m, ok := s.applyOne(&s.Patterns[i], src)
		if ok {
			src = out
			matches = append(matches, m)
		}
	}
	return src, matches
}

func (s *Set) applyOne(p *Pattern, src string) (string, Match, bool) {
	// Text that does not parse as rendered functions is matched without
	// regard to block structure.
	outline, err := parser.ParseFile(src)
	var toks []lexer.Token
	if err == nil {
		toks = outline.Toks
	} else {
		outline, toks = nil, lexer.Tokenize(src)
	}
	if len(toks) < len(p.prefix)+len(p.suffix) {
		return src, Match{}, false
	}
	abc := alphabet{}
	norm := normalize(toks)
	body := []rune(abc.encode(norm))
	pre := best(body, abc.encode(p.prefix), 0)
	if pre.at < 0 || pre.score < s.Threshold {
		return src, Match{}, false
	}
	suf := best(body, abc.encode(p.suffix), pre.at+len(p.prefix))
	if suf.at < 0 || suf.score < s.Threshold {
		return src, Match{}, false
	}
	last := suf.at + len(p.suffix) - 1
	if outline != nil && !outline.SameBlock(pre.at, last) {
		return src, Match{}, false
	}
	m := Match{
		Name:           p.Name,
		Hash:           digest.Digest(p.Hash),
		Start:          toks[pre.at].Pos,
		End:            toks[last].End,
		Prefix:         pre.score,
		Suffix:         suf.score,
		PrefixDistance: -1,
		SuffixDistance: -1,
	}
	if s.MaxDistance >= 0 {
		m.PrefixDistance = distance(p.prefixHash, norm[pre.at:pre.at+len(p.prefix)])
		m.SuffixDistance = distance(p.suffixHash, norm[suf.at:last+1])
		if m.PrefixDistance >= s.MaxDistance || m.SuffixDistance >= s.MaxDistance {
			return src, Match{}, false
		}
	}
	return src[:m.Start] + p.BodyReplace + src[m.End:], m, true
}

// HashOf is the digest a pattern cut from body is identified by.
func HashOf(body string) digest.Digest {
	return digest.FromString(strings.Join(normalize(lexer.Tokenize(body)), " "))
}
