package tokenizer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"
)

// preTokenizerFunc splits pieces further. first reports whether pieces[0]
// starts at the beginning of the input.
type preTokenizerFunc func(pieces []string, first bool) []string

const (
	gpt2Pattern       = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`
	whitespacePattern = `\w+|[^\w\s]+`
	metaspaceChar     = "▁"
)

// Split behaviours, as spelled in tokenizer.json.
const (
	behaviorRemoved            = "Removed"
	behaviorIsolated           = "Isolated"
	behaviorMergedWithPrevious = "MergedWithPrevious"
	behaviorMergedWithNext     = "MergedWithNext"
	behaviorContiguous         = "Contiguous"
)

var (
	gpt2Regexp       = regexp2.MustCompile(gpt2Pattern, regexp2.None)
	whitespaceRegexp = regexp2.MustCompile(whitespacePattern, regexp2.None)
)

// wholeInput is used when tokenizer.json has no pre-tokenizer: the normalized
// segment reaches the model as one word.
func wholeInput(pieces []string, _ bool) []string { return pieces }

func eachPiece(fn func(string) []string) preTokenizerFunc {
	return func(pieces []string, _ bool) []string {
		var out []string
		for _, p := range pieces {
			out = append(out, fn(p)...)
		}
		return out
	}
}

func buildPreTokenizer(p *hfPreTokenizer) (preTokenizerFunc, error) {
	if p == nil {
		return wholeInput, nil
	}

	switch p.Type {
	case "BertPreTokenizer":
		return eachPiece(func(s string) []string {
			var out []string
			for _, w := range strings.FieldsFunc(s, unicode.IsSpace) {
				out = append(out, splitRunes(w, isPunctuation, behaviorIsolated)...)
			}
			return out
		}), nil
	case "Whitespace":
		return eachPiece(func(s string) []string {
			return splitRegexp(s, whitespaceRegexp, behaviorRemoved, true)
		}), nil
	case "WhitespaceSplit":
		return eachPiece(func(s string) []string {
			return strings.FieldsFunc(s, unicode.IsSpace)
		}), nil
	case "Punctuation":
		behavior := behaviorOr(p.Behavior, behaviorIsolated)
		return eachPiece(func(s string) []string {
			return splitRunes(s, isPunctuation, behavior)
		}), nil
	case "Digits":
		individual := p.IndividualDigits
		return eachPiece(func(s string) []string {
			if individual {
				return splitRunes(s, unicode.IsDigit, behaviorIsolated)
			}
			return splitRunes(s, unicode.IsDigit, behaviorContiguous)
		}), nil
	case "ByteLevel":
		addPrefix := boolOr(p.AddPrefixSpace, true)
		useRegex := boolOr(p.UseRegex, true)
		return eachPiece(func(s string) []string {
			if addPrefix && !strings.HasPrefix(s, " ") {
				s = " " + s
			}

			parts := []string{s}
			if useRegex {
				parts = splitRegexp(s, gpt2Regexp, behaviorIsolated, false)
			}

			out := make([]string, len(parts))
			for i, part := range parts {
				out[i] = byteLevelEncode(part)
			}
			return out
		}), nil
	case "Metaspace":
		return buildMetaspace(p), nil
	case "Split":
		re, err := compilePattern(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("split pre-tokenizer: %w", err)
		}
		behavior := behaviorOr(p.Behavior, behaviorIsolated)
		invert := p.Invert
		return eachPiece(func(s string) []string {
			return splitRegexp(s, re, behavior, invert)
		}), nil
	case "Sequence":
		steps := make([]preTokenizerFunc, 0, len(p.PreTokenizers))
		for i := range p.PreTokenizers {
			fn, err := buildPreTokenizer(&p.PreTokenizers[i])
			if err != nil {
				return nil, err
			}
			steps = append(steps, fn)
		}
		return func(pieces []string, first bool) []string {
			for _, fn := range steps {
				pieces = fn(pieces, first)
			}
			return pieces
		}, nil
	default:
		return nil, fmt.Errorf("unsupported pre-tokenizer %q", p.Type)
	}
}

func buildMetaspace(p *hfPreTokenizer) preTokenizerFunc {
	replacement := p.Replacement
	if replacement == "" {
		replacement = metaspaceChar
	}

	scheme := metaspaceScheme(p.PrependScheme, p.AddPrefixSpace)
	split := boolOr(p.Split, true)

	return func(pieces []string, first bool) []string {
		var out []string
		for i, s := range pieces {
			s = strings.ReplaceAll(s, " ", replacement)

			prepend := scheme == "always" || (scheme == "first" && first && i == 0)
			if prepend && !strings.HasPrefix(s, replacement) {
				s = replacement + s
			}

			if !split {
				out = append(out, s)
				continue
			}

			out = append(out, splitLiteral(s, replacement, behaviorMergedWithNext)...)
		}
		return out
	}
}

// metaspaceScheme resolves prepend_scheme, falling back to the older
// add_prefix_space flag.
func metaspaceScheme(scheme string, addPrefix *bool) string {
	if scheme != "" {
		return scheme
	}
	if boolOr(addPrefix, true) {
		return "always"
	}
	return "never"
}

func behaviorOr(b, def string) string {
	if b == "" {
		return def
	}
	return b
}

func compilePattern(p *hfPattern) (*regexp2.Regexp, error) {
	switch {
	case p == nil:
		return nil, fmt.Errorf("missing pattern")
	case p.Regex != nil:
		re, err := regexp2.Compile(*p.Regex, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", *p.Regex, err)
		}
		return re, nil
	case p.String != nil:
		return regexp2.MustCompile(regexp2.Escape(*p.String), regexp2.None), nil
	default:
		return nil, fmt.Errorf("empty pattern")
	}
}

type span struct {
	text    string
	isMatch bool
}

// splitRegexp finds every match of re in s and applies behavior. regexp2
// reports positions in runes.
func splitRegexp(s string, re *regexp2.Regexp, behavior string, invert bool) []string {
	runes := []rune(s)

	var (
		spans []span
		prev  int
	)

	m, err := re.FindRunesMatch(runes)
	for err == nil && m != nil {
		if m.Length > 0 {
			if m.Index > prev {
				spans = append(spans, span{text: string(runes[prev:m.Index])})
			}
			spans = append(spans, span{text: string(runes[m.Index : m.Index+m.Length]), isMatch: true})
			prev = m.Index + m.Length
		}
		m, err = re.FindNextMatch(m)
	}

	if prev < len(runes) {
		spans = append(spans, span{text: string(runes[prev:])})
	}

	return applyBehavior(spans, behavior, invert)
}

func splitLiteral(s, sep, behavior string) []string {
	var spans []span

	for s != "" {
		i := strings.Index(s, sep)
		if i < 0 {
			spans = append(spans, span{text: s})
			break
		}
		if i > 0 {
			spans = append(spans, span{text: s[:i]})
		}
		spans = append(spans, span{text: sep, isMatch: true})
		s = s[i+len(sep):]
	}

	return applyBehavior(spans, behavior, false)
}

// splitRunes treats every rune satisfying pred as a one-rune match.
func splitRunes(s string, pred func(rune) bool, behavior string) []string {
	var (
		spans []span
		cur   strings.Builder
	)

	for _, r := range s {
		if !pred(r) {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			spans = append(spans, span{text: cur.String()})
			cur.Reset()
		}
		spans = append(spans, span{text: string(r), isMatch: true})
	}

	if cur.Len() > 0 {
		spans = append(spans, span{text: cur.String()})
	}

	return applyBehavior(spans, behavior, false)
}

func applyBehavior(spans []span, behavior string, invert bool) []string {
	if invert {
		for i := range spans {
			spans[i].isMatch = !spans[i].isMatch
		}
	}

	var out []string

	switch behavior {
	case behaviorRemoved:
		for _, sp := range spans {
			if !sp.isMatch {
				out = append(out, sp.text)
			}
		}
	case behaviorMergedWithPrevious:
		prevMatch := false
		for _, sp := range spans {
			if sp.isMatch && !prevMatch && len(out) > 0 {
				out[len(out)-1] += sp.text
			} else {
				out = append(out, sp.text)
			}
			prevMatch = sp.isMatch
		}
	case behaviorMergedWithNext:
		prevMatch := false
		for i := len(spans) - 1; i >= 0; i-- {
			sp := spans[i]
			if sp.isMatch && !prevMatch && len(out) > 0 {
				out[len(out)-1] = sp.text + out[len(out)-1]
			} else {
				out = append(out, sp.text)
			}
			prevMatch = sp.isMatch
		}
		for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
			out[l], out[r] = out[r], out[l]
		}
	case behaviorContiguous:
		prevMatch := false
		for _, sp := range spans {
			if sp.isMatch == prevMatch && len(out) > 0 {
				out[len(out)-1] += sp.text
			} else {
				out = append(out, sp.text)
			}
			prevMatch = sp.isMatch
		}
	default: // Isolated
		for _, sp := range spans {
			out = append(out, sp.text)
		}
	}

	return out
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
