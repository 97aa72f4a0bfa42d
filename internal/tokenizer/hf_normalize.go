package tokenizer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"
)

type normalizerFunc func(string) string

func identity(s string) string { return s }

func buildNormalizer(n *hfNormalizer) (normalizerFunc, error) {
	if n == nil {
		return identity, nil
	}

	switch n.Type {
	case "BertNormalizer":
		clean := boolOr(n.CleanText, true)
		chinese := boolOr(n.HandleChineseChars, true)
		lower := boolOr(n.Lowercase, true)
		strip := boolOr(n.StripAccents, lower)

		return func(s string) string {
			if clean {
				s = cleanText(s)
			}
			if chinese {
				s = padChineseChars(s)
			}
			if strip {
				s = removeAccents(norm.NFD.String(s))
			}
			if lower {
				s = strings.ToLower(s)
			}
			return s
		}, nil
	case "Lowercase":
		return strings.ToLower, nil
	case "NFC":
		return norm.NFC.String, nil
	case "NFD":
		return norm.NFD.String, nil
	case "NFKC":
		return norm.NFKC.String, nil
	case "NFKD":
		return norm.NFKD.String, nil
	case "Precompiled":
		// The precompiled charsmap is an NFKC variant; plain NFKC is close enough
		// for every model we ship.
		return norm.NFKC.String, nil
	case "StripAccents":
		return removeAccents, nil
	case "Strip":
		left, right := n.StripLeft, n.StripRight
		return func(s string) string {
			if left {
				s = strings.TrimLeftFunc(s, unicode.IsSpace)
			}
			if right {
				s = strings.TrimRightFunc(s, unicode.IsSpace)
			}
			return s
		}, nil
	case "Nmt":
		return cleanControl, nil
	case "Prepend":
		prefix := n.Prepend
		return func(s string) string {
			if s == "" {
				return s
			}
			return prefix + s
		}, nil
	case "Replace":
		return buildReplace(n.Pattern, n.Content)
	case "Sequence":
		steps := make([]normalizerFunc, 0, len(n.Normalizers))
		for i := range n.Normalizers {
			fn, err := buildNormalizer(&n.Normalizers[i])
			if err != nil {
				return nil, err
			}
			steps = append(steps, fn)
		}
		return func(s string) string {
			for _, fn := range steps {
				s = fn(s)
			}
			return s
		}, nil
	default:
		return nil, fmt.Errorf("unsupported normalizer %q", n.Type)
	}
}

// buildReplace returns a function replacing every match of p with content.
func buildReplace(p *hfPattern, content string) (normalizerFunc, error) {
	if p == nil {
		return nil, fmt.Errorf("replace: missing pattern")
	}

	if p.String != nil {
		old := *p.String
		return func(s string) string { return strings.ReplaceAll(s, old, content) }, nil
	}

	if p.Regex != nil {
		re, err := regexp2.Compile(*p.Regex, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("replace: compile %q: %w", *p.Regex, err)
		}
		return func(s string) string {
			out, err := re.Replace(s, content, -1, -1)
			if err != nil {
				return s
			}
			return out
		}, nil
	}

	return nil, fmt.Errorf("replace: empty pattern")
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// cleanText drops invalid and control characters and maps whitespace to ' '.
func cleanText(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	for _, r := range text {
		if r == 0 || r == unicode.ReplacementChar || isControl(r) {
			continue
		}

		if isWhitespace(r) {
			sb.WriteRune(' ')
		} else {
			sb.WriteRune(r)
		}
	}

	return sb.String()
}

func cleanControl(text string) string {
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, text)
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs)
}

func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

func padChineseChars(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	for _, r := range text {
		if isChineseChar(r) {
			sb.WriteRune(' ')
			sb.WriteRune(r)
			sb.WriteRune(' ')
		} else {
			sb.WriteRune(r)
		}
	}

	return sb.String()
}

// removeAccents drops combining marks (Mn).
func removeAccents(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, text)
}
