package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// decoderFunc maps model tokens to text chunks that are concatenated.
type decoderFunc func(tokens []string) []string

var wordPieceCleanup = strings.NewReplacer(
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 'm", "'m",
	" do not", " don't",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
)

// buildDecoder returns nil when tokenizer.json has no decoder; tokens are then
// joined with single spaces.
func buildDecoder(d *hfDecoder) (decoderFunc, error) {
	if d == nil {
		return nil, nil
	}

	switch d.Type {
	case "ByteLevel":
		return func(tokens []string) []string {
			return []string{byteLevelDecode(tokens)}
		}, nil
	case "WordPiece":
		prefix := d.Prefix
		if prefix == "" {
			prefix = "##"
		}
		cleanup := boolOr(d.Cleanup, true)

		return func(tokens []string) []string {
			out := make([]string, len(tokens))
			for i, tok := range tokens {
				if i != 0 {
					if strings.HasPrefix(tok, prefix) {
						tok = tok[len(prefix):]
					} else {
						tok = " " + tok
					}
				}
				if cleanup {
					tok = wordPieceCleanup.Replace(tok)
				}
				out[i] = tok
			}
			return out
		}, nil
	case "Metaspace":
		replacement := d.Replacement
		if replacement == "" {
			replacement = metaspaceChar
		}
		scheme := metaspaceScheme(d.PrependScheme, d.AddPrefixSpace)

		return func(tokens []string) []string {
			out := make([]string, len(tokens))
			for i, tok := range tokens {
				if i == 0 && scheme != "never" {
					out[i] = strings.ReplaceAll(tok, replacement, "")
				} else {
					out[i] = strings.ReplaceAll(tok, replacement, " ")
				}
			}
			return out
		}, nil
	case "BPEDecoder":
		suffix := strOr(d.Suffix, "</w>")

		return func(tokens []string) []string {
			out := make([]string, len(tokens))
			for i, tok := range tokens {
				sep := " "
				if i == len(tokens)-1 {
					sep = ""
				}
				out[i] = strings.ReplaceAll(tok, suffix, sep)
			}
			return out
		}, nil
	case "Replace":
		fn, err := buildReplace(d.Pattern, d.Content)
		if err != nil {
			return nil, err
		}

		return func(tokens []string) []string {
			out := make([]string, len(tokens))
			for i, tok := range tokens {
				out[i] = fn(tok)
			}
			return out
		}, nil
	case "ByteFallback":
		return decodeByteFallback, nil
	case "Fuse":
		return func(tokens []string) []string {
			return []string{strings.Join(tokens, "")}
		}, nil
	case "Strip":
		content, start, stop := d.Content, d.Start, d.Stop

		return func(tokens []string) []string {
			out := make([]string, len(tokens))
			for i, tok := range tokens {
				out[i] = stripContent(tok, content, start, stop)
			}
			return out
		}, nil
	case "Sequence":
		steps := make([]decoderFunc, 0, len(d.Decoders))
		for i := range d.Decoders {
			fn, err := buildDecoder(&d.Decoders[i])
			if err != nil {
				return nil, err
			}
			if fn != nil {
				steps = append(steps, fn)
			}
		}

		return func(tokens []string) []string {
			for _, fn := range steps {
				tokens = fn(tokens)
			}
			return tokens
		}, nil
	default:
		return nil, fmt.Errorf("unsupported decoder %q", d.Type)
	}
}

// decodeByteFallback merges runs of <0xNN> tokens into text. A run that is
// not valid UTF-8 yields one replacement character per byte.
func decodeByteFallback(tokens []string) []string {
	var (
		out     []string
		pending []byte
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if utf8.Valid(pending) {
			out = append(out, string(pending))
		} else {
			for range pending {
				out = append(out, string(utf8.RuneError))
			}
		}
		pending = pending[:0]
	}

	for _, tok := range tokens {
		if b, ok := parseByteToken(tok); ok {
			pending = append(pending, b)
			continue
		}
		flush()
		out = append(out, tok)
	}

	flush()

	return out
}

// stripContent removes up to start leading and stop trailing copies of content.
func stripContent(tok, content string, start, stop int) string {
	if content == "" {
		return tok
	}

	for i := 0; i < start && strings.HasPrefix(tok, content); i++ {
		tok = tok[len(content):]
	}

	for i := 0; i < stop && strings.HasSuffix(tok, content); i++ {
		tok = tok[:len(tok)-len(content)]
	}

	return tok
}
