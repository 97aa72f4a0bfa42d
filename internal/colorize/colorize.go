// Package colorize turns token ids into HTML fragments with a background
// colour derived from the id's position in the vocabulary.
//
// Ids near 0 are red; ids near the end of the vocabulary approach violet.
// Hue is capped at 0.67 so the wheel never wraps back to red.
package colorize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/example/colortok/internal/tokenizer"
)

const (
	// MaxHue is the hue reached by the last id of the vocabulary.
	MaxHue = 0.67
	// Lightness and Saturation are fixed for every token.
	Lightness  = 0.90
	Saturation = 0.85
)

// ErrInvalidVocabSize is returned when a tokenizer reports a non-positive
// vocabulary size.
var ErrInvalidVocabSize = errors.New("vocabulary size must be positive")

// Token is one encoded id and its decoded surface text.
type Token struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Output is a rendered token sequence.
type Output struct {
	HTML       string
	TokenCount int
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// EscapeHTML escapes &, <, >, " and '.
func EscapeHTML(s string) string { return htmlEscaper.Replace(s) }

// Hue returns the hue fraction for id.
func Hue(id, vocabSize int) (float64, error) {
	if vocabSize <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidVocabSize, vocabSize)
	}

	// float64(...) rounds each product on its own; it blocks fused multiply-add.
	return float64(float64(id)/float64(vocabSize)) * MaxHue, nil
}

// Color returns the #rrggbb background colour for id.
func Color(id, vocabSize int) (string, error) {
	h, err := Hue(id, vocabSize)
	if err != nil {
		return "", err
	}

	r, g, b := HLSToRGB(h, Lightness, Saturation)

	return fmt.Sprintf("#%02x%02x%02x", channel(r), channel(g), channel(b)), nil
}

// channel scales c to 0..255, truncating toward zero.
func channel(c float64) int {
	v := int(float64(c * 255)) // rounded product, no FMA

	return min(max(v, 0), 255)
}

// HLSToRGB converts hue, lightness and saturation (all in [0,1]) to RGB
// fractions using the conventional colorsys algorithm.
//
// The explicit float64 conversions here and in hlsValue force each product
// to be rounded before the next add. Without them the compiler may fuse
// multiply-add on arm64 and ppc64, and truncated channels shift by one.
// Keep them.
func HLSToRGB(h, l, s float64) (r, g, b float64) {
	if s == 0 {
		return l, l, l
	}

	var m2 float64
	if l <= 0.5 {
		m2 = float64(l * float64(1+s))
	} else {
		m2 = l + s - float64(l*s)
	}

	m1 := float64(2*l) - m2

	return hlsValue(m1, m2, h+1.0/3.0), hlsValue(m1, m2, h), hlsValue(m1, m2, h-1.0/3.0)
}

func hlsValue(m1, m2, hue float64) float64 {
	// Floored modulo: the hue wheel is circular.
	hue = math.Mod(hue, 1)
	if hue < 0 {
		hue++
	}

	switch {
	case hue < 1.0/6.0:
		return m1 + float64(float64(float64(m2-m1)*hue)*6)
	case hue < 0.5:
		return m2
	case hue < 2.0/3.0:
		return m1 + float64(float64(float64(m2-m1)*float64(2.0/3.0-hue))*6)
	default:
		return m1
	}
}

// Fragment renders one token as an HTML span.
func Fragment(id, vocabSize int, text string) (string, error) {
	color, err := Color(id, vocabSize)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	writeFragment(&sb, color, id, text)

	return sb.String(), nil
}

func writeFragment(sb *strings.Builder, color string, id int, text string) {
	sb.WriteString(`<span class="token" style="background-color: `)
	sb.WriteString(color)
	sb.WriteString(`;"><sup class="token-id">`)
	sb.WriteString(strconv.Itoa(id))
	sb.WriteString(`</sup>`)
	sb.WriteString(EscapeHTML(text))
	sb.WriteString(`</span>`)
}

// Tokens encodes text with boundary tokens and decodes every id on its own.
func Tokens(tok tokenizer.Tokenizer, text string) ([]Token, error) {
	ids, err := tok.Encode(text, true)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	out := make([]Token, len(ids))
	for i, id := range ids {
		s, err := tok.Decode([]int{id})
		if err != nil {
			return nil, fmt.Errorf("decode id %d: %w", id, err)
		}

		out[i] = Token{ID: id, Text: s}
	}

	return out, nil
}

// RenderTokens concatenates the fragments of tokens in order.
func RenderTokens(tokens []Token, vocabSize int) (Output, error) {
	if vocabSize <= 0 {
		return Output{}, fmt.Errorf("%w: %d", ErrInvalidVocabSize, vocabSize)
	}

	var sb strings.Builder
	for _, t := range tokens {
		color, err := Color(t.ID, vocabSize)
		if err != nil {
			return Output{}, err
		}

		writeFragment(&sb, color, t.ID, t.Text)
	}

	return Output{HTML: sb.String(), TokenCount: len(tokens)}, nil
}

// Render tokenizes text and renders every token. The vocabulary size is
// checked before anything is encoded.
func Render(tok tokenizer.Tokenizer, text string) (Output, error) {
	vocab := tok.VocabSize()
	if vocab <= 0 {
		return Output{}, fmt.Errorf("%w: %d", ErrInvalidVocabSize, vocab)
	}

	tokens, err := Tokens(tok, text)
	if err != nil {
		return Output{}, err
	}

	return RenderTokens(tokens, vocab)
}
