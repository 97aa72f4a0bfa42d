package colorize

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeTokenizer maps each rune of the input to an id and back.
type fakeTokenizer struct {
	vocab    int
	boundary []int
	encodes  int
	failID   int
}

func (f *fakeTokenizer) VocabSize() int { return f.vocab }

func (f *fakeTokenizer) Encode(text string, addSpecial bool) ([]int, error) {
	f.encodes++

	ids := []int{}
	if addSpecial && len(f.boundary) > 0 {
		ids = append(ids, f.boundary[0])
	}
	for _, r := range text {
		ids = append(ids, int(r))
	}
	if addSpecial && len(f.boundary) > 1 {
		ids = append(ids, f.boundary[1])
	}

	return ids, nil
}

func (f *fakeTokenizer) Decode(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if f.failID != 0 && id == f.failID {
			return "", errors.New("boom")
		}
		for _, b := range f.boundary {
			if id == b {
				return "", nil
			}
		}
		sb.WriteRune(rune(id))
	}

	return sb.String(), nil
}

// ---------------------------------------------------------------------------
// Colour pipeline
// ---------------------------------------------------------------------------

func TestColor_Golden(t *testing.T) {
	// Reference values for the standard HLS to RGB conversion.
	tests := []struct {
		id, vocab int
		want      string
	}{
		{0, 100, "#fbcfcf"},
		{67, 100, "#cffbed"},
		{1, 100, "#fbd1cf"},
		{50, 100, "#cffbd0"},
		{99, 100, "#cfd0fb"},
		{3, 108, "#fbd4cf"},
		{101, 108, "#cfdafb"},
		{102, 108, "#cfd8fb"},
		{5, 10, "#cffbd0"},
		{4, 13, "#f0fbcf"},
		{9, 13, "#cffbf1"},
	}

	for _, tt := range tests {
		got, err := Color(tt.id, tt.vocab)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Color(%d, %d)", tt.id, tt.vocab)
	}
}

func TestHue(t *testing.T) {
	h, err := Hue(67, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.4489, h, 1e-12)
}

func TestColor_InvalidVocab(t *testing.T) {
	for _, vocab := range []int{0, -1} {
		_, err := Color(1, vocab)
		assert.ErrorIs(t, err, ErrInvalidVocabSize)
	}
}

func TestHLSToRGB_Achromatic(t *testing.T) {
	r, g, b := HLSToRGB(0.3, 0.4, 0)
	assert.Equal(t, []float64{0.4, 0.4, 0.4}, []float64{r, g, b})
}

func TestHLSToRGB_DarkBranch(t *testing.T) {
	// l <= 0.5 uses m2 = l*(1+s); pure red at half lightness.
	r, g, b := HLSToRGB(0, 0.5, 1)
	assert.InDelta(t, 1.0, r, 1e-12)
	assert.InDelta(t, 0.0, g, 1e-12)
	assert.InDelta(t, 0.0, b, 1e-12)
}

func TestColor_HueSweepsMonotonically(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vocab := rapid.IntRange(2, 200000).Draw(t, "vocab")
		id := rapid.IntRange(0, vocab-2).Draw(t, "id")

		lo, err := Hue(id, vocab)
		if err != nil {
			t.Fatal(err)
		}

		hi, err := Hue(id+1, vocab)
		if err != nil {
			t.Fatal(err)
		}

		if !(lo < hi) || lo < 0 || hi >= MaxHue {
			t.Fatalf("hue(%d)=%v, hue(%d)=%v out of order for vocab %d", id, lo, id+1, hi, vocab)
		}
	})
}

var hexColor = regexp.MustCompile(`^#[0-9a-f]{6}$`)

func TestColor_AlwaysSixHexDigits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vocab := rapid.IntRange(1, 1<<20).Draw(t, "vocab")
		id := rapid.IntRange(0, vocab-1).Draw(t, "id")

		c, err := Color(id, vocab)
		if err != nil {
			t.Fatal(err)
		}

		if !hexColor.MatchString(c) {
			t.Fatalf("Color(%d, %d) = %q", id, vocab, c)
		}
	})
}

// ---------------------------------------------------------------------------
// Fragments
// ---------------------------------------------------------------------------

func TestFragment_Exact(t *testing.T) {
	got, err := Fragment(67, 100, "Hi")
	require.NoError(t, err)
	assert.Equal(t, `<span class="token" style="background-color: #cffbed;"><sup class="token-id">67</sup>Hi</span>`, got)
}

func TestFragment_Escapes(t *testing.T) {
	got, err := Fragment(0, 100, `<a href="x">&'`)
	require.NoError(t, err)
	assert.Equal(t,
		`<span class="token" style="background-color: #fbcfcf;"><sup class="token-id">0</sup>&lt;a href=&quot;x&quot;&gt;&amp;&#x27;</span>`,
		got)
}

func TestFragment_KeepsWhitespace(t *testing.T) {
	got, err := Fragment(1, 100, " \n")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "</sup> \n</span>"))
}

var entity = regexp.MustCompile(`&(amp|lt|gt|quot|#x27);`)

func TestFragment_HTMLSafety(t *testing.T) {
	const (
		prefixEnd = `</sup>`
		suffix    = `</span>`
	)

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringOf(rapid.SampledFrom([]rune(`<>&"'ab é`))).Draw(t, "text")

		frag, err := Fragment(5, 10, text)
		if err != nil {
			t.Fatal(err)
		}

		body := frag[strings.Index(frag, prefixEnd)+len(prefixEnd) : len(frag)-len(suffix)]
		stripped := entity.ReplaceAllString(body, "")

		if strings.ContainsAny(stripped, `<>&"'`) {
			t.Fatalf("unescaped markup in %q", body)
		}
	})
}

// ---------------------------------------------------------------------------
// Render
// ---------------------------------------------------------------------------

func TestRender_OrderAndCount(t *testing.T) {
	tok := &fakeTokenizer{vocab: 200, boundary: []int{1, 2}}

	out, err := Render(tok, "ab")
	require.NoError(t, err)
	assert.Equal(t, 4, out.TokenCount)

	var want strings.Builder
	for _, tt := range []struct {
		id   int
		text string
	}{{1, ""}, {'a', "a"}, {'b', "b"}, {2, ""}} {
		frag, err := Fragment(tt.id, 200, tt.text)
		require.NoError(t, err)
		want.WriteString(frag)
	}

	assert.Equal(t, want.String(), out.HTML)
}

func TestRender_EmptyTextBoundaryOnly(t *testing.T) {
	tok := &fakeTokenizer{vocab: 200, boundary: []int{1, 2}}

	out, err := Render(tok, "")
	require.NoError(t, err)
	assert.Equal(t, 2, out.TokenCount)
}

func TestRender_EmptyTextNoBoundary(t *testing.T) {
	out, err := Render(&fakeTokenizer{vocab: 200}, "")
	require.NoError(t, err)
	assert.Equal(t, Output{}, out)
}

func TestRender_Idempotent(t *testing.T) {
	tok := &fakeTokenizer{vocab: 300, boundary: []int{1, 2}}

	a, err := Render(tok, "héllo <world>")
	require.NoError(t, err)

	b, err := Render(tok, "héllo <world>")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestRender_InvalidVocabFailsBeforeEncode(t *testing.T) {
	tok := &fakeTokenizer{vocab: 0}

	_, err := Render(tok, "abc")
	require.ErrorIs(t, err, ErrInvalidVocabSize)
	assert.Equal(t, 0, tok.encodes)
}

func TestRender_DecodeError(t *testing.T) {
	_, err := Render(&fakeTokenizer{vocab: 200, failID: 'x'}, "axb")
	assert.Error(t, err)
}

func TestRenderTokens_InvalidVocab(t *testing.T) {
	_, err := RenderTokens([]Token{{ID: 1, Text: "a"}}, 0)
	assert.ErrorIs(t, err, ErrInvalidVocabSize)
}
