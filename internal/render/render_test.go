package render

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/colortok/internal/colorize"
	"github.com/example/colortok/internal/registry"
	"github.com/example/colortok/internal/testutil"
	"github.com/example/colortok/internal/tokenizer"
)

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string][]int
}

func (r *countingRecorder) RecordRender(mode string, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counts == nil {
		r.counts = make(map[string][]int)
	}
	r.counts[mode] = append(r.counts[mode], tokens)
}

func newService(t *testing.T, opts ...Option) (*Service, string) {
	t.Helper()

	base := t.TempDir()
	testutil.WriteMode(t, base, "bert", tokenizer.HFDescriptor, testutil.WordPieceJSON)
	testutil.WriteMode(t, base, "gpt2", tokenizer.HFDescriptor, testutil.ByteLevelBPEJSON)

	return NewService(registry.New(base), opts...), base
}

func TestListModes(t *testing.T) {
	svc, _ := newService(t)

	modes, err := svc.ListModes()
	require.NoError(t, err)
	assert.Equal(t, []string{"bert", "gpt2"}, modes)
}

func TestRender_WordPiece(t *testing.T) {
	rec := &countingRecorder{}
	svc, _ := newService(t, WithRecorder(rec))

	res, err := svc.Render("Hello, world!", "bert")
	require.NoError(t, err)

	assert.Equal(t, "Hello, world!", res.Text)
	assert.Equal(t, "bert", res.Mode)
	assert.Equal(t, 6, res.TokenCount)

	var want strings.Builder
	for _, tt := range []struct {
		id   int
		text string
	}{{2, ""}, {4, "hello"}, {10, ","}, {5, "world"}, {9, "!"}, {3, ""}} {
		frag, err := colorize.Fragment(tt.id, 13, tt.text)
		require.NoError(t, err)
		want.WriteString(frag)
	}
	assert.Equal(t, want.String(), res.HTML)

	assert.True(t, strings.HasPrefix(res.HTML,
		`<span class="token" style="background-color: #fbeacf;"><sup class="token-id">2</sup></span>`+
			`<span class="token" style="background-color: #f0fbcf;"><sup class="token-id">4</sup>hello</span>`))

	assert.Equal(t, []int{6}, rec.counts["bert"])
}

func TestRender_EmptyTextKeepsBoundaryTokens(t *testing.T) {
	svc, _ := newService(t)

	res, err := svc.Render("", "bert")
	require.NoError(t, err)
	assert.Equal(t, 2, res.TokenCount)
}

func TestRender_Idempotent(t *testing.T) {
	svc, _ := newService(t)

	a, err := svc.Render("hello world", "gpt2")
	require.NoError(t, err)

	b, err := svc.Render("hello world", "gpt2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 2, a.TokenCount)
}

func TestRender_UnknownModeDoesNotLoad(t *testing.T) {
	base := t.TempDir()
	testutil.WriteMode(t, base, "bert", tokenizer.HFDescriptor, testutil.WordPieceJSON)

	loads := 0
	reg := registry.New(base, registry.WithLoader(func(dir string) (tokenizer.Tokenizer, error) {
		loads++
		return tokenizer.LoadDir(dir)
	}))
	svc := NewService(reg)

	_, err := svc.Render("x", "nonexistent-mode")
	require.ErrorIs(t, err, registry.ErrModeNotFound)
	assert.Equal(t, 0, loads)
}

func TestRender_ParseError(t *testing.T) {
	base := t.TempDir()
	testutil.WriteMode(t, base, "broken", tokenizer.HFDescriptor, "{not json")

	_, err := NewService(registry.New(base)).Render("x", "broken")
	require.Error(t, err)

	var pe *tokenizer.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestTokens(t *testing.T) {
	svc, _ := newService(t)

	list, err := svc.Tokens("hello world", "gpt2")
	require.NoError(t, err)

	assert.Equal(t, "gpt2", list.Mode)
	assert.Equal(t, 18, list.VocabSize)
	assert.Equal(t, []colorize.Token{{ID: 11, Text: "hello"}, {ID: 16, Text: " world"}}, list.Tokens)
}

func TestTokens_UnknownMode(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Tokens("x", "../bert")
	assert.ErrorIs(t, err, registry.ErrModeNotFound)
}

func TestTokens_JSONFieldNames(t *testing.T) {
	svc, _ := newService(t)

	list, err := svc.Tokens("hello world", "gpt2")
	require.NoError(t, err)

	b, err := json.Marshal(list)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"mode":"gpt2","vocab_size":18,"tokens":[{"id":11,"text":"hello"},{"id":16,"text":" world"}]}`,
		string(b))
}
