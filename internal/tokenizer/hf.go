package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// AddedToken is an entry of tokenizer.json's added_tokens list.
type AddedToken struct {
	ID         int    `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	Lstrip     bool   `json:"lstrip"`
	Rstrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

type hfPattern struct {
	String *string `json:"String,omitempty"`
	Regex  *string `json:"Regex,omitempty"`
}

type hfNormalizer struct {
	Type               string         `json:"type"`
	Lowercase          *bool          `json:"lowercase"`
	CleanText          *bool          `json:"clean_text"`
	HandleChineseChars *bool          `json:"handle_chinese_chars"`
	StripAccents       *bool          `json:"strip_accents"`
	StripLeft          bool           `json:"strip_left"`
	StripRight         bool           `json:"strip_right"`
	Pattern            *hfPattern     `json:"pattern"`
	Content            string         `json:"content"`
	Prepend            string         `json:"prepend"`
	Normalizers        []hfNormalizer `json:"normalizers"`
}

type hfPreTokenizer struct {
	Type             string           `json:"type"`
	AddPrefixSpace   *bool            `json:"add_prefix_space"`
	UseRegex         *bool            `json:"use_regex"`
	Replacement      string           `json:"replacement"`
	PrependScheme    string           `json:"prepend_scheme"`
	Split            *bool            `json:"split"`
	Pattern          *hfPattern       `json:"pattern"`
	Behavior         string           `json:"behavior"`
	Invert           bool             `json:"invert"`
	IndividualDigits bool             `json:"individual_digits"`
	PreTokenizers    []hfPreTokenizer `json:"pretokenizers"`
}

type hfTemplateRef struct {
	ID string `json:"id"`
}

type hfTemplatePiece struct {
	SpecialToken *hfTemplateRef `json:"SpecialToken,omitempty"`
	Sequence     *hfTemplateRef `json:"Sequence,omitempty"`
}

type hfTemplateSpecial struct {
	ID     string   `json:"id"`
	IDs    []int    `json:"ids"`
	Tokens []string `json:"tokens"`
}

type hfPostProcessor struct {
	Type          string                       `json:"type"`
	Single        []hfTemplatePiece            `json:"single"`
	SpecialTokens map[string]hfTemplateSpecial `json:"special_tokens"`
	Sep           []any                        `json:"sep"`
	Cls           []any                        `json:"cls"`
	Processors    []hfPostProcessor            `json:"processors"`
}

type hfDecoder struct {
	Type           string      `json:"type"`
	Prefix         string      `json:"prefix"`
	Cleanup        *bool       `json:"cleanup"`
	Replacement    string      `json:"replacement"`
	PrependScheme  string      `json:"prepend_scheme"`
	AddPrefixSpace *bool       `json:"add_prefix_space"`
	Suffix         *string     `json:"suffix"`
	Pattern        *hfPattern  `json:"pattern"`
	Content        string      `json:"content"`
	Start          int         `json:"start"`
	Stop           int         `json:"stop"`
	Decoders       []hfDecoder `json:"decoders"`
}

type hfModel struct {
	Type                    string          `json:"type"`
	Vocab                   json.RawMessage `json:"vocab"`
	Merges                  json.RawMessage `json:"merges"`
	UnkToken                *string         `json:"unk_token"`
	UnkID                   *int            `json:"unk_id"`
	ContinuingSubwordPrefix *string         `json:"continuing_subword_prefix"`
	MaxInputCharsPerWord    int             `json:"max_input_chars_per_word"`
	FuseUnk                 bool            `json:"fuse_unk"`
	ByteFallback            bool            `json:"byte_fallback"`
	EndOfWordSuffix         *string         `json:"end_of_word_suffix"`
	IgnoreMerges            bool            `json:"ignore_merges"`
}

type hfFile struct {
	AddedTokens   []AddedToken     `json:"added_tokens"`
	Normalizer    *hfNormalizer    `json:"normalizer"`
	PreTokenizer  *hfPreTokenizer  `json:"pre_tokenizer"`
	PostProcessor *hfPostProcessor `json:"post_processor"`
	Decoder       *hfDecoder       `json:"decoder"`
	Model         hfModel          `json:"model"`
}

// HFTokenizer implements Tokenizer for Hugging Face tokenizer.json files
// (WordPiece, BPE and Unigram models).
type HFTokenizer struct {
	kind      string
	normalize normalizerFunc
	preTok    preTokenizerFunc
	model     hfModelImpl
	post      postProcessorFunc
	decode    decoderFunc
	idToToken map[int]string
	special   map[int]bool
	added     []AddedToken // longest content first
	vocabSize int
}

// NewHFTokenizerFromFile loads a tokenizer.json file.
func NewHFTokenizerFromFile(path string) (*HFTokenizer, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer.json %q: %w", path, err)
	}

	t, err := NewHFTokenizer(content)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	return t, nil
}

// NewHFTokenizer builds a tokenizer from tokenizer.json content.
func NewHFTokenizer(content []byte) (*HFTokenizer, error) {
	var f hfFile
	if err := json.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("decode tokenizer.json: %w", err)
	}

	model, vocab, err := buildModel(&f.Model)
	if err != nil {
		return nil, err
	}

	norm, err := buildNormalizer(f.Normalizer)
	if err != nil {
		return nil, err
	}

	pre, err := buildPreTokenizer(f.PreTokenizer)
	if err != nil {
		return nil, err
	}

	dec, err := buildDecoder(f.Decoder)
	if err != nil {
		return nil, err
	}

	post, err := buildPostProcessor(f.PostProcessor, vocab)
	if err != nil {
		return nil, err
	}

	t := &HFTokenizer{
		kind:      model.kind(),
		normalize: norm,
		preTok:    pre,
		model:     model,
		post:      post,
		decode:    dec,
		idToToken: make(map[int]string, len(vocab)+len(f.AddedTokens)),
		special:   make(map[int]bool),
	}

	distinct := make(map[string]struct{}, len(vocab)+len(f.AddedTokens))
	for tok, id := range vocab {
		t.idToToken[id] = tok
		distinct[tok] = struct{}{}
	}

	for _, at := range f.AddedTokens {
		if at.Content == "" {
			return nil, fmt.Errorf("added token %d has empty content", at.ID)
		}

		t.idToToken[at.ID] = at.Content
		distinct[at.Content] = struct{}{}

		if at.Special {
			t.special[at.ID] = true
		}

		t.added = append(t.added, at)
	}

	sort.SliceStable(t.added, func(i, j int) bool {
		return len(t.added[i].Content) > len(t.added[j].Content)
	})

	t.vocabSize = len(distinct)
	if t.vocabSize == 0 {
		return nil, errors.New("tokenizer.json has an empty vocabulary")
	}

	return t, nil
}

// Kind returns the model type: WordPiece, BPE or Unigram.
func (t *HFTokenizer) Kind() string { return t.kind }

// VocabSize returns the number of distinct tokens, added tokens included.
func (t *HFTokenizer) VocabSize() int { return t.vocabSize }

// Encode tokenizes text. Added tokens are matched in the raw text first; the
// remaining segments go through normalizer, pre-tokenizer and model. With
// addSpecialTokens the post-processor inserts boundary tokens.
func (t *HFTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	var ids []int

	for i, seg := range t.splitAdded(text) {
		if seg.added {
			ids = append(ids, seg.id)
			continue
		}

		normalized := t.normalize(seg.text)
		if normalized == "" {
			continue
		}

		for _, word := range t.preTok([]string{normalized}, i == 0) {
			if word == "" {
				continue
			}

			wordIDs, err := t.model.tokenize(word)
			if err != nil {
				return nil, err
			}

			ids = append(ids, wordIDs...)
		}
	}

	if ids == nil {
		ids = []int{}
	}

	if addSpecialTokens && t.post != nil {
		ids = t.post(ids)
	}

	return ids, nil
}

// Decode converts ids to text. Special added tokens are skipped, so a lone
// boundary token decodes to the empty string.
func (t *HFTokenizer) Decode(ids []int) (string, error) {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		if t.special[id] {
			continue
		}

		tok, ok := t.idToToken[id]
		if !ok {
			return "", fmt.Errorf("token id %d out of vocabulary", id)
		}

		tokens = append(tokens, tok)
	}

	if t.decode == nil {
		return strings.Join(tokens, " "), nil
	}

	return strings.Join(t.decode(tokens), ""), nil
}

// TokenToID converts a token string to its id.
func (t *HFTokenizer) TokenToID(token string) (int, bool) {
	for _, at := range t.added {
		if at.Content == token {
			return at.ID, true
		}
	}

	return t.model.tokenID(token)
}

// IDToToken converts an id to its token string.
func (t *HFTokenizer) IDToToken(id int) (string, bool) {
	tok, ok := t.idToToken[id]
	return tok, ok
}

type segment struct {
	text  string
	id    int
	added bool
}

// splitAdded cuts text around occurrences of added tokens, longest first.
func (t *HFTokenizer) splitAdded(text string) []segment {
	if len(t.added) == 0 {
		return []segment{{text: text}}
	}

	var (
		out   []segment
		start int
	)

	for i := 0; i < len(text); {
		at, ok := t.matchAdded(text, i)
		if !ok {
			i++
			continue
		}

		before := text[start:i]
		if at.Lstrip {
			before = strings.TrimRightFunc(before, unicode.IsSpace)
		}

		if before != "" {
			out = append(out, segment{text: before})
		}

		out = append(out, segment{id: at.ID, added: true})

		i += len(at.Content)
		if at.Rstrip {
			for i < len(text) && isASCIISpace(text[i]) {
				i++
			}
		}

		start = i
	}

	if start < len(text) {
		out = append(out, segment{text: text[start:]})
	}

	return out
}

func (t *HFTokenizer) matchAdded(text string, i int) (AddedToken, bool) {
	for _, at := range t.added {
		if !strings.HasPrefix(text[i:], at.Content) {
			continue
		}

		if at.SingleWord && !isWordBoundary(text, i, i+len(at.Content)) {
			continue
		}

		return at, true
	}

	return AddedToken{}, false
}

func isWordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return false
		}
	}

	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return false
		}
	}

	return true
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
