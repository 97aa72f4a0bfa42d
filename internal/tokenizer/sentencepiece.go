package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"google.golang.org/protobuf/proto"
)

// ErrEmptyPath is returned when NewSentencePieceTokenizer is called with an empty path.
var ErrEmptyPath = errors.New("tokenizer model path must not be empty")

const (
	spSpace   = "▁" // ▁ word-start marker
	spUnknown = " ⁇ "
)

type spPieceKind uint8

const (
	spNormal spPieceKind = iota
	spControl
	spUnknownPiece
	spByte
)

type spPiece struct {
	text string
	kind spPieceKind
	b    byte
}

// SentencePieceTokenizer implements Tokenizer over a SentencePiece UNIGRAM model.
// Encoding is done by the upstream library; the piece table for decoding is
// read from the model proto directly because the library does not expose it.
type SentencePieceTokenizer struct {
	proc   gosp.Sentencepiece
	pieces []spPiece
}

// NewSentencePieceTokenizer loads a SentencePiece model from the given path.
func NewSentencePieceTokenizer(modelPath string) (*SentencePieceTokenizer, error) {
	if modelPath == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read sentencepiece model %q: %w", modelPath, err)
	}

	var model gosp.ModelProto
	if err := proto.Unmarshal(data, &model); err != nil {
		return nil, &ParseError{Path: modelPath, Err: fmt.Errorf("unmarshal sentencepiece model: %w", err)}
	}

	if len(model.GetPieces()) == 0 {
		return nil, &ParseError{Path: modelPath, Err: errors.New("sentencepiece model has no pieces")}
	}

	proc, err := gosp.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, &ParseError{Path: modelPath, Err: err}
	}

	return &SentencePieceTokenizer{proc: proc, pieces: spPieceTable(&model)}, nil
}

func spPieceTable(model *gosp.ModelProto) []spPiece {
	out := make([]spPiece, len(model.GetPieces()))
	for i, p := range model.GetPieces() {
		text := p.GetPiece()
		sp := spPiece{text: text}

		switch p.GetType() {
		case gosp.ModelProto_SentencePiece_CONTROL:
			sp.kind = spControl
		case gosp.ModelProto_SentencePiece_UNKNOWN:
			sp.kind = spUnknownPiece
		default:
			if b, ok := parseByteToken(text); ok {
				sp.kind = spByte
				sp.b = b
			}
		}

		out[i] = sp
	}

	return out
}

// VocabSize returns the number of pieces in the model.
func (t *SentencePieceTokenizer) VocabSize() int { return len(t.pieces) }

// Encode tokenizes text. SentencePiece models carry no post-processor, so
// addSpecialTokens has no effect.
func (t *SentencePieceTokenizer) Encode(text string, _ bool) ([]int, error) {
	if text == "" {
		return []int{}, nil
	}

	ids := t.proc.TokenizeToIDs(text)

	result := make([]int, len(ids))
	for i, id := range ids {
		result[i] = int(id)
	}

	return result, nil
}

// Decode converts ids back to text the way SentencePiece's DecodeIds does:
// control pieces vanish, byte pieces are reassembled and the dummy prefix
// space of the first piece is dropped.
func (t *SentencePieceTokenizer) Decode(ids []int) (string, error) {
	var (
		sb      strings.Builder
		pending []byte
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		sb.WriteString(strings.ToValidUTF8(string(pending), string(utf8.RuneError)))
		pending = pending[:0]
	}

	for _, id := range ids {
		if id < 0 || id >= len(t.pieces) {
			return "", fmt.Errorf("token id %d out of range [0, %d)", id, len(t.pieces))
		}

		p := t.pieces[id]
		if p.kind == spByte {
			pending = append(pending, p.b)
			continue
		}

		flush()

		switch p.kind {
		case spControl:
		case spUnknownPiece:
			sb.WriteString(spUnknown)
		default:
			sb.WriteString(strings.ReplaceAll(p.text, spSpace, " "))
		}
	}

	flush()

	return strings.TrimPrefix(sb.String(), " "), nil
}
