package tokenizer

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/pkoukk/tiktoken-go"
)

// TiktokenConfigFile is the optional sidecar next to tokenizer.tiktoken.
const TiktokenConfigFile = "tiktoken_config.json"

// cl100kPattern is used when no sidecar overrides the split pattern.
const cl100kPattern = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`

type tiktokenConfig struct {
	Name          string         `json:"name"`
	Pattern       string         `json:"pattern"`
	SpecialTokens map[string]int `json:"special_tokens"`
}

// TiktokenTokenizer implements Tokenizer over an OpenAI-style BPE rank file.
type TiktokenTokenizer struct {
	enc       *tiktoken.Tiktoken
	vocabSize int
}

// NewTiktokenTokenizer loads a rank file ("<base64 token> <rank>" per line)
// and its optional tiktoken_config.json sidecar.
func NewTiktokenTokenizer(path string) (*TiktokenTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiktoken ranks %q: %w", path, err)
	}

	ranks, err := parseTiktokenRanks(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	cfg := tiktokenConfig{Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}

	sidecar := filepath.Join(filepath.Dir(path), TiktokenConfigFile)
	if raw, err := os.ReadFile(sidecar); err == nil {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ParseError{Path: sidecar, Err: err}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", sidecar, err)
	}

	if cfg.Pattern == "" {
		cfg.Pattern = cl100kPattern
	}

	if cfg.SpecialTokens == nil {
		cfg.SpecialTokens = map[string]int{}
	}

	bpe, err := tiktoken.NewCoreBPE(ranks, cfg.SpecialTokens, cfg.Pattern)
	if err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("build bpe: %w", err)}
	}

	specialSet := make(map[string]any, len(cfg.SpecialTokens))
	for k := range cfg.SpecialTokens {
		specialSet[k] = true
	}

	enc := tiktoken.NewTiktoken(bpe, &tiktoken.Encoding{
		Name:           cfg.Name,
		PatStr:         cfg.Pattern,
		MergeableRanks: ranks,
		SpecialTokens:  cfg.SpecialTokens,
	}, specialSet)

	return &TiktokenTokenizer{
		enc:       enc,
		vocabSize: len(ranks) + len(cfg.SpecialTokens),
	}, nil
}

func parseTiktokenRanks(data []byte) (map[string]int, error) {
	ranks := make(map[string]int)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	for sc.Scan() {
		line++

		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"<token> <rank>\", got %q", line, text)
		}

		token, err := base64.StdEncoding.DecodeString(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: decode token: %w", line, err)
		}

		rank, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: parse rank: %w", line, err)
		}

		ranks[string(token)] = rank
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(ranks) == 0 {
		return nil, errors.New("empty rank file")
	}

	return ranks, nil
}

// VocabSize returns the number of ranked tokens plus special tokens.
func (t *TiktokenTokenizer) VocabSize() int { return t.vocabSize }

// Encode tokenizes text. tiktoken encodings define no boundary tokens, so
// addSpecialTokens has no effect; special token text is encoded as ordinary text.
func (t *TiktokenTokenizer) Encode(text string, _ bool) ([]int, error) {
	if text == "" {
		return []int{}, nil
	}

	return t.enc.Encode(text, nil, nil), nil
}

// Decode converts ids to text. Partial UTF-8 sequences become U+FFFD.
func (t *TiktokenTokenizer) Decode(ids []int) (string, error) {
	return strings.ToValidUTF8(t.enc.Decode(ids), string(utf8.RuneError)), nil
}
