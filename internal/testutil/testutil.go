// Package testutil provides shared fixtures and skip helpers for tests.
//
// The fixtures are tiny but complete tokenizer descriptors, small enough to
// reason about token ids by hand. Skip helpers call t.Skip with a clear
// human-readable reason when an optional prerequisite is absent, so tests
// remain runnable in partial environments without failing noisily.
//
// Typical usage:
//
//	func TestMyHandler(t *testing.T) {
//	    base := t.TempDir()
//	    testutil.WriteMode(t, base, "bert", tokenizer.HFDescriptor, testutil.WordPieceJSON)
//	    ...
//	}
package testutil

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WordPieceJSON is a BERT-style tokenizer.json. Its template post-processor
// wraps every encoding in [CLS] (id 2) and [SEP] (id 3).
//
// Vocabulary: [PAD]=0 [UNK]=1 [CLS]=2 [SEP]=3 hello=4 world=5 ##s=6 un=7
// ##able=8 !=9 ,=10 the=11 a=12.
const WordPieceJSON = `{
  "version": "1.0",
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 1, "content": "[UNK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 2, "content": "[CLS]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 3, "content": "[SEP]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": {"type": "BertNormalizer", "clean_text": true, "handle_chinese_chars": true, "strip_accents": null, "lowercase": true},
  "pre_tokenizer": {"type": "BertPreTokenizer"},
  "post_processor": {
    "type": "TemplateProcessing",
    "single": [
      {"SpecialToken": {"id": "[CLS]", "type_id": 0}},
      {"Sequence": {"id": "A", "type_id": 0}},
      {"SpecialToken": {"id": "[SEP]", "type_id": 0}}
    ],
    "pair": [],
    "special_tokens": {
      "[CLS]": {"id": "[CLS]", "ids": [2], "tokens": ["[CLS]"]},
      "[SEP]": {"id": "[SEP]", "ids": [3], "tokens": ["[SEP]"]}
    }
  },
  "decoder": {"type": "WordPiece", "prefix": "##", "cleanup": true},
  "model": {
    "type": "WordPiece",
    "unk_token": "[UNK]",
    "continuing_subword_prefix": "##",
    "max_input_chars_per_word": 100,
    "vocab": {
      "[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3,
      "hello": 4, "world": 5, "##s": 6, "un": 7, "##able": 8,
      "!": 9, ",": 10, "the": 11, "a": 12
    }
  }
}`

// ByteLevelBPEJSON is a GPT-2 style tokenizer.json without boundary tokens.
//
// "hello" encodes to 11 and " world" to 16; <|endoftext|> is special id 17.
const ByteLevelBPEJSON = `{
  "version": "1.0",
  "added_tokens": [
    {"id": 17, "content": "<|endoftext|>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": null,
  "pre_tokenizer": {"type": "ByteLevel", "add_prefix_space": false, "trim_offsets": true, "use_regex": true},
  "post_processor": {"type": "ByteLevel", "add_prefix_space": true, "trim_offsets": false, "use_regex": true},
  "decoder": {"type": "ByteLevel", "add_prefix_space": true, "trim_offsets": true, "use_regex": true},
  "model": {
    "type": "BPE",
    "dropout": null,
    "unk_token": null,
    "continuing_subword_prefix": "",
    "end_of_word_suffix": "",
    "fuse_unk": false,
    "byte_fallback": false,
    "vocab": {
      "h": 0, "e": 1, "l": 2, "o": 3, "w": 4, "r": 5, "d": 6, "Ġ": 7,
      "he": 8, "ll": 9, "hell": 10, "hello": 11,
      "Ġw": 12, "or": 13, "Ġwor": 14, "Ġworl": 15, "Ġworld": 16
    },
    "merges": ["h e", "l l", "he ll", "hell o", "Ġ w", "o r", "Ġw or", "Ġwor l", "Ġworl d"]
  }
}`

// UnigramJSON is a SentencePiece-converted tokenizer.json with a Metaspace
// pre-tokenizer. "hello" encodes to the single piece ▁hello (id 4).
const UnigramJSON = `{
  "version": "1.0",
  "added_tokens": [
    {"id": 0, "content": "<unk>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": null,
  "pre_tokenizer": {"type": "Metaspace", "replacement": "▁", "prepend_scheme": "always", "split": true},
  "post_processor": null,
  "decoder": {"type": "Metaspace", "replacement": "▁", "prepend_scheme": "always", "split": true},
  "model": {
    "type": "Unigram",
    "unk_id": 0,
    "byte_fallback": false,
    "vocab": [
      ["<unk>", 0.0], ["▁", -1.0], ["▁he", -2.0], ["llo", -2.0], ["▁hello", -3.0],
      ["h", -5.0], ["e", -5.0], ["l", -5.0], ["o", -5.0], ["▁world", -3.0]
    ]
  }
}`

// TiktokenVocabSize is the vocabulary size of TiktokenRanks plus its sidecar
// special token.
const TiktokenVocabSize = 261

// TiktokenSidecar is a tiktoken_config.json declaring one special token.
const TiktokenSidecar = `{"name": "tiny", "special_tokens": {"<|endoftext|>": 260}}`

// TiktokenRanks returns a rank file covering every single byte (rank = byte
// value) plus merges that collapse "hello" into rank 259.
func TiktokenRanks() string {
	var sb strings.Builder

	line := func(tok string, rank int) {
		fmt.Fprintf(&sb, "%s %d\n", base64.StdEncoding.EncodeToString([]byte(tok)), rank)
	}

	for b := 0; b < 256; b++ {
		line(string([]byte{byte(b)}), b)
	}

	line("he", 256)
	line("ll", 257)
	line("hell", 258)
	line("hello", 259)

	return sb.String()
}

// WriteMode creates baseDir/mode/descriptor with content and returns the mode
// directory.
func WriteMode(tb testing.TB, baseDir, mode, descriptor, content string) string {
	tb.Helper()

	dir := filepath.Join(baseDir, mode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", dir, err)
	}

	p := filepath.Join(dir, descriptor)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", p, err)
	}

	return dir
}

// RequireSentencePieceModel skips the test unless COLORTOK_SP_MODEL names a
// readable SentencePiece tokenizer.model, and returns its path.
func RequireSentencePieceModel(tb testing.TB) string {
	tb.Helper()

	p := os.Getenv("COLORTOK_SP_MODEL")
	if p == "" {
		tb.Skipf("COLORTOK_SP_MODEL not set; skipping SentencePiece model tests")

		return ""
	}

	if _, err := os.Stat(p); err != nil {
		tb.Skipf("SentencePiece model not found at COLORTOK_SP_MODEL=%q", p)
	}

	return p
}
