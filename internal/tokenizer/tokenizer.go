// Package tokenizer loads tokenizer artifacts from disk and exposes them
// behind a single Tokenizer interface.
//
// Three descriptor kinds are recognized inside a mode directory, checked in
// this order: a Hugging Face tokenizer.json, a SentencePiece tokenizer.model
// and a tiktoken rank file named tokenizer.tiktoken.
package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Tokenizer converts text to token ids and back.
//
// Implementations are immutable after load and safe for concurrent use.
type Tokenizer interface {
	// VocabSize returns the number of distinct tokens the model can emit.
	VocabSize() int
	// Encode tokenizes text. When addSpecialTokens is true the tokenizer's own
	// boundary tokens (e.g. [CLS]/[SEP]) are inserted.
	Encode(text string, addSpecialTokens bool) ([]int, error)
	// Decode converts ids back to their surface string.
	Decode(ids []int) (string, error)
}

// Descriptor file names, in lookup order.
const (
	HFDescriptor            = "tokenizer.json"
	SentencePieceDescriptor = "tokenizer.model"
	TiktokenDescriptor      = "tokenizer.tiktoken"
)

// Descriptors lists the recognized descriptor files in lookup order.
var Descriptors = []string{HFDescriptor, SentencePieceDescriptor, TiktokenDescriptor}

// ErrDescriptorNotFound is returned when a directory holds no recognized descriptor.
var ErrDescriptorNotFound = errors.New("tokenizer descriptor not found")

// ParseError reports a descriptor that exists but could not be loaded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse tokenizer descriptor %q: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FindDescriptor returns the path of the first recognized descriptor in dir.
func FindDescriptor(dir string) (string, error) {
	for _, name := range Descriptors {
		p := filepath.Join(dir, name)

		fi, err := os.Stat(p)
		if err == nil && !fi.IsDir() {
			return p, nil
		}

		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}

	return "", fmt.Errorf("%w in %s", ErrDescriptorNotFound, dir)
}

// LoadDir loads the tokenizer described by the first recognized descriptor in dir.
func LoadDir(dir string) (Tokenizer, error) {
	path, err := FindDescriptor(dir)
	if err != nil {
		return nil, err
	}

	return LoadFile(path)
}

// LoadFile loads a tokenizer from a descriptor path, choosing the
// implementation from the file name.
func LoadFile(path string) (Tokenizer, error) {
	var (
		tok Tokenizer
		err error
	)

	switch filepath.Base(path) {
	case HFDescriptor:
		tok, err = NewHFTokenizerFromFile(path)
	case SentencePieceDescriptor:
		tok, err = NewSentencePieceTokenizer(path)
	case TiktokenDescriptor:
		tok, err = NewTiktokenTokenizer(path)
	default:
		return nil, fmt.Errorf("%w: unrecognized descriptor %q", ErrDescriptorNotFound, path)
	}

	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDescriptorNotFound, path)
		}

		var pe *ParseError
		if errors.As(err, &pe) {
			return nil, err
		}

		return nil, &ParseError{Path: path, Err: err}
	}

	return tok, nil
}
