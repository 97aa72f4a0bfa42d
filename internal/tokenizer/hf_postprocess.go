package tokenizer

import (
	"fmt"
)

// postProcessorFunc adds boundary tokens around a single encoded sequence.
type postProcessorFunc func(ids []int) []int

func identityIDs(ids []int) []int { return ids }

// buildPostProcessor returns nil when tokenizer.json has no post-processor.
func buildPostProcessor(p *hfPostProcessor, vocab map[string]int) (postProcessorFunc, error) {
	if p == nil {
		return nil, nil
	}

	switch p.Type {
	case "TemplateProcessing":
		return buildTemplate(p)
	case "BertProcessing":
		return buildWrap(p, vocab, "[CLS]", "[SEP]")
	case "RobertaProcessing":
		return buildWrap(p, vocab, "<s>", "</s>")
	case "ByteLevel":
		// Only adjusts offsets, which are not tracked here.
		return identityIDs, nil
	case "Sequence":
		steps := make([]postProcessorFunc, 0, len(p.Processors))
		for i := range p.Processors {
			fn, err := buildPostProcessor(&p.Processors[i], vocab)
			if err != nil {
				return nil, err
			}
			if fn != nil {
				steps = append(steps, fn)
			}
		}

		return func(ids []int) []int {
			for _, fn := range steps {
				ids = fn(ids)
			}
			return ids
		}, nil
	default:
		return nil, fmt.Errorf("unsupported post-processor %q", p.Type)
	}
}

func buildTemplate(p *hfPostProcessor) (postProcessorFunc, error) {
	// A nil element stands for the sequence itself.
	var parts [][]int

	for i, piece := range p.Single {
		switch {
		case piece.Sequence != nil:
			parts = append(parts, nil)
		case piece.SpecialToken != nil:
			sp, ok := p.SpecialTokens[piece.SpecialToken.ID]
			if !ok {
				return nil, fmt.Errorf("template piece %d: unknown special token %q", i, piece.SpecialToken.ID)
			}
			if len(sp.IDs) == 0 {
				return nil, fmt.Errorf("template piece %d: special token %q has no ids", i, piece.SpecialToken.ID)
			}
			parts = append(parts, sp.IDs)
		default:
			return nil, fmt.Errorf("template piece %d is empty", i)
		}
	}

	return func(ids []int) []int {
		out := make([]int, 0, len(ids)+len(parts))
		for _, part := range parts {
			if part == nil {
				out = append(out, ids...)
			} else {
				out = append(out, part...)
			}
		}
		return out
	}, nil
}

// buildWrap handles BertProcessing and RobertaProcessing: cls + ids + sep.
func buildWrap(p *hfPostProcessor, vocab map[string]int, defCls, defSep string) (postProcessorFunc, error) {
	cls, err := specialPair(p.Cls, vocab, defCls)
	if err != nil {
		return nil, fmt.Errorf("%s cls: %w", p.Type, err)
	}

	sep, err := specialPair(p.Sep, vocab, defSep)
	if err != nil {
		return nil, fmt.Errorf("%s sep: %w", p.Type, err)
	}

	return func(ids []int) []int {
		out := make([]int, 0, len(ids)+2)
		out = append(out, cls)
		out = append(out, ids...)
		return append(out, sep)
	}, nil
}

// specialPair reads a ["token", id] pair, falling back to the vocab entry of def.
func specialPair(pair []any, vocab map[string]int, def string) (int, error) {
	if len(pair) == 0 {
		id, ok := vocab[def]
		if !ok {
			return 0, fmt.Errorf("default token %q not in vocabulary", def)
		}
		return id, nil
	}

	if len(pair) != 2 {
		return 0, fmt.Errorf("want [token, id], got %d elements", len(pair))
	}

	id, ok := pair[1].(float64)
	if !ok {
		return 0, fmt.Errorf("id %v is not a number", pair[1])
	}

	return int(id), nil
}
