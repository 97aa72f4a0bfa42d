package artifact

import (
	"fmt"
	"sort"
)

// File is one file fetched from a hub repository.
type File struct {
	// Filename is the path inside the repository.
	Filename string `json:"filename"`
	// SaveAs is the local file name; empty means the base of Filename.
	SaveAs string `json:"save_as,omitempty"`
	// SHA256 pins the expected digest. Empty means resolve it at download time.
	SHA256 string `json:"sha256,omitempty"`
}

func (f File) localName() string {
	if f.SaveAs != "" {
		return f.SaveAs
	}
	return baseName(f.Filename)
}

// Preset names a well-known tokenizer repository.
type Preset struct {
	Mode     string
	Repo     string
	Revision string
	Files    []File
}

var presets = map[string]Preset{
	"bert-base-uncased": {
		Mode:     "bert-base-uncased",
		Repo:     "google-bert/bert-base-uncased",
		Revision: "main",
		Files:    []File{{Filename: "tokenizer.json"}},
	},
	"gpt2": {
		Mode:     "gpt2",
		Repo:     "openai-community/gpt2",
		Revision: "main",
		Files:    []File{{Filename: "tokenizer.json"}},
	},
	"roberta-base": {
		Mode:     "roberta-base",
		Repo:     "FacebookAI/roberta-base",
		Revision: "main",
		Files:    []File{{Filename: "tokenizer.json"}},
	},
	"t5-small": {
		Mode:     "t5-small",
		Repo:     "google-t5/t5-small",
		Revision: "main",
		Files:    []File{{Filename: "spiece.model", SaveAs: "tokenizer.model"}},
	},
}

// LookupPreset returns the preset registered under name.
func LookupPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("no preset named %q (known: %v)", name, PresetNames())
	}
	return p, nil
}

// PresetNames returns the preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
