// Package registry resolves the configured model path to a GGUF file.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"inferd/internal/common/fsutil"
)

// ErrNoModels is returned when a model directory holds no *.gguf files.
var ErrNoModels = errors.New("no gguf models found")

// ErrModelNotFound is returned when the requested default model is absent.
var ErrModelNotFound = errors.New("model not found")

// Model is the GGUF file the daemon serves, with metadata read from its
// filename.
type Model struct {
	// ID is the filename, e.g. "Llama-3.1-8B-Instruct.Q4_K_M.gguf".
	ID   string
	Name string
	// Path is absolute; it is what the runtime loads.
	Path string
	// Quant is the quantization tag found in the name, upper-cased
	// ("Q4_K_M", "F16"); empty when none matches.
	Quant  string
	Family string
}

var quantRe = regexp.MustCompile(`(?i)\b((?:i?q\d+(?:_[a-z0-9]+)*)|f16|f32|bf16)\b`)

// LoadDir scans a directory for *.gguf files, sorted by ID. ID is the full
// filename; Path is absolute.
func LoadDir(dir string) ([]Model, error) {
	abs, err := fsutil.Abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []Model
	for _, e := range entries {
		if e.IsDir() || !fsutil.HasExt(e.Name(), ".gguf") {
			continue
		}
		models = append(models, describe(filepath.Join(abs, e.Name())))
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Resolve maps path to a single model. A file is used as is; a directory is
// scanned and defaultModel (filename with or without extension) selects
// the entry, falling back to the first one.
func Resolve(path, defaultModel string) (Model, error) {
	abs, err := fsutil.Abs(path)
	if err != nil {
		return Model{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return Model{}, fmt.Errorf("model path: %w", err)
	}
	if !fi.IsDir() {
		return describe(abs), nil
	}
	models, err := LoadDir(abs)
	if err != nil {
		return Model{}, err
	}
	if len(models) == 0 {
		return Model{}, fmt.Errorf("%w in %s", ErrNoModels, abs)
	}
	if defaultModel == "" {
		return models[0], nil
	}
	for _, m := range models {
		if m.ID == defaultModel || strings.TrimSuffix(m.ID, filepath.Ext(m.ID)) == defaultModel {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %s in %s", ErrModelNotFound, defaultModel, abs)
}

// describe derives display metadata from a GGUF filename such as
// "Llama-3.1-8B-Instruct.Q4_K_M.gguf".
func describe(path string) Model {
	id := filepath.Base(path)
	stem := strings.TrimSuffix(id, filepath.Ext(id))
	m := Model{ID: id, Name: stem, Path: path}
	if q := quantRe.FindString(stem); q != "" {
		m.Quant = strings.ToUpper(q)
	}
	if f := strings.FieldsFunc(stem, func(r rune) bool { return r == '-' || r == '.' || r == '_' }); len(f) > 0 {
		m.Family = strings.ToLower(f[0])
	}
	return m
}
