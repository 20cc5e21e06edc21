package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeModels(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	return dir
}

func TestLoadDir_FiltersAndSorts(t *testing.T) {
	dir := writeModels(t, "b.GGUF", "a.gguf", "not-model.txt", "model.bin")
	if err := os.Mkdir(filepath.Join(dir, "sub.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(models) != 2 || models[0].ID != "a.gguf" || models[1].ID != "b.GGUF" {
		t.Fatalf("models: %+v", models)
	}
	if !filepath.IsAbs(models[0].Path) {
		t.Fatalf("path not absolute: %s", models[0].Path)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	dir := writeModels(t, "tinyllama.Q4_K_M.gguf", "mistral-7b-instruct.Q8_0.gguf")

	m, err := Resolve(dir, "")
	if err != nil || m.ID != "mistral-7b-instruct.Q8_0.gguf" {
		t.Fatalf("first model: %+v %v", m, err)
	}
	m, err = Resolve(dir, "tinyllama.Q4_K_M")
	if err != nil || m.ID != "tinyllama.Q4_K_M.gguf" {
		t.Fatalf("default without extension: %+v %v", m, err)
	}
	if m.Quant != "Q4_K_M" || m.Family != "tinyllama" || m.Name != "tinyllama.Q4_K_M" {
		t.Fatalf("metadata: %+v", m)
	}
	if _, err := Resolve(dir, "phi-3"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}

	file := filepath.Join(dir, "tinyllama.Q4_K_M.gguf")
	m, err = Resolve(file, "ignored")
	if err != nil || m.Path != file {
		t.Fatalf("file path: %+v %v", m, err)
	}

	if _, err := Resolve(t.TempDir(), ""); !errors.Is(err, ErrNoModels) {
		t.Fatalf("expected ErrNoModels, got %v", err)
	}
	if _, err := Resolve(filepath.Join(dir, "missing.gguf"), ""); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestResolve_ExpandsHome(t *testing.T) {
	home := writeModels(t, "m.gguf")
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	m, err := Resolve("~/m.gguf", "")
	if err != nil || m.Path != filepath.Join(home, "m.gguf") {
		t.Fatalf("resolve: %+v %v", m, err)
	}
}
