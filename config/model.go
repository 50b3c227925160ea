package config

import (
	"context"
	"fmt"

	"github.com/knights-analytics/gopaddle/util/fileutil"
)

// ModelKind tells which source a Model loads from.
type ModelKind int

const (
	ModelNone ModelKind = iota
	// ModelDir is an uncombined model: a directory of per-variable files.
	ModelDir
	// ModelFiles is a combined model: one program file and one params file.
	ModelFiles
	// ModelMemory is a combined model already held in memory.
	ModelMemory
	// ModelURLs is a combined model on local disk or s3, fetched by Resolve.
	ModelURLs
)

func (k ModelKind) String() string {
	switch k {
	case ModelDir:
		return "dir"
	case ModelFiles:
		return "files"
	case ModelMemory:
		return "memory"
	case ModelURLs:
		return "urls"
	default:
		return "none"
	}
}

// Model is where the predictor reads its program and weights from. Exactly one source is set.
type Model struct {
	Dir        string `json:"dir,omitempty" yaml:"dir,omitempty"`
	ProgFile   string `json:"prog_file,omitempty" yaml:"prog_file,omitempty"`
	ParamsFile string `json:"params_file,omitempty" yaml:"params_file,omitempty"`
	ProgURL    string `json:"prog_url,omitempty" yaml:"prog_url,omitempty"`
	ParamsURL  string `json:"params_url,omitempty" yaml:"params_url,omitempty"`

	ProgBuffer   []byte `json:"-" yaml:"-"`
	ParamsBuffer []byte `json:"-" yaml:"-"`
}

// ModelFromDir loads an uncombined model from dir.
func ModelFromDir(dir string) Model {
	return Model{Dir: dir}
}

// ModelFromFiles loads a combined model.
func ModelFromFiles(progFile, paramsFile string) Model {
	return Model{ProgFile: progFile, ParamsFile: paramsFile}
}

// ModelFromMemory loads a combined model from buffers. The buffers are copied into the
// native config when the predictor is built and may be reused afterwards.
func ModelFromMemory(prog, params []byte) Model {
	return Model{ProgBuffer: prog, ParamsBuffer: params}
}

// ModelFromURLs reads a combined model from local paths or s3:// URLs into memory.
func ModelFromURLs(ctx context.Context, progURL, paramsURL string) (Model, error) {
	m := Model{ProgURL: progURL, ParamsURL: paramsURL}
	if err := m.Resolve(ctx); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Kind returns the source the model loads from. A model with more than one source reports
// the first of memory, files, dir, urls; Validate rejects it.
func (m Model) Kind() ModelKind {
	switch {
	case m.ProgBuffer != nil || m.ParamsBuffer != nil:
		return ModelMemory
	case m.ProgFile != "" || m.ParamsFile != "":
		return ModelFiles
	case m.Dir != "":
		return ModelDir
	case m.ProgURL != "" || m.ParamsURL != "":
		return ModelURLs
	}
	return ModelNone
}

func (m Model) sources() int {
	n := 0
	if m.ProgBuffer != nil || m.ParamsBuffer != nil {
		n++
	}
	if m.ProgFile != "" || m.ParamsFile != "" {
		n++
	}
	if m.Dir != "" {
		n++
	}
	if m.ProgURL != "" || m.ParamsURL != "" {
		n++
	}
	return n
}

// Resolve fetches URL sources into memory. Other sources are left untouched.
func (m *Model) Resolve(ctx context.Context) error {
	if m.Kind() != ModelURLs {
		return nil
	}
	if m.ProgURL == "" || m.ParamsURL == "" {
		return &ValidationError{Section: "model", Field: "prog_url", Reason: "prog_url and params_url must both be set"}
	}
	prog, err := fileutil.ReadFileBytesContext(ctx, m.ProgURL)
	if err != nil {
		return fmt.Errorf("reading model program %s: %w", m.ProgURL, err)
	}
	params, err := fileutil.ReadFileBytesContext(ctx, m.ParamsURL)
	if err != nil {
		return fmt.Errorf("reading model params %s: %w", m.ParamsURL, err)
	}
	m.ProgBuffer, m.ParamsBuffer = prog, params
	m.ProgURL, m.ParamsURL = "", ""
	return nil
}

// Validate checks that exactly one complete source is set.
func (m Model) Validate() error {
	if n := m.sources(); n != 1 {
		if n == 0 {
			return &ValidationError{Section: "model", Field: "model", Reason: "no model source set"}
		}
		return &ValidationError{Section: "model", Field: "model", Reason: "more than one model source set"}
	}
	switch m.Kind() {
	case ModelFiles:
		if m.ProgFile == "" || m.ParamsFile == "" {
			return &ValidationError{Section: "model", Field: "prog_file", Reason: "prog_file and params_file must both be set"}
		}
	case ModelMemory:
		if len(m.ProgBuffer) == 0 {
			return &ValidationError{Section: "model", Field: "prog_buffer", Reason: "program buffer is empty"}
		}
	case ModelURLs:
		return &ValidationError{Section: "model", Field: "prog_url", Reason: "URL sources must be resolved before use"}
	}
	return nil
}
