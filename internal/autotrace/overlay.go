// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package autotrace

import (
	"encoding/json"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/modfile"

	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/pkg/errors"
)

// DefaultExclude keeps tests, vendored code and fixtures out of a rewrite.
var DefaultExclude = []string{"**/*_test.go", "vendor/**", "**/testdata/**", ".*/**"}

// OverlayConfig selects the files of a module to rewrite.
type OverlayConfig struct {
	// Root is the module root, the directory holding go.mod.
	Root string
	// OutDir receives rewritten files and overlay.json.
	OutDir string
	// Include and Exclude are doublestar patterns relative to Root.
	Include []string
	Exclude []string

	Tags            []string
	SampleRate      float64
	MessageTemplate string
	MinDuration     time.Duration
	SkipFuncLits    bool
}

// Overlay is the file format consumed by go build -overlay.
type Overlay struct {
	Replace map[string]string `json:"Replace"`
}

// FileReport summarises one rewritten file.
type FileReport struct {
	Path      string
	Functions int
}

// OverlayReport is returned by WriteOverlay.
type OverlayReport struct {
	OverlayPath string
	Files       []FileReport
}

// WriteOverlay rewrites every selected file of the module under cfg.Root
// into cfg.OutDir and writes an overlay mapping originals to rewritten
// copies. Files without eligible functions are left out of the overlay.
func WriteOverlay(cfg OverlayConfig) (*OverlayReport, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.Wrap(err, "resolving module root")
	}
	outDir, err := filepath.Abs(cfg.OutDir)
	if err != nil {
		return nil, errors.Wrap(err, "resolving output directory")
	}
	modulePath, err := readModulePath(root)
	if err != nil {
		return nil, err
	}
	include := cfg.Include
	if len(include) == 0 {
		include = []string{"**/*.go"}
	}
	exclude := cfg.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, &errors.ValidationError{Field: "pattern", Message: "invalid glob " + p}
		}
	}

	logger := log.WithComponent(log.Default(), "autotrace")
	overlay := Overlay{Replace: map[string]string{}}
	report := &OverlayReport{}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p == outDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !selected(rel, include, exclude) {
			return nil
		}

		src, err := os.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "reading %s", rel)
		}
		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, p, src, parser.ParseComments|parser.SkipObjectResolution)
		if err != nil {
			return errors.Wrapf(err, "parsing %s", rel)
		}
		if ast.IsGenerated(file) {
			return nil
		}

		opts := Options{
			Module:          path.Join(modulePath, path.Dir(rel)),
			Filename:        rel,
			Tags:            cfg.Tags,
			SampleRate:      cfg.SampleRate,
			MessageTemplate: cfg.MessageTemplate,
			MinDuration:     cfg.MinDuration,
			SkipFuncLits:    cfg.SkipFuncLits,
			Emitter:         DeferEmitter{},
		}
		res, err := Rewrite(fset, file, src, opts)
		if err != nil {
			return errors.Wrapf(err, "rewriting %s", rel)
		}
		if !res.Changed {
			return nil
		}

		dest := filepath.Join(outDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errors.Wrap(err, "creating output directory")
		}
		if err := os.WriteFile(dest, res.Source, 0o644); err != nil {
			return errors.Wrapf(err, "writing %s", dest)
		}
		overlay.Replace[p] = dest
		report.Files = append(report.Files, FileReport{Path: rel, Functions: len(res.Records)})
		logger.Debug("rewrote file", slog.String("file", rel), slog.Int("functions", len(res.Records)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating output directory")
	}
	data, err := json.MarshalIndent(overlay, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding overlay")
	}
	report.OverlayPath = filepath.Join(outDir, "overlay.json")
	if err := os.WriteFile(report.OverlayPath, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "writing overlay")
	}
	return report, nil
}

func selected(rel string, include, exclude []string) bool {
	if path.Ext(rel) != ".go" {
		return false
	}
	matched := false
	for _, p := range include {
		if ok, _ := doublestar.Match(p, rel); ok {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, p := range exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}

func readModulePath(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", &errors.ConfigError{Key: "root", Reason: "no go.mod in " + root, Cause: err}
	}
	modulePath := modfile.ModulePath(data)
	if modulePath == "" {
		return "", &errors.ConfigError{Key: "root", Reason: "go.mod in " + root + " declares no module"}
	}
	return modulePath, nil
}
