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
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/logfire-go/internal/autotrace"
	"github.com/tombee/logfire-go/internal/commands/shared"
)

type options struct {
	root            string
	out             string
	include         []string
	exclude         []string
	tags            []string
	sampleRate      float64
	messageTemplate string
	minDuration     time.Duration
	skipFuncLits    bool
}

// Result is the JSON output of the autotrace command.
type Result struct {
	shared.JSONResponse
	Overlay string                 `json:"overlay"`
	Files   []autotrace.FileReport `json:"files"`
}

// NewCommand creates the autotrace command.
func NewCommand() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "autotrace",
		Short: "Write a build overlay that wraps functions in spans",
		Long: `Autotrace rewrites every eligible function of a module so that it runs
inside a logfire span, and writes the rewritten copies plus an overlay.json
that points the Go toolchain at them. Sources are never modified.

Functions opt out with a //logfire:no_auto_trace directive or by calling
logfire.NoAutoTrace() as their first statement.`,
		Example: `  logfire autotrace
  go build -overlay .logfire/autotrace/overlay.json ./...

  logfire autotrace --include 'internal/**' --min-duration 5ms --tags autotraced`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.root, "root", ".", "Module root (the directory holding go.mod)")
	f.StringVar(&opts.out, "out", "", "Output directory (default: <root>/.logfire/autotrace)")
	f.StringSliceVar(&opts.include, "include", nil, "Glob patterns of files to instrument (default: **/*.go)")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "Glob patterns of files to skip (default: tests, vendor, testdata)")
	f.StringSliceVar(&opts.tags, "tags", nil, "Tags added to every generated span")
	f.Float64Var(&opts.sampleRate, "sample-rate", 1, "Sample rate of generated spans")
	f.StringVar(&opts.messageTemplate, "message-template", "", "Message template, may use {module} and {qualname} (default: \"Calling {module}.{qualname}\")")
	f.DurationVar(&opts.minDuration, "min-duration", 0, "Only emit spans for calls that take at least this long")
	f.BoolVar(&opts.skipFuncLits, "skip-func-lits", false, "Do not instrument function literals")

	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	if opts.sampleRate < 0 || opts.sampleRate > 1 {
		return shared.NewInvalidConfigError("--sample-rate must be between 0 and 1", nil)
	}
	if opts.minDuration < 0 {
		return shared.NewInvalidConfigError("--min-duration must not be negative", nil)
	}
	out := opts.out
	if out == "" {
		out = filepath.Join(opts.root, ".logfire", "autotrace")
	}
	rate := opts.sampleRate
	if rate == 1 {
		rate = 0
	}
	exclude := opts.exclude
	if len(exclude) > 0 {
		exclude = append(exclude, autotrace.DefaultExclude...)
	}

	report, err := autotrace.WriteOverlay(autotrace.OverlayConfig{
		Root:            opts.root,
		OutDir:          out,
		Include:         opts.include,
		Exclude:         exclude,
		Tags:            opts.tags,
		SampleRate:      rate,
		MessageTemplate: opts.messageTemplate,
		MinDuration:     opts.minDuration,
		SkipFuncLits:    opts.skipFuncLits,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if shared.GetJSON() {
		files := report.Files
		if files == nil {
			files = []autotrace.FileReport{}
		}
		return shared.EmitJSON(w, Result{
			JSONResponse: shared.NewResponse("autotrace"),
			Overlay:      report.OverlayPath,
			Files:        files,
		})
	}

	if len(report.Files) == 0 {
		fmt.Fprintln(w, shared.RenderWarn("no eligible functions found"))
	}
	total := 0
	for _, f := range report.Files {
		total += f.Functions
		if shared.GetVerbose() {
			fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("%s %s", f.Path,
				shared.RenderLabel(fmt.Sprintf("(%d functions)", f.Functions)))))
		}
	}
	fmt.Fprintf(w, "Instrumented %d functions in %d files\n", total, len(report.Files))
	fmt.Fprintf(w, "\n  go build -overlay %s ./...\n", report.OverlayPath)
	return nil
}
