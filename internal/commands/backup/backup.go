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

package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"

	"github.com/tombee/logfire-go/internal/commands/shared"
	"github.com/tombee/logfire-go/internal/tracing"
	"github.com/tombee/logfire-go/internal/tracing/export"
	"github.com/tombee/logfire-go/pkg/errors"
)

// defaultConfigFile is read when --config is not given.
const defaultConfigFile = "logfire.yaml"

// Summary describes the contents of a backup file.
type Summary struct {
	shared.JSONResponse
	Path          string     `json:"path"`
	Frames        int        `json:"frames"`
	ResourceSpans int        `json:"resource_spans"`
	Spans         int        `json:"spans"`
	Services      []string   `json:"services"`
	FirstStart    *time.Time `json:"first_start,omitempty"`
	LastEnd       *time.Time `json:"last_end,omitempty"`
	SpanList      []SpanInfo `json:"span_list,omitempty"`

	// PendingRetries counts request bodies waiting in the retry directory.
	// It is only reported for the configured backup file.
	PendingRetries *int `json:"pending_retries,omitempty"`
}

// SpanInfo is one span in a listing.
type SpanInfo struct {
	Name    string    `json:"name"`
	TraceID string    `json:"trace_id"`
	SpanID  string    `json:"span_id"`
	Start   time.Time `json:"start"`
}

// NewCommand creates the backup command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Work with span backup files",
		Long: `When the backend cannot be reached the SDK appends undeliverable spans
to a backup file in its data directory. These commands read that file.`,
	}
	cmd.AddCommand(newInspectCommand())
	return cmd
}

func newInspectCommand() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Summarize a backup file",
		Long: `Inspect decodes every frame of a backup file and reports how many
export requests and spans it holds. Without an argument the backup file of
the configured data directory is read.`,
		Example: `  logfire backup inspect
  logfire backup inspect .logfire/logfire_spans.bin --list --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args, list)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List every span")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string, list bool) error {
	var (
		path     string
		retryDir string
	)
	if len(args) == 1 {
		path = args[0]
	} else {
		configPath := shared.GetConfigPath()
		if configPath == "" {
			configPath = defaultConfigFile
		}
		cfg, err := tracing.LoadConfig(configPath)
		if err != nil {
			return err
		}
		path = cfg.BackupPath()
		retryDir = cfg.RetryDir()
	}

	f, err := os.Open(path)
	if err != nil {
		return shared.NewFailedError("opening backup file", err)
	}
	defer f.Close()

	summary, err := Inspect(f, path, list)
	if err != nil {
		return err
	}
	if retryDir != "" {
		n, err := countRetries(retryDir)
		if err != nil {
			return err
		}
		summary.PendingRetries = &n
	}

	w := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(w, summary)
	}
	printSummary(w, summary)
	return nil
}

// Inspect reads every frame from r.
func Inspect(r io.Reader, path string, list bool) (*Summary, error) {
	reqs, err := export.ReadRequests(r, path)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		JSONResponse: shared.NewResponse("backup inspect"),
		Path:         path,
		Frames:       len(reqs),
		Services:     []string{},
	}
	var first, last uint64
	for _, req := range reqs {
		s.ResourceSpans += len(req.GetResourceSpans())
		for _, rs := range req.GetResourceSpans() {
			if name := serviceName(rs.GetResource().GetAttributes()); name != "" && !slices.Contains(s.Services, name) {
				s.Services = append(s.Services, name)
			}
			for _, ss := range rs.GetScopeSpans() {
				for _, span := range ss.GetSpans() {
					s.Spans++
					if start := span.GetStartTimeUnixNano(); start != 0 && (first == 0 || start < first) {
						first = start
					}
					last = max(last, span.GetEndTimeUnixNano())
					if list {
						s.SpanList = append(s.SpanList, SpanInfo{
							Name:    span.GetName(),
							TraceID: fmt.Sprintf("%x", span.GetTraceId()),
							SpanID:  fmt.Sprintf("%x", span.GetSpanId()),
							Start:   unixNano(span.GetStartTimeUnixNano()),
						})
					}
				}
			}
		}
	}
	slices.Sort(s.Services)
	if first != 0 {
		t := unixNano(first)
		s.FirstStart = &t
	}
	if last != 0 {
		t := unixNano(last)
		s.LastEnd = &t
	}
	return s, nil
}

func serviceName(kvs []*commonpb.KeyValue) string {
	for _, kv := range kvs {
		if kv.GetKey() == "service.name" {
			return kv.GetValue().GetStringValue()
		}
	}
	return ""
}

func unixNano(ns uint64) time.Time {
	return time.Unix(0, int64(ns)).UTC()
}

func countRetries(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.bin"))
	if err != nil {
		return 0, errors.Wrap(err, "listing retry directory")
	}
	return len(matches), nil
}

func printSummary(w io.Writer, s *Summary) {
	fmt.Fprintln(w, shared.Header.Render(s.Path))
	row := func(label string, value any) {
		fmt.Fprintf(w, "  %s %v\n", shared.RenderLabel(fmt.Sprintf("%-16s", label+":")), value)
	}
	row("frames", s.Frames)
	row("resource spans", s.ResourceSpans)
	row("spans", s.Spans)
	if len(s.Services) > 0 {
		row("services", s.Services)
	}
	if s.FirstStart != nil && s.LastEnd != nil {
		row("time range", s.FirstStart.Format(time.RFC3339)+" .. "+s.LastEnd.Format(time.RFC3339))
	}
	if s.PendingRetries != nil {
		row("pending retries", *s.PendingRetries)
	}
	for _, span := range s.SpanList {
		fmt.Fprintf(w, "  %s %s %s\n", span.Start.Format(time.RFC3339Nano), span.TraceID, span.Name)
	}
	if s.Spans == 0 {
		fmt.Fprintln(w, shared.RenderWarn("backup file holds no spans"))
	}
}
