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

package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/term"

	"github.com/tombee/logfire-go/internal/attrs"
)

// ConsoleConfig configures console output.
type ConsoleConfig struct {
	// Writer is the output destination (default: os.Stdout).
	Writer io.Writer

	// Format is "pretty" (default) or "json".
	Format string

	// Colors is "auto" (default), "always" or "never".
	Colors string

	// MinLevel hides logs below this level.
	MinLevel attrs.Level

	// Verbose prints span attributes under each line.
	Verbose bool
}

// NewConsoleExporter creates a console exporter. Pretty output expects to
// receive pending spans so that spans are printed when they start, nested
// under their parents.
func NewConsoleExporter(cfg ConsoleConfig) (sdktrace.SpanExporter, error) {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	if cfg.Format == "json" {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		return exporter, nil
	}

	r := lipgloss.NewRenderer(writer)
	r.SetColorProfile(colorProfile(writer, cfg.Colors))
	return &prettyExporter{
		w:        writer,
		minLevel: cfg.MinLevel,
		verbose:  cfg.Verbose,
		indent:   make(map[trace.SpanID]int),
		muted:    r.NewStyle().Foreground(lipgloss.Color("245")),
		levels: map[attrs.Level]lipgloss.Style{
			attrs.LevelDebug:  r.NewStyle().Foreground(lipgloss.Color("245")),
			attrs.LevelNotice: r.NewStyle().Foreground(lipgloss.Color("39")),
			attrs.LevelWarn:   r.NewStyle().Foreground(lipgloss.Color("214")),
			attrs.LevelError:  r.NewStyle().Foreground(lipgloss.Color("196")),
			attrs.LevelFatal:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		},
	}, nil
}

func colorProfile(w io.Writer, mode string) termenv.Profile {
	switch mode {
	case "always":
		return termenv.ANSI256
	case "never":
		return termenv.Ascii
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return termenv.ANSI256
	}
	return termenv.Ascii
}

// prettyExporter prints one line per span or log, indented by depth.
type prettyExporter struct {
	w        io.Writer
	minLevel attrs.Level
	verbose  bool
	muted    lipgloss.Style
	levels   map[attrs.Level]lipgloss.Style

	mu     sync.Mutex
	indent map[trace.SpanID]int
}

func (e *prettyExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b strings.Builder
	for _, s := range spans {
		switch attrs.SpanTypeOf(s.Attributes()) {
		case attrs.TypePendingSpan:
			// Parent is the real span; the pending parent id is its parent.
			id := s.Parent().SpanID()
			depth := e.depth(pendingParent(s))
			e.indent[id] = depth
			e.line(&b, s, depth)
		case attrs.TypeSpan:
			id := s.SpanContext().SpanID()
			if _, printed := e.indent[id]; printed {
				delete(e.indent, id)
				continue
			}
			e.line(&b, s, e.depth(s.Parent()))
		default:
			if level, ok := attrs.LevelOf(s.Attributes()); ok && level < e.minLevel {
				continue
			}
			e.line(&b, s, e.depth(s.Parent()))
		}
	}
	_, err := io.WriteString(e.w, b.String())
	return err
}

func (e *prettyExporter) depth(parent trace.SpanContext) int {
	if !parent.IsValid() {
		return 0
	}
	if d, ok := e.indent[parent.SpanID()]; ok {
		return d + 1
	}
	return 0
}

func pendingParent(s sdktrace.ReadOnlySpan) trace.SpanContext {
	for _, kv := range s.Attributes() {
		if kv.Key == attrs.PendingParentID {
			id, err := attrs.ParseSpanID(kv.Value.AsString())
			if err != nil {
				return trace.SpanContext{}
			}
			return trace.NewSpanContext(trace.SpanContextConfig{
				TraceID: s.SpanContext().TraceID(),
				SpanID:  id,
			})
		}
	}
	return trace.SpanContext{}
}

func (e *prettyExporter) line(b *strings.Builder, s sdktrace.ReadOnlySpan, depth int) {
	msg := s.Name()
	for _, kv := range s.Attributes() {
		if kv.Key == attrs.Msg {
			msg = kv.Value.AsString()
			break
		}
	}

	b.WriteString(e.muted.Render(s.StartTime().Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(strings.Repeat("  ", depth))
	if level, ok := attrs.LevelOf(s.Attributes()); ok && level != attrs.LevelInfo {
		style, styled := e.levels[level]
		if !styled {
			style = e.muted
		}
		msg = style.Render(msg)
	}
	b.WriteString(msg)
	b.WriteByte('\n')

	if !e.verbose {
		return
	}
	pad := strings.Repeat("  ", depth)
	for _, kv := range s.Attributes() {
		if strings.HasPrefix(string(kv.Key), attrs.Prefix) {
			continue
		}
		b.WriteString(e.muted.Render(fmt.Sprintf("             %s│ %s=%s", pad, kv.Key, kv.Value.Emit())))
		b.WriteByte('\n')
	}
}

func (e *prettyExporter) Shutdown(context.Context) error { return nil }
