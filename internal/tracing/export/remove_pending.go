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

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
)

// RemovePendingSpansExporter drops pending spans whose real span is in the
// same batch, since the real span supersedes them. At most one pending
// span per real span is kept.
type RemovePendingSpansExporter struct {
	next sdktrace.SpanExporter
}

var _ sdktrace.SpanExporter = (*RemovePendingSpansExporter)(nil)

// NewRemovePendingSpansExporter wraps next.
func NewRemovePendingSpansExporter(next sdktrace.SpanExporter) *RemovePendingSpansExporter {
	return &RemovePendingSpansExporter{next: next}
}

type spanKey struct {
	trace trace.TraceID
	span  trace.SpanID
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *RemovePendingSpansExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	out := make([]sdktrace.ReadOnlySpan, 0, len(spans))
	ended := make(map[spanKey]bool, len(spans))
	pending := make(map[spanKey]sdktrace.ReadOnlySpan)
	var order []spanKey

	for _, s := range spans {
		if attrs.SpanTypeOf(s.Attributes()) == attrs.TypePendingSpan {
			// A pending span's parent is the span it stands in for.
			key := spanKey{s.SpanContext().TraceID(), s.Parent().SpanID()}
			if _, seen := pending[key]; !seen {
				order = append(order, key)
			}
			pending[key] = s
			continue
		}
		ended[spanKey{s.SpanContext().TraceID(), s.SpanContext().SpanID()}] = true
		out = append(out, s)
	}
	for _, key := range order {
		if !ended[key] {
			out = append(out, pending[key])
		}
	}
	if len(out) == 0 {
		return nil
	}
	return e.next.ExportSpans(ctx, out)
}

// Shutdown implements sdktrace.SpanExporter.
func (e *RemovePendingSpansExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}
