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
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/pkg/errors"
)

// RetryFewerSpansExporter splits a batch in half and exports each half
// separately when the inner exporter reports *errors.BodyTooLargeError. A
// single span that is still too large is logged and reported as failed.
type RetryFewerSpansExporter struct {
	inner sdktrace.SpanExporter
}

var _ sdktrace.SpanExporter = (*RetryFewerSpansExporter)(nil)

// NewRetryFewerSpansExporter wraps inner.
func NewRetryFewerSpansExporter(inner sdktrace.SpanExporter) *RetryFewerSpansExporter {
	return &RetryFewerSpansExporter{inner: inner}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *RetryFewerSpansExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := e.inner.ExportSpans(ctx, spans)

	var tooLarge *errors.BodyTooLargeError
	if err == nil || !errors.As(err, &tooLarge) {
		return err
	}
	if len(spans) <= 1 {
		if len(spans) == 1 {
			log.Default().ErrorContext(ctx, "failed to export a span that is too large",
				slog.String("span_name", spans[0].Name()),
				slog.Int("size", tooLarge.Size),
				slog.Int("max", tooLarge.Max))
		}
		return err
	}

	half := len(spans) / 2
	return errors.Join(
		e.ExportSpans(ctx, spans[:half]),
		e.ExportSpans(ctx, spans[half:]),
	)
}

// Shutdown implements sdktrace.SpanExporter.
func (e *RetryFewerSpansExporter) Shutdown(ctx context.Context) error {
	return e.inner.Shutdown(ctx)
}
