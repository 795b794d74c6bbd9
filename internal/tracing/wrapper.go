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

package tracing

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/logfire-go/internal/tracing/scrub"
)

// MainSpanProcessorWrapper scrubs spans as they end and hands the scrubbed
// copy to next. The ended span itself is never modified since other
// processors may be reading it concurrently.
type MainSpanProcessorWrapper struct {
	next     sdktrace.SpanProcessor
	scrubber *scrub.Scrubber
}

var _ sdktrace.SpanProcessor = (*MainSpanProcessorWrapper)(nil)

// NewMainSpanProcessorWrapper wraps next. A nil scrubber disables scrubbing.
func NewMainSpanProcessorWrapper(next sdktrace.SpanProcessor, scrubber *scrub.Scrubber) *MainSpanProcessorWrapper {
	return &MainSpanProcessorWrapper{next: next, scrubber: scrubber}
}

// OnStart implements sdktrace.SpanProcessor.
func (w *MainSpanProcessorWrapper) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	w.next.OnStart(ctx, s)
}

// OnEnd implements sdktrace.SpanProcessor.
func (w *MainSpanProcessorWrapper) OnEnd(s sdktrace.ReadOnlySpan) {
	w.next.OnEnd(w.scrub(s))
}

func (w *MainSpanProcessorWrapper) scrub(s sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	res := w.scrubber.Span(s)
	if res == nil {
		return s
	}
	f := freeze(s)
	f.attrs = res.Attributes
	f.events = res.Events
	f.links = res.Links
	return f
}

// Shutdown implements sdktrace.SpanProcessor.
func (w *MainSpanProcessorWrapper) Shutdown(ctx context.Context) error {
	return w.next.Shutdown(ctx)
}

// ForceFlush implements sdktrace.SpanProcessor.
func (w *MainSpanProcessorWrapper) ForceFlush(ctx context.Context) error {
	return w.next.ForceFlush(ctx)
}
