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
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
)

var (
	testTraceID = trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	testStart   = time.Date(2025, 3, 1, 12, 30, 15, 0, time.UTC)
)

func spanContext(id byte) trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    testTraceID,
		SpanID:     trace.SpanID{0, 0, 0, 0, 0, 0, 0, id},
		TraceFlags: trace.FlagsSampled,
	})
}

// stub builds a span with the given id and parent id (0 for a root).
func stub(name string, id, parent byte, kvs ...attribute.KeyValue) tracetest.SpanStub {
	s := tracetest.SpanStub{
		Name:        name,
		SpanContext: spanContext(id),
		StartTime:   testStart,
		EndTime:     testStart.Add(time.Second),
		Attributes:  kvs,
	}
	if parent != 0 {
		s.Parent = spanContext(parent)
	}
	return s
}

func pendingStub(name string, id, of byte) tracetest.SpanStub {
	s := stub(name, id, of, attrs.SpanType.String(attrs.TypePendingSpan))
	s.EndTime = s.StartTime
	return s
}

func snapshots(stubs ...tracetest.SpanStub) []sdktrace.ReadOnlySpan {
	return tracetest.SpanStubs(stubs).Snapshots()
}

func names(spans []sdktrace.ReadOnlySpan) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Name()
	}
	return out
}

// funcExporter records every batch and returns whatever fn decides.
type funcExporter struct {
	fn func(spans []sdktrace.ReadOnlySpan) error

	mu       sync.Mutex
	batches  [][]sdktrace.ReadOnlySpan
	shutdown bool
}

func (e *funcExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	e.batches = append(e.batches, spans)
	e.mu.Unlock()
	if e.fn == nil {
		return nil
	}
	return e.fn(spans)
}

func (e *funcExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
	return nil
}

func (e *funcExporter) Batches() [][]sdktrace.ReadOnlySpan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]sdktrace.ReadOnlySpan(nil), e.batches...)
}
