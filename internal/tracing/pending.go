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
	"encoding/binary"
	"math/rand/v2"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
)

// PendingSpanProcessor emits a zero-duration "pending" companion for every
// real span as it starts, so a live view can show work in flight. The
// companion goes straight to next's OnEnd since it is already complete.
//
// It keeps no state between calls.
type PendingSpanProcessor struct {
	next  sdktrace.SpanProcessor
	newID func() trace.SpanID
}

var _ sdktrace.SpanProcessor = (*PendingSpanProcessor)(nil)

// NewPendingSpanProcessor wraps next.
func NewPendingSpanProcessor(next sdktrace.SpanProcessor) *PendingSpanProcessor {
	return &PendingSpanProcessor{next: next, newID: randomSpanID}
}

// OnStart implements sdktrace.SpanProcessor.
func (p *PendingSpanProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	if !s.IsRecording() || attrs.SpanTypeOf(s.Attributes()) != attrs.TypeSpan {
		return
	}
	p.next.OnEnd(p.pending(s))
}

func (p *PendingSpanProcessor) pending(s sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	sc := s.SpanContext()

	repl := []attribute.KeyValue{attrs.SpanType.String(attrs.TypePendingSpan)}
	if parent := s.Parent(); parent.IsValid() {
		repl = append(repl, attrs.PendingParentID.String(attrs.FormatSpanID(parent.SpanID())))
	}

	f := freeze(s)
	f.sc = trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    sc.TraceID(),
		SpanID:     p.newID(),
		TraceFlags: sc.TraceFlags(),
		TraceState: sc.TraceState(),
	})
	f.parent = sc
	f.end = f.start
	f.attrs = attrs.Replace(f.attrs, repl...)
	f.events = nil
	f.status = sdktrace.Status{}
	f.children = 0
	return f
}

// OnEnd implements sdktrace.SpanProcessor. Real spans are not forwarded;
// they reach exporters through the main pipeline.
func (p *PendingSpanProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

// Shutdown implements sdktrace.SpanProcessor.
func (p *PendingSpanProcessor) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}

// ForceFlush implements sdktrace.SpanProcessor.
func (p *PendingSpanProcessor) ForceFlush(ctx context.Context) error {
	return p.next.ForceFlush(ctx)
}

func randomSpanID() trace.SpanID {
	var id trace.SpanID
	for !id.IsValid() {
		binary.BigEndian.PutUint64(id[:], rand.Uint64())
	}
	return id
}
