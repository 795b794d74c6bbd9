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
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// frozenSpan is an immutable ReadOnlySpan whose data was copied out of
// another span and then edited. The embedded span supplies everything that
// is not overridden (resource, scope, kind, dropped counts).
//
// ReadOnlySpan cannot be implemented outside the SDK package, so embedding
// is the only way to hand an edited copy downstream.
type frozenSpan struct {
	sdktrace.ReadOnlySpan

	name     string
	sc       trace.SpanContext
	parent   trace.SpanContext
	start    time.Time
	end      time.Time
	attrs    []attribute.KeyValue
	events   []sdktrace.Event
	links    []sdktrace.Link
	status   sdktrace.Status
	children int
}

// freeze snapshots s. The snapshot shares no mutable slices with s.
func freeze(s sdktrace.ReadOnlySpan) *frozenSpan {
	return &frozenSpan{
		ReadOnlySpan: s,
		name:         s.Name(),
		sc:           s.SpanContext(),
		parent:       s.Parent(),
		start:        s.StartTime(),
		end:          s.EndTime(),
		attrs:        append([]attribute.KeyValue(nil), s.Attributes()...),
		events:       append([]sdktrace.Event(nil), s.Events()...),
		links:        append([]sdktrace.Link(nil), s.Links()...),
		status:       s.Status(),
		children:     s.ChildSpanCount(),
	}
}

func (f *frozenSpan) Name() string                     { return f.name }
func (f *frozenSpan) SpanContext() trace.SpanContext   { return f.sc }
func (f *frozenSpan) Parent() trace.SpanContext        { return f.parent }
func (f *frozenSpan) StartTime() time.Time             { return f.start }
func (f *frozenSpan) EndTime() time.Time               { return f.end }
func (f *frozenSpan) Attributes() []attribute.KeyValue { return f.attrs }
func (f *frozenSpan) Events() []sdktrace.Event         { return f.events }
func (f *frozenSpan) Links() []sdktrace.Link           { return f.links }
func (f *frozenSpan) Status() sdktrace.Status          { return f.status }
func (f *frozenSpan) ChildSpanCount() int              { return f.children }
