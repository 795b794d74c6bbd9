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

package logfire

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/logfire-go/internal/attrs"
	"github.com/tombee/logfire-go/internal/stack"
)

// ExceptionCallback inspects or adjusts how an error is recorded on a span.
type ExceptionCallback func(*ExceptionCallbackHelper)

// ExceptionCallbackHelper describes an error about to be recorded. The
// issue fingerprint is computed before the callback runs and any value set
// by the callback is used as is.
type ExceptionCallbackHelper struct {
	span        trace.Span
	err         error
	eventAttrs  []attribute.KeyValue
	level       Level
	record      bool
	fingerprint string
}

// Span returns the span the error is recorded on.
func (h *ExceptionCallbackHelper) Span() trace.Span { return h.span }

// Err returns the error being recorded.
func (h *ExceptionCallbackHelper) Err() error { return h.err }

// EventAttributes returns the attributes of the exception event.
func (h *ExceptionCallbackHelper) EventAttributes() []attribute.KeyValue {
	return append([]attribute.KeyValue(nil), h.eventAttrs...)
}

// SetEventAttributes replaces the attributes of the exception event.
func (h *ExceptionCallbackHelper) SetEventAttributes(kvs ...attribute.KeyValue) {
	h.eventAttrs = append([]attribute.KeyValue(nil), kvs...)
}

// Level returns the level the span will be set to. It defaults to error.
func (h *ExceptionCallbackHelper) Level() Level { return h.level }

// SetLevel overrides the span's level. Below error the span status is
// left unset.
func (h *ExceptionCallbackHelper) SetLevel(l Level) { h.level = l }

// NoRecordException skips the exception event. Level and fingerprint are
// still applied.
func (h *ExceptionCallbackHelper) NoRecordException() { h.record = false }

// IssueFingerprint returns the fingerprint used to group occurrences of
// the same issue.
func (h *ExceptionCallbackHelper) IssueFingerprint() string { return h.fingerprint }

// SetIssueFingerprint overrides the fingerprint. An empty string omits it.
func (h *ExceptionCallbackHelper) SetIssueFingerprint(fp string) { h.fingerprint = fp }

// recordException records err on span. skip counts the frames above
// recordException's caller that belong to the SDK.
func recordException(span trace.Span, err error, skip int, cb ExceptionCallback, extra ...attribute.KeyValue) {
	if err == nil || !span.IsRecording() {
		return
	}
	frames := callers(skip + 2)

	h := &ExceptionCallbackHelper{
		span:  span,
		err:   err,
		level: LevelError,
		eventAttrs: append([]attribute.KeyValue{
			semconv.ExceptionType(typeName(err)),
			semconv.ExceptionMessage(err.Error()),
			semconv.ExceptionStacktrace(formatStack(err, frames)),
		}, extra...),
		record:      true,
		fingerprint: fingerprint(err, frames),
	}
	if cb != nil {
		cb(h)
	}

	if h.record {
		span.AddEvent(semconv.ExceptionEventName, trace.WithAttributes(h.eventAttrs...))
	}
	kvs := []attribute.KeyValue{h.level.KeyValue()}
	if h.fingerprint != "" {
		kvs = append(kvs, attrs.ExceptionFingerprint.String(h.fingerprint))
	}
	span.SetAttributes(kvs...)
	if h.level >= LevelError {
		span.SetStatus(codes.Error, err.Error())
	}
}

func callers(skip int) []runtime.Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+1, pcs)
	it := runtime.CallersFrames(pcs[:n])
	var frames []runtime.Frame
	for {
		f, more := it.Next()
		if !stack.IsSynthetic(f) {
			frames = append(frames, f)
		}
		if !more {
			return frames
		}
	}
}

func typeName(err error) string {
	return fmt.Sprintf("%T", err)
}

// formatStack renders frames innermost first and ends with a
// "<type>: <message>" line, so a scrubbed message can be replaced in place
// without touching the frames.
func formatStack(err error, frames []runtime.Frame) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f.Function)
		b.WriteString("\n\t")
		b.WriteString(f.File)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(f.Line))
		b.WriteByte('\n')
	}
	b.WriteString(typeName(err))
	b.WriteString(": ")
	b.WriteString(err.Error())
	return b.String()
}

// fingerprint digests the error chain's types and the user frames of the
// stack. Messages and line numbers are left out so that the same failure
// keeps its fingerprint across occurrences and edits elsewhere in a file.
func fingerprint(err error, frames []runtime.Frame) string {
	sum := sha256.Sum256([]byte(canonicalize(err, frames)))
	return hex.EncodeToString(sum[:])
}

func canonicalize(err error, frames []runtime.Frame) string {
	var b strings.Builder
	writeChain(&b, err, 0)

	b.WriteString("----\n")
	prev := ""
	for _, f := range frames {
		if !stack.Default().IsUserFrame(f) {
			continue
		}
		line := filepath.Base(f.File) + ":" + f.Function
		if line == prev {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		prev = line
	}
	return b.String()
}

const maxChainDepth = 32

func writeChain(b *strings.Builder, err error, depth int) {
	if err == nil || depth >= maxChainDepth {
		return
	}
	if depth > 0 {
		b.WriteString("Caused by: ")
	}
	b.WriteString(typeName(err))
	b.WriteByte('\n')

	switch u := err.(type) {
	case interface{ Unwrap() error }:
		writeChain(b, u.Unwrap(), depth+1)
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			writeChain(b, inner, depth+1)
		}
	}
}
