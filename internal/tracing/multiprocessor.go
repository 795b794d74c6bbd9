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
	"errors"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// multiSpanProcessor fans every call out to its children in order.
type multiSpanProcessor []sdktrace.SpanProcessor

var _ sdktrace.SpanProcessor = multiSpanProcessor(nil)

// NewMultiSpanProcessor combines processors into one. A single processor is
// returned as is.
func NewMultiSpanProcessor(processors ...sdktrace.SpanProcessor) sdktrace.SpanProcessor {
	if len(processors) == 1 {
		return processors[0]
	}
	return multiSpanProcessor(processors)
}

func (m multiSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	for _, p := range m {
		p.OnStart(ctx, s)
	}
}

func (m multiSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	for _, p := range m {
		p.OnEnd(s)
	}
}

func (m multiSpanProcessor) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (m multiSpanProcessor) ForceFlush(ctx context.Context) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}
