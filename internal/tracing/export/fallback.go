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
	"net"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/pkg/errors"
)

var fallbackLog = log.NewRateLimited(time.Minute)

// FallbackSpanExporter exports to primary and, whenever that fails, also
// writes the same batch to fallback.
type FallbackSpanExporter struct {
	primary  sdktrace.SpanExporter
	fallback sdktrace.SpanExporter
}

var _ sdktrace.SpanExporter = (*FallbackSpanExporter)(nil)

// NewFallbackSpanExporter combines primary and fallback.
func NewFallbackSpanExporter(primary, fallback sdktrace.SpanExporter) *FallbackSpanExporter {
	return &FallbackSpanExporter{primary: primary, fallback: fallback}
}

// ExportSpans implements sdktrace.SpanExporter. Transport failures are
// logged here, rate limited, since they are expected during outages.
func (e *FallbackSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := e.primary.ExportSpans(ctx, spans)
	if err == nil {
		return nil
	}
	if isTransportError(err) {
		fallbackLog.Warn(ctx, log.Default(), "fallback:transport",
			"export failed, writing spans to the backup file", log.Error(err))
	}
	if ferr := e.fallback.ExportSpans(ctx, spans); ferr != nil {
		return errors.Join(err, ferr)
	}
	return err
}

// Shutdown implements sdktrace.SpanExporter.
func (e *FallbackSpanExporter) Shutdown(ctx context.Context) error {
	return errors.Join(e.primary.Shutdown(ctx), e.fallback.Shutdown(ctx))
}

func isTransportError(err error) bool {
	var exportErr *errors.ExportError
	if errors.As(err, &exportErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
