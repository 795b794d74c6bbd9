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
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// MetricsCollector records the SDK's own metrics about its export pipeline.
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	spansExported  metric.Int64Counter
	exportFailures metric.Int64Counter
	tailDropped    metric.Int64Counter

	// Histograms
	exportDuration metric.Float64Histogram

	// Gauges read through callbacks
	retryQueue atomic.Pointer[func() int]
}

// NewMetricsCollector creates a new metrics collector using the given meter provider
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("logfire.sdk")

	mc := &MetricsCollector{meter: meter}

	var err error

	mc.spansExported, err = meter.Int64Counter(
		"logfire_sdk_spans_exported_total",
		metric.WithDescription("Total number of spans handed to an exporter"),
		metric.WithUnit("{span}"),
	)
	if err != nil {
		return nil, err
	}

	mc.exportFailures, err = meter.Int64Counter(
		"logfire_sdk_export_failures_total",
		metric.WithDescription("Total number of failed export calls"),
		metric.WithUnit("{export}"),
	)
	if err != nil {
		return nil, err
	}

	mc.tailDropped, err = meter.Int64Counter(
		"logfire_sdk_tail_sampling_dropped_spans_total",
		metric.WithDescription("Total number of spans discarded by tail sampling"),
		metric.WithUnit("{span}"),
	)
	if err != nil {
		return nil, err
	}

	mc.exportDuration, err = meter.Float64Histogram(
		"logfire_sdk_export_duration_seconds",
		metric.WithDescription("Export call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"logfire_sdk_retry_queue_size",
		metric.WithDescription("Number of export requests waiting on disk for retry"),
		metric.WithUnit("{request}"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			if size := mc.retryQueue.Load(); size != nil {
				observer.Observe(int64((*size)()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// SetRetryQueue registers the function the retry queue gauge reads.
func (mc *MetricsCollector) SetRetryQueue(size func() int) {
	mc.retryQueue.Store(&size)
}

// RecordExport records one export call.
func (mc *MetricsCollector) RecordExport(ctx context.Context, exporter string, spans int, duration time.Duration, err error) {
	set := metric.WithAttributes(attribute.String("exporter", exporter))

	mc.spansExported.Add(ctx, int64(spans), set)
	mc.exportDuration.Record(ctx, duration.Seconds(), set)
	if err != nil {
		mc.exportFailures.Add(ctx, 1, set)
	}
}

// RecordTailDropped records spans discarded by tail sampling.
func (mc *MetricsCollector) RecordTailDropped(ctx context.Context, spans int) {
	mc.tailDropped.Add(ctx, int64(spans))
}

// InstrumentExporter wraps exp so every export call is recorded under name.
func (mc *MetricsCollector) InstrumentExporter(name string, exp sdktrace.SpanExporter) sdktrace.SpanExporter {
	return &instrumentedExporter{SpanExporter: exp, name: name, mc: mc}
}

type instrumentedExporter struct {
	sdktrace.SpanExporter
	name string
	mc   *MetricsCollector
}

func (e *instrumentedExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	start := time.Now()
	err := e.SpanExporter.ExportSpans(ctx, spans)
	e.mc.RecordExport(ctx, e.name, len(spans), time.Since(start), err)
	return err
}
