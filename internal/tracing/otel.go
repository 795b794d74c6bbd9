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
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tombee/logfire-go/internal/attrs"
	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/internal/tracing/export"
	"github.com/tombee/logfire-go/internal/tracing/scrub"
	"github.com/tombee/logfire-go/pkg/errors"
)

// PipelineOptions carry settings that cannot be expressed in a Config file.
type PipelineOptions struct {
	// ScrubCallback may override individual redactions.
	ScrubCallback scrub.Callback

	// ConsoleWriter replaces stdout for the console exporter.
	ConsoleWriter io.Writer

	// Processors receive every scrubbed span after sampling, alongside
	// the built-in exporters.
	Processors []sdktrace.SpanProcessor

	// MetricReaders are attached to the meter provider in addition to the
	// configured ones.
	MetricReaders []sdkmetric.Reader

	// TracerProviderOptions are applied last.
	TracerProviderOptions []sdktrace.TracerProviderOption
}

// Pipeline owns the SDK providers built from a Config.
type Pipeline struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Metrics        *MetricsCollector
	Scrubber       *scrub.Scrubber

	tail          *TailSamplingProcessor
	metricsServer *http.Server
	metricsAddr   string
}

// NewPipeline builds the span and metric pipelines:
//
//	[TailSampling] -> multi[
//	    Pending -> (backend, console)
//	    Scrub -> Batch -> backend chain
//	    Scrub -> Simple -> console
//	    Scrub -> Batch -> additional exporters
//	    extra processors
//	]
func NewPipeline(ctx context.Context, cfg Config, opts PipelineOptions) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{}
	if !cfg.Scrubbing.Disabled {
		p.Scrubber, err = scrub.New(scrub.Options{
			ExtraPatterns: cfg.Scrubbing.ExtraPatterns,
			Callback:      opts.ScrubCallback,
		})
		if err != nil {
			return nil, &errors.ConfigError{Key: "scrubbing.extra_patterns", Reason: err.Error(), Cause: err}
		}
	}

	if err := p.buildMetrics(ctx, cfg, res, opts); err != nil {
		return nil, err
	}

	root, err := p.buildProcessors(ctx, cfg, opts)
	if err != nil {
		p.shutdownMetrics(ctx)
		return nil, err
	}

	tpOpts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.Sampling)),
		sdktrace.WithSpanProcessor(root),
	}, opts.TracerProviderOptions...)
	p.TracerProvider = sdktrace.NewTracerProvider(tpOpts...)

	return p, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	kvs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceInstanceID(uuid.NewString()),
	}
	if cfg.Environment != "" {
		kvs = append(kvs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	// An empty schema URL avoids conflicts when merging with the default resource.
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("", kvs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func (p *Pipeline) buildMetrics(ctx context.Context, cfg Config, res *resource.Resource, opts PipelineOptions) error {
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.Metrics.Enabled && cfg.ExportEnabled() {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(cfg.ResolvedBaseURL()+"/v1/metrics"),
			otlpmetrichttp.WithHeaders(map[string]string{"Authorization": cfg.Token}),
		)
		if err != nil {
			return fmt.Errorf("failed to create metrics exporter: %w", err)
		}
		readerOpts := []sdkmetric.PeriodicReaderOption{}
		if cfg.Metrics.Interval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Metrics.Interval))
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)))
	}

	if cfg.Metrics.PrometheusAddr != "" {
		reader, handler, err := newPrometheusReader()
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", cfg.Metrics.PrometheusAddr)
		if err != nil {
			return fmt.Errorf("failed to listen for metrics on %s: %w", cfg.Metrics.PrometheusAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		p.metricsServer = &http.Server{Handler: mux}
		p.metricsAddr = ln.Addr().String()
		go func() {
			if err := p.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.InternalError(context.Background(), "metrics.serve", err)
			}
		}()
		mpOpts = append(mpOpts, sdkmetric.WithReader(reader))
	}

	for _, r := range opts.MetricReaders {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}

	p.MeterProvider = sdkmetric.NewMeterProvider(mpOpts...)

	mc, err := NewMetricsCollector(p.MeterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	p.Metrics = mc
	return nil
}

// newPrometheusReader uses its own registry so the SDK's metrics never mix
// with the application's default registry.
func newPrometheusReader() (sdkmetric.Reader, http.Handler, error) {
	reg := prometheus.NewRegistry()
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return exp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func (p *Pipeline) buildProcessors(ctx context.Context, cfg Config, opts PipelineOptions) (sdktrace.SpanProcessor, error) {
	var sinks []sdktrace.SpanProcessor

	if cfg.ExportEnabled() {
		backend, err := newBackendExporter(ctx, cfg, p.Metrics)
		if err != nil {
			return nil, err
		}
		batch := sdktrace.NewBatchSpanProcessor(backend, batchOptions(cfg)...)
		sinks = append(sinks, NewMainSpanProcessorWrapper(batch, p.Scrubber))
	}

	if cfg.Console.Enabled {
		minLevel, _ := attrs.ParseLevel(cfg.Console.MinLevel)
		console, err := export.NewConsoleExporter(export.ConsoleConfig{
			Writer:   opts.ConsoleWriter,
			Format:   cfg.Console.Format,
			Colors:   cfg.Console.Colors,
			MinLevel: minLevel,
			Verbose:  cfg.Console.Verbose,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, NewMainSpanProcessorWrapper(sdktrace.NewSimpleSpanProcessor(console), p.Scrubber))
	}

	var all []sdktrace.SpanProcessor
	if len(sinks) > 0 {
		all = append(all, NewPendingSpanProcessor(onEndOnly{NewMultiSpanProcessor(sinks...)}))
	}
	all = append(all, sinks...)
	all = append(all, CreateExportersFromConfig(ctx, cfg, p)...)
	for _, proc := range opts.Processors {
		all = append(all, NewMainSpanProcessorWrapper(proc, p.Scrubber))
	}

	root := NewMultiSpanProcessor(all...)
	if cfg.Sampling.Tail != nil {
		p.tail = NewTailSamplingProcessor(root, *cfg.Sampling.Tail, func(spans int) {
			p.Metrics.RecordTailDropped(context.Background(), spans)
		})
		root = p.tail
	}

	log.Default().DebugContext(ctx, "span pipeline built",
		slog.Bool("export", cfg.ExportEnabled()),
		slog.Bool("console", cfg.Console.Enabled),
		slog.Int("processors", len(all)),
		slog.Bool("tail_sampling", p.tail != nil))
	return root, nil
}

// onEndOnly shares sinks with the pending processor without flushing or
// shutting them down a second time.
type onEndOnly struct {
	sdktrace.SpanProcessor
}

func (onEndOnly) Shutdown(context.Context) error   { return nil }
func (onEndOnly) ForceFlush(context.Context) error { return nil }

// ForceFlush exports all pending spans and metrics synchronously.
func (p *Pipeline) ForceFlush(ctx context.Context) error {
	return errors.Join(
		p.TracerProvider.ForceFlush(ctx),
		p.MeterProvider.ForceFlush(ctx),
	)
}

// Shutdown flushes any pending spans and releases resources.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.TracerProvider.Shutdown(ctx),
		p.shutdownMetrics(ctx),
	)
}

func (p *Pipeline) shutdownMetrics(ctx context.Context) error {
	var errs []error
	if p.MeterProvider != nil {
		errs = append(errs, p.MeterProvider.Shutdown(ctx))
	}
	if p.metricsServer != nil {
		errs = append(errs, p.metricsServer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// MetricsAddr returns the address the Prometheus endpoint listens on, or "".
func (p *Pipeline) MetricsAddr() string {
	return p.metricsAddr
}
