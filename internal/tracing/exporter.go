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
	"log/slog"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/internal/tracing/export"
)

// CreateExporter creates a span exporter from configuration.
// This factory function supports multiple exporter types and handles creation errors gracefully.
func CreateExporter(ctx context.Context, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Type {
	case "console":
		return export.NewConsoleExporter(export.ConsoleConfig{Format: "json"})

	case "otlp", "otlp-http":
		tlsConfig, err := export.BuildTLSConfig(export.TLSOptions{
			Enabled:           cfg.TLS.Enabled,
			VerifyCertificate: cfg.TLS.VerifyCertificate,
			CACertPath:        cfg.TLS.CACertPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config for %s exporter: %w", cfg.Type, err)
		}
		otlpCfg := export.OTLPConfig{
			Endpoint:  cfg.Endpoint,
			Insecure:  !cfg.TLS.Enabled,
			TLSConfig: tlsConfig,
			Headers:   cfg.Headers,
			Timeout:   cfg.Timeout,
		}
		if cfg.Type == "otlp" {
			return export.NewOTLPExporter(ctx, otlpCfg)
		}
		return export.NewOTLPHTTPExporter(ctx, otlpCfg)

	case "none", "":
		// No exporter - tracing disabled
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.Type)
	}
}

// CreateExportersFromConfig creates batch span processors for all configured exporters.
// Exporter creation failures are logged but don't block startup. Each
// processor scrubs spans before they leave the process.
func CreateExportersFromConfig(ctx context.Context, cfg Config, p *Pipeline) []sdktrace.SpanProcessor {
	var processors []sdktrace.SpanProcessor

	for i, exporterCfg := range cfg.Exporters {
		exporter, err := CreateExporter(ctx, exporterCfg)
		if err != nil {
			// Partial export is better than no export
			log.Default().WarnContext(ctx, "failed to create exporter, skipping",
				slog.Int("index", i),
				slog.String("type", exporterCfg.Type),
				slog.String("endpoint", exporterCfg.Endpoint),
				log.Error(err))
			continue
		}

		if exporter == nil {
			// Type was "none" - skip
			continue
		}

		exporter = p.Metrics.InstrumentExporter(exporterCfg.Type, exporter)
		processor := sdktrace.NewBatchSpanProcessor(exporter, batchOptions(cfg)...)
		processors = append(processors, NewMainSpanProcessorWrapper(processor, p.Scrubber))

		log.Default().DebugContext(ctx, "created exporter",
			slog.String("type", exporterCfg.Type),
			slog.String("endpoint", exporterCfg.Endpoint))
	}

	return processors
}

func batchOptions(cfg Config) []sdktrace.BatchSpanProcessorOption {
	var opts []sdktrace.BatchSpanProcessorOption
	if cfg.BatchSize > 0 {
		opts = append(opts, sdktrace.WithMaxExportBatchSize(cfg.BatchSize))
	}
	if cfg.BatchInterval > 0 {
		opts = append(opts, sdktrace.WithBatchTimeout(cfg.BatchInterval))
	}
	return opts
}

// newBackendExporter builds the resilient exporter to the Logfire backend:
//
//	RemovePending -> Fallback(RetryFewer(OTLP over session), backup file)
//
// Failed requests are queued on disk by the session's retryer.
func newBackendExporter(ctx context.Context, cfg Config, mc *MetricsCollector) (sdktrace.SpanExporter, error) {
	client, err := export.NewSessionClient(export.SessionConfig{
		Endpoint:    cfg.ResolvedBaseURL() + "/v1/traces",
		Headers:     map[string]string{"Authorization": cfg.Token},
		MaxBodySize: cfg.MaxBodySize,
		Gzip:        true,
		Retry: export.DiskRetryerConfig{
			Dir:   cfg.RetryDir(),
			Limit: cfg.RetryQueueLimit,
		},
	})
	if err != nil {
		return nil, err
	}
	mc.SetRetryQueue(client.Retryer().Len)

	otlp, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to start OTLP exporter: %w", err)
	}
	backup, err := export.NewFileSpanExporter(ctx, cfg.BackupPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open backup exporter: %w", err)
	}

	var exp sdktrace.SpanExporter = export.NewFallbackSpanExporter(export.NewRetryFewerSpansExporter(otlp), backup)
	exp = mc.InstrumentExporter("logfire", exp)
	return export.NewRemovePendingSpansExporter(exp), nil
}
