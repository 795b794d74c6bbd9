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
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/tombee/logfire-go/internal/attrs"
	"github.com/tombee/logfire-go/internal/tracing/export"
)

func localConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Console.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.DataDir = t.TempDir()
	cfg.BatchInterval = time.Hour
	return cfg
}

func newPipeline(t *testing.T, cfg Config, opts PipelineOptions) *Pipeline {
	t.Helper()
	p, err := NewPipeline(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p
}

// backend is a fake Logfire ingest endpoint.
type backend struct {
	mu     sync.Mutex
	status int
	names  []string
	auth   string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.auth = r.Header.Get("Authorization")
	if b.status != 0 {
		w.WriteHeader(b.status)
		return
	}
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body = zr
	}
	data, _ := io.ReadAll(body)
	req := &coltracepb.ExportTraceServiceRequest{}
	if err := proto.Unmarshal(data, req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	for _, rs := range req.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			for _, s := range ss.Spans {
				b.names = append(b.names, s.Name)
			}
		}
	}
}

func (b *backend) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.names...)
}

func TestPipeline_ExportsToBackend(t *testing.T) {
	b := &backend{}
	srv := httptest.NewServer(b)
	defer srv.Close()

	cfg := localConfig(t)
	cfg.Token = "pylf_v1_us_secret"
	cfg.BaseURL = srv.URL
	p := newPipeline(t, cfg, PipelineOptions{})

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "work")
	span.End()
	require.NoError(t, p.ForceFlush(context.Background()))

	// The pending span shares the batch with its real span and is dropped.
	assert.Equal(t, []string{"work"}, b.Names())
	assert.Equal(t, "pylf_v1_us_secret", b.auth)
}

func TestPipeline_BackendDownWritesBackup(t *testing.T) {
	b := &backend{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(b)
	defer srv.Close()

	cfg := localConfig(t)
	cfg.Token = "token"
	cfg.BaseURL = srv.URL
	p := newPipeline(t, cfg, PipelineOptions{})

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "work")
	span.End()
	_ = p.ForceFlush(context.Background())
	require.NoError(t, p.Shutdown(context.Background()))

	f, err := os.Open(cfg.BackupPath())
	require.NoError(t, err)
	defer f.Close()
	reqs, err := export.ReadRequests(f, cfg.BackupPath())
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "work", reqs[0].ResourceSpans[0].ScopeSpans[0].Spans[0].Name)

	queued, err := os.ReadDir(cfg.RetryDir())
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestPipeline_ConsoleShowsRunningSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := localConfig(t)
	cfg.Console.Enabled = true
	cfg.Console.Colors = "never"
	p := newPipeline(t, cfg, PipelineOptions{ConsoleWriter: &buf})
	tracer := p.TracerProvider.Tracer("test")

	ctx, outer := tracer.Start(context.Background(), "outer")
	assert.Contains(t, buf.String(), "outer", "printed when it starts")

	_, log := tracer.Start(ctx, "child log", trace.WithAttributes(
		attrs.SpanType.String(attrs.TypeLog),
		attrs.LevelInfo.KeyValue(),
	))
	log.End()
	outer.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], " outer"))
	assert.True(t, strings.HasSuffix(lines[1], "   child log"))
}

func TestPipeline_ProcessorsSeeScrubbedSpans(t *testing.T) {
	rec := &eventRecorder{}
	p := newPipeline(t, localConfig(t), PipelineOptions{Processors: []sdktrace.SpanProcessor{rec}})

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "login",
		trace.WithAttributes(attribute.String("api_key", "abc123")))
	span.End()

	require.Len(t, rec.Ended(), 1)
	v, _ := attrValue(rec.Ended()[0].Attributes(), "api_key")
	assert.Contains(t, v.AsString(), "Scrubbed")
}

func TestPipeline_ScrubbingDisabled(t *testing.T) {
	rec := &eventRecorder{}
	cfg := localConfig(t)
	cfg.Scrubbing.Disabled = true
	p := newPipeline(t, cfg, PipelineOptions{Processors: []sdktrace.SpanProcessor{rec}})

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "login",
		trace.WithAttributes(attribute.String("api_key", "abc123")))
	span.End()

	v, _ := attrValue(rec.Ended()[0].Attributes(), "api_key")
	assert.Equal(t, "abc123", v.AsString())
}

func TestPipeline_TailSamplingDropsQuietTraces(t *testing.T) {
	rec := &eventRecorder{}
	reader := sdkmetric.NewManualReader()
	cfg := localConfig(t)
	cfg.Sampling.Tail = &TailSamplingConfig{Level: attrs.LevelError, Duration: time.Hour}
	p := newPipeline(t, cfg, PipelineOptions{
		Processors:    []sdktrace.SpanProcessor{rec},
		MetricReaders: []sdkmetric.Reader{reader},
	})
	tracer := p.TracerProvider.Tracer("test")

	ctx, quiet := tracer.Start(context.Background(), "quiet")
	_, child := tracer.Start(ctx, "child")
	child.End()
	quiet.End()

	_, loud := tracer.Start(context.Background(), "loud", trace.WithAttributes(attrs.LevelError.KeyValue()))
	loud.End()

	assert.Equal(t, []string{"start:loud", "end:loud"}, rec.Events())
	assert.Equal(t, int64(2), collect(t, reader)["logfire_sdk_tail_sampling_dropped_spans_total"])
}

func TestPipeline_PrometheusEndpoint(t *testing.T) {
	cfg := localConfig(t)
	cfg.Metrics.PrometheusAddr = "127.0.0.1:0"
	p := newPipeline(t, cfg, PipelineOptions{})
	require.NotEmpty(t, p.MetricsAddr())

	resp, err := http.Get("http://" + p.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "target_info")
}

func TestNewPipeline_InvalidConfig(t *testing.T) {
	cfg := localConfig(t)
	cfg.Sampling.Head = 2
	_, err := NewPipeline(context.Background(), cfg, PipelineOptions{})
	assert.Error(t, err)

	cfg = localConfig(t)
	cfg.Scrubbing.ExtraPatterns = []string{"(unclosed"}
	_, err = NewPipeline(context.Background(), cfg, PipelineOptions{})
	assert.Error(t, err)
}

func TestPipeline_AdditionalExporters(t *testing.T) {
	b := &backend{}
	srv := httptest.NewServer(b)
	defer srv.Close()

	cfg := localConfig(t)
	cfg.SendToLogfire = false
	cfg.Exporters = []ExporterConfig{
		{Type: "otlp-http", Endpoint: strings.TrimPrefix(srv.URL, "http://")},
		{Type: "carrier-pigeon"},
		{Type: "none"},
	}
	p := newPipeline(t, cfg, PipelineOptions{})

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "work",
		trace.WithAttributes(attribute.String("password", "hunter2")))
	span.End()
	require.NoError(t, p.ForceFlush(context.Background()))

	assert.Equal(t, []string{"work"}, b.Names())
}
