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
	"io"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/logfire-go/internal/tracing"
	"github.com/tombee/logfire-go/internal/tracing/scrub"
)

// TailSampling configures tail sampling; see WithTailSampling.
type TailSampling = tracing.TailSamplingConfig

// ScrubMatch describes a value about to be redacted.
type ScrubMatch = scrub.Match

// ScrubCallback may return a replacement for a redacted value. Returning
// false keeps the default placeholder.
type ScrubCallback = scrub.Callback

// Option configures Configure and New. Options are applied over the config
// file and the LOGFIRE_* environment.
type Option func(*options)

type options struct {
	configFile string
	config     []func(*tracing.Config)
	pipeline   tracing.PipelineOptions

	inspectArguments  bool
	exceptionCallback ExceptionCallback
	onWarning         func(Warning)
}

func defaultOptions() options {
	return options{inspectArguments: true}
}

func configure(fn func(*tracing.Config)) Option {
	return func(o *options) { o.config = append(o.config, fn) }
}

// WithConfigFile loads a YAML config file before the environment and the
// remaining options are applied. A missing file is ignored.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configFile = path }
}

// WithToken sets the write token. Without a token nothing is sent to the
// backend.
func WithToken(token string) Option {
	return configure(func(c *tracing.Config) { c.Token = token })
}

// WithBaseURL overrides the backend URL derived from the token.
func WithBaseURL(url string) Option {
	return configure(func(c *tracing.Config) { c.BaseURL = url })
}

// WithSendToLogfire enables or disables export to the backend.
func WithSendToLogfire(send bool) Option {
	return configure(func(c *tracing.Config) { c.SendToLogfire = send })
}

func WithServiceName(name string) Option {
	return configure(func(c *tracing.Config) { c.ServiceName = name })
}

func WithServiceVersion(version string) Option {
	return configure(func(c *tracing.Config) { c.ServiceVersion = version })
}

func WithEnvironment(env string) Option {
	return configure(func(c *tracing.Config) { c.Environment = env })
}

// WithDataDir sets the directory for the retry queue and the backup file.
func WithDataDir(dir string) Option {
	return configure(func(c *tracing.Config) { c.DataDir = dir })
}

// WithConsole enables or disables console output.
func WithConsole(enabled bool) Option {
	return configure(func(c *tracing.Config) { c.Console.Enabled = enabled })
}

// WithConsoleWriter enables console output to w.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *options) {
		o.pipeline.ConsoleWriter = w
		o.config = append(o.config, func(c *tracing.Config) { c.Console.Enabled = true })
	}
}

// WithConsoleMinLevel hides console records below level.
func WithConsoleMinLevel(level Level) Option {
	return configure(func(c *tracing.Config) { c.Console.MinLevel = level.String() })
}

// WithConsoleVerbose prints span attributes under each console line.
func WithConsoleVerbose(verbose bool) Option {
	return configure(func(c *tracing.Config) { c.Console.Verbose = verbose })
}

// WithHeadSampleRate keeps the given fraction of traces.
func WithHeadSampleRate(rate float64) Option {
	return configure(func(c *tracing.Config) { c.Sampling.Head = rate })
}

// WithTailSampling buffers each trace until it is known to be interesting.
func WithTailSampling(ts TailSampling) Option {
	return configure(func(c *tracing.Config) { c.Sampling.Tail = &ts })
}

// WithScrubbing adds patterns to the built-in scrubbing patterns.
func WithScrubbing(extraPatterns ...string) Option {
	return configure(func(c *tracing.Config) {
		c.Scrubbing.Disabled = false
		c.Scrubbing.ExtraPatterns = append(c.Scrubbing.ExtraPatterns, extraPatterns...)
	})
}

// WithScrubCallback lets cb override individual redactions.
func WithScrubCallback(cb ScrubCallback) Option {
	return func(o *options) { o.pipeline.ScrubCallback = cb }
}

// WithoutScrubbing turns scrubbing off.
func WithoutScrubbing() Option {
	return configure(func(c *tracing.Config) { c.Scrubbing.Disabled = true })
}

// WithMetrics enables or disables sending metrics to the backend.
func WithMetrics(enabled bool) Option {
	return configure(func(c *tracing.Config) { c.Metrics.Enabled = enabled })
}

// WithPrometheus serves the SDK's own metrics for scraping on addr.
func WithPrometheus(addr string) Option {
	return configure(func(c *tracing.Config) { c.Metrics.PrometheusAddr = addr })
}

// WithSpanProcessors adds processors that receive every scrubbed span.
func WithSpanProcessors(processors ...sdktrace.SpanProcessor) Option {
	return func(o *options) { o.pipeline.Processors = append(o.pipeline.Processors, processors...) }
}

// WithMetricReaders attaches additional metric readers.
func WithMetricReaders(readers ...sdkmetric.Reader) Option {
	return func(o *options) { o.pipeline.MetricReaders = append(o.pipeline.MetricReaders, readers...) }
}

// WithInspectArguments enables or disables source inspection in LogArgs.
// When disabled, arguments are always logged under "args" and no
// warnings are emitted.
func WithInspectArguments(enabled bool) Option {
	return func(o *options) { o.inspectArguments = enabled }
}

// WithExceptionCallback is called for every error recorded on a span.
func WithExceptionCallback(cb ExceptionCallback) Option {
	return func(o *options) { o.exceptionCallback = cb }
}

// WithWarningHandler receives the SDK's user-facing warnings, such as a
// LogArgs call site that could not be resolved. Warnings are logged
// either way.
func WithWarningHandler(fn func(Warning)) Option {
	return func(o *options) { o.onWarning = fn }
}
