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

/*
Package tracing builds the OpenTelemetry pipeline behind the logfire API.

# Overview

The package provides:

  - Proxy tracer and meter providers that can be re-bound after handles were
    handed out
  - Head sampling with per-span logfire.sample_rate and tail sampling that
    keeps or drops whole traces
  - Pending spans so consoles and backends can show spans while they run
  - Scrubbing of sensitive values before spans leave the process
  - The resilient backend exporter (see the export subpackage)
  - Self-metrics, optionally served to Prometheus

# Quick Start

Load configuration and build a pipeline:

	cfg, err := tracing.LoadConfig("logfire.yaml")
	if err != nil {
	    return err
	}

	p, err := tracing.NewPipeline(ctx, cfg, tracing.PipelineOptions{})
	if err != nil {
	    return err
	}
	defer p.Shutdown(ctx)

	proxy := tracing.NewProxyTracerProvider(nil)
	proxy.SetProvider(p.TracerProvider)

Tracers obtained from the proxy before SetProvider start forwarding to the
new provider without being recreated.

# Configuration

Values come from the YAML file, then LOGFIRE_* environment variables:

	token: pylf_v1_eu_xxxxxxxx
	service_name: checkout
	console:
	  min_level: notice
	sampling:
	  head: 0.5
	  tail:
	    level: error
	    duration: 5s
	exporters:
	  - type: otlp-http
	    endpoint: localhost:4318

Without a token nothing is sent to the backend; spans still reach the
console and any additional exporters.
*/
package tracing
