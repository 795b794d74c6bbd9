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

// Package httpclient builds the HTTP clients the SDK uses to talk to the
// telemetry backend.
//
// Clients created by New carry:
//   - A User-Agent identifying the SDK
//   - Static headers, typically the write token
//   - Debug logging of every request with credentials stripped from the URL
//   - Optional in-request retries for transient failures
//
// Export requests are POSTs. They are only retried in-request when
// AllowNonIdempotentRetry is set; OTLP ingestion is idempotent per span id,
// so the exporter enables it for a single quick retry and leaves longer
// outages to the on-disk retry queue.
//
// # Usage
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Headers = map[string]string{"Authorization": token}
//	client, err := httpclient.New(cfg)
//	if err != nil {
//	    return err
//	}
//
// ShouldRetryStatus and IsRetryableError expose the retry classification so
// callers that queue failed requests can apply the same policy.
package httpclient
