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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateExporter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     ExporterConfig
		wantNil bool
		wantErr bool
	}{
		{name: "console", cfg: ExporterConfig{Type: "console"}},
		{name: "otlp grpc", cfg: ExporterConfig{Type: "otlp", Endpoint: "localhost:4317"}},
		{name: "otlp http", cfg: ExporterConfig{Type: "otlp-http", Endpoint: "localhost:4318"}},
		{
			name: "otlp http with tls",
			cfg: ExporterConfig{
				Type:     "otlp-http",
				Endpoint: "collector:4318",
				TLS:      TLSConfig{Enabled: true},
			},
		},
		{
			name: "bad ca cert",
			cfg: ExporterConfig{
				Type:     "otlp",
				Endpoint: "collector:4317",
				TLS:      TLSConfig{Enabled: true, CACertPath: "/does/not/exist.pem"},
			},
			wantErr: true,
		},
		{name: "none", cfg: ExporterConfig{Type: "none"}, wantNil: true},
		{name: "empty", cfg: ExporterConfig{}, wantNil: true},
		{name: "unknown", cfg: ExporterConfig{Type: "zipkin"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := CreateExporter(ctx, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, exp)
				return
			}
			require.NotNil(t, exp)
			assert.NoError(t, exp.Shutdown(ctx))
		})
	}
}
