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

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
	assert.False(t, cfg.AddSource)
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		wantLevel  string
		wantFormat Format
		wantSource bool
	}{
		{
			name:       "defaults",
			wantLevel:  "warn",
			wantFormat: FormatText,
		},
		{
			name:       "explicit level and format",
			env:        map[string]string{"LOGFIRE_LOG_LEVEL": "DEBUG", "LOGFIRE_LOG_FORMAT": "JSON"},
			wantLevel:  "debug",
			wantFormat: FormatJSON,
		},
		{
			name:       "debug takes precedence",
			env:        map[string]string{"LOGFIRE_DEBUG": "1", "LOGFIRE_LOG_LEVEL": "error"},
			wantLevel:  "debug",
			wantFormat: FormatText,
			wantSource: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOGFIRE_DEBUG", "")
			t.Setenv("LOGFIRE_LOG_LEVEL", "")
			t.Setenv("LOGFIRE_LOG_FORMAT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := FromEnv()
			assert.Equal(t, tt.wantLevel, cfg.Level)
			assert.Equal(t, tt.wantFormat, cfg.Format)
			assert.Equal(t, tt.wantSource, cfg.AddSource)
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("exported", slog.Int("spans", 3))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "exported", entry["msg"])
	assert.Equal(t, "logfire", entry["component"])
	assert.EqualValues(t, 3, entry["spans"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, parseLevel("trace"))
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelWarn, parseLevel("bogus"))
}

func TestRateLimited(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatText, Output: &buf})
	rl := NewRateLimited(time.Hour)
	ctx := context.Background()

	assert.True(t, rl.Warn(ctx, logger, "k", "first"))
	assert.False(t, rl.Warn(ctx, logger, "k", "second"))
	assert.False(t, rl.Warn(ctx, logger, "k", "third"))
	assert.True(t, rl.Warn(ctx, logger, "other", "independent key"))

	out := buf.String()
	assert.Contains(t, out, "first")
	assert.NotContains(t, out, "second")
	assert.Contains(t, out, "independent key")
}

func TestContain(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New(&Config{Level: "debug", Format: FormatText, Output: &buf}))
	t.Cleanup(func() { SetDefault(nil) })

	ok := Contain(context.Background(), "test-op", func() {
		panic("boom")
	})
	assert.False(t, ok)
	assert.True(t, strings.Contains(buf.String(), "boom"))

	ok = Contain(context.Background(), "test-op", func() {})
	assert.True(t, ok)
}
