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
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// The functions below use the process-wide instance; see Default.

func StartSpan(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) (context.Context, *Span) {
	return defaultLogfire.startSpan(ctx, msgTemplate, kvs)
}

func Log(ctx context.Context, level Level, msgTemplate string, kvs ...attribute.KeyValue) {
	defaultLogfire.log(ctx, level, msgTemplate, kvs)
}

func Trace(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	defaultLogfire.log(ctx, LevelTrace, msgTemplate, kvs)
}

func Debug(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	defaultLogfire.log(ctx, LevelDebug, msgTemplate, kvs)
}

func Info(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	defaultLogfire.log(ctx, LevelInfo, msgTemplate, kvs)
}

func Notice(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	defaultLogfire.log(ctx, LevelNotice, msgTemplate, kvs)
}

func Warn(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	defaultLogfire.log(ctx, LevelWarn, msgTemplate, kvs)
}

func Error(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	defaultLogfire.log(ctx, LevelError, msgTemplate, kvs)
}

func Fatal(ctx context.Context, msgTemplate string, kvs ...attribute.KeyValue) {
	defaultLogfire.log(ctx, LevelFatal, msgTemplate, kvs)
}

func LogArgs(ctx context.Context, level Level, args ...any) {
	defaultLogfire.logArgs(ctx, level, 1, args)
}

func Instrument(ctx context.Context, msgTemplate string, fn func(context.Context) error, kvs ...attribute.KeyValue) error {
	return defaultLogfire.Instrument(ctx, msgTemplate, fn, kvs...)
}

func ForceFlush(ctx context.Context) error {
	return defaultLogfire.ForceFlush(ctx)
}

func Shutdown(ctx context.Context) error {
	return defaultLogfire.Shutdown(ctx)
}
