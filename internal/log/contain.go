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
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tombee/logfire-go/internal/tracing/suppress"
)

var containLimiter = NewRateLimited(time.Minute)

// Contain runs fn and recovers any panic raised by SDK code inside it. The
// panic is logged once per op (rate limited) with instrumentation suppressed,
// so a logging bridge that feeds back into the SDK cannot recurse. It
// reports whether fn completed normally.
//
// Contain must only wrap SDK code. User callbacks whose panics have to reach
// the user are never run through it.
func Contain(ctx context.Context, op string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			InternalError(ctx, op, fmt.Errorf("panic: %v", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
	return true
}

// InternalError logs an error raised by the SDK's own code.
func InternalError(ctx context.Context, op string, err error, args ...any) {
	ctx = suppress.Instrumentation(ctx)
	args = append([]any{slog.String("op", op), Error(err)}, args...)
	containLimiter.Error(ctx, Default(), "internal:"+op, "internal error in logfire", args...)
}

var warnOnce sync.Map

// WarnOnce logs msg at warn level the first time key is seen in the process.
func WarnOnce(ctx context.Context, key, msg string, args ...any) {
	if _, loaded := warnOnce.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	Default().WarnContext(suppress.Instrumentation(ctx), msg, args...)
}
