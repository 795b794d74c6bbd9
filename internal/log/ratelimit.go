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
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited emits at most one record per key per interval, counting what
// it suppressed in between and reporting the count on the next record.
type RateLimited struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*keyLimiter
}

type keyLimiter struct {
	limiter    *rate.Limiter
	suppressed int
}

// NewRateLimited creates a limiter allowing one record per key every interval.
func NewRateLimited(interval time.Duration) *RateLimited {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RateLimited{
		interval: interval,
		limiters: make(map[string]*keyLimiter),
	}
}

// Log writes msg at level under key unless the key's budget is exhausted.
// It reports whether the record was written.
func (r *RateLimited) Log(ctx context.Context, logger *slog.Logger, level slog.Level, key, msg string, args ...any) bool {
	r.mu.Lock()
	kl, ok := r.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(rate.Every(r.interval), 1)}
		r.limiters[key] = kl
	}
	if !kl.limiter.Allow() {
		kl.suppressed++
		r.mu.Unlock()
		return false
	}
	suppressed := kl.suppressed
	kl.suppressed = 0
	r.mu.Unlock()

	if suppressed > 0 {
		args = append(args, slog.Int("suppressed", suppressed))
	}
	if logger == nil {
		logger = Default()
	}
	logger.Log(ctx, level, msg, args...)
	return true
}

// Warn is Log at warn level.
func (r *RateLimited) Warn(ctx context.Context, logger *slog.Logger, key, msg string, args ...any) bool {
	return r.Log(ctx, logger, slog.LevelWarn, key, msg, args...)
}

// Error is Log at error level.
func (r *RateLimited) Error(ctx context.Context, logger *slog.Logger, key, msg string, args ...any) bool {
	return r.Log(ctx, logger, slog.LevelError, key, msg, args...)
}
