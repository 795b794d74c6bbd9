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

package export

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/logfire-go/internal/log"
	"github.com/tombee/logfire-go/pkg/errors"
)

// DiskRetryer defaults.
const (
	DefaultRetryInitialDelay = time.Second
	DefaultRetryMaxDelay     = 128 * time.Second
	DefaultRetryQueueLimit   = 1000
)

var retryLog = log.NewRateLimited(time.Minute)

// DiskRetryerConfig configures a DiskRetryer.
type DiskRetryerConfig struct {
	// Dir holds the queued request bodies.
	Dir string

	// Limit caps the number of queued bodies. Further failures are dropped.
	Limit int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// OnQueueChange, if set, is called with the queue length after every
	// change.
	OnQueueChange func(size int)
}

// DiskRetryer persists request bodies that failed to send and resends them
// from a single background goroutine with exponential backoff. The
// goroutine starts with the first queued body and exits when the queue is
// empty. A body's file is removed only after it was sent successfully.
type DiskRetryer struct {
	cfg  DiskRetryerConfig
	send func(ctx context.Context, body []byte) error

	mu      sync.Mutex
	queue   []string
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	jitter  func() float64
}

// NewDiskRetryer returns a retryer that resends bodies with send.
func NewDiskRetryer(cfg DiskRetryerConfig, send func(ctx context.Context, body []byte) error) *DiskRetryer {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultRetryQueueLimit
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetryInitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = max(DefaultRetryMaxDelay, cfg.InitialDelay)
	}
	return &DiskRetryer{
		cfg:    cfg,
		send:   send,
		stop:   make(chan struct{}),
		jitter: rand.Float64,
	}
}

// Add queues body for retry. It never blocks on the network.
func (r *DiskRetryer) Add(body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if len(r.queue) >= r.cfg.Limit {
		retryLog.Warn(context.Background(), log.Default(), "retry:full",
			"retry queue is full, dropping export request",
			slog.Int("limit", r.cfg.Limit))
		return
	}

	path, err := r.persist(body)
	if err != nil {
		retryLog.Error(context.Background(), log.Default(), "retry:persist",
			"failed to persist export request for retry", log.Error(err))
		return
	}
	r.queue = append(r.queue, path)
	r.notifyLocked()

	if !r.running {
		r.running = true
		r.done = make(chan struct{})
		go r.run(r.done)
	}
}

func (r *DiskRetryer) persist(body []byte) (string, error) {
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating retry directory")
	}
	path := filepath.Join(r.cfg.Dir, uuid.NewString()+".bin")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing %s", path)
	}
	return path, nil
}

// Len returns the number of queued bodies.
func (r *DiskRetryer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Close stops the worker. Queued files stay on disk.
func (r *DiskRetryer) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)
	done := r.done
	running := r.running
	r.mu.Unlock()

	if !running {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *DiskRetryer) run(done chan struct{}) {
	defer close(done)

	delay := r.cfg.InitialDelay
	for {
		r.mu.Lock()
		if len(r.queue) == 0 || r.closed {
			r.running = false
			r.mu.Unlock()
			return
		}
		path := r.queue[0]
		r.mu.Unlock()

		if !r.sleep(time.Duration(float64(delay) * (1 + r.jitter()))) {
			return
		}

		body, err := os.ReadFile(path)
		if err != nil {
			retryLog.Error(context.Background(), log.Default(), "retry:read",
				"failed to read queued export request", log.Error(err))
			r.pop(path)
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-r.stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		err = r.send(ctx, body)
		cancel()

		if err != nil && !errors.IsRetryable(err) {
			retryLog.Error(context.Background(), log.Default(), "retry:rejected",
				"export request rejected on retry, dropping it", log.Error(err))
			os.Remove(path)
			r.pop(path)
			continue
		}
		if err != nil {
			retryLog.Warn(context.Background(), log.Default(), "retry:send",
				"retrying export request failed",
				log.Error(err), slog.Duration("next_delay", min(delay*2, r.cfg.MaxDelay)))
			delay = min(delay*2, r.cfg.MaxDelay)
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.InternalError(context.Background(), "retry.remove", err)
		}
		r.pop(path)
		delay = r.cfg.InitialDelay
	}
}

func (r *DiskRetryer) pop(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) > 0 && r.queue[0] == path {
		r.queue = r.queue[1:]
	}
	r.notifyLocked()
}

func (r *DiskRetryer) notifyLocked() {
	if r.cfg.OnQueueChange != nil {
		r.cfg.OnQueueChange(len(r.queue))
	}
}

// sleep waits for d and reports false if the retryer was closed meanwhile.
func (r *DiskRetryer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.stop:
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return false
	}
}
