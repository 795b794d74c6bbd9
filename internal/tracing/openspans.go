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
	"runtime"
	"sync"
	"weak"

	"go.opentelemetry.io/otel/trace"
)

// OpenSpans is a non-owning registry of spans that have started but not
// ended. Entries vanish when the span is ended or garbage collected, so the
// registry never keeps a span alive. EndAll force-ends whatever is left at
// shutdown.
type OpenSpans[T any, P interface {
	*T
	End(...trace.SpanEndOption)
}] struct {
	mu     sync.Mutex
	nextID uint64
	live   map[uint64]weak.Pointer[T]
}

// Add registers p and returns the function that unregisters it.
func (o *OpenSpans[T, P]) Add(p P) (remove func()) {
	o.mu.Lock()
	if o.live == nil {
		o.live = make(map[uint64]weak.Pointer[T])
	}
	id := o.nextID
	o.nextID++
	o.live[id] = weak.Make((*T)(p))
	o.mu.Unlock()

	runtime.AddCleanup((*T)(p), o.remove, id)
	return func() { o.remove(id) }
}

func (o *OpenSpans[T, P]) remove(id uint64) {
	o.mu.Lock()
	delete(o.live, id)
	o.mu.Unlock()
}

// Len reports how many spans are registered.
func (o *OpenSpans[T, P]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.live)
}

// EndAll ends every span still alive and empties the registry. It returns
// how many spans were ended.
func (o *OpenSpans[T, P]) EndAll() int {
	o.mu.Lock()
	live := o.live
	o.live = nil
	o.mu.Unlock()

	n := 0
	for _, wp := range live {
		if v := wp.Value(); v != nil {
			P(v).End()
			n++
		}
	}
	return n
}
