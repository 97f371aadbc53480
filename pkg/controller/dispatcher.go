// Copyright 2025 The Passwordstate Operator Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

package controller

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// task is one unit of work for a PasswordList identity.
type task func(ctx context.Context)

// dispatcher runs tasks in arrival order per identity while different
// identities proceed concurrently, at most workers at a time. Each identity
// with pending tasks owns one draining goroutine.
type dispatcher struct {
	workers *semaphore.Weighted

	mu      sync.Mutex
	pending map[string][]task

	wg sync.WaitGroup
}

func newDispatcher(workers int) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &dispatcher{
		workers: semaphore.NewWeighted(int64(workers)),
		pending: make(map[string][]task),
	}
}

// dispatch queues t behind the pending tasks of id.
func (d *dispatcher) dispatch(ctx context.Context, id string, t task) {
	d.mu.Lock()
	queue, draining := d.pending[id]
	d.pending[id] = append(queue, t)
	d.mu.Unlock()
	pendingEvents.Inc()

	if draining {
		return
	}
	d.wg.Add(1)
	go d.drain(ctx, id)
}

func (d *dispatcher) drain(ctx context.Context, id string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.pending[id]
		if len(queue) == 0 {
			delete(d.pending, id)
			d.mu.Unlock()
			return
		}
		next := queue[0]
		d.pending[id] = queue[1:]
		d.mu.Unlock()
		pendingEvents.Dec()

		// Tasks still queued at shutdown are dropped, the next start
		// replays them from the watch.
		if err := d.workers.Acquire(ctx, 1); err != nil {
			continue
		}
		next(ctx)
		d.workers.Release(1)
	}
}

// wait blocks until every draining goroutine returned.
func (d *dispatcher) wait() {
	d.wg.Wait()
}

// len returns the number of queued tasks.
func (d *dispatcher) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, queue := range d.pending {
		n += len(queue)
	}
	return n
}
