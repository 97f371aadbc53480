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
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const sweepTrigger = "sweep"

// sweep checks every known PasswordList once. A failure, or a panic, for one
// PasswordList is logged and does not stop the others.
func (c *Controller) sweep(ctx context.Context) {
	ids := c.cache.ListIdentities()
	cachedResources.Set(float64(len(ids)))
	if len(ids) == 0 {
		return
	}

	start := time.Now()
	c.log.V(1).Info("Checking current state", "passwordlists", len(ids))

	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(c.config.MaxConcurrentReconciles)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := c.checkCurrentState(ctx, id); err != nil {
				failed.Add(1)
				c.logHandlerError(c.log.WithValues("passwordlist", id), sweepTrigger, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	sweepDuration.Observe(elapsed.Seconds())
	c.log.V(1).Info("Checked current state", "passwordlists", len(ids), "failed", failed.Load(), "elapsed", elapsed)
}

func (c *Controller) checkCurrentState(ctx context.Context, id string) error {
	start := time.Now()
	reconcileTotal.WithLabelValues(sweepTrigger).Inc()
	defer func() {
		reconcileDuration.WithLabelValues(sweepTrigger).Observe(time.Since(start).Seconds())
	}()

	return recoverPanic(id, func() error {
		lock, err := c.cache.Acquire(ctx, id)
		if err != nil {
			return err
		}
		defer lock.Release()
		return c.ops.CheckCurrentState(context.WithoutCancel(ctx), lock)
	})
}
