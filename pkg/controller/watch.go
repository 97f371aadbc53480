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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/operation"
)

// watchLoop keeps a watch open until ctx is done. A closed or failed watch
// is re-established after the restart delay.
func (c *Controller) watchLoop(ctx context.Context) {
	for {
		c.runWatch(ctx)

		timer := time.NewTimer(c.config.WatchRestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		watchRestartsTotal.Inc()
		c.log.V(1).Info("Restarting watch", "resourceVersion", c.resourceVersion)
	}
}

// runWatch establishes one watch and consumes it until it closes.
func (c *Controller) runWatch(ctx context.Context) {
	w, err := c.watcher.WatchPasswordLists(ctx, c.config.Namespace, c.resourceVersion)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateError)
		if isGone(err) {
			c.resourceVersion = ""
		}
		if isTimeout(err) {
			c.log.Error(err, "Timed out establishing the PasswordList watch")
		} else {
			c.log.Error(err, "Failed to establish the PasswordList watch", "severity", "critical")
		}
		return
	}
	defer w.Stop()

	c.setState(StateWatching)
	c.log.Info("Watching PasswordLists", "namespace", c.config.Namespace, "resourceVersion", c.resourceVersion)

	for {
		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return
		case event, ok := <-w.ResultChan():
			if !ok {
				c.setState(StateClosed)
				c.log.Info("PasswordList watch closed")
				return
			}
			if closeWatch := c.handleEvent(ctx, event); closeWatch {
				c.setState(StateClosed)
				return
			}
		}
	}
}

// handleEvent dispatches one watch event. It returns true when the watch
// must be re-established.
func (c *Controller) handleEvent(ctx context.Context, event watch.Event) bool {
	watchEventsTotal.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case watch.Added, watch.Modified, watch.Deleted:
		pl, ok := event.Object.(*v1.PasswordList)
		if !ok {
			c.log.Error(fmt.Errorf("unexpected object %T", event.Object), "Ignoring watch event", "type", event.Type)
			return false
		}
		c.rememberResourceVersion(pl)
		c.log.V(1).Info("Received watch event", "type", event.Type, "passwordlist", pl.ID())

		eventType := event.Type
		c.dispatcher.dispatch(ctx, pl.ID(), func(ctx context.Context) {
			c.reconcile(ctx, eventType, pl)
		})

	case watch.Bookmark:
		if pl, ok := event.Object.(*v1.PasswordList); ok {
			c.rememberResourceVersion(pl)
		}
		c.log.V(1).Info("Received bookmark", "resourceVersion", c.resourceVersion)

	case watch.Error:
		err := apierrors.FromObject(event.Object)
		if isGone(err) {
			c.log.Info("Watch resource version expired, resyncing", "resourceVersion", c.resourceVersion)
			c.resourceVersion = ""
			return true
		}
		c.log.Error(err, "Received watch error")
	}
	return false
}

func (c *Controller) rememberResourceVersion(obj metav1.Object) {
	if rv := obj.GetResourceVersion(); rv != "" {
		c.resourceVersion = rv
	}
}

// reconcile runs the operation matching one watch event. Operations are
// not cut short by shutdown, only the wait for the lock is.
func (c *Controller) reconcile(ctx context.Context, eventType watch.EventType, pl *v1.PasswordList) {
	trigger := string(eventType)
	log := c.log.WithValues("passwordlist", pl.ID(), "event", eventType)
	start := time.Now()
	reconcileTotal.WithLabelValues(trigger).Inc()
	defer func() {
		reconcileDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	}()

	err := recoverPanic(pl.ID(), func() error {
		lock, err := c.cache.Acquire(ctx, pl.ID())
		if err != nil {
			return err
		}
		defer lock.Release()
		opCtx := context.WithoutCancel(ctx)

		var cached *v1.PasswordList
		if entry, ok := lock.Get(); ok {
			cached = entry.Resource
		}

		switch eventType {
		case watch.Added:
			// A re-listed PasswordList whose spec changed while the watch
			// was down must drop its previous Secret.
			if cached != nil && !cached.Spec.SpecEquals(pl.Spec) {
				return c.ops.Update(opCtx, lock, cached, pl)
			}
			return c.ops.Create(opCtx, lock, pl)
		case watch.Modified:
			return c.ops.Update(opCtx, lock, cached, pl)
		case watch.Deleted:
			target := pl
			if cached != nil {
				target = cached
			}
			return c.ops.Delete(opCtx, lock, target)
		}
		return nil
	})
	if err != nil {
		c.logHandlerError(log, trigger, err)
	}
	cachedResources.Set(float64(c.cache.Len()))
}

// recoverPanic runs fn and turns a panic into an error, so a broken
// PasswordList cannot take the controller down.
func recoverPanic(id string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while reconciling %s: %v", id, r)
		}
	}()
	return fn()
}

func (c *Controller) logHandlerError(log logr.Logger, trigger string, err error) {
	if errors.Is(err, context.Canceled) {
		log.V(1).Info("Reconciliation cancelled")
		return
	}
	handlerErrorsTotal.WithLabelValues(trigger).Inc()
	switch {
	case operation.IsConfigError(err):
		log.Error(err, "Reconciliation failed, check the operator configuration", "severity", "critical")
	default:
		log.Error(err, "Reconciliation failed")
	}
}

// isGone returns true for the errors telling the watch resource version is
// too old to resume from.
func isGone(err error) bool {
	return apierrors.IsResourceExpired(err) || apierrors.IsGone(err)
}

// isTimeout returns true for the errors that only mean the API server was
// slow to answer.
func isTimeout(err error) bool {
	if apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
