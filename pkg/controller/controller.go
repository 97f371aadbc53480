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
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/cache"
)

// Operations converge the Secret of one PasswordList. They are called with
// the PasswordList's lock held.
type Operations interface {
	Create(ctx context.Context, lock *cache.Lock, pl *v1.PasswordList) error
	Update(ctx context.Context, lock *cache.Lock, prev, next *v1.PasswordList) error
	Delete(ctx context.Context, lock *cache.Lock, pl *v1.PasswordList) error
	CheckCurrentState(ctx context.Context, lock *cache.Lock) error
}

// Watcher is the cluster access the controller needs to follow
// PasswordLists.
type Watcher interface {
	WatchPasswordLists(ctx context.Context, namespace, resourceVersion string) (watch.Interface, error)
	WaitForPasswordListCRD(ctx context.Context) error
}

// Config holds the controller settings.
type Config struct {
	// Namespace restricts the watch, empty means all namespaces.
	Namespace string
	// ReconcileInterval is the period of the sweep over all known
	// PasswordLists.
	ReconcileInterval time.Duration
	// WatchRestartDelay is the pause before a closed watch is re-established.
	WatchRestartDelay time.Duration
	// MaxConcurrentReconciles bounds the PasswordLists reconciled at once,
	// separately for watch events and for the sweep.
	MaxConcurrentReconciles int
}

var _ manager.Runnable = &Controller{}

// Controller keeps the Secrets of all PasswordLists in sync. Watch events
// are handled as they arrive, one at a time per PasswordList, and a periodic
// sweep re-checks every known PasswordList so missed events and changes in
// Passwordstate are picked up.
type Controller struct {
	log     logr.Logger
	config  Config
	cache   *cache.Cache
	ops     Operations
	watcher Watcher

	dispatcher *dispatcher
	state      atomic.Int32
	// resourceVersion is where the next watch resumes. Only the watch loop
	// touches it.
	resourceVersion string

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New returns a Controller. Zero values in cfg are replaced by defaults.
func New(log logr.Logger, cfg Config, c *cache.Cache, ops Operations, watcher Watcher) *Controller {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 10 * time.Second
	}
	if cfg.WatchRestartDelay <= 0 {
		cfg.WatchRestartDelay = time.Second
	}
	if cfg.MaxConcurrentReconciles < 1 {
		cfg.MaxConcurrentReconciles = 1
	}
	return &Controller{
		log:        log.WithName("controller"),
		config:     cfg,
		cache:      c,
		ops:        ops,
		watcher:    watcher,
		dispatcher: newDispatcher(cfg.MaxConcurrentReconciles),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the controller until ctx is cancelled or Stop is called. It
// waits for the PasswordList CRD, then runs the watch and the sweep. On
// return no handler is running anymore.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("controller already started")
	}
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.log.Info("Starting passwordstate controller",
		"namespace", c.config.Namespace,
		"reconcileInterval", c.config.ReconcileInterval,
		"workers", c.config.MaxConcurrentReconciles,
	)
	defer c.log.Info("Shut down passwordstate controller")

	if err := c.waitForCRD(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.watchLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		wait.UntilWithContext(ctx, c.sweep, c.config.ReconcileInterval)
	}()

	<-ctx.Done()
	wg.Wait()
	c.dispatcher.wait()
	c.setState(StateDisconnected)
	return nil
}

// Stop disposes the watch, stops the sweep and waits for in-flight
// handlers. It is safe to call more than once, and before Start.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.started.Load() {
		<-c.done
	}
}

// State returns the current state of the watch.
func (c *Controller) State() WatchState {
	return WatchState(c.state.Load())
}

// ReadyzCheck is a healthz.Checker reporting ready while the watch runs.
func (c *Controller) ReadyzCheck(_ *http.Request) error {
	if s := c.State(); s != StateWatching {
		return fmt.Errorf("passwordlist watch is %s", s)
	}
	return nil
}

func (c *Controller) setState(s WatchState) {
	if old := WatchState(c.state.Swap(int32(s))); old != s {
		c.log.V(1).Info("Watch state changed", "from", old, "to", s)
	}
	watchState.Set(float64(s))
}

func (c *Controller) waitForCRD(ctx context.Context) error {
	c.log.Info("Waiting for the PasswordList CRD", "crd", v1.PasswordListCRDName)
	return c.watcher.WaitForPasswordListCRD(ctx)
}
