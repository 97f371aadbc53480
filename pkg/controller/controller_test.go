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
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/cache"
)

func noopLogger() logr.Logger {
	opts := zap.Options{
		// Write to dev/null
		DestWriter: io.Discard,
	}
	return zap.New(zap.UseFlagOptions(&opts))
}

type call struct {
	op     string
	id     string
	secret string
	prev   string
}

// fakeOps records calls and mimics the cache bookkeeping of the real
// operations.
type fakeOps struct {
	mu        sync.Mutex
	calls     []call
	active    map[string]int
	maxActive map[string]int
	parallel  int
	maxPar    int
	delay     time.Duration
	failCheck map[string]error
	panicOn   map[string]bool
	block     chan struct{}
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		active:    map[string]int{},
		maxActive: map[string]int{},
		failCheck: map[string]error{},
		panicOn:   map[string]bool{},
	}
}

func (f *fakeOps) enter(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.active[c.id]++
	if f.active[c.id] > f.maxActive[c.id] {
		f.maxActive[c.id] = f.active[c.id]
	}
	f.parallel++
	if f.parallel > f.maxPar {
		f.maxPar = f.parallel
	}
	delay, block := f.delay, f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	time.Sleep(delay)
}

func (f *fakeOps) leave(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[id]--
	f.parallel--
}

func (f *fakeOps) Create(_ context.Context, lock *cache.Lock, pl *v1.PasswordList) error {
	f.enter(call{op: "create", id: pl.ID(), secret: pl.Spec.SecretName})
	defer f.leave(pl.ID())
	lock.Put(cache.Entry{Resource: pl})
	return nil
}

func (f *fakeOps) Update(_ context.Context, lock *cache.Lock, prev, next *v1.PasswordList) error {
	c := call{op: "update", id: next.ID(), secret: next.Spec.SecretName}
	if prev != nil {
		c.prev = prev.Spec.SecretName
	}
	f.enter(c)
	defer f.leave(next.ID())
	lock.Put(cache.Entry{Resource: next})
	return nil
}

func (f *fakeOps) Delete(_ context.Context, lock *cache.Lock, pl *v1.PasswordList) error {
	f.enter(call{op: "delete", id: pl.ID(), secret: pl.Spec.SecretName})
	defer f.leave(pl.ID())
	lock.Remove()
	return nil
}

func (f *fakeOps) CheckCurrentState(_ context.Context, lock *cache.Lock) error {
	entry, _ := lock.Get()
	f.enter(call{op: "check", id: lock.ID(), secret: entry.Resource.Spec.SecretName})
	defer f.leave(lock.ID())

	f.mu.Lock()
	err, panics := f.failCheck[lock.ID()], f.panicOn[lock.ID()]
	f.mu.Unlock()
	if panics {
		panic("boom")
	}
	return err
}

func (f *fakeOps) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeOps) ops(id string) []string {
	var out []string
	for _, c := range f.snapshot() {
		if c.id == id {
			out = append(out, c.op)
		}
	}
	return out
}

// fakeWatcher hands out a new FakeWatcher per watch request.
type fakeWatcher struct {
	mu          sync.Mutex
	established bool
	watchErrs   []error
	rvs         []string
	watches     chan *watch.FakeWatcher
}

func newFakeWatcher(established bool) *fakeWatcher {
	return &fakeWatcher{established: established, watches: make(chan *watch.FakeWatcher, 10)}
}

func (f *fakeWatcher) setEstablished(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.established = v
}

func (f *fakeWatcher) WaitForPasswordListCRD(ctx context.Context) error {
	return wait.PollUntilContextCancel(ctx, 10*time.Millisecond, true, func(context.Context) (bool, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.established, nil
	})
}

func (f *fakeWatcher) WatchPasswordLists(_ context.Context, _, resourceVersion string) (watch.Interface, error) {
	f.mu.Lock()
	f.rvs = append(f.rvs, resourceVersion)
	if len(f.watchErrs) > 0 {
		err := f.watchErrs[0]
		f.watchErrs = f.watchErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	w := watch.NewFakeWithChanSize(10, false)
	f.watches <- w
	return w, nil
}

func (f *fakeWatcher) resourceVersions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rvs...)
}

func (f *fakeWatcher) next(t *testing.T) *watch.FakeWatcher {
	t.Helper()
	select {
	case w := <-f.watches:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("watch was not established")
		return nil
	}
}

func pl(name, secret, rv string) *v1.PasswordList {
	return &v1.PasswordList{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: name, ResourceVersion: rv},
		Spec:       v1.PasswordListSpec{PasswordListID: "123", SecretName: secret},
	}
}

func testConfig() Config {
	return Config{
		ReconcileInterval:       time.Hour,
		WatchRestartDelay:       10 * time.Millisecond,
		MaxConcurrentReconciles: 4,
	}
}

func startController(t *testing.T, cfg Config, c *cache.Cache, ops Operations, w Watcher) *Controller {
	t.Helper()
	ctrl := New(noopLogger(), cfg, c, ops, w)
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Start(context.Background()) }()
	t.Cleanup(func() {
		ctrl.Stop()
		require.NoError(t, <-errCh)
	})
	return ctrl
}

func TestWatchStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", StateDisconnected.String())
	assert.Equal(t, "Watching", StateWatching.String())
	assert.Equal(t, "Error", StateError.String())
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "WatchState(9)", WatchState(9).String())
}

func TestNewAppliesDefaults(t *testing.T) {
	ctrl := New(noopLogger(), Config{}, cache.New(), newFakeOps(), newFakeWatcher(true))

	assert.Equal(t, 10*time.Second, ctrl.config.ReconcileInterval)
	assert.Equal(t, time.Second, ctrl.config.WatchRestartDelay)
	assert.Equal(t, 1, ctrl.config.MaxConcurrentReconciles)
	assert.Equal(t, StateDisconnected, ctrl.State())
}

func TestController_WaitsForCRD(t *testing.T) {
	watcher := newFakeWatcher(false)
	ctrl := startController(t, testConfig(), cache.New(), newFakeOps(), watcher)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, watcher.resourceVersions(), "no watch before the CRD is installed")
	assert.Error(t, ctrl.ReadyzCheck(&http.Request{}))

	watcher.setEstablished(true)
	watcher.next(t)

	require.Eventually(t, func() bool { return ctrl.State() == StateWatching }, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, ctrl.ReadyzCheck(&http.Request{}))
}

func TestController_Events(t *testing.T) {
	ops := newFakeOps()
	c := cache.New()
	watcher := newFakeWatcher(true)
	startController(t, testConfig(), c, ops, watcher)
	w := watcher.next(t)

	w.Add(pl("db", "A", "1"))
	w.Modify(pl("db", "B", "2"))
	w.Delete(pl("db", "B", "3"))

	require.Eventually(t, func() bool { return len(ops.snapshot()) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []call{
		{op: "create", id: "default/db", secret: "A"},
		{op: "update", id: "default/db", secret: "B", prev: "A"},
		{op: "delete", id: "default/db", secret: "B"},
	}, ops.snapshot())
	require.Eventually(t, func() bool { return c.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestController_DeleteUsesCachedResource(t *testing.T) {
	ops := newFakeOps()
	c := cache.New()
	watcher := newFakeWatcher(true)
	startController(t, testConfig(), c, ops, watcher)
	w := watcher.next(t)

	w.Add(pl("db", "cached", "1"))
	w.Delete(pl("db", "from-event", "2"))

	require.Eventually(t, func() bool { return len(ops.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "cached", ops.snapshot()[1].secret)
}

func TestController_ModifiedWithoutCacheEntry(t *testing.T) {
	ops := newFakeOps()
	watcher := newFakeWatcher(true)
	startController(t, testConfig(), cache.New(), ops, watcher)
	w := watcher.next(t)

	w.Modify(pl("db", "A", "1"))

	require.Eventually(t, func() bool { return len(ops.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, call{op: "update", id: "default/db", secret: "A"}, ops.snapshot()[0])
}

func TestController_ReAddedWithChangedSpecIsUpdated(t *testing.T) {
	ops := newFakeOps()
	watcher := newFakeWatcher(true)
	startController(t, testConfig(), cache.New(), ops, watcher)
	w := watcher.next(t)

	w.Add(pl("db", "A", "1"))
	w.Add(pl("db", "A", "2"))
	w.Add(pl("db", "B", "3"))

	require.Eventually(t, func() bool { return len(ops.snapshot()) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"create", "create", "update"}, ops.ops("default/db"))
}

func TestController_PerIdentityOrderAcrossIdentities(t *testing.T) {
	ops := newFakeOps()
	ops.delay = 20 * time.Millisecond
	watcher := newFakeWatcher(true)
	startController(t, testConfig(), cache.New(), ops, watcher)
	w := watcher.next(t)

	for _, name := range []string{"a", "b", "c"} {
		w.Add(pl(name, "s1", ""))
		w.Modify(pl(name, "s2", ""))
		w.Modify(pl(name, "s3", ""))
	}

	require.Eventually(t, func() bool { return len(ops.snapshot()) == 9 }, 5*time.Second, 10*time.Millisecond)
	for _, name := range []string{"a", "b", "c"} {
		var secrets []string
		for _, c := range ops.snapshot() {
			if c.id == "default/"+name {
				secrets = append(secrets, c.secret)
			}
		}
		assert.Equal(t, []string{"s1", "s2", "s3"}, secrets, name)
	}

	ops.mu.Lock()
	defer ops.mu.Unlock()
	assert.Greater(t, ops.maxPar, 1, "different identities run concurrently")
	for id, n := range ops.maxActive {
		assert.Equal(t, 1, n, id)
	}
}

func TestController_MaxConcurrentReconciles(t *testing.T) {
	ops := newFakeOps()
	ops.delay = 20 * time.Millisecond
	cfg := testConfig()
	cfg.MaxConcurrentReconciles = 2
	watcher := newFakeWatcher(true)
	startController(t, cfg, cache.New(), ops, watcher)
	w := watcher.next(t)

	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		w.Add(pl(name, "s", ""))
	}

	require.Eventually(t, func() bool { return len(ops.snapshot()) == 6 }, 5*time.Second, 10*time.Millisecond)
	ops.mu.Lock()
	defer ops.mu.Unlock()
	assert.LessOrEqual(t, ops.maxPar, 2)
}

func TestController_WatchRestartResumesFromResourceVersion(t *testing.T) {
	watcher := newFakeWatcher(true)
	ctrl := startController(t, testConfig(), cache.New(), newFakeOps(), watcher)
	w := watcher.next(t)

	w.Add(pl("db", "A", "5"))
	w.Action(watch.Bookmark, &v1.PasswordList{ObjectMeta: metav1.ObjectMeta{ResourceVersion: "8"}})
	require.Eventually(t, func() bool { return ctrl.State() == StateWatching }, 5*time.Second, 10*time.Millisecond)
	w.Stop()

	watcher.next(t)
	assert.Equal(t, []string{"", "8"}, watcher.resourceVersions())
	require.Eventually(t, func() bool { return ctrl.State() == StateWatching }, 5*time.Second, 10*time.Millisecond)
}

func TestController_GoneResetsResourceVersion(t *testing.T) {
	watcher := newFakeWatcher(true)
	startController(t, testConfig(), cache.New(), newFakeOps(), watcher)
	w := watcher.next(t)

	w.Add(pl("db", "A", "5"))
	gone := apierrors.NewResourceExpired("too old resource version").Status()
	w.Error(&gone)

	watcher.next(t)
	assert.Equal(t, []string{"", ""}, watcher.resourceVersions())
}

func TestController_OtherWatchErrorsKeepWatching(t *testing.T) {
	ops := newFakeOps()
	watcher := newFakeWatcher(true)
	startController(t, testConfig(), cache.New(), ops, watcher)
	w := watcher.next(t)

	internal := apierrors.NewInternalError(errors.New("boom")).Status()
	w.Error(&internal)
	w.Add(pl("db", "A", "1"))

	require.Eventually(t, func() bool { return len(ops.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, watcher.resourceVersions(), 1)
}

func TestController_WatchEstablishFailureIsRetried(t *testing.T) {
	watcher := newFakeWatcher(true)
	watcher.watchErrs = []error{
		apierrors.NewTimeoutError("slow", 1),
		apierrors.NewForbidden(schema.GroupResource{Group: v1.PasswordstateDomainName, Resource: "passwordlists"}, "", errors.New("rbac")),
	}
	ctrl := startController(t, testConfig(), cache.New(), newFakeOps(), watcher)

	watcher.next(t)
	assert.Len(t, watcher.resourceVersions(), 3)
	require.Eventually(t, func() bool { return ctrl.State() == StateWatching }, 5*time.Second, 10*time.Millisecond)
}

func TestController_SweepIsolatesFailures(t *testing.T) {
	ops := newFakeOps()
	c := cache.New()
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		p := pl(name, "s", "")
		lock, err := c.Acquire(context.Background(), p.ID())
		require.NoError(t, err)
		lock.Put(cache.Entry{Resource: p})
		lock.Release()
		if i == 1 {
			ops.failCheck[p.ID()] = errors.New("vault unreachable")
		}
		if i == 2 {
			ops.panicOn[p.ID()] = true
		}
	}
	ctrl := New(noopLogger(), testConfig(), c, ops, newFakeWatcher(true))

	ctrl.sweep(context.Background())

	var checked []string
	for _, call := range ops.snapshot() {
		checked = append(checked, call.id)
	}
	assert.ElementsMatch(t, []string{"default/a", "default/b", "default/c", "default/d", "default/e"}, checked)

	// the panicking identity released its lock
	lock, err := c.Acquire(context.Background(), "default/c")
	require.NoError(t, err)
	lock.Release()
}

func TestController_SweepAndEventsNeverInterleave(t *testing.T) {
	ops := newFakeOps()
	ops.delay = 5 * time.Millisecond
	c := cache.New()
	cfg := testConfig()
	cfg.ReconcileInterval = 10 * time.Millisecond
	watcher := newFakeWatcher(true)
	startController(t, cfg, c, ops, watcher)
	w := watcher.next(t)

	w.Add(pl("db", "s0", ""))
	for i := 0; i < 10; i++ {
		w.Modify(pl("db", "s"+string(rune('a'+i)), ""))
	}

	require.Eventually(t, func() bool {
		n := 0
		for _, op := range ops.ops("default/db") {
			if op == "check" {
				n++
			}
		}
		return n >= 3 && len(ops.ops("default/db")) >= 14
	}, 5*time.Second, 10*time.Millisecond)

	ops.mu.Lock()
	defer ops.mu.Unlock()
	assert.Equal(t, 1, ops.maxActive["default/db"])
}

func TestController_StopWaitsForInFlightHandlers(t *testing.T) {
	ops := newFakeOps()
	ops.block = make(chan struct{})
	watcher := newFakeWatcher(true)
	ctrl := New(noopLogger(), testConfig(), cache.New(), ops, watcher)
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Start(context.Background()) }()
	w := watcher.next(t)

	w.Add(pl("db", "A", "1"))
	require.Eventually(t, func() bool { return len(ops.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		ctrl.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a handler was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(ops.block)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, StateDisconnected, ctrl.State())
	assert.True(t, w.IsStopped(), "the watch is disposed")

	ctrl.Stop()
}

func TestController_StopBeforeStart(t *testing.T) {
	ctrl := New(noopLogger(), testConfig(), cache.New(), newFakeOps(), newFakeWatcher(true))
	ctrl.Stop()

	require.NoError(t, ctrl.Start(context.Background()), "a stopped controller returns at once")
	assert.Error(t, ctrl.Start(context.Background()))
}

func TestIsTimeout(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "api timeout", err: apierrors.NewTimeoutError("slow", 1), expected: true},
		{name: "server timeout", err: apierrors.NewServerTimeout(schema.GroupResource{Resource: "passwordlists"}, "watch", 1), expected: true},
		{name: "deadline", err: context.DeadlineExceeded, expected: true},
		{name: "wrapped deadline", err: errors.Join(errors.New("watch"), context.DeadlineExceeded), expected: true},
		{name: "forbidden", err: apierrors.NewForbidden(schema.GroupResource{Resource: "passwordlists"}, "", errors.New("rbac")), expected: false},
		{name: "plain", err: errors.New("boom"), expected: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isTimeout(tc.err))
		})
	}
}

func TestIsGone(t *testing.T) {
	assert.True(t, isGone(apierrors.NewResourceExpired("expired")))
	assert.True(t, isGone(apierrors.NewGone("gone")))
	assert.False(t, isGone(apierrors.NewInternalError(errors.New("boom"))))
}
