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

package operation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/clock"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/cache"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/cluster"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/config"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/metadata"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/passwordstate"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/secrets"
)

// invalidator is implemented by API key sources caching their key.
type invalidator interface {
	Invalidate()
}

// PasswordListGetter reads password lists from Passwordstate.
type PasswordListGetter interface {
	GetPasswordList(ctx context.Context, serverBaseURL, listID, apiKey string) (*passwordstate.PasswordListResponse, error)
}

// Config holds the Handler settings.
type Config struct {
	ServerBaseURL string
	// SyncInterval is the minimum time between two synchronizations of a
	// PasswordList that does not override it.
	SyncInterval time.Duration
	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

// Handler implements the operations that converge the Secret of a
// PasswordList. Every method taking a *cache.Lock expects the caller to
// hold the lock of the PasswordList it operates on.
//
// Passwordstate failures are logged and swallowed: the Secret keeps its
// previous content and the cache entry stays eligible for a retry. Cluster
// failures and configuration errors are returned.
type Handler struct {
	log          logr.Logger
	cluster      cluster.Client
	vault        PasswordListGetter
	apiKeys      config.APIKeySource
	builder      *secrets.Builder
	serverURL    string
	syncInterval time.Duration
	clock        clock.PassiveClock
}

// NewHandler returns a Handler.
func NewHandler(
	log logr.Logger,
	cfg Config,
	clusterClient cluster.Client,
	vault PasswordListGetter,
	apiKeys config.APIKeySource,
	builder *secrets.Builder,
) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	return &Handler{
		log:          log.WithName("operations"),
		cluster:      clusterClient,
		vault:        vault,
		apiKeys:      apiKeys,
		builder:      builder,
		serverURL:    cfg.ServerBaseURL,
		syncInterval: cfg.SyncInterval,
		clock:        cfg.Clock,
	}
}

// outcome tells what a create or sync did to the Secret.
type outcome int

const (
	// outcomeSkipped means Passwordstate could not be read, nothing was
	// written.
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeReplaced
	outcomeUnchanged
)

func (h *Handler) logger(pl *v1.PasswordList) logr.Logger {
	return h.log.WithValues("passwordlist", pl.ID(), "secret", pl.Spec.SecretName)
}

func checkLock(lock *cache.Lock, pl *v1.PasswordList) error {
	if lock.ID() != pl.ID() {
		return fmt.Errorf("lock for %s does not cover %s", lock.ID(), pl.ID())
	}
	return nil
}

// Get returns the Secret of pl, or nil when it does not exist.
func (h *Handler) Get(ctx context.Context, pl *v1.PasswordList) (*corev1.Secret, error) {
	return h.cluster.GetSecret(ctx, pl.Namespace, pl.Spec.SecretName)
}

// Create makes sure the Secret of pl exists. A cache entry is recorded for
// pl before anything else so the periodic sweep retries it if the creation
// does not go through. An existing Secret is synchronized instead.
func (h *Handler) Create(ctx context.Context, lock *cache.Lock, pl *v1.PasswordList) (err error) {
	defer func() { recordOperation("create", err) }()
	if err := checkLock(lock, pl); err != nil {
		return err
	}
	_, err = h.create(ctx, lock, pl)
	return err
}

func (h *Handler) create(ctx context.Context, lock *cache.Lock, pl *v1.PasswordList) (outcome, error) {
	log := h.logger(pl)

	entry, ok := lock.Get()
	if !ok {
		entry = cache.Entry{}
	}
	entry.Resource = pl
	lock.Put(entry)

	existing, err := h.Get(ctx, pl)
	if err != nil {
		return outcomeSkipped, err
	}
	if existing != nil {
		log.V(1).Info("Secret already exists, syncing instead")
		return h.sync(ctx, lock, pl, existing)
	}

	response, ok, err := h.fetch(ctx, log, pl)
	if err != nil || !ok {
		if err == nil {
			log.Info("Not creating secret until Passwordstate can be read")
		}
		return outcomeSkipped, err
	}

	secret := h.builder.BuildPasswordsSecret(pl, response.Passwords)
	log.Info("Creating secret", "keys", len(secret.StringData))
	if _, err := h.cluster.CreateSecret(ctx, secret); err != nil {
		return outcomeSkipped, err
	}
	secretWritesTotal.WithLabelValues("create").Inc()

	h.recordSync(lock, pl, response)
	return outcomeCreated, nil
}

// Sync converges an existing Secret with the current content of the
// password list. The Secret is only replaced when its payload changed, in
// which case the deployment named by the spec is restarted.
func (h *Handler) Sync(ctx context.Context, lock *cache.Lock, pl *v1.PasswordList, existing *corev1.Secret) (err error) {
	defer func() { recordOperation("sync", err) }()
	if err := checkLock(lock, pl); err != nil {
		return err
	}
	_, err = h.sync(ctx, lock, pl, existing)
	return err
}

func (h *Handler) sync(ctx context.Context, lock *cache.Lock, pl *v1.PasswordList, existing *corev1.Secret) (outcome, error) {
	log := h.logger(pl)
	log.V(1).Info("Syncing secret")

	response, ok, err := h.fetch(ctx, log, pl)
	if err != nil || !ok {
		return outcomeSkipped, err
	}

	desired := h.builder.BuildPasswordsSecret(pl, response.Passwords)
	equal, err := secrets.DataEquals(existing, desired)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("failed to compare secret %s/%s: %w", existing.Namespace, existing.Name, err)
	}

	if equal {
		log.V(1).Info("No changes in Passwordstate", "fingerprint", response.Fingerprint())
		h.recordSync(lock, pl, response)
		return outcomeUnchanged, nil
	}

	if !metadata.IsOperatorOwned(existing) {
		log.Info("Taking over secret not created by the operator")
		adoptedSecretsTotal.Inc()
	}
	log.Info("Password list changed in Passwordstate, replacing secret", "fingerprint", response.Fingerprint())
	desired.ResourceVersion = existing.ResourceVersion
	if _, err := h.cluster.ReplaceSecret(ctx, desired); err != nil {
		return outcomeSkipped, err
	}
	secretWritesTotal.WithLabelValues("replace").Inc()
	h.recordSync(lock, pl, response)

	if pl.Spec.AutoRestartDeploymentName != "" {
		if err := h.restart(ctx, log, pl); err != nil {
			return outcomeReplaced, err
		}
	}
	return outcomeReplaced, nil
}

// Update applies a spec change. prev is the cached version of the
// PasswordList, nil when it is unknown, in which case next is created.
// A change of the sync interval alone only refreshes the cache. Any other
// change deletes the Secret of prev and creates the one of next, which
// handles a renamed Secret.
func (h *Handler) Update(ctx context.Context, lock *cache.Lock, prev, next *v1.PasswordList) (err error) {
	defer func() { recordOperation("update", err) }()
	if err := checkLock(lock, next); err != nil {
		return err
	}
	log := h.logger(next)

	if prev == nil {
		log.Info("No cached PasswordList, creating secret")
		_, err = h.create(ctx, lock, next)
		return err
	}

	if prev.Spec.SpecEquals(next.Spec) {
		log.V(1).Info("Identical spec, not touching secret")
		entry, ok := lock.Get()
		if !ok {
			entry = cache.Entry{}
		}
		entry.Resource = next
		lock.Put(entry)
		return nil
	}

	log.Info("Spec changed, recreating secret", "previousSecret", prev.Spec.SecretName)
	if err := h.delete(ctx, lock, prev); err != nil {
		// Keep next known, never synced, so the sweep creates its Secret.
		lock.Put(cache.Entry{Resource: next})
		return err
	}

	result, err := h.create(ctx, lock, next)
	if err != nil {
		return err
	}

	// A replace already restarted the deployment.
	if next.Spec.AutoRestartDeploymentName != "" && (result == outcomeCreated || result == outcomeUnchanged) {
		return h.restart(ctx, log, next)
	}
	return nil
}

// Delete removes the cache entry and the Secret of pl. A missing Secret is
// not an error, so Delete can be called repeatedly.
func (h *Handler) Delete(ctx context.Context, lock *cache.Lock, pl *v1.PasswordList) (err error) {
	defer func() { recordOperation("delete", err) }()
	if err := checkLock(lock, pl); err != nil {
		return err
	}
	return h.delete(ctx, lock, pl)
}

func (h *Handler) delete(ctx context.Context, lock *cache.Lock, pl *v1.PasswordList) error {
	log := h.logger(pl)

	// The entry goes first, a failed deletion must not be retried into a
	// recreation by the sweep.
	lock.Remove()
	lastSyncTimestamp.DeleteLabelValues(pl.ID())

	log.Info("Deleting secret")
	if err := h.cluster.DeleteSecret(ctx, pl.Namespace, pl.Spec.SecretName); err != nil {
		return err
	}
	secretWritesTotal.WithLabelValues("delete").Inc()
	return nil
}

// CheckCurrentState is the periodic check of one cached PasswordList: a
// missing Secret is created, an existing one is synchronized once its sync
// interval elapsed. The lock's entry may have been removed in the meantime,
// then there is nothing to do.
func (h *Handler) CheckCurrentState(ctx context.Context, lock *cache.Lock) (err error) {
	entry, ok := lock.Get()
	if !ok || entry.Resource == nil {
		return nil
	}
	defer func() { recordOperation("check", err) }()

	pl := entry.Resource
	log := h.logger(pl)

	existing, err := h.Get(ctx, pl)
	if err != nil {
		return err
	}
	if existing == nil {
		log.Info("Secret does not exist, creating")
		_, err = h.create(ctx, lock, pl)
		return err
	}

	if !h.syncDue(entry) {
		log.V(2).Info("Secret exists, sync not due", "lastSync", entry.LastSync)
		return nil
	}
	_, err = h.sync(ctx, lock, pl, existing)
	return err
}

func (h *Handler) syncDue(entry cache.Entry) bool {
	if entry.NeverSynced() {
		return true
	}
	interval := entry.Resource.Spec.SyncInterval(h.syncInterval)
	return !h.clock.Now().Before(entry.LastSync.Add(interval))
}

// fetch reads the password list of pl. A missing API key is a ConfigError.
// Passwordstate failures are logged and reported through ok.
func (h *Handler) fetch(ctx context.Context, log logr.Logger, pl *v1.PasswordList) (response *passwordstate.PasswordListResponse, ok bool, err error) {
	apiKey, err := h.apiKeys.APIKey(ctx)
	if err != nil {
		return nil, false, &ConfigError{Err: err}
	}

	response, err = h.vault.GetPasswordList(ctx, h.serverURL, pl.Spec.PasswordListID, apiKey)
	if err != nil {
		var apiErr *passwordstate.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			if keys, ok := h.apiKeys.(invalidator); ok {
				log.Info("Passwordstate rejected the API key, reloading it on the next attempt")
				keys.Invalidate()
			}
		}
		log.Error(err, "Failed to read password list from Passwordstate", "passwordListId", pl.Spec.PasswordListID)
		return nil, false, nil
	}
	return response, true, nil
}

func (h *Handler) recordSync(lock *cache.Lock, pl *v1.PasswordList, response *passwordstate.PasswordListResponse) {
	now := h.clock.Now()
	lock.Put(cache.Entry{
		Resource:    pl,
		Fingerprint: response.Fingerprint(),
		LastSync:    now,
	})
	lastSyncTimestamp.WithLabelValues(pl.ID()).Set(float64(now.Unix()))
}

func (h *Handler) restart(ctx context.Context, log logr.Logger, pl *v1.PasswordList) error {
	name := pl.Spec.AutoRestartDeploymentName
	log.Info("Restarting deployment", "deployment", name)
	if err := h.cluster.RestartDeployment(ctx, pl.Namespace, name, h.clock.Now()); err != nil {
		return err
	}
	deploymentRestartsTotal.Inc()
	return nil
}
