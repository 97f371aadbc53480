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

package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/client"
)

const (
	// RestartedAtAnnotation is the pod template annotation kubectl uses for
	// `kubectl rollout restart`.
	RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

	// DefaultWatchTimeout bounds the lifetime of a single watch request so
	// it is recycled periodically.
	DefaultWatchTimeout = 30 * time.Minute
)

var _ Client = &KubeClient{}

// Client is the set of cluster operations the reconciliation needs.
type Client interface {
	// GetSecret returns the Secret, or nil when it does not exist.
	GetSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error)
	CreateSecret(ctx context.Context, secret *corev1.Secret) (*corev1.Secret, error)
	// ReplaceSecret overwrites an existing Secret.
	ReplaceSecret(ctx context.Context, secret *corev1.Secret) (*corev1.Secret, error)
	// DeleteSecret deletes the Secret. A missing Secret is not an error.
	DeleteSecret(ctx context.Context, namespace, name string) error
	// RestartDeployment triggers a rolling restart of the deployment.
	RestartDeployment(ctx context.Context, namespace, name string, at time.Time) error
	// WatchPasswordLists watches PasswordLists in namespace (all namespaces
	// when empty), resuming after resourceVersion when set. Event objects
	// are *v1.PasswordList, or *metav1.Status for error events.
	WatchPasswordLists(ctx context.Context, namespace, resourceVersion string) (watch.Interface, error)
	// WaitForPasswordListCRD blocks until the PasswordList CRD is
	// installed and served, or ctx is done.
	WaitForPasswordListCRD(ctx context.Context) error
}

// KubeClient implements Client on top of client-go.
type KubeClient struct {
	kubernetes   kubernetes.Interface
	dynamic      dynamic.Interface
	crds         client.CRDClient
	watchTimeout time.Duration
}

// Config holds the clients a KubeClient is built from.
type Config struct {
	Kubernetes kubernetes.Interface
	Dynamic    dynamic.Interface
	CRDs       client.CRDClient
	// WatchTimeout defaults to DefaultWatchTimeout.
	WatchTimeout time.Duration
}

// New returns a KubeClient.
func New(cfg Config) *KubeClient {
	if cfg.WatchTimeout == 0 {
		cfg.WatchTimeout = DefaultWatchTimeout
	}
	return &KubeClient{
		kubernetes:   cfg.Kubernetes,
		dynamic:      cfg.Dynamic,
		crds:         cfg.CRDs,
		watchTimeout: cfg.WatchTimeout,
	}
}

// NewFromSet returns a KubeClient using the clients of set.
func NewFromSet(set *client.Set, crds client.CRDClient) *KubeClient {
	return New(Config{
		Kubernetes: set.Kubernetes(),
		Dynamic:    set.Dynamic(),
		CRDs:       crds,
	})
}

func (c *KubeClient) GetSecret(ctx context.Context, namespace, name string) (*corev1.Secret, error) {
	secret, err := c.kubernetes.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", namespace, name, err)
	}
	return secret, nil
}

func (c *KubeClient) CreateSecret(ctx context.Context, secret *corev1.Secret) (*corev1.Secret, error) {
	created, err := c.kubernetes.CoreV1().Secrets(secret.Namespace).Create(ctx, secret, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create secret %s/%s: %w", secret.Namespace, secret.Name, err)
	}
	return created, nil
}

func (c *KubeClient) ReplaceSecret(ctx context.Context, secret *corev1.Secret) (*corev1.Secret, error) {
	replaced, err := c.kubernetes.CoreV1().Secrets(secret.Namespace).Update(ctx, secret, metav1.UpdateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to replace secret %s/%s: %w", secret.Namespace, secret.Name, err)
	}
	return replaced, nil
}

func (c *KubeClient) DeleteSecret(ctx context.Context, namespace, name string) error {
	err := c.kubernetes.CoreV1().Secrets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (c *KubeClient) RestartDeployment(ctx context.Context, namespace, name string, at time.Time) error {
	patch, err := restartPatch(at)
	if err != nil {
		return err
	}

	_, err = c.kubernetes.AppsV1().Deployments(namespace).Patch(
		ctx,
		name,
		types.StrategicMergePatchType,
		patch,
		metav1.PatchOptions{},
	)
	if err != nil {
		return fmt.Errorf("failed to restart deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}

// restartPatch only touches the pod template annotation. A typed Deployment
// would serialize null containers and wipe them out.
func restartPatch(at time.Time) ([]byte, error) {
	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]string{
						RestartedAtAnnotation: at.UTC().Format(time.RFC3339),
					},
				},
			},
		},
	}

	b, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal restart patch: %w", err)
	}
	return b, nil
}

func (c *KubeClient) WatchPasswordLists(ctx context.Context, namespace, resourceVersion string) (watch.Interface, error) {
	timeoutSeconds := int64(c.watchTimeout.Seconds())
	w, err := c.dynamic.Resource(v1.PasswordListGVR).Namespace(namespace).Watch(ctx, metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: true,
		TimeoutSeconds:      &timeoutSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", v1.PasswordListGVR.Resource, err)
	}
	return watch.Filter(w, convertEvent), nil
}

func (c *KubeClient) WaitForPasswordListCRD(ctx context.Context) error {
	return c.crds.WaitForEstablished(ctx, v1.PasswordListCRDName)
}
