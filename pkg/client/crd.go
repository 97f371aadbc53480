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
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	v1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/typed/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// DefaultPollInterval is the default interval for polling CRD status
	DefaultPollInterval = 10 * time.Second
)

var _ CRDClient = &CRDWrapper{}

// CRDClient represents read operations on CustomResourceDefinitions
type CRDClient interface {
	// Get retrieves a CRD by name
	Get(ctx context.Context, name string) (*v1.CustomResourceDefinition, error)

	// IsEstablished reports whether the CRD exists and is served
	IsEstablished(ctx context.Context, name string) (bool, error)

	// WaitForEstablished blocks until the CRD is established
	WaitForEstablished(ctx context.Context, name string) error
}

// CRDWrapper provides a simplified interface for CRD operations
type CRDWrapper struct {
	client       apiextensionsv1.CustomResourceDefinitionInterface
	log          logr.Logger
	pollInterval time.Duration
}

// CRDWrapperConfig contains configuration for the CRD wrapper
type CRDWrapperConfig struct {
	Client       apiextensionsv1.ApiextensionsV1Interface
	Log          logr.Logger
	PollInterval time.Duration
}

// DefaultCRDWrapperConfig returns a CRDWrapperConfig with default values
func DefaultCRDWrapperConfig() CRDWrapperConfig {
	return CRDWrapperConfig{
		PollInterval: DefaultPollInterval,
	}
}

// NewCRDWrapper creates a new CRD wrapper
func NewCRDWrapper(cfg CRDWrapperConfig) *CRDWrapper {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &CRDWrapper{
		client:       cfg.Client.CustomResourceDefinitions(),
		log:          cfg.Log.WithName("crd-wrapper"),
		pollInterval: cfg.PollInterval,
	}
}

// Get retrieves a CRD by name
func (w *CRDWrapper) Get(ctx context.Context, name string) (*v1.CustomResourceDefinition, error) {
	return w.client.Get(ctx, name, metav1.GetOptions{})
}

// IsEstablished returns true once the CRD exists and carries the
// Established condition. A missing CRD is not an error.
func (w *CRDWrapper) IsEstablished(ctx context.Context, name string) (bool, error) {
	crd, err := w.Get(ctx, name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get CRD %s: %w", name, err)
	}

	for _, cond := range crd.Status.Conditions {
		if cond.Type == v1.Established && cond.Status == v1.ConditionTrue {
			return true, nil
		}
	}
	return false, nil
}

// WaitForEstablished polls until the CRD is established or ctx is done.
// Lookup failures are logged and polling goes on.
func (w *CRDWrapper) WaitForEstablished(ctx context.Context, name string) error {
	return wait.PollUntilContextCancel(ctx, w.pollInterval, true,
		func(ctx context.Context) (bool, error) {
			ok, err := w.IsEstablished(ctx, name)
			if err != nil {
				w.log.Error(err, "Failed to check CRD", "name", name)
				return false, nil
			}
			if !ok {
				w.log.Info("CRD not installed yet, waiting", "name", name, "interval", w.pollInterval)
			}
			return ok, nil
		})
}
