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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

var (
	ErrAPIKeyEmpty          = errors.New("api key is empty")
	ErrAPIKeyFieldMissing   = errors.New("api key field missing from secret")
	ErrAPIKeySecretNotFound = errors.New("api key secret not found")
)

// APIKeySource resolves the Passwordstate API key.
type APIKeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// FileAPIKey reads the API key from a file, typically a mounted Secret.
type FileAPIKey struct {
	Path string
}

func (f FileAPIKey) APIKey(_ context.Context) (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read api key file %s: %w", f.Path, err)
	}
	key := strings.TrimSpace(string(b))
	if key == "" {
		return "", fmt.Errorf("%w: file %s", ErrAPIKeyEmpty, f.Path)
	}
	return key, nil
}

// SecretAPIKey reads the API key from a key of a Secret.
type SecretAPIKey struct {
	Client    kubernetes.Interface
	Namespace string
	Name      string
	Key       string
}

func (s SecretAPIKey) APIKey(ctx context.Context) (string, error) {
	secret, err := s.Client.CoreV1().Secrets(s.Namespace).Get(ctx, s.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s/%s", ErrAPIKeySecretNotFound, s.Namespace, s.Name)
		}
		return "", fmt.Errorf("failed to get api key secret %s/%s: %w", s.Namespace, s.Name, err)
	}

	value, ok := secret.Data[s.Key]
	if !ok {
		str, ok := secret.StringData[s.Key]
		if !ok {
			return "", fmt.Errorf("%w: key %q in %s/%s", ErrAPIKeyFieldMissing, s.Key, s.Namespace, s.Name)
		}
		value = []byte(str)
	}

	key := strings.TrimSpace(string(value))
	if key == "" {
		return "", fmt.Errorf("%w: key %q in %s/%s", ErrAPIKeyEmpty, s.Key, s.Namespace, s.Name)
	}
	return key, nil
}

// CachedAPIKey remembers the first key its source resolved successfully.
// Failures are not cached, the next call asks the source again. Invalidate
// drops the remembered key so a rotated key is picked up.
type CachedAPIKey struct {
	source APIKeySource

	mu  sync.Mutex
	key string
}

// NewCachedAPIKey wraps source.
func NewCachedAPIKey(source APIKeySource) *CachedAPIKey {
	return &CachedAPIKey{source: source}
}

func (c *CachedAPIKey) APIKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != "" {
		return c.key, nil
	}
	key, err := c.source.APIKey(ctx)
	if err != nil {
		return "", err
	}
	c.key = key
	return key, nil
}

// Invalidate forgets the cached key.
func (c *CachedAPIKey) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = ""
}

// NewAPIKeySource returns the cached source selected by the settings.
// client is only used for Secret sources.
func NewAPIKeySource(s Settings, client kubernetes.Interface) (*CachedAPIKey, error) {
	if s.APIKeyPath != "" {
		return NewCachedAPIKey(FileAPIKey{Path: s.APIKeyPath}), nil
	}

	namespace, name, err := s.APIKeySecretRef()
	if err != nil {
		return nil, err
	}
	return NewCachedAPIKey(SecretAPIKey{
		Client:    client,
		Namespace: namespace,
		Name:      name,
		Key:       s.APIKeySecretKey,
	}), nil
}
