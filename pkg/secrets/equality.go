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

package secrets

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	corev1 "k8s.io/api/core/v1"
)

var (
	// ErrMixedPayload is returned when a Secret carries both data and
	// stringData, which makes its effective payload ambiguous.
	ErrMixedPayload = errors.New("secret has both data and stringData")
)

// DataEquals reports whether a and b carry the same payload. Key order and
// whether the values live in Data or StringData do not matter.
func DataEquals(a, b *corev1.Secret) (bool, error) {
	ca, err := canonicalPayload(a)
	if err != nil {
		return false, err
	}
	cb, err := canonicalPayload(b)
	if err != nil {
		return false, err
	}
	return ca == cb, nil
}

// Payload returns the effective key/value content of a Secret.
func Payload(secret *corev1.Secret) (map[string]string, error) {
	if secret == nil {
		return map[string]string{}, nil
	}
	if len(secret.Data) > 0 && len(secret.StringData) > 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrMixedPayload, secret.Namespace, secret.Name)
	}

	payload := make(map[string]string, len(secret.Data)+len(secret.StringData))
	for k, v := range secret.Data {
		payload[k] = string(v)
	}
	for k, v := range secret.StringData {
		payload[k] = v
	}
	return payload, nil
}

func canonicalPayload(secret *corev1.Secret) (string, error) {
	payload, err := Payload(secret)
	if err != nil {
		return "", err
	}

	keys := maps.Keys(payload)
	slices.Sort(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+":"+payload[k])
	}
	return strings.Join(pairs, "|"), nil
}
