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

package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
)

func TestIsOperatorOwned(t *testing.T) {
	cases := []struct {
		name     string
		labels   map[string]string
		expected bool
	}{
		{
			name:     "owned by the operator",
			labels:   map[string]string{OwnedLabel: "true"},
			expected: true,
		},
		{
			name:     "explicitly unowned",
			labels:   map[string]string{OwnedLabel: "false"},
			expected: false,
		},
		{
			name:     "no ownership label",
			labels:   map[string]string{},
			expected: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := &metav1.ObjectMeta{Labels: tc.labels}
			assert.Equal(t, tc.expected, IsOperatorOwned(meta))
		})
	}
}

func TestGenericLabeler(t *testing.T) {
	t.Run("ApplyLabels", func(t *testing.T) {
		cases := []struct {
			name     string
			labeler  GenericLabeler
			expected map[string]string
		}{
			{
				name:     "Apply labels to empty object",
				labeler:  GenericLabeler{"key1": "value1", "key2": "value2"},
				expected: map[string]string{"key1": "value1", "key2": "value2"},
			},
			{
				name:     "Apply labels to object with existing labels",
				labeler:  GenericLabeler{"key2": "newvalue2", "key3": "value3"},
				expected: map[string]string{"key1": "value1", "key2": "newvalue2", "key3": "value3"},
			},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				obj := &metav1.ObjectMeta{Labels: map[string]string{"key1": "value1"}}
				if tc.name == "Apply labels to empty object" {
					obj.Labels = nil
				}
				tc.labeler.ApplyLabels(obj)
				expected := tc.expected
				if obj.Labels["key1"] == "" {
					expected = tc.labeler.Copy()
				}
				assert.Equal(t, expected, obj.Labels)
			})
		}
	})

	t.Run("Merge", func(t *testing.T) {
		cases := []struct {
			name           string
			labeler1       GenericLabeler
			labeler2       GenericLabeler
			expectedMerged GenericLabeler
			expectError    bool
		}{
			{
				name:           "Merge non-overlapping labelers",
				labeler1:       GenericLabeler{"key1": "value1", "key2": "value2"},
				labeler2:       GenericLabeler{"key3": "value3", "key4": "value4"},
				expectedMerged: GenericLabeler{"key1": "value1", "key2": "value2", "key3": "value3", "key4": "value4"},
			},
			{
				name:        "Merge with duplicate keys",
				labeler1:    GenericLabeler{"key1": "value1", "key2": "value2"},
				labeler2:    GenericLabeler{"key2": "value3", "key3": "value4"},
				expectError: true,
			},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				merged, err := tc.labeler1.Merge(tc.labeler2)
				if tc.expectError {
					assert.ErrorIs(t, err, ErrDuplicatedLabels)
					assert.Contains(t, err.Error(), "duplicate labels")
				} else {
					assert.NoError(t, err)
					assert.Equal(t, tc.expectedMerged, merged)
				}
			})
		}
	})
}

func TestPasswordListAndOperatorLabelers(t *testing.T) {
	pl := &v1.PasswordList{
		ObjectMeta: metav1.ObjectMeta{Namespace: "apps", Name: "db"},
		Spec:       v1.PasswordListSpec{PasswordListID: "123", SecretName: "creds"},
	}

	labeler, err := NewPasswordListLabeler(pl).Merge(NewOperatorMetaLabeler("v0.1.0"))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		PasswordListLabel:          "db",
		PasswordListNamespaceLabel: "apps",
		PasswordListIDLabel:        "123",
		OwnedLabel:                 "true",
		OperatorVersionLabel:       "v0.1.0",
	}, labeler.Labels())

	assert.NotContains(t, NewOperatorMetaLabeler("").Labels(), OperatorVersionLabel)
}
