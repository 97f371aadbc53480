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
	"errors"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
)

const (
	// LabelPasswordstatePrefix is the prefix of every label set by the operator.
	LabelPasswordstatePrefix = v1.PasswordstateDomainName + "/"
)

const (
	OwnedLabel           = LabelPasswordstatePrefix + "owned"
	OperatorVersionLabel = LabelPasswordstatePrefix + "operator-version"

	PasswordListLabel          = LabelPasswordstatePrefix + "passwordlist-name"
	PasswordListNamespaceLabel = LabelPasswordstatePrefix + "passwordlist-namespace"
	PasswordListIDLabel        = LabelPasswordstatePrefix + "passwordlist-id"
)

// IsOperatorOwned returns true if the object was created by the operator.
func IsOperatorOwned(meta metav1.Object) bool {
	v, ok := meta.GetLabels()[OwnedLabel]
	return ok && booleanFromString(v)
}

var (
	ErrDuplicatedLabels = errors.New("duplicate labels")
)

var _ Labeler = GenericLabeler{}

// Labeler is an interface that defines a set of labels that can be
// applied to a resource.
type Labeler interface {
	Labels() map[string]string
	ApplyLabels(metav1.Object)
	Merge(Labeler) (Labeler, error)
}

// GenericLabeler is a map of labels that can be applied to a resource.
// It implements the Labeler interface.
type GenericLabeler map[string]string

// Labels returns the labels.
func (gl GenericLabeler) Labels() map[string]string {
	return gl
}

// ApplyLabels applies the labels to the resource.
func (gl GenericLabeler) ApplyLabels(meta metav1.Object) {
	for k, v := range gl {
		setLabel(meta, k, v)
	}
}

// Merge merges the labels from the other labeler into the current
// labeler. If there are any duplicate keys, an error is returned.
func (gl GenericLabeler) Merge(other Labeler) (Labeler, error) {
	newLabels := gl.Copy()
	for k, v := range other.Labels() {
		if _, ok := newLabels[k]; ok {
			return nil, fmt.Errorf("%w: found key '%s' in both maps", ErrDuplicatedLabels, k)
		}
		newLabels[k] = v
	}
	return GenericLabeler(newLabels), nil
}

// Copy returns a copy of the labels.
func (gl GenericLabeler) Copy() map[string]string {
	newGenericLabeler := map[string]string{}
	for k, v := range gl {
		newGenericLabeler[k] = v
	}
	return newGenericLabeler
}

// NewPasswordListLabeler returns a labeler pointing a Secret back at the
// PasswordList it was materialized from.
func NewPasswordListLabeler(pl *v1.PasswordList) GenericLabeler {
	return map[string]string{
		PasswordListLabel:          pl.Name,
		PasswordListNamespaceLabel: pl.Namespace,
		PasswordListIDLabel:        pl.Spec.PasswordListID,
	}
}

// NewOperatorMetaLabeler returns a labeler that sets the OwnedLabel and the
// OperatorVersionLabel.
func NewOperatorMetaLabeler(operatorVersion string) GenericLabeler {
	labels := map[string]string{
		OwnedLabel: stringFromBoolean(true),
	}
	if operatorVersion != "" {
		labels[OperatorVersionLabel] = operatorVersion
	}
	return labels
}

func booleanFromString(s string) bool {
	// those labels are only written by the operator itself, no parsing.
	return s == "true"
}

func stringFromBoolean(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func setLabel(meta metav1.Object, key, value string) {
	labels := meta.GetLabels()
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[key] = value
	meta.SetLabels(labels)
}
