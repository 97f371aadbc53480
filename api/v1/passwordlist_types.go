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

package v1

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// PasswordListSpec defines which Passwordstate password list is materialized
// into which Secret.
type PasswordListSpec struct {
	// PasswordListID is the identifier of the password list in Passwordstate.
	//
	// +kubebuilder:validation:Required
	PasswordListID string `json:"passwordListId"`
	// SecretName is the name of the Secret, in the namespace of the
	// PasswordList, that receives the flattened credentials.
	//
	// +kubebuilder:validation:Required
	SecretName string `json:"secretName"`
	// AutoRestartDeploymentName names a Deployment in the same namespace that
	// is rolling-restarted whenever the credentials change.
	//
	// +kubebuilder:validation:Optional
	AutoRestartDeploymentName string `json:"autoRestartDeploymentName,omitempty"`
	// SyncIntervalSeconds overrides the operator wide interval between two
	// synchronizations with Passwordstate. Zero means the default.
	//
	// +kubebuilder:validation:Optional
	// +kubebuilder:validation:Minimum=0
	SyncIntervalSeconds int32 `json:"syncIntervalSeconds,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:printcolumn:name="LISTID",type=string,priority=0,JSONPath=`.spec.passwordListId`
// +kubebuilder:printcolumn:name="SECRET",type=string,priority=0,JSONPath=`.spec.secretName`
// +kubebuilder:printcolumn:name="AGE",type="date",priority=0,JSONPath=".metadata.creationTimestamp"

// PasswordList is the Schema for the passwordlists API
type PasswordList struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec PasswordListSpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// PasswordListList contains a list of PasswordList
type PasswordListList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []PasswordList `json:"items"`
}

func init() {
	SchemeBuilder.Register(&PasswordList{}, &PasswordListList{})
}

// ID returns the stable identity of the resource, "namespace/name".
func (p *PasswordList) ID() string {
	return types.NamespacedName{Namespace: p.Namespace, Name: p.Name}.String()
}

// SpecEquals reports whether two specs describe the same Secret. The sync
// interval is not part of the comparison, changing it never recreates the
// Secret.
func (s PasswordListSpec) SpecEquals(other PasswordListSpec) bool {
	return s.PasswordListID == other.PasswordListID &&
		s.SecretName == other.SecretName &&
		s.AutoRestartDeploymentName == other.AutoRestartDeploymentName
}

// SyncInterval returns the interval requested by the resource, or fallback
// when the resource does not override it.
func (s PasswordListSpec) SyncInterval(fallback time.Duration) time.Duration {
	if s.SyncIntervalSeconds > 0 {
		return time.Duration(s.SyncIntervalSeconds) * time.Second
	}
	return fallback
}
