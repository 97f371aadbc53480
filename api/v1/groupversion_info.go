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

// Package v1 contains API Schema definitions for the passwordstate.operator v1 API group
// +kubebuilder:object:generate=true
// +groupName=passwordstate.operator
package v1

import (
	"strings"

	"github.com/gobuffalo/flect"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

const (
	// PasswordstateDomainName is the API group of the operator, also used as
	// the prefix of the labels it sets.
	PasswordstateDomainName = "passwordstate.operator"
	// PasswordListKind is the kind of the managed custom resource.
	PasswordListKind = "PasswordList"
)

var (
	// GroupVersion is group version used to register these objects
	GroupVersion = schema.GroupVersion{Group: PasswordstateDomainName, Version: "v1"}

	// SchemeBuilder is used to add go types to the GroupVersionKind scheme
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// AddToScheme adds the types in this group-version to the given scheme.
	AddToScheme = SchemeBuilder.AddToScheme

	// PasswordListGVR is the resource the controller watches.
	PasswordListGVR = GroupVersion.WithResource(flect.Pluralize(strings.ToLower(PasswordListKind)))

	// PasswordListCRDName is the name of the CustomResourceDefinition
	// declaring PasswordList.
	PasswordListCRDName = PasswordListGVR.Resource + "." + PasswordstateDomainName
)
