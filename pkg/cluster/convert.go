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
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
)

// convertEvent turns the unstructured objects of a dynamic watch into typed
// PasswordLists. Objects that cannot be converted surface as error events.
func convertEvent(in watch.Event) (watch.Event, bool) {
	if in.Type == watch.Error {
		return watch.Event{Type: watch.Error, Object: toStatus(in.Object)}, true
	}

	u, ok := in.Object.(*unstructured.Unstructured)
	if !ok {
		if pl, ok := in.Object.(*v1.PasswordList); ok {
			return watch.Event{Type: in.Type, Object: pl}, true
		}
		err := fmt.Errorf("unexpected object type %T in %s event", in.Object, in.Type)
		return watch.Event{Type: watch.Error, Object: statusFromError(err)}, true
	}

	pl, err := ToPasswordList(u)
	if err != nil {
		return watch.Event{Type: watch.Error, Object: statusFromError(err)}, true
	}
	return watch.Event{Type: in.Type, Object: pl}, true
}

// ToPasswordList converts an unstructured object into a PasswordList.
func ToPasswordList(u *unstructured.Unstructured) (*v1.PasswordList, error) {
	pl := &v1.PasswordList{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.UnstructuredContent(), pl); err != nil {
		return nil, fmt.Errorf("failed to convert %s %s/%s: %w", u.GetKind(), u.GetNamespace(), u.GetName(), err)
	}
	return pl, nil
}

func toStatus(obj runtime.Object) *metav1.Status {
	switch o := obj.(type) {
	case *metav1.Status:
		return o
	case *unstructured.Unstructured:
		status := &metav1.Status{}
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(o.UnstructuredContent(), status); err == nil {
			return status
		}
	}
	return statusFromError(fmt.Errorf("unexpected watch error object %T", obj))
}

func statusFromError(err error) *metav1.Status {
	status := apierrors.NewInternalError(err).Status()
	return &status
}
