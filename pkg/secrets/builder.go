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
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/metadata"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/passwordstate"
)

var invalidKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Builder flattens password records into the Secret that materializes a
// PasswordList.
type Builder struct {
	log             logr.Logger
	operatorVersion string
}

// NewBuilder returns a Builder. operatorVersion, when set, is stamped on
// every built Secret.
func NewBuilder(log logr.Logger, operatorVersion string) *Builder {
	return &Builder{
		log:             log.WithName("secrets-builder"),
		operatorVersion: operatorVersion,
	}
}

// BuildPasswordsSecret builds the Secret for pl out of passwords. Every
// field of a record becomes the key "<title>.<field>", both parts cleaned
// by CleanKey. Records without a usable title are skipped, as are fields
// with an unusable name or an empty value.
func (b *Builder) BuildPasswordsSecret(pl *v1.PasswordList, passwords []passwordstate.Password) *corev1.Secret {
	log := b.log.WithValues("passwordlist", pl.ID(), "passwordListId", pl.Spec.PasswordListID)

	flattened := make(map[string]string)
	for _, password := range passwords {
		passwordID, _ := password.Get(passwordstate.PasswordIDField)

		title, ok := password.Get(passwordstate.TitleField)
		if !ok {
			log.Info("no title found, skipping password", "passwordId", passwordID)
			continue
		}
		cleanedTitle := CleanKey(title)
		if cleanedTitle == "" {
			log.Info("invalid title value, skipping password", "title", title, "passwordId", passwordID)
			continue
		}

		for _, field := range password.Fields {
			if field.Name == passwordstate.TitleField || field.Name == passwordstate.PasswordIDField {
				continue
			}

			cleanedName := CleanKey(field.Name)
			if cleanedName == "" {
				log.Info("invalid field name, skipping field", "field", field.Name, "passwordId", passwordID)
				continue
			}
			if field.Value == "" {
				continue
			}

			flattened[cleanedTitle+"."+cleanedName] = field.Value
		}
	}

	secret := &corev1.Secret{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Secret",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      pl.Spec.SecretName,
			Namespace: pl.Namespace,
		},
		Type:       corev1.SecretTypeOpaque,
		StringData: flattened,
	}

	// Label keys never collide, the merge cannot fail.
	labeler, _ := metadata.NewPasswordListLabeler(pl).Merge(metadata.NewOperatorMetaLabeler(b.operatorVersion))
	labeler.ApplyLabels(secret)

	return secret
}

// CleanKey strips every character that is not allowed in a Secret key and
// lower-cases the rest.
func CleanKey(s string) string {
	return strings.ToLower(invalidKeyChars.ReplaceAllString(s, ""))
}
