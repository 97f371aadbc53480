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

package passwordstate

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const (
	// TitleField names the record field whose value prefixes every key.
	TitleField = "Title"
	// PasswordIDField names the record field holding the Passwordstate id of
	// the record. It is used for diagnostics only.
	PasswordIDField = "PasswordID"
	// GenericFieldInfoField holds the display names of the generic fields of
	// a record. It is consumed by the parser and never surfaces as a field.
	GenericFieldInfoField = "GenericFieldInfo"
)

// Field is one named value of a password record.
type Field struct {
	Name  string
	Value string
}

// Password is one record of a password list, its fields in the order
// Passwordstate returned them.
type Password struct {
	Fields []Field
}

// Get returns the value of the first field called name.
func (p Password) Get(name string) (string, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// PasswordListResponse is the result of reading one password list.
type PasswordListResponse struct {
	Passwords []Password
	// Body is the raw response body.
	Body string
}

// Fingerprint returns a short digest of the raw body. Two responses with the
// same fingerprint carry the same payload.
func (r *PasswordListResponse) Fingerprint() string {
	return Fingerprint([]byte(r.Body))
}

// Fingerprint returns the hex encoded xxhash64 of body.
func Fingerprint(body []byte) string {
	return strconv.FormatUint(xxhash.Sum64(body), 16)
}
