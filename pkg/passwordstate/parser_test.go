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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name     string
		json     string
		expected []Password
	}{
		{
			name:     "no passwords",
			json:     `[]`,
			expected: []Password{},
		},
		{
			name: "one password one string field",
			json: `[{"StringField": "Value"}]`,
			expected: []Password{
				{Fields: []Field{{Name: "StringField", Value: "Value"}}},
			},
		},
		{
			name: "integer value keeps its text",
			json: `[{"IntegerField": 123}]`,
			expected: []Password{
				{Fields: []Field{{Name: "IntegerField", Value: "123"}}},
			},
		},
		{
			name: "null value becomes empty string",
			json: `[{"NullField": null}]`,
			expected: []Password{
				{Fields: []Field{{Name: "NullField", Value: ""}}},
			},
		},
		{
			name: "several passwords keep field order",
			json: `[
	{"StringField1": "Value1", "StringField2": "Value2", "IntegerField": 123, "BooleanField": true},
	{"StringField1": "Value10", "IntegerField": -123, "BooleanField": false},
	{"String Field 3": "Value 3"}
]`,
			expected: []Password{
				{Fields: []Field{
					{Name: "StringField1", Value: "Value1"},
					{Name: "StringField2", Value: "Value2"},
					{Name: "IntegerField", Value: "123"},
					{Name: "BooleanField", Value: "true"},
				}},
				{Fields: []Field{
					{Name: "StringField1", Value: "Value10"},
					{Name: "IntegerField", Value: "-123"},
					{Name: "BooleanField", Value: "false"},
				}},
				{Fields: []Field{
					{Name: "String Field 3", Value: "Value 3"},
				}},
			},
		},
		{
			name: "known fields are matched case-insensitively",
			json: `[{"title": "DB", "PASSWORDID": 7, "UserName": "admin"}]`,
			expected: []Password{
				{Fields: []Field{
					{Name: TitleField, Value: "DB"},
					{Name: PasswordIDField, Value: "7"},
					{Name: "UserName", Value: "admin"},
				}},
			},
		},
		{
			name: "nested values keep compact json",
			json: `[{"Title": "DB", "Tags": [ "a", "b" ]}]`,
			expected: []Password{
				{Fields: []Field{
					{Name: TitleField, Value: "DB"},
					{Name: "Tags", Value: `["a","b"]`},
				}},
			},
		},
		{
			name: "generic fields are renamed after their display name",
			json: `[{
	"Title": "DB",
	"GenericField1": "5432",
	"GenericField2": "unnamed",
	"GenericFieldInfo": [
		{"GenericFieldID": "GenericField1", "DisplayName": "Port", "Value": "5432"},
		{"GenericFieldID": "GenericField2", "DisplayName": "", "Value": "unnamed"}
	]
}]`,
			expected: []Password{
				{Fields: []Field{
					{Name: TitleField, Value: "DB"},
					{Name: "Port", Value: "5432"},
					{Name: "GenericField2", Value: "unnamed"},
				}},
			},
		},
		{
			name: "unexpected generic field info shape is dropped",
			json: `[{"Title": "DB", "GenericFieldInfo": "garbage"}]`,
			expected: []Password{
				{Fields: []Field{{Name: TitleField, Value: "DB"}}},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Parse([]byte(tc.json))
			require.NoError(t, err)
			if diff := cmp.Diff(tc.expected, result); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{name: "unknown data", json: `[some unknown data]`},
		{name: "not an array", json: `{"Title": "DB"}`},
		{name: "array of scalars", json: `["DB"]`},
		{name: "truncated", json: `[{"Title": "DB"`},
		{name: "empty body", json: ``},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.json))
			assert.Error(t, err)
		})
	}
}

func TestPasswordGet(t *testing.T) {
	p := Password{Fields: []Field{{Name: TitleField, Value: "DB"}, {Name: "UserName", Value: "admin"}}}

	v, ok := p.Get("UserName")
	assert.True(t, ok)
	assert.Equal(t, "admin", v)

	_, ok = p.Get("Password")
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]byte(`[{"Title":"DB"}]`))
	b := Fingerprint([]byte(`[{"Title":"DB"}]`))
	c := Fingerprint([]byte(`[{"Title":"DB2"}]`))

	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	resp := &PasswordListResponse{Body: `[{"Title":"DB"}]`}
	assert.Equal(t, a, resp.Fingerprint())
}
