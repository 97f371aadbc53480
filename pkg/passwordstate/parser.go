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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// knownFields maps the lower-cased name of the fields the operator relies
// on to their canonical spelling.
var knownFields = map[string]string{
	strings.ToLower(TitleField):            TitleField,
	strings.ToLower(PasswordIDField):       PasswordIDField,
	strings.ToLower(GenericFieldInfoField): GenericFieldInfoField,
}

type rawField struct {
	name  string
	value json.RawMessage
}

type genericFieldInfo struct {
	GenericFieldID string `json:"GenericFieldID"`
	DisplayName    string `json:"DisplayName"`
}

// Parse decodes a Passwordstate password list response: a JSON array of
// flat objects. Field order is preserved. Null values become empty strings,
// numbers and booleans keep their literal text, nested values keep their
// compact JSON text. Generic fields are renamed after their display name
// when the record carries a GenericFieldInfo section.
func Parse(body []byte) ([]Password, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	passwords := []Password{}
	for dec.More() {
		fields, err := parseRecord(dec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(passwords), err)
		}
		password, err := buildPassword(fields)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(passwords), err)
		}
		passwords = append(passwords, password)
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return passwords, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid password list: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("invalid password list: expected %q, got %v", want, tok)
	}
	return nil
}

func parseRecord(dec *json.Decoder) ([]rawField, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var fields []rawField
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid password list: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("invalid password list: expected field name, got %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("invalid value for field %q: %w", name, err)
		}
		if canonical, ok := knownFields[strings.ToLower(name)]; ok {
			name = canonical
		}
		fields = append(fields, rawField{name: name, value: value})
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return fields, nil
}

func buildPassword(fields []rawField) (Password, error) {
	displayNames := map[string]string{}
	for _, f := range fields {
		if f.name != GenericFieldInfoField {
			continue
		}
		var infos []genericFieldInfo
		if err := json.Unmarshal(f.value, &infos); err != nil {
			// Not the shape we know, keep the record usable without it.
			continue
		}
		for _, info := range infos {
			if info.GenericFieldID != "" && strings.TrimSpace(info.DisplayName) != "" {
				displayNames[strings.ToLower(info.GenericFieldID)] = info.DisplayName
			}
		}
	}

	password := Password{Fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		if f.name == GenericFieldInfoField {
			continue
		}
		value, err := stringValue(f.value)
		if err != nil {
			return Password{}, fmt.Errorf("field %q: %w", f.name, err)
		}
		name := f.name
		if display, ok := displayNames[strings.ToLower(name)]; ok {
			name = display
		}
		password.Fields = append(password.Fields, Field{Name: name, Value: value})
	}
	return password, nil
}

func stringValue(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		// numbers, true and false
		return string(trimmed), nil
	}
}
