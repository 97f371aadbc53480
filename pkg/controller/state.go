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

package controller

import "fmt"

// WatchState is the state of the PasswordList watch.
type WatchState int32

const (
	StateDisconnected WatchState = iota
	StateWatching
	StateError
	StateClosed
)

func (s WatchState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateWatching:
		return "Watching"
	case StateError:
		return "Error"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("WatchState(%d)", int32(s))
	}
}
