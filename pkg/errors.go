// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pkg holds the error primitives shared by all hubstep packages.
package pkg

import "errors"

// FlagErr is the format used to report an invalid configuration flag. It takes
// the flag name and the underlying error.
const FlagErr = "invalid value for flag --%s: %w"

// ErrRequired is returned when a mandatory value was not provided.
const ErrRequired Error = "required value not provided"

// Error allows for constant sentinel errors.
type Error string

// Error implements error.
func (e Error) Error() string {
	return string(e)
}

// multiError is satisfied by both the tetratelabs and hashicorp multierror
// implementations.
type multiError interface {
	WrappedErrors() []error
}

// HasError reports whether target can be found in the error chain of err. On
// top of errors.Is it descends into every error held by a multierror found
// along the chain.
func HasError(err, target error) bool {
	if err == nil || target == nil {
		return err == target
	}
	if errors.Is(err, target) {
		return true
	}
	var m multiError
	if errors.As(err, &m) {
		for _, e := range m.WrappedErrors() {
			if HasError(e, target) {
				return true
			}
		}
	}
	return false
}
