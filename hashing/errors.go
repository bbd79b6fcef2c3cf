// Copyright 2026 RetailNext, Inc.
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

package hashing

import (
	"errors"
	"fmt"
)

type HashMismatch struct {
	Path      string
	Algorithm Algorithm
	Expected  string
	Actual    string
}

func (e *HashMismatch) Error() string {
	return fmt.Sprintf("%s digest mismatch: path=%q expected=%s actual=%s", e.Algorithm, e.Path, e.Expected, e.Actual)
}

func IsHashMismatch(err error) bool {
	var mismatch *HashMismatch
	return errors.As(err, &mismatch)
}

type IOFailure struct {
	Path string
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("unable to read %q: %v", e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error {
	return e.Err
}
