// Copyright 2019 RetailNext, Inc.
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

package paranoid

import (
	"errors"
	"fmt"
)

type FingerprintMismatch struct {
	Name     string
	expected fingerprint
	actual   fingerprint
}

func (e *FingerprintMismatch) Error() string {
	return fmt.Sprintf("file modified: name=%q expected_size=%d actual_size=%d expected_mtime=%d.%09d actual_mtime=%d.%09d",
		e.Name,
		e.expected.size, e.actual.size,
		e.expected.mtimeSec, e.expected.mtimeNsec,
		e.actual.mtimeSec, e.actual.mtimeNsec)
}

func IsFingerprintMismatch(err error) bool {
	var mismatch *FingerprintMismatch
	return errors.As(err, &mismatch)
}
