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

// Package unixtime is a second resolution timestamp that serializes as
// RFC 3339 in manifests and as 8 big-endian bytes in caches.
package unixtime

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

const tagLayout = "20060102T150405Z"

type Seconds int64

func Now() Seconds {
	return FromTime(time.Now())
}

func FromTime(t time.Time) Seconds {
	return Seconds(t.Unix())
}

func (t Seconds) Time() time.Time {
	return time.Unix(int64(t), 0).UTC()
}

func (t Seconds) Before(other Seconds) bool {
	return t < other
}

func (t Seconds) String() string {
	return t.Time().Format(time.RFC3339)
}

// Tag is a compact form that sorts like the time and is safe in file and
// object names.
func (t Seconds) Tag() string {
	return t.Time().Format(tagLayout)
}

func ParseTag(value string) (Seconds, error) {
	parsed, err := time.Parse(tagLayout, value)
	if err != nil {
		return 0, err
	}
	return FromTime(parsed), nil
}

// ParseString accepts RFC 3339 and drops any fractional seconds.
func (t *Seconds) ParseString(value string) error {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return err
	}
	*t = FromTime(parsed)
	return nil
}

func (t Seconds) MarshalEasyJSON(w *jwriter.Writer) {
	w.String(t.String())
}

func (t *Seconds) UnmarshalEasyJSON(l *jlexer.Lexer) {
	if err := t.ParseString(l.String()); err != nil {
		l.AddNonFatalError(err)
	}
}

const secondsBinaryLength = 8

var errBinaryLength = errors.New("unixtime.Seconds: invalid length")

func (t Seconds) MarshalBinary() ([]byte, error) {
	result := make([]byte, secondsBinaryLength)
	binary.BigEndian.PutUint64(result, uint64(t))
	return result, nil
}

func (t *Seconds) UnmarshalBinary(data []byte) error {
	if len(data) != secondsBinaryLength {
		return errBinaryLength
	}
	*t = Seconds(int64(binary.BigEndian.Uint64(data)))
	return nil
}
