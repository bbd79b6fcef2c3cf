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

package bucket

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/retailnext/sstablebackup/bucket/store"
)

// UploadText stores text gzip compressed.
func (c *client) UploadText(ctx context.Context, text string, ref RemoteRef) error {
	compressed, err := compressText(text)
	if err != nil {
		return err
	}
	body := store.Body{
		ReaderAt: bytes.NewReader(compressed),
		Size:     int64(len(compressed)),
	}
	return c.call(ctx, func() error {
		return c.store.Put(ctx, ref.Path, body)
	})
}

// DownloadFileToString reads an object written by UploadText. Objects that
// were stored uncompressed are returned as they are.
func (c *client) DownloadFileToString(ctx context.Context, ref RemoteRef) (string, error) {
	var text string
	err := c.call(ctx, func() error {
		body, err := c.store.Open(ctx, ref.Path)
		if err != nil {
			return err
		}
		defer func() {
			_ = body.Close()
		}()
		text, err = decompressText(body)
		return err
	})
	return text, err
}

func compressText(text string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, text); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var gzipMagic = []byte{0x1f, 0x8b}

func decompressText(r io.Reader) (string, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return "", err
	}
	var reader io.Reader = br
	if bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return "", err
		}
		defer func() {
			_ = zr.Close()
		}()
		reader = zr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
