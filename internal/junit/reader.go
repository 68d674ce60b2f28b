/*
Copyright 2026 The FlakeGuard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package junit

import (
	"bytes"
	"fmt"
	"io"

	"github.com/flakeguard/flakeguard/internal/ferr"
)

// countingReader wraps r, tracking bytes read and rejecting the document
// once it exceeds max (spec.md §4.G's MaxFileSizeBytes hard limit).
type countingReader struct {
	r     io.Reader
	max   int64
	total int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.total += int64(n)
	if c.total > c.max {
		return n, ferr.New(ferr.ParseFailed, fmt.Sprintf("document exceeds max size of %d bytes", c.max))
	}
	return n, err
}

// peekPrefix reads up to maxBytes from r, stopping early once the buffer
// contains a closing </testsuite> tag, for the content-sniffing window of
// spec.md §4.G. It returns whatever was read even on a read error so the
// caller can still attempt detection on a short document.
func peekPrefix(r io.Reader, maxBytes int) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 512)
	for buf.Len() < maxBytes {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if bytes.Contains(buf.Bytes(), []byte("</testsuite>")) {
				return buf.Bytes(), nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return buf.Bytes(), nil
			}
			return buf.Bytes(), err
		}
	}
	return buf.Bytes(), nil
}
