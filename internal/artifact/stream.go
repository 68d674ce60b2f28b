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

package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/retry"
)

// ChunkFunc receives one chunk of a streamed artifact download.
type ChunkFunc func(chunk []byte) error

// DownloadStream fetches an artifact in cfg.StreamChunkSize-sized chunks,
// invoking onChunk for each, honoring a running byte cap (failing as
// ArtifactTooLarge when exceeded), and resuming via a range request from
// the last confirmed offset after a retriable network error, per
// spec.md §4.F.
func (h *Handler) DownloadStream(ctx context.Context, owner, repo, artifactID string, onChunk ChunkFunc) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)

	key := cacheKey(owner, repo, artifactID)
	var totalRead int64

	return retry.Do(ctx, h.retryCfg(), func(attempt int) error {
		url, err := h.resolveURL(ctx, owner, repo, artifactID)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if totalRead > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", totalRead))
		}
		resp, err := h.http.Do(req)
		if err != nil {
			if retry.IsRetryableNetErr(err) {
				return ferr.Wrap(ferr.RequestTimeout, err, "artifact stream request failed")
			}
			return err
		}
		defer resp.Body.Close()

		if isExpirySignal(resp.StatusCode) {
			h.cache.invalidate(key)
			return ferr.New(ferr.ArtifactExpired, "artifact download URL expired mid-stream")
		}
		if retry.IsRetryableStatus(resp.StatusCode) {
			return ferr.New(ferr.RequestTimeout, fmt.Sprintf("artifact host responded %d", resp.StatusCode))
		}
		// A resume attempt that gets 200 instead of 206 means the host
		// doesn't honor Range; restart counting from zero for this body.
		if totalRead > 0 && resp.StatusCode == http.StatusOK {
			totalRead = 0
		}
		if resp.StatusCode >= 300 {
			return ferr.New(ferr.InvalidZip, fmt.Sprintf("artifact host responded %d", resp.StatusCode))
		}

		buf := make([]byte, h.cfg.StreamChunkSize)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				totalRead += int64(n)
				if totalRead > h.cfg.MaxSizeBytes {
					return ferr.New(ferr.ArtifactTooLarge, fmt.Sprintf("artifact stream exceeded max %d bytes", h.cfg.MaxSizeBytes))
				}
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if err := onChunk(chunk); err != nil {
					return err
				}
			}
			if readErr == io.EOF {
				return nil
			}
			if readErr != nil {
				// An unexpected EOF mid-body is the streaming analogue of a
				// network reset: the connection dropped before the
				// advertised length was delivered. Treat it as retryable so
				// the outer loop re-resolves (if needed) and resumes via
				// Range.
				if readErr == io.ErrUnexpectedEOF || retry.IsRetryableNetErr(readErr) {
					return ferr.Wrap(ferr.RequestTimeout, readErr, "artifact stream read failed")
				}
				return readErr
			}
		}
	})
}
