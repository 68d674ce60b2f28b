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

// Package artifact implements the signed-URL caching, downloading, and
// validation of spec.md §4.F, generalizing
// ghproxy/ghcache.throttlingTransport's semaphore-bounded outbound
// concurrency to a dedicated artifact downloader.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/retry"
)

// zipMagic is the leading two bytes every ZIP-format artifact must carry
// (spec.md §4.F).
var zipMagic = []byte{0x50, 0x4B}

const (
	defaultRetryBase     = 100 * time.Millisecond
	defaultRetryMaxDelay = 5 * time.Second
)

// Resolver resolves an artifact identity to a short-lived signed download
// URL. internal/platform.Client satisfies this.
type Resolver interface {
	ResolveArtifactURL(ctx context.Context, owner, repo, artifactID string) (string, error)
}

// Handler downloads and validates workflow-run artifacts.
type Handler struct {
	cfg      config.Artifacts
	resolver Resolver
	http     *http.Client
	cache    *urlCache
	sem      *semaphore.Weighted
	log      *logrus.Entry
}

// New builds a Handler. httpClient may be nil to use http.DefaultClient.
func New(cfg config.Artifacts, resolver Resolver, httpClient *http.Client, log *logrus.Entry) *Handler {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		cfg:      cfg,
		resolver: resolver,
		http:     httpClient,
		cache:    newURLCache(256, cfg.URLCacheTTL),
		sem:      semaphore.NewWeighted(int64(cfg.MaxArtifactConcurrency)),
		log:      log,
	}
}

func cacheKey(owner, repo, artifactID string) string {
	return owner + "/" + repo + "/" + artifactID
}

// resolveURL returns a signed download URL, preferring the TTL-bounded
// cache over re-resolving through the platform client.
func (h *Handler) resolveURL(ctx context.Context, owner, repo, artifactID string) (string, error) {
	key := cacheKey(owner, repo, artifactID)
	if url, ok := h.cache.get(key); ok {
		return url, nil
	}
	url, err := h.resolver.ResolveArtifactURL(ctx, owner, repo, artifactID)
	if err != nil {
		return "", err
	}
	h.cache.set(key, url)
	return url, nil
}

func (h *Handler) retryCfg() config.Retry {
	return config.Retry{Attempts: h.cfg.MaxRetries + 1, Base: defaultRetryBase, Multiplier: 2, MaxDelay: defaultRetryMaxDelay, Jitter: 0.1}
}

// validate checks a fully-buffered artifact body against spec.md §4.F:
// non-empty, within maxSizeBytes, and leading with the ZIP magic.
func validate(data []byte, maxSizeBytes int64) error {
	if len(data) == 0 {
		return ferr.New(ferr.InvalidZip, "artifact is empty")
	}
	if int64(len(data)) > maxSizeBytes {
		return ferr.New(ferr.ArtifactTooLarge, fmt.Sprintf("artifact is %d bytes, exceeds max %d", len(data), maxSizeBytes))
	}
	if !bytes.HasPrefix(data, zipMagic) {
		return ferr.New(ferr.InvalidZip, "artifact does not begin with the ZIP magic bytes")
	}
	return nil
}

// Download fetches an artifact fully into memory and validates it,
// refreshing the signed URL and retrying per spec.md §4.F's policy on
// retriable network/5xx/429 errors and URL-expiry signals.
func (h *Handler) Download(ctx context.Context, owner, repo, artifactID string) ([]byte, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	key := cacheKey(owner, repo, artifactID)
	var body []byte
	err := retry.Do(ctx, h.retryCfg(), func(attempt int) error {
		url, err := h.resolveURL(ctx, owner, repo, artifactID)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := h.http.Do(req)
		if err != nil {
			if retry.IsRetryableNetErr(err) {
				return ferr.Wrap(ferr.RequestTimeout, err, "artifact download request failed")
			}
			return err
		}
		defer resp.Body.Close()

		if isExpirySignal(resp.StatusCode) {
			h.cache.invalidate(key)
			return ferr.New(ferr.ArtifactExpired, "artifact download URL expired")
		}
		if retry.IsRetryableStatus(resp.StatusCode) {
			return ferr.New(ferr.RequestTimeout, fmt.Sprintf("artifact host responded %d", resp.StatusCode))
		}
		if resp.StatusCode >= 300 {
			return ferr.New(ferr.InvalidZip, fmt.Sprintf("artifact host responded %d", resp.StatusCode))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxSizeBytes+1))
		if err != nil {
			if retry.IsRetryableNetErr(err) {
				return ferr.Wrap(ferr.RequestTimeout, err, "artifact body read failed")
			}
			return err
		}
		if verr := validate(data, h.cfg.MaxSizeBytes); verr != nil {
			return verr
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// isExpirySignal reports whether status indicates the signed URL has
// expired and must be re-resolved before the next attempt.
func isExpirySignal(status int) bool {
	return status == http.StatusForbidden || status == http.StatusNotFound || status == http.StatusGone
}
