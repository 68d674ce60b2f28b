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

// Package platform is the resilient hosting-platform client of spec.md
// §4.E, composing §4.A-§4.D (rate limiter, circuit breaker, retry, priority
// queue) around the standard pipeline:
//
//	Validate -> Prioritize -> Enqueue -> (CircuitBreaker -> RateLimit -> Retry -> HttpCall) -> Audit
//
// grounded on ghclient.Client's retry/limitRate composition, generalized
// from go-github's typed services to the logical request/response shapes
// of spec.md §6.2.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/flakeguard/flakeguard/internal/audit"
	"github.com/flakeguard/flakeguard/internal/circuitbreaker"
	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/queue"
	"github.com/flakeguard/flakeguard/internal/ratelimit"
	"github.com/flakeguard/flakeguard/internal/retry"
)

// coreResource is the rate-limit/circuit-breaker label used for every
// endpoint in spec.md §6.2. A real deployment tracking search/graphql
// buckets separately would key these by endpoint category instead.
const coreResource = "core"

// Client is a resilient client for the hosting platform's REST surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// redirectClient stops at the first redirect so ResolveArtifactURL can
	// read the Location header instead of following it to the ZIP body.
	redirectClient *http.Client

	cfg     config.HTTP
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.Breaker
	q       *queue.Queue

	log   *logrus.Entry
	audit *audit.Logger

	now func() time.Time
}

// New builds a Client authenticated with token against baseURL (e.g.
// "https://api.github.com").
func New(cfg config.Config, baseURL, token string, q *queue.Queue, log *logrus.Entry, auditLog *audit.Logger) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	transport := &oauth2.Transport{
		Base:   http.DefaultTransport,
		Source: oauth2.ReuseTokenSource(nil, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})),
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.HTTP.RequestTimeout},
		redirectClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.HTTP.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:     cfg.HTTP,
		limiter: ratelimit.New(cfg.RateLimiter, log),
		breaker: circuitbreaker.New(cfg.CircuitBreaker, log),
		q:       q,
		log:     log,
		audit:   auditLog,
		now:     time.Now,
	}
}

type rawResponse struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// CircuitState exposes the client's core-resource breaker state, read by
// the health handler's "platform" and "queueBroker" checks (spec.md §6.4)
// without giving callers access to the breaker itself.
func (c *Client) CircuitState() circuitbreaker.State {
	return c.breaker.State(coreResource)
}

// ListArtifacts implements the endpoint of spec.md §6.2:
// GET /repos/{owner}/{repo}/actions/runs/{runId}/artifacts.
func (c *Client) ListArtifacts(ctx context.Context, owner, repo, runID string) ([]ArtifactRef, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%s/artifacts", owner, repo, runID)
	resp, err := c.doJSON(ctx, http.MethodGet, path, queue.Normal, nil)
	if err != nil {
		return nil, err
	}
	var out artifactsResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, ferr.Wrap(ferr.ParseFailed, err, "decoding artifacts response")
	}
	return out.Artifacts, nil
}

// ResolveArtifactURL implements the endpoint of spec.md §6.2:
// GET /repos/{owner}/{repo}/actions/artifacts/{artifactId}/zip, returning
// the signed download URL from the redirect's Location header without
// following it.
func (c *Client) ResolveArtifactURL(ctx context.Context, owner, repo, artifactID string) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/artifacts/%s/zip", owner, repo, artifactID)
	if err := validatePath(path); err != nil {
		return "", err
	}
	corrID := uuid.NewString()
	start := c.now()

	loc, err := queue.Submit(ctx, c.q, queue.High, c.cfg.RequestTimeout, func(ctx context.Context) (string, error) {
		var location string
		opErr := c.breaker.Execute(coreResource, func() error {
			return retry.Do(ctx, c.cfg.Retry, func(attempt int) error {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
				if err != nil {
					return err
				}
				if err := c.limiter.Check(ctx, coreResource); err != nil {
					return err
				}
				resp, err := c.redirectClient.Do(req)
				if err != nil {
					if retry.IsRetryableNetErr(err) {
						return ferr.Wrap(ferr.RequestTimeout, err, "artifact URL resolution request failed")
					}
					return err
				}
				defer resp.Body.Close()
				c.updateBucket(resp.Header)
				if handled, retryable := c.handleLimitStatus(ctx, resp); handled {
					return retryable
				}
				if resp.StatusCode >= 300 && resp.StatusCode < 400 {
					location = resp.Header.Get("Location")
					if location == "" {
						return ferr.New(ferr.ParseFailed, "artifact redirect missing Location header")
					}
					c.limiter.SecondaryReset(coreResource)
					return nil
				}
				return c.statusError(resp)
			})
		})
		return location, opErr
	})

	c.recordAudit(corrID, http.MethodGet, path, start, err)
	return loc, err
}

// ListJobs implements the endpoint of spec.md §6.2:
// GET /repos/{owner}/{repo}/actions/runs/{runId}/jobs.
func (c *Client) ListJobs(ctx context.Context, owner, repo, runID string) ([]JobRef, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%s/jobs", owner, repo, runID)
	resp, err := c.doJSON(ctx, http.MethodGet, path, queue.Normal, nil)
	if err != nil {
		return nil, err
	}
	var out jobsResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, ferr.Wrap(ferr.ParseFailed, err, "decoding jobs response")
	}
	return out.Jobs, nil
}

// ListWorkflowRuns lists a repository's recent workflow runs, supporting
// internal/poll's periodic discovery sweep (spec.md §4.O). This endpoint
// is not itself named in spec.md §6.2's consumed-endpoint list, since §4.O
// is a SPEC_FULL expansion that needs a way to discover runs rather than
// being handed one by a webhook; it follows the same logical-shape,
// GET-list-by-repo pattern as ListArtifacts/ListJobs.
func (c *Client) ListWorkflowRuns(ctx context.Context, owner, repo string) ([]WorkflowRunRef, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/runs", owner, repo)
	resp, err := c.doJSON(ctx, http.MethodGet, path, queue.Low, nil)
	if err != nil {
		return nil, err
	}
	var out workflowRunsResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, ferr.Wrap(ferr.ParseFailed, err, "decoding workflow runs response")
	}
	return out.WorkflowRuns, nil
}

// RerunFailedJobs implements the endpoint of spec.md §6.2:
// POST /repos/{owner}/{repo}/actions/runs/{runId}/rerun-failed-jobs. It is
// idempotent by run id: repeated calls for the same run are safe to retry.
func (c *Client) RerunFailedJobs(ctx context.Context, owner, repo, runID string) error {
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%s/rerun-failed-jobs", owner, repo, runID)
	_, err := c.doJSON(ctx, http.MethodPost, path, queue.High, nil)
	return err
}

// doJSON runs the full Validate -> Prioritize -> Enqueue -> (CircuitBreaker
// -> RateLimit -> Retry -> HttpCall) -> Audit pipeline and returns the raw
// response body for JSON endpoints.
func (c *Client) doJSON(ctx context.Context, method, path string, priority queue.Priority, body io.Reader) (rawResponse, error) {
	if err := validatePath(path); err != nil {
		return rawResponse{}, err
	}
	corrID := uuid.NewString()
	start := c.now()

	var buf []byte
	if body != nil {
		var err error
		buf, err = io.ReadAll(body)
		if err != nil {
			return rawResponse{}, err
		}
	}

	resp, err := queue.Submit(ctx, c.q, priority, c.cfg.RequestTimeout, func(ctx context.Context) (rawResponse, error) {
		var out rawResponse
		opErr := c.breaker.Execute(coreResource, func() error {
			return retry.Do(ctx, c.cfg.Retry, func(attempt int) error {
				var reqBody io.Reader
				if buf != nil {
					reqBody = bytes.NewReader(buf)
				}
				req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
				if err != nil {
					return err
				}
				req.Header.Set("X-Correlation-Id", corrID)
				if err := c.limiter.Check(ctx, coreResource); err != nil {
					return err
				}
				resp, err := c.httpClient.Do(req)
				if err != nil {
					if retry.IsRetryableNetErr(err) {
						return ferr.Wrap(ferr.RequestTimeout, err, "platform request failed")
					}
					return err
				}
				defer resp.Body.Close()
				c.updateBucket(resp.Header)
				if handled, retryable := c.handleLimitStatus(ctx, resp); handled {
					return retryable
				}
				if resp.StatusCode >= 400 {
					return c.statusError(resp)
				}
				data, err := io.ReadAll(resp.Body)
				if err != nil {
					return err
				}
				c.limiter.SecondaryReset(coreResource)
				out = rawResponse{StatusCode: resp.StatusCode, Body: data, Header: resp.Header}
				return nil
			})
		})
		return out, opErr
	})

	c.recordAudit(corrID, method, path, start, err)
	return resp, err
}

// handleLimitStatus inspects a response for the secondary (abuse) rate
// limit's 403/429 signal, feeding retry-after into the limiter and
// returning a retryable error when it applies.
func (c *Client) handleLimitStatus(ctx context.Context, resp *http.Response) (handled bool, retryable error) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return false, nil
	}
	var retryAfter time.Duration
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	if err := c.limiter.SecondaryHit(ctx, coreResource, retryAfter); err != nil {
		return true, err
	}
	return true, ferr.New(ferr.RateLimited, "secondary rate limit hit, retrying after backoff")
}

// updateBucket records the primary rate-limit bucket from response headers,
// per spec.md §4.E's "all responses update the rate-limit bucket, even on
// error" invariant.
func (c *Client) updateBucket(h http.Header) {
	limit, lerr := strconv.Atoi(h.Get("x-ratelimit-limit"))
	remaining, rerr := strconv.Atoi(h.Get("x-ratelimit-remaining"))
	resetUnix, eerr := strconv.ParseInt(h.Get("x-ratelimit-reset"), 10, 64)
	if lerr != nil || rerr != nil || eerr != nil {
		return
	}
	c.limiter.Update(coreResource, ratelimit.Bucket{
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Unix(resetUnix, 0),
	})
}

// statusError classifies a non-2xx response into the appropriate *ferr.Error
// kind, using the retryable-status set of spec.md §4.C.
func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("platform responded %d: %s", resp.StatusCode, SanitizeText(string(data)))
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ferr.New(ferr.AuthenticationFailed, msg)
	case resp.StatusCode == http.StatusForbidden:
		return ferr.New(ferr.PermissionDenied, msg)
	case retry.IsRetryableStatus(resp.StatusCode):
		return ferr.New(ferr.RequestTimeout, msg)
	default:
		return ferr.New(ferr.ValidationFailed, msg)
	}
}

func (c *Client) recordAudit(corrID, method, path string, start time.Time, err error) {
	if c.audit == nil {
		return
	}
	outcome := "ok"
	security := false
	if err != nil {
		switch {
		case ferr.Is(err, ferr.AuthenticationFailed), ferr.Is(err, ferr.PermissionDenied), ferr.Is(err, ferr.ValidationFailed):
			security = true
			outcome = "rejected"
		case ferr.Is(err, ferr.CircuitOpen):
			outcome = "circuit_open"
		case ferr.Is(err, ferr.RateLimited):
			outcome = "rate_limited"
		default:
			outcome = "error"
		}
	}
	c.audit.Record(audit.Entry{
		CorrelationID: corrID,
		Method:        method,
		Path:          path,
		Outcome:       outcome,
		Security:      security,
		Duration:      c.now().Sub(start),
		Err:           err,
	})
}
