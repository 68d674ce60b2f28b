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

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerRoutesWebhookHealthAndMetrics(t *testing.T) {
	webhook := newTestHandler(&fakeResolver{}, &fakeEnqueuer{})
	health := NewHealthHandler(time.Now(), []Check{okCheck("database")})
	s := New(webhook, health, nil)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/health/ready"},
		{http.MethodGet, "/health/live"},
		{http.MethodGet, "/metrics"},
	}
	for _, c := range cases {
		req := httptest.NewRequest(c.method, c.path, nil)
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, "path %s should be routed", c.path)
	}
}

func TestServerOmitsWebhookRouteWhenHandlerIsNil(t *testing.T) {
	health := NewHealthHandler(time.Now(), nil)
	s := New(nil, health, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
