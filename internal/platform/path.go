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

package platform

import (
	"strings"

	"github.com/flakeguard/flakeguard/internal/ferr"
)

// validatePath rejects any request path containing ".." or "//", per
// spec.md §4.E's path-traversal invariant. It runs before the request is
// dispatched, ahead of the queue/breaker/limiter/retry pipeline.
func validatePath(path string) error {
	if strings.Contains(path, "..") || strings.Contains(path, "//") {
		return ferr.New(ferr.PermissionDenied, "path rejected: contains \"..\" or \"//\"")
	}
	return nil
}
