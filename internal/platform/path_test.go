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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flakeguard/flakeguard/internal/ferr"
)

func TestValidatePathRejectsDotDot(t *testing.T) {
	err := validatePath("/repos/acme/../secret")
	assert.True(t, ferr.Is(err, ferr.PermissionDenied))
}

func TestValidatePathRejectsDoubleSlash(t *testing.T) {
	err := validatePath("/repos//widgets")
	assert.True(t, ferr.Is(err, ferr.PermissionDenied))
}

func TestValidatePathAcceptsNormalPath(t *testing.T) {
	assert.NoError(t, validatePath("/repos/acme/widgets/actions/runs/1/artifacts"))
}
