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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signaturePrefix is the prefix GitHub-style webhook signature headers
// carry ahead of the hex digest (spec.md §6.3).
const signaturePrefix = "sha256="

// VerifySignature verifies header (the raw "X-Signature-SHA256" value, of
// form "sha256=<hex>") against the HMAC-SHA256 of body under secret, per
// spec.md §4.E and §6.3: constant-time comparison of equal-length byte
// sequences; mismatched lengths return false without comparison, matching
// mungegithub's reliance on go-github's ValidatePayload but replacing the
// SDK call with an explicit, auditable comparison.
func VerifySignature(secret, body []byte, header string) bool {
	hexDigest, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	given, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := mac.Sum(nil)

	if len(given) != len(want) {
		return false
	}
	return hmac.Equal(given, want)
}
