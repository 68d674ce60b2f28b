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

package scoring

import "github.com/flakeguard/flakeguard/internal/config"

// Policy is the scorer's tunable thresholds and windowing bounds
// (spec.md §4.J). It is config.Scorer by another name: the scorer package
// consumes the same record the configuration layer produces, rather than
// duplicating its fields.
type Policy = config.Scorer
