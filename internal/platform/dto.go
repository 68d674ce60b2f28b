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

// The types below capture the logical shapes of spec.md §6.2's consumed
// endpoints, not their wire-exact upstream representation — deliberately
// narrower than a full SDK's generated models (see DESIGN.md's "dropped
// teacher dependencies" entry for google/go-github).

// ArtifactRef is one entry of a run's artifact listing.
type ArtifactRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_in_bytes"`
	Expired   bool   `json:"expired"`
}

type artifactsResponse struct {
	Artifacts []ArtifactRef `json:"artifacts"`
}

// JobRef is one entry of a run's job listing.
type JobRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

type jobsResponse struct {
	Jobs []JobRef `json:"jobs"`
}

// WorkflowRunRef is one entry of a repository's workflow-run listing,
// consumed by internal/poll's periodic discovery sweep (spec.md §4.O).
type WorkflowRunRef struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

type workflowRunsResponse struct {
	WorkflowRuns []WorkflowRunRef `json:"workflow_runs"`
}
