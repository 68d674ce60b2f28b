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

// Package config centralizes FlakeGuard's tunables as typed structs with
// explicit defaults, replacing the duck-typed configuration objects of the
// source system (spec.md §6.5, §9).
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimiter holds the primary-bucket throttling policy (spec.md §4.A).
type RateLimiter struct {
	ThrottleThresholdPct int           `yaml:"throttleThresholdPct"`
	ReservePct           int           `yaml:"reservePct"`
	MinReserve           int           `yaml:"minReserve"`
	MaxThrottleDelay     time.Duration `yaml:"maxThrottleDelay"`

	// Secondary (abuse) limit policy.
	BaseDelay   time.Duration `yaml:"baseDelay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	JitterFctr  float64       `yaml:"jitterFactor"`
	MaxRetries  int           `yaml:"maxRetries"`
}

func DefaultRateLimiter() RateLimiter {
	return RateLimiter{
		ThrottleThresholdPct: 20,
		ReservePct:           2,
		MinReserve:           50,
		MaxThrottleDelay:     60 * time.Second,
		BaseDelay:            time.Second,
		Multiplier:           2,
		MaxDelay:             60 * time.Second,
		JitterFctr:           0.1,
		MaxRetries:           3,
	}
}

// CircuitBreaker holds the breaker policy (spec.md §4.B).
type CircuitBreaker struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	RollingWindow    time.Duration `yaml:"rollingWindow"`
	OpenDuration     time.Duration `yaml:"openDuration"`
	HalfOpenProbes   int           `yaml:"halfOpenProbes"`
}

func DefaultCircuitBreaker() CircuitBreaker {
	return CircuitBreaker{
		FailureThreshold: 5,
		RollingWindow:    60 * time.Second,
		OpenDuration:     30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Retry holds the backoff policy (spec.md §4.C).
type Retry struct {
	Attempts   int           `yaml:"attempts"`
	Base       time.Duration `yaml:"base"`
	Multiplier float64       `yaml:"multiplier"`
	MaxDelay   time.Duration `yaml:"maxDelay"`
	Jitter     float64       `yaml:"jitter"`
}

func DefaultRetry() Retry {
	return Retry{
		Attempts:   3,
		Base:       10 * time.Second,
		Multiplier: 2,
		MaxDelay:   5 * time.Minute,
		Jitter:     0.1,
	}
}

// Queue holds the priority request queue's bounds (spec.md §4.D) and the
// job queue manager's per-queue concurrency/retention (spec.md §4.I, §6.5).
type Queue struct {
	MaxSize         int           `yaml:"maxSize"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	Concurrency int `yaml:"concurrency"`

	RateLimiterMax      int           `yaml:"rateLimiterMax"`
	RateLimiterDuration time.Duration `yaml:"rateLimiterDuration"`

	RetentionMaxAge       time.Duration `yaml:"retentionMaxAge"`
	RetentionMaxCompleted int           `yaml:"retentionMaxCompleted"`
	RetentionMaxFailed    int           `yaml:"retentionMaxFailed"`

	// StallTimeout bounds how long a job may sit in the processing state
	// before the job queue manager's GC pass treats its worker as dead and
	// requeues it (spec.md §4.I).
	StallTimeout time.Duration `yaml:"stallTimeout"`
	GCPeriod     time.Duration `yaml:"gcPeriod"`
}

func DefaultQueue() Queue {
	return Queue{
		MaxSize:               1000,
		ShutdownTimeout:       30 * time.Second,
		Concurrency:           3,
		RateLimiterMax:        20,
		RateLimiterDuration:   60 * time.Second,
		RetentionMaxAge:       24 * time.Hour,
		RetentionMaxCompleted: 100,
		RetentionMaxFailed:    50,
		StallTimeout:          5 * time.Minute,
		GCPeriod:              1 * time.Minute,
	}
}

// HTTP holds platform-client HTTP tunables (spec.md §6.5).
type HTTP struct {
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	Retry          Retry         `yaml:"retry"`
}

func DefaultHTTP() HTTP {
	return HTTP{
		RequestTimeout: 30 * time.Second,
		Retry:          DefaultRetry(),
	}
}

// Parser holds the JUnit parser's hard limits (spec.md §4.G, §6.5).
type Parser struct {
	MaxFileSizeBytes int64 `yaml:"maxFileSizeBytes"`
	MaxElementDepth  int   `yaml:"maxElementDepth"`
}

func DefaultParser() Parser {
	return Parser{
		MaxFileSizeBytes: 50 * 1024 * 1024,
		MaxElementDepth:  100,
	}
}

// Artifacts holds the artifact handler's tunables (spec.md §4.F, §6.5).
type Artifacts struct {
	MaxSizeBytes        int64         `yaml:"maxSizeBytes"`
	StreamChunkSize     int           `yaml:"streamChunkSize"`
	URLCacheTTL         time.Duration `yaml:"urlCacheTTL"`
	MaxArtifactConcurrency int        `yaml:"maxArtifactConcurrency"`
	MaxRetries          int           `yaml:"maxRetries"`
}

func DefaultArtifacts() Artifacts {
	return Artifacts{
		MaxSizeBytes:           1 << 30,
		StreamChunkSize:        1 << 20,
		URLCacheTTL:            50 * time.Second,
		MaxArtifactConcurrency: 4,
		MaxRetries:             3,
	}
}

// Scorer holds the flakiness-scoring policy (spec.md §4.J, §6.5).
type Scorer struct {
	WarnThreshold        float64 `yaml:"warnThreshold"`
	QuarantineThreshold  float64 `yaml:"quarantineThreshold"`
	MinRunsForQuarantine int     `yaml:"minRunsForQuarantine"`
	MinRecentFailures    int     `yaml:"minRecentFailures"`
	LookbackDays         int     `yaml:"lookbackDays"`
	RollingWindowSize    int     `yaml:"rollingWindowSize"`
}

func DefaultScorer() Scorer {
	return Scorer{
		WarnThreshold:        0.3,
		QuarantineThreshold:  0.6,
		MinRunsForQuarantine: 5,
		MinRecentFailures:    2,
		LookbackDays:         7,
		RollingWindowSize:    50,
	}
}

// Ingest holds the ingestion coordinator's tunables (spec.md §4.H, §6.5).
type Ingest struct {
	ArtifactMaxSizeBytes int64    `yaml:"artifactMaxSizeBytes"`
	NameKeywords         []string `yaml:"nameKeywords"`
	TempDirRoot          string   `yaml:"tempDirRoot"`
}

func DefaultIngest() Ingest {
	return Ingest{
		ArtifactMaxSizeBytes: 1 << 30,
		NameKeywords:         []string{"test", "junit", "results", "report"},
	}
}

// Config is the full set of tunables for a FlakeGuard process.
type Config struct {
	RateLimiter    RateLimiter    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreaker `yaml:"circuitBreaker"`
	Retry          Retry          `yaml:"retry"`
	Queue          Queue          `yaml:"queue"`
	HTTP           HTTP           `yaml:"http"`
	Parser         Parser         `yaml:"parser"`
	Artifacts      Artifacts      `yaml:"artifacts"`
	Scorer         Scorer         `yaml:"scorer"`
	Ingest         Ingest         `yaml:"ingest"`
}

// Default returns the full configuration with every field set to the
// defaults enumerated in spec.md §6.5.
func Default() Config {
	return Config{
		RateLimiter:    DefaultRateLimiter(),
		CircuitBreaker: DefaultCircuitBreaker(),
		Retry:          DefaultRetry(),
		Queue:          DefaultQueue(),
		HTTP:           DefaultHTTP(),
		Parser:         DefaultParser(),
		Artifacts:      DefaultArtifacts(),
		Scorer:         DefaultScorer(),
		Ingest:         DefaultIngest(),
	}
}

// Load reads a YAML policy file from path and overlays it onto the default
// configuration. A missing file is not an error: Default() is returned
// unchanged, mirroring how the teacher's daemons tolerate absent optional
// config and fall back to flag defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
