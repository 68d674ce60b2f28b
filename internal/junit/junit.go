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

package junit

import (
	"encoding/xml"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
)

// declaredCount carries an attribute-parsed count alongside whether the
// attribute was present at all, so reconciliation can tell "declared 0"
// from "not declared".
type declaredCount struct {
	value   int
	present bool
}

func (d declaredCount) reconcile(computed int) int {
	if d.present && d.value > computed {
		return d.value
	}
	return computed
}

// suiteBuilder accumulates one <testsuite>'s state while its children are
// being parsed.
type suiteBuilder struct {
	suite             TestSuite
	declaredTests     declaredCount
	declaredFailures  declaredCount
	declaredErrors    declaredCount
	declaredSkipped   declaredCount
}

// parser holds the SAX-style token loop's running state.
type parser struct {
	cfg      config.Parser
	dec      *xml.Decoder
	depth    int
	elements int

	sawTestSuites bool
	root          TestSuites
	declaredRoot  struct {
		tests, failures, errors, skipped declaredCount
	}

	suites       []TestSuite
	currentSuite *suiteBuilder
	currentCase  *TestCase

	textTarget *string
	textBuf    strings.Builder

	warnings []string
}

// elementHandler is the per-tag-name callback invoked on StartElement and
// EndElement, keyed in the dispatch table below. The surefire format is
// the reference; other formats reuse these by default and may override
// individual tags.
type elementHandler struct {
	start func(p *parser, el xml.StartElement) error
	end   func(p *parser) error
}

func attrValue(attrs []xml.Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func attrInt(attrs []xml.Attr, name string) declaredCount {
	v, ok := attrValue(attrs, name)
	if !ok {
		return declaredCount{}
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return declaredCount{}
	}
	return declaredCount{value: n, present: true}
}

func attrFloat(attrs []xml.Attr, name string) float64 {
	v, ok := attrValue(attrs, name)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

// surefireHandlers is the reference element-handling dispatch table of
// spec.md §4.G. Every supported format currently reuses it unmodified;
// the indirection exists so a format can override a tag's handling
// without touching the shared token loop.
var surefireHandlers = map[string]elementHandler{
	"testsuites": {
		start: func(p *parser, el xml.StartElement) error {
			p.sawTestSuites = true
			p.declaredRoot.tests = attrInt(el.Attr, "tests")
			p.declaredRoot.failures = attrInt(el.Attr, "failures")
			p.declaredRoot.errors = attrInt(el.Attr, "errors")
			p.declaredRoot.skipped = attrInt(el.Attr, "skipped")
			p.root.Time = attrFloat(el.Attr, "time")
			if ts, ok := attrValue(el.Attr, "timestamp"); ok {
				p.root.Timestamp = ts
			}
			return nil
		},
	},
	"testsuite": {
		start: func(p *parser, el xml.StartElement) error {
			sb := &suiteBuilder{}
			if name, ok := attrValue(el.Attr, "name"); ok {
				sb.suite.Name = name
			}
			sb.suite.Properties = map[string]string{}
			sb.suite.Time = attrFloat(el.Attr, "time")
			if ts, ok := attrValue(el.Attr, "timestamp"); ok {
				sb.suite.Timestamp = ts
			}
			sb.declaredTests = attrInt(el.Attr, "tests")
			sb.declaredFailures = attrInt(el.Attr, "failures")
			sb.declaredErrors = attrInt(el.Attr, "errors")
			sb.declaredSkipped = attrInt(el.Attr, "skipped")
			p.currentSuite = sb
			return nil
		},
		end: func(p *parser) error {
			sb := p.currentSuite
			if sb == nil {
				return nil
			}
			var failures, errs, skipped int
			for _, tc := range sb.suite.TestCases {
				switch tc.Status {
				case StatusFailed:
					failures++
				case StatusError:
					errs++
				case StatusSkipped:
					skipped++
				}
			}
			sb.suite.Tests = sb.declaredTests.reconcile(len(sb.suite.TestCases))
			sb.suite.Failures = sb.declaredFailures.reconcile(failures)
			sb.suite.Errors = sb.declaredErrors.reconcile(errs)
			sb.suite.Skipped = sb.declaredSkipped.reconcile(skipped)
			if err := validateCounts(sb.suite.Tests, sb.suite.Failures, sb.suite.Errors, sb.suite.Skipped); err != nil {
				return err
			}
			p.suites = append(p.suites, sb.suite)
			p.currentSuite = nil
			return nil
		},
	},
	"testcase": {
		start: func(p *parser, el xml.StartElement) error {
			tc := &TestCase{Status: StatusPassed}
			if name, ok := attrValue(el.Attr, "name"); ok {
				tc.Name = name
			}
			if cn, ok := attrValue(el.Attr, "classname"); ok {
				tc.ClassName = cn
			}
			tc.Time = attrFloat(el.Attr, "time")
			p.currentCase = tc
			return nil
		},
		end: func(p *parser) error {
			if p.currentCase == nil || p.currentSuite == nil {
				return nil
			}
			p.currentSuite.suite.TestCases = append(p.currentSuite.suite.TestCases, *p.currentCase)
			p.currentCase = nil
			return nil
		},
	},
	"failure": {
		start: func(p *parser, el xml.StartElement) error {
			if p.currentCase == nil {
				return nil
			}
			p.currentCase.Status = StatusFailed
			if msg, ok := attrValue(el.Attr, "message"); ok {
				p.currentCase.FailureMessage = msg
			}
			if typ, ok := attrValue(el.Attr, "type"); ok {
				p.currentCase.FailureType = typ
			}
			p.startText(&p.currentCase.FailureStack)
			return nil
		},
		end: func(p *parser) error {
			p.flushText()
			return nil
		},
	},
	"error": {
		start: func(p *parser, el xml.StartElement) error {
			if p.currentCase == nil {
				return nil
			}
			p.currentCase.Status = StatusError
			if msg, ok := attrValue(el.Attr, "message"); ok {
				p.currentCase.FailureMessage = msg
			}
			if typ, ok := attrValue(el.Attr, "type"); ok {
				p.currentCase.FailureType = typ
			}
			p.startText(&p.currentCase.FailureStack)
			return nil
		},
		end: func(p *parser) error {
			p.flushText()
			return nil
		},
	},
	"skipped": {
		start: func(p *parser, el xml.StartElement) error {
			if p.currentCase == nil {
				return nil
			}
			p.currentCase.Status = StatusSkipped
			if msg, ok := attrValue(el.Attr, "message"); ok {
				p.currentCase.SkippedMessage = msg
			}
			p.startText(&p.currentCase.SkippedMessage)
			return nil
		},
		end: func(p *parser) error {
			// Child char data is optional alongside the message attribute;
			// an empty element body must not blank out an attribute-derived
			// message, so only flush when there is text to keep.
			if p.textTarget != nil && p.textBuf.Len() > 0 {
				p.flushText()
				return nil
			}
			p.textTarget = nil
			p.textBuf.Reset()
			return nil
		},
	},
	"system-out": {
		start: func(p *parser, el xml.StartElement) error {
			if p.currentCase != nil {
				p.startText(&p.currentCase.SystemOut)
			} else if p.currentSuite != nil {
				p.startText(&p.currentSuite.suite.SystemOut)
			}
			return nil
		},
		end: func(p *parser) error {
			p.flushText()
			return nil
		},
	},
	"system-err": {
		start: func(p *parser, el xml.StartElement) error {
			if p.currentCase != nil {
				p.startText(&p.currentCase.SystemErr)
			} else if p.currentSuite != nil {
				p.startText(&p.currentSuite.suite.SystemErr)
			}
			return nil
		},
		end: func(p *parser) error {
			p.flushText()
			return nil
		},
	},
	"property": {
		start: func(p *parser, el xml.StartElement) error {
			if p.currentSuite == nil {
				return nil
			}
			name, _ := attrValue(el.Attr, "name")
			value, _ := attrValue(el.Attr, "value")
			if name != "" {
				p.currentSuite.suite.Properties[name] = value
			}
			return nil
		},
	},
}

// handlersFor returns the element-handling dispatch table for format.
// Every currently supported format reuses the surefire reference table;
// a format-specific override would be added here as its quirks are
// grounded against a real sample.
func handlersFor(format Format) map[string]elementHandler {
	return surefireHandlers
}

func (p *parser) startText(target *string) {
	p.textTarget = target
	p.textBuf.Reset()
}

func (p *parser) flushText() {
	if p.textTarget != nil {
		*p.textTarget = p.textBuf.String()
	}
	p.textTarget = nil
	p.textBuf.Reset()
}

// validateCounts enforces spec.md §4.G's sanity rule: no negative count,
// and failures+errors+skipped must not exceed tests.
func validateCounts(tests, failures, errs, skipped int) error {
	if tests < 0 || failures < 0 || errs < 0 || skipped < 0 {
		return ferr.New(ferr.ValidationFailed, "test suite has a negative count")
	}
	if failures+errs+skipped > tests {
		return ferr.New(ferr.ValidationFailed, fmt.Sprintf(
			"failures+errors+skipped (%d) exceeds tests (%d)", failures+errs+skipped, tests))
	}
	return nil
}

// Parse reads a JUnit-XML document from r, detecting its dialect and
// returning the flattened suite tree plus diagnostics, per spec.md §4.G.
// filenameHint may be empty; explicitFormat, when non-empty, skips
// detection entirely.
func Parse(r io.Reader, cfg config.Parser, filenameHint string, explicitFormat Format) (Result, error) {
	start := time.Now()
	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	cr := &countingReader{r: r, max: cfg.MaxFileSizeBytes}

	format := explicitFormat
	if format == "" {
		format = detectFromFilename(filenameHint)
	}

	var source io.Reader = cr
	var warnings []string
	var detectedScore float64
	if format == "" {
		sample, err := peekPrefix(cr, contentSniffWindow)
		if err != nil && err != io.EOF {
			return Result{}, err
		}
		format, detectedScore = detectFromContent(sample)
		confidence := formatConfidence(format, detectedScore)
		switch {
		case format == FormatGeneric:
			warnings = append(warnings, "could not confidently detect a known JUnit dialect; parsing as generic")
		case confidence < 0.6:
			warnings = append(warnings, fmt.Sprintf("low-confidence %s format detection (%.2f)", format, confidence))
		}
		source = io.MultiReader(strings.NewReader(string(sample)), cr)
	}

	p := &parser{cfg: cfg, dec: xml.NewDecoder(source), warnings: warnings}
	handlers := handlersFor(format)

	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, ferr.Wrap(ferr.ParseFailed, err, "malformed JUnit XML")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.depth++
			if p.depth > p.cfg.MaxElementDepth {
				return Result{}, ferr.New(ferr.ParseFailed, fmt.Sprintf("element depth exceeds max %d", p.cfg.MaxElementDepth))
			}
			p.elements++
			if h, ok := handlers[t.Name.Local]; ok && h.start != nil {
				if err := h.start(p, t); err != nil {
					return Result{}, err
				}
			}
		case xml.EndElement:
			p.depth--
			if h, ok := handlers[t.Name.Local]; ok && h.end != nil {
				if err := h.end(p); err != nil {
					return Result{}, err
				}
			}
		case xml.CharData:
			if p.textTarget != nil {
				p.textBuf.Write(t)
			}
		}
	}

	if p.currentSuite != nil {
		return Result{}, ferr.New(ferr.ParseFailed, "document truncated inside an open testsuite element")
	}

	var failures, errs, skipped, tests int
	for _, s := range p.suites {
		tests += s.Tests
		failures += s.Failures
		errs += s.Errors
		skipped += s.Skipped
	}
	p.root.Tests = p.declaredRoot.tests.reconcile(tests)
	p.root.Failures = p.declaredRoot.failures.reconcile(failures)
	p.root.Errors = p.declaredRoot.errors.reconcile(errs)
	p.root.Skipped = p.declaredRoot.skipped.reconcile(skipped)
	if err := validateCounts(p.root.Tests, p.root.Failures, p.root.Errors, p.root.Skipped); err != nil {
		return Result{}, err
	}
	p.root.Suites = p.suites

	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	var peakMB float64
	if memAfter.TotalAlloc > memBefore.TotalAlloc {
		peakMB = float64(memAfter.TotalAlloc-memBefore.TotalAlloc) / (1024 * 1024)
	}

	return Result{
		TestSuites:        p.root,
		Format:            format,
		Warnings:          p.warnings,
		BytesParsed:       cr.total,
		ElementsProcessed: p.elements,
		DurationMs:        time.Since(start).Milliseconds(),
		MemoryPeakMB:      peakMB,
	}, nil
}
