// Package junit emits and reads JUnit XML result files. A CI step wrapped
// by cikit produces exactly one single-testcase report describing its final
// exit code and wall-clock duration, which CI systems like Prow pick up
// from the artifacts directory.
package junit

import (
	"encoding/xml"
	"time"
)

// DefaultClassName is used when no test class name is configured.
const DefaultClassName = "Kubermatic"

// Result is what a wrapped step reports: its final exit code, the
// wall-clock duration across all attempts, and optionally the tail of the
// combined output for inclusion in failure reports.
type Result struct {
	ExitCode int
	Duration time.Duration
	Output   string
}

// Failed reports whether the step exited non-zero.
func (r Result) Failed() bool { return r.ExitCode != 0 }

// Sink consumes step results. The retry machinery always reports to a
// Sink; whether anything is written is the sink's decision, so call sites
// need no conditional guards.
type Sink interface {
	Write(result Result) error
}

// Discard is a Sink dropping every result.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(Result) error { return nil }

// TestSuites is the root element of a JUnit report document.
type TestSuites struct {
	XMLName xml.Name    `xml:"testsuites"`
	Suites  []TestSuite `xml:"testsuite"`
}

// TestSuite is one suite of test cases.
type TestSuite struct {
	Name     string     `xml:"name,attr"`
	Tests    int        `xml:"tests,attr"`
	Errors   int        `xml:"errors,attr"`
	Failures int        `xml:"failures,attr"`
	Time     int        `xml:"time,attr"`
	Cases    []TestCase `xml:"testcase"`
}

// TestCase is a single executed test.
type TestCase struct {
	ClassName string   `xml:"classname,attr"`
	Name      string   `xml:"name,attr"`
	Time      int      `xml:"time,attr"`
	Failure   *Failure `xml:"failure,omitempty"`
}

// Failure marks a test case as failed. The body carries the output tail
// of the failed step when one was captured.
type Failure struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}
