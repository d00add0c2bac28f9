package junit

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sourcegraph/conc/pool"
)

const defaultScanParallelism = 4

// SuiteSummary aggregates one parsed report file.
type SuiteSummary struct {
	File     string
	Name     string
	Tests    int
	Failures int
	Errors   int
	Time     int
}

// Failed reports whether the file recorded any failure or error.
func (s SuiteSummary) Failed() bool {
	return s.Failures > 0 || s.Errors > 0
}

// Scan parses every junit.*.xml file in dir. Files are parsed in parallel
// and returned sorted by file name.
func Scan(ctx context.Context, dir string, maxParallel int) ([]SuiteSummary, error) {
	files, err := filepath.Glob(filepath.Join(dir, "junit.*.xml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list junit reports: %w", err)
	}
	if maxParallel <= 0 {
		maxParallel = defaultScanParallelism
	}

	p := pool.NewWithResults[SuiteSummary]().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(maxParallel).
		WithContext(ctx).
		WithCancelOnError()
	for _, file := range files {
		p.Go(func(ctx context.Context) (SuiteSummary, error) {
			return parseReport(file)
		})
	}
	summaries, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].File < summaries[j].File })
	return summaries, nil
}

func parseReport(path string) (SuiteSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SuiteSummary{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc TestSuites
	if err := xml.Unmarshal(data, &doc); err != nil {
		// Some tools write a bare <testsuite> root
		var suite TestSuite
		if err2 := xml.Unmarshal(data, &suite); err2 != nil {
			return SuiteSummary{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		doc.Suites = []TestSuite{suite}
	}

	s := SuiteSummary{File: filepath.Base(path)}
	for _, suite := range doc.Suites {
		if s.Name == "" {
			s.Name = suite.Name
		}
		s.Tests += suite.Tests
		s.Failures += suite.Failures
		s.Errors += suite.Errors
		s.Time += suite.Time
	}
	return s, nil
}

// RenderTable prints a summary table for the scanned reports and returns
// true when every suite passed.
func RenderTable(out io.Writer, summaries []SuiteSummary) bool {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Report", "Name", "Result", "Tests", "Failures", "Errors", "Time"})

	allPassed := true
	var totalTests, totalFailures, totalErrors, totalTime int
	for _, s := range summaries {
		result := "✓ pass"
		if s.Failed() {
			result = "✗ fail"
			allPassed = false
		}
		t.AppendRow(table.Row{s.File, s.Name, result, s.Tests, s.Failures, s.Errors, formatSeconds(s.Time)})
		totalTests += s.Tests
		totalFailures += s.Failures
		totalErrors += s.Errors
		totalTime += s.Time
	}
	t.AppendFooter(table.Row{"", "TOTAL", "", totalTests, totalFailures, totalErrors, formatSeconds(totalTime)})

	if allPassed {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
	t.Render()
	return allPassed
}

func formatSeconds(s int) string {
	return fmt.Sprintf("%ds", s)
}
