package junit

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/charmbracelet/log"
)

// Writer emits one report file per consumed result. It is deliberately
// forgiving about missing configuration: without a test name or artifacts
// directory it stays disabled and Write is a silent no-op, so the same
// retry call sites work in and out of CI.
type Writer struct {
	log          *log.Logger
	testName     string
	artifactsDir string
	className    string
}

// NewWriter creates a Writer for the given reporting context. An empty
// className selects DefaultClassName.
func NewWriter(logger *log.Logger, testName, artifactsDir, className string) *Writer {
	if className == "" {
		className = DefaultClassName
	}
	return &Writer{
		log:          logger,
		testName:     testName,
		artifactsDir: artifactsDir,
		className:    className,
	}
}

// Enabled reports whether results will actually be written.
func (w *Writer) Enabled() bool {
	return w.testName != "" && w.artifactsDir != ""
}

// Filename derives the report file name from a test name: lower-cased,
// spaces replaced with underscores.
func Filename(testName string) string {
	return "junit." + strings.ToLower(strings.ReplaceAll(testName, " ", "_")) + ".xml"
}

// Write emits the report file for result, overwriting any prior report
// with the same derived name.
func (w *Writer) Write(result Result) error {
	if w.testName == "" {
		w.log.Info("no junit report written, no test name is set")
		return nil
	}
	if w.artifactsDir == "" {
		w.log.Info("no junit report written, no artifacts directory is set")
		return nil
	}

	doc := w.document(result)
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal junit report: %w", err)
	}
	data := append([]byte(xml.Header), out...)
	data = append(data, '\n')

	path := filepath.Join(w.artifactsDir, Filename(w.testName))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	w.log.Info("junit report written", "path", path, "failed", result.Failed())
	return nil
}

func (w *Writer) document(result Result) TestSuites {
	seconds := int(result.Duration / time.Second)
	tc := TestCase{
		ClassName: w.className,
		Name:      w.testName,
		Time:      seconds,
	}
	if result.Failed() {
		tc.Failure = &Failure{
			Message: "Step failed",
			Body:    stripansi.Strip(result.Output),
		}
	}
	return TestSuites{
		Suites: []TestSuite{{
			Name:     w.testName,
			Tests:    1,
			Errors:   boolToInt(result.Failed()),
			Failures: boolToInt(result.Failed()),
			Time:     seconds,
			Cases:    []TestCase{tc},
		}},
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
