package junit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanAggregatesReports(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter(testLogger(), "step one", dir, "").Write(Result{ExitCode: 0, Duration: 5 * time.Second}))
	require.NoError(t, NewWriter(testLogger(), "step two", dir, "").Write(Result{ExitCode: 2, Duration: 7 * time.Second}))

	summaries, err := Scan(context.Background(), dir, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "junit.step_one.xml", summaries[0].File)
	assert.Equal(t, "step one", summaries[0].Name)
	assert.False(t, summaries[0].Failed())

	assert.Equal(t, "junit.step_two.xml", summaries[1].File)
	assert.True(t, summaries[1].Failed())
	assert.Equal(t, 1, summaries[1].Failures)
	assert.Equal(t, 7, summaries[1].Time)
}

func TestScanHandlesBareTestSuiteRoot(t *testing.T) {
	dir := t.TempDir()
	raw := `<?xml version="1.0"?>
<testsuite name="go-tests" tests="12" errors="0" failures="3" time="90">
</testsuite>
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junit.go_tests.xml"), []byte(raw), 0o644))

	summaries, err := Scan(context.Background(), dir, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "go-tests", summaries[0].Name)
	assert.Equal(t, 12, summaries[0].Tests)
	assert.Equal(t, 3, summaries[0].Failures)
	assert.True(t, summaries[0].Failed())
}

func TestScanEmptyDir(t *testing.T) {
	summaries, err := Scan(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestScanRejectsMalformedReport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junit.broken.xml"), []byte("not xml at all"), 0o644))

	_, err := Scan(context.Background(), dir, 0)
	require.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	allPassed := RenderTable(&buf, []SuiteSummary{
		{File: "junit.a.xml", Name: "a", Tests: 1, Time: 3},
		{File: "junit.b.xml", Name: "b", Tests: 1, Failures: 1, Errors: 1, Time: 9},
	})
	assert.False(t, allPassed)
	assert.Contains(t, buf.String(), "junit.a.xml")
	assert.Contains(t, buf.String(), "TOTAL")

	buf.Reset()
	allPassed = RenderTable(&buf, []SuiteSummary{
		{File: "junit.a.xml", Name: "a", Tests: 1, Time: 3},
	})
	assert.True(t, allPassed)
}
