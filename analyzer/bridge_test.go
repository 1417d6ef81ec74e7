package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAnalyzerScript writes a shell script standing in for the analyzer
// binary and returns its path.
func writeAnalyzerScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "analyzer.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestBridge(t *testing.T, binaryPath string, timeout time.Duration) *Bridge {
	t.Helper()
	return NewBridge(BridgeConfig{BinaryPath: binaryPath, Timeout: timeout}, nil)
}

func requireDegraded(t *testing.T, out Outcome, explanation string) {
	t.Helper()

	assert.True(t, out.Degraded, "outcome should be degraded")
	assert.Equal(t, explanation, out.Explanation)
	require.NotEmpty(t, out.Diagnostics)
	assert.Equal(t, SeverityError, out.Diagnostics[0].Severity)
	assert.Equal(t, "bridge", out.Diagnostics[0].Source)
	assert.NotNil(t, out.Suggestions)
}

func TestBridgeUnavailableBinary(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "no path configured", path: ""},
		{name: "path does not exist", path: "/nonexistent/analyzer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newTestBridge(t, tt.path, 0)
			assert.False(t, bridge.Available())

			out := bridge.Analyze(context.Background(), Request{Code: "fn main() {}"})
			requireDegraded(t, out, "rust analysis service is unavailable")
		})
	}
}

func TestBridgeNonExecutableBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyzer")
	require.NoError(t, os.WriteFile(path, []byte("not a binary"), 0o644))

	bridge := newTestBridge(t, path, 0)
	assert.False(t, bridge.Available())

	out := bridge.Analyze(context.Background(), Request{Code: "fn main() {}"})
	requireDegraded(t, out, "rust analysis service is unavailable")
}

func TestBridgeSuccess(t *testing.T) {
	path := writeAnalyzerScript(t,
		`echo '{"diagnostics":[{"message":"unused variable","severity":"warning"}],"suggestions":[],"explanation":"one warning"}'`)
	bridge := newTestBridge(t, path, 0)
	require.True(t, bridge.Available())

	out := bridge.Analyze(context.Background(), Request{Code: "fn main() { let x = 1; }"})

	assert.False(t, out.Degraded)
	assert.Equal(t, "one warning", out.Explanation)
	require.Len(t, out.Diagnostics, 1)
	assert.Equal(t, "unused variable", out.Diagnostics[0].Message)
	assert.Equal(t, SeverityWarning, out.Diagnostics[0].Severity)
	assert.NotNil(t, out.Suggestions)
}

func TestBridgeReceivesRequestOnStdin(t *testing.T) {
	path := writeAnalyzerScript(t, `if grep -q 'fn main'; then
  echo '{"diagnostics":[],"suggestions":[],"explanation":"seen"}'
else
  exit 1
fi`)
	bridge := newTestBridge(t, path, 0)

	out := bridge.Analyze(context.Background(), Request{Code: "fn main() {}"})

	assert.False(t, out.Degraded)
	assert.Equal(t, "seen", out.Explanation)
}

func TestBridgeNoisyStdout(t *testing.T) {
	// Log noise before the response line must be skipped, including noise
	// that merely looks like JSON.
	path := writeAnalyzerScript(t, `echo 'starting analyzer'
echo '[info] loading crates'
echo '{broken json noise'
echo '{"diagnostics":[],"suggestions":[],"explanation":"clean"}'`)
	bridge := newTestBridge(t, path, 0)

	out := bridge.Analyze(context.Background(), Request{Code: "fn main() {}"})

	assert.False(t, out.Degraded)
	assert.Equal(t, "clean", out.Explanation)
}

func TestBridgeTimeout(t *testing.T) {
	path := writeAnalyzerScript(t, `sleep 5
echo '{"diagnostics":[],"suggestions":[],"explanation":"too late"}'`)
	bridge := newTestBridge(t, path, 200*time.Millisecond)

	start := time.Now()
	out := bridge.Analyze(context.Background(), Request{Code: "fn main() {}"})
	elapsed := time.Since(start)

	requireDegraded(t, out, "Analysis timed out")
	assert.Less(t, elapsed, 2*time.Second, "the process must be killed at the deadline")
}

func TestBridgeExitError(t *testing.T) {
	path := writeAnalyzerScript(t, `echo 'error: expected one of: an identifier' >&2
exit 3`)
	bridge := newTestBridge(t, path, 0)

	out := bridge.Analyze(context.Background(), Request{Code: "fn main() {"})

	assert.True(t, out.Degraded)
	assert.Contains(t, out.Explanation, "analyzer exited with code 3")
	assert.Contains(t, out.Explanation, "expected one of")

	// Besides the synthetic bridge diagnostic, compiler-style stderr lines
	// come back as rustc diagnostics.
	require.Len(t, out.Diagnostics, 2)
	assert.Equal(t, "bridge", out.Diagnostics[0].Source)
	assert.Equal(t, "rustc", out.Diagnostics[1].Source)
	assert.Equal(t, SeverityError, out.Diagnostics[1].Severity)
}

func TestBridgeMalformedResponses(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{
			name:   "no json at all",
			script: `echo 'just some logs'`,
		},
		{
			name:   "missing diagnostics",
			script: `echo '{"suggestions":[],"explanation":"x"}'`,
		},
		{
			name:   "missing suggestions",
			script: `echo '{"diagnostics":[],"explanation":"x"}'`,
		},
		{
			name:   "missing explanation",
			script: `echo '{"diagnostics":[],"suggestions":[]}'`,
		},
		{
			name:   "diagnostics is not an array",
			script: `echo '{"diagnostics":{},"suggestions":[],"explanation":"x"}'`,
		},
		{
			name:   "explanation is not a string",
			script: `echo '{"diagnostics":[],"suggestions":[],"explanation":[]}'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newTestBridge(t, writeAnalyzerScript(t, tt.script), 0)

			out := bridge.Analyze(context.Background(), Request{Code: "fn main() {}"})

			assert.True(t, out.Degraded)
			assert.Contains(t, out.Explanation, "Failed to parse analysis response")
		})
	}
}

func TestParseAnalyzerOutputNormalizesNilSlices(t *testing.T) {
	out, err := parseAnalyzerOutput([]byte(`{"diagnostics":[],"suggestions":[],"explanation":"ok"}`))
	require.NoError(t, err)
	assert.NotNil(t, out.Diagnostics)
	assert.NotNil(t, out.Suggestions)
}
