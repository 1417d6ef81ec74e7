package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds how long one analyzer process may run.
const DefaultTimeout = 10 * time.Second

// sourceBridge tags diagnostics synthesized by the bridge itself, as opposed
// to findings produced by the analyzer.
const sourceBridge = "bridge"

// maxOutputLine bounds a single stdout line from the analyzer.
const maxOutputLine = 4 * 1024 * 1024

// BridgeConfig configures the connection to the external analyzer binary.
type BridgeConfig struct {
	// BinaryPath is the path to the analyzer executable. An empty or
	// unusable path is not an error: analysis degrades instead.
	BinaryPath string
	// Timeout bounds one analysis run. Zero means DefaultTimeout.
	Timeout time.Duration
	// WorkDir is the working directory for the analyzer process.
	WorkDir string
}

// Bridge executes analysis requests by spawning one short-lived analyzer
// process per request. The request is written to the process's stdin as one
// JSON value; the response is one JSON line on stdout, located by scanning
// past any log noise the analyzer emits first.
//
// Analyze never fails: every failure mode is folded into a degraded Outcome,
// so the caller's contract is "always structurally valid, semantically may
// indicate failure".
type Bridge struct {
	cfg    BridgeConfig
	logger *slog.Logger
}

// NewBridge creates a bridge for the given configuration.
func NewBridge(cfg BridgeConfig, logger *slog.Logger) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "bridge")),
	}
}

// Available reports whether the configured analyzer binary exists and is
// executable.
func (b *Bridge) Available() bool {
	return b.checkBinary() == nil
}

// Analyze runs one analysis request in a freshly spawned analyzer process.
// The process is exclusively owned by this invocation and is guaranteed to
// be gone when Analyze returns, whatever the exit path.
func (b *Bridge) Analyze(ctx context.Context, req Request) Outcome {
	if err := b.checkBinary(); err != nil {
		b.logger.Debug("analyzer binary unavailable", slog.String("err", err.Error()))
		return DegradedOutcome("rust analysis service is unavailable", sourceBridge)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return DegradedOutcome(fmt.Sprintf("failed to encode analysis request: %s", err), sourceBridge)
	}

	runCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	// Cancelling the context kills the process if it is still running;
	// both are no-ops once the process has exited.
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.cfg.BinaryPath)
	cmd.Dir = b.cfg.WorkDir
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("analysis timed out",
			slog.Duration("timeout", b.cfg.Timeout),
			slog.String("fileName", req.FileName))
		return DegradedOutcome("Analysis timed out", sourceBridge)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			errText := strings.TrimSpace(stderr.String())
			msg := fmt.Sprintf("analyzer exited with code %d: %s", exitErr.ExitCode(), errText)
			b.logger.Warn("analyzer failed", slog.String("err", msg))
			out := DegradedOutcome(msg, sourceBridge)
			// Compiler-style stderr still carries usable findings.
			out.Diagnostics = append(out.Diagnostics, scanCompilerOutput(errText)...)
			return out
		}
		return DegradedOutcome(fmt.Sprintf("failed to run analyzer: %s", runErr), sourceBridge)
	}

	out, err := parseAnalyzerOutput(stdout.Bytes())
	if err != nil {
		b.logger.Warn("unparseable analyzer output", slog.String("err", err.Error()))
		return DegradedOutcome(fmt.Sprintf("Failed to parse analysis response: %s", err), sourceBridge)
	}

	b.logger.Debug("analysis complete",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("diagnostics", len(out.Diagnostics)))
	return out
}

func (b *Bridge) checkBinary() error {
	if b.cfg.BinaryPath == "" {
		return errors.New("no analyzer binary configured")
	}
	fi, err := os.Stat(b.cfg.BinaryPath)
	if err != nil {
		return fmt.Errorf("analyzer binary not found: %w", err)
	}
	if fi.IsDir() || fi.Mode()&0o111 == 0 {
		return fmt.Errorf("analyzer binary %s is not executable", b.cfg.BinaryPath)
	}
	return nil
}

// parseAnalyzerOutput extracts the response object from the analyzer's
// stdout. The analyzer is supposed to print exactly one JSON line, but may
// emit log noise first, so the scan takes the first line that parses as a
// JSON object and then requires the response fields to be present and
// correctly typed.
func parseAnalyzerOutput(output []byte) (Outcome, error) {
	sc := bufio.NewScanner(bytes.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), maxOutputLine)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			// Noise that merely looks like JSON; keep scanning.
			continue
		}

		// The first parseable object is the response; from here on a
		// malformed payload is an error, not more noise.
		if err := requireField(probe, "diagnostics", '['); err != nil {
			return Outcome{}, err
		}
		if err := requireField(probe, "suggestions", '['); err != nil {
			return Outcome{}, err
		}
		if err := requireField(probe, "explanation", '"'); err != nil {
			return Outcome{}, err
		}

		var out Outcome
		if err := json.Unmarshal([]byte(line), &out); err != nil {
			return Outcome{}, fmt.Errorf("malformed response object: %w", err)
		}
		if out.Diagnostics == nil {
			out.Diagnostics = []Diagnostic{}
		}
		if out.Suggestions == nil {
			out.Suggestions = []Suggestion{}
		}
		return out, nil
	}
	if err := sc.Err(); err != nil {
		return Outcome{}, fmt.Errorf("failed to scan analyzer output: %w", err)
	}

	return Outcome{}, errors.New("no JSON object found on stdout")
}

func requireField(obj map[string]json.RawMessage, name string, kind byte) error {
	raw, ok := obj[name]
	if !ok {
		return fmt.Errorf("missing required field %q", name)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != kind {
		return fmt.Errorf("field %q has the wrong type", name)
	}
	return nil
}
