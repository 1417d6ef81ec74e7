// Package analyzer exposes Rust code analysis as protocol tools. The actual
// analysis runs in an external analyzer process managed by Bridge; the
// package normalizes every failure of that process into a degraded outcome
// so callers always receive a structurally valid result.
package analyzer

// Severity is the severity level of a diagnostic, following the LSP naming
// carried by the wire format.
type Severity string

// Diagnostic severity levels.
const (
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
	SeverityHint        Severity = "hint"
)

// Position is a zero-based position in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a span in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Diagnostic is one finding about the analyzed code.
type Diagnostic struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Range    *Range   `json:"range,omitempty"`
	Code     string   `json:"code,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// Suggestion is a proposed improvement to the analyzed code.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code"`
	Range       *Range `json:"range,omitempty"`
}

// Request is one analysis request as handed to the external analyzer.
type Request struct {
	Code     string `json:"code"`
	FileName string `json:"fileName,omitempty"`
}

// Outcome is the normalized result of one analysis. Degraded marks outcomes
// that encode a failure (unavailable binary, timeout, crash, unparseable
// output) as diagnostic content: such an outcome is still a success at the
// protocol level, and its single diagnostic describes what went wrong.
type Outcome struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
	Suggestions []Suggestion `json:"suggestions"`
	Explanation string       `json:"explanation"`
	Degraded    bool         `json:"degraded,omitempty"`
}

// DegradedOutcome builds the outcome for a failed analysis: one synthetic
// error diagnostic whose message encodes the cause.
func DegradedOutcome(message, source string) Outcome {
	return Outcome{
		Diagnostics: []Diagnostic{{
			Message:  message,
			Severity: SeverityError,
			Source:   source,
		}},
		Suggestions: []Suggestion{},
		Explanation: message,
		Degraded:    true,
	}
}
