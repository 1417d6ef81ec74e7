package analyzer

import (
	"fmt"
	"strings"
)

// The heuristics below stand in when the external analyzer yields nothing
// useful. They are intentionally shallow: line-oriented pattern matching,
// no parsing.

// scanCompilerOutput extracts diagnostics from compiler-style output lines,
// recognizing the rustc "error:" / "warning:" markers.
func scanCompilerOutput(text string) []Diagnostic {
	var diagnostics []Diagnostic
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		severity := Severity("")
		switch {
		case strings.Contains(line, "error:"):
			severity = SeverityError
		case strings.Contains(line, "warning:"):
			severity = SeverityWarning
		default:
			continue
		}
		diagnostics = append(diagnostics, Diagnostic{
			Message:  line,
			Severity: severity,
			Source:   "rustc",
		})
	}
	return diagnostics
}

// quickSuggestions proposes cheap rewrites for common Rust antipatterns in
// the submitted code.
func quickSuggestions(code string) []Suggestion {
	var suggestions []Suggestion
	for i, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		rng := &Range{
			Start: Position{Line: i},
			End:   Position{Line: i, Character: len(line)},
		}

		if strings.Contains(trimmed, ".unwrap()") {
			suggestions = append(suggestions, Suggestion{
				Title:       "Replace unwrap with expect",
				Description: "expect carries a message that survives into the panic output",
				Code:        strings.Replace(line, ".unwrap()", `.expect("TODO: describe the failure")`, 1),
				Range:       rng,
			})
		}
		if strings.HasPrefix(trimmed, "println!") && strings.Contains(trimmed, "{:?}") {
			suggestions = append(suggestions, Suggestion{
				Title:       "Use dbg! for debug output",
				Description: "dbg! prints the file and line along with the value",
				Code:        strings.Replace(line, "println!", "dbg!", 1),
				Range:       rng,
			})
		}
		if strings.HasPrefix(trimmed, "use ") && strings.HasSuffix(trimmed, "::*;") {
			suggestions = append(suggestions, Suggestion{
				Title:       "Avoid glob imports",
				Description: "import the names you use so the origin of each item stays visible",
				Code:        line,
				Range:       rng,
			})
		}
	}
	return suggestions
}

// summarize builds an explanation from an outcome that lacks one.
func summarize(out Outcome) string {
	if len(out.Diagnostics) == 0 {
		return "No issues found."
	}

	var errs, warns int
	for _, d := range out.Diagnostics {
		switch d.Severity {
		case SeverityError:
			errs++
		case SeverityWarning:
			warns++
		}
	}

	parts := make([]string, 0, 2)
	if errs > 0 {
		parts = append(parts, fmt.Sprintf("%d error(s)", errs))
	}
	if warns > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", warns))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Analysis produced %d informational finding(s).", len(out.Diagnostics))
	}
	return fmt.Sprintf("Analysis found %s. The first issue: %s",
		strings.Join(parts, " and "), out.Diagnostics[0].Message)
}
