package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	rustmcp "github.com/MaxParisotto/rust-mcp-server"
)

// Tool names exposed by the service. Legacy-shape message types map onto
// these names directly.
const (
	ToolAnalyze = "rust.analyze"
	ToolSuggest = "rust.suggest"
	ToolExplain = "rust.explain"
	ToolHistory = "rust.history"
)

// Service exposes the analyzer as protocol tools. Every tool handler
// delegates to the Bridge, so a broken or missing analyzer binary degrades
// each call instead of failing it.
type Service struct {
	bridge  *Bridge
	history *History
	logger  *slog.Logger
}

// NewService creates a service around the given bridge. A nil history gets a
// default-sized one.
func NewService(bridge *Bridge, history *History, logger *slog.Logger) *Service {
	if history == nil {
		history = NewHistory(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		bridge:  bridge,
		history: history,
		logger:  logger.With(slog.String("component", "analyzer")),
	}
}

// Register installs the analyzer tools and resources into reg.
func (s *Service) Register(reg *rustmcp.Registry) error {
	tools := []rustmcp.Tool{
		{
			Name:        ToolAnalyze,
			Description: "Analyze Rust code and return diagnostics, suggestions and an explanation",
			InputSchema: codeRequestSchema,
			Handler:     s.analyze,
		},
		{
			Name:        ToolSuggest,
			Description: "Propose improvements to Rust code, each rendered as a unified diff",
			InputSchema: codeRequestSchema,
			Handler:     s.suggest,
		},
		{
			Name:        ToolExplain,
			Description: "Explain the issues found in Rust code in plain language",
			InputSchema: codeRequestSchema,
			Handler:     s.explain,
		},
		{
			Name:        ToolHistory,
			Description: "List recent analyses, optionally filtered by file name glob",
			InputSchema: historyRequestSchema,
			Handler:     s.recent,
		},
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}

	reg.AddResource(rustmcp.Resource{
		Name:        "usage",
		Description: "How to call the analysis tools",
		URI:         "rust-analyzer://usage",
		MimeType:    "text/plain",
		Text: "Send tools/call with a tool name of rust.analyze, rust.suggest, " +
			"rust.explain or rust.history. Code tools take {code, fileName?}; " +
			"rust.history takes {pattern?, limit?}.",
	})
	return nil
}

func (s *Service) analyze(ctx context.Context, args json.RawMessage) (any, error) {
	req, err := decodeRequest(args)
	if err != nil {
		return nil, err
	}

	out := s.bridge.Analyze(ctx, req)
	s.history.Add(req.FileName, out)
	return out, nil
}

// suggestResult is the payload of rust.suggest: each suggestion carries a
// unified diff against the submitted code when its replacement differs.
type suggestResult struct {
	Suggestions []suggestionPatch `json:"suggestions"`
	Explanation string            `json:"explanation"`
	Degraded    bool              `json:"degraded,omitempty"`
}

type suggestionPatch struct {
	Suggestion
	Diff string `json:"diff,omitempty"`
}

func (s *Service) suggest(ctx context.Context, args json.RawMessage) (any, error) {
	req, err := decodeRequest(args)
	if err != nil {
		return nil, err
	}

	out := s.bridge.Analyze(ctx, req)
	s.history.Add(req.FileName, out)

	suggestions := out.Suggestions
	if len(suggestions) == 0 && !out.Degraded {
		suggestions = quickSuggestions(req.Code)
		s.logger.Debug("analyzer returned no suggestions, using heuristics",
			slog.Int("suggestions", len(suggestions)))
	}

	patches := make([]suggestionPatch, 0, len(suggestions))
	for _, sugg := range suggestions {
		patch := suggestionPatch{Suggestion: sugg}
		if sugg.Code != "" && sugg.Code != req.Code {
			patch.Diff = unifiedDiff(req.Code, applySuggestion(req.Code, sugg))
		}
		patches = append(patches, patch)
	}

	return suggestResult{
		Suggestions: patches,
		Explanation: out.Explanation,
		Degraded:    out.Degraded,
	}, nil
}

type explainResult struct {
	Explanation string       `json:"explanation"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Degraded    bool         `json:"degraded,omitempty"`
}

func (s *Service) explain(ctx context.Context, args json.RawMessage) (any, error) {
	req, err := decodeRequest(args)
	if err != nil {
		return nil, err
	}

	out := s.bridge.Analyze(ctx, req)
	s.history.Add(req.FileName, out)

	explanation := out.Explanation
	if explanation == "" {
		explanation = summarize(out)
	}

	return explainResult{
		Explanation: explanation,
		Diagnostics: out.Diagnostics,
		Degraded:    out.Degraded,
	}, nil
}

type historyResult struct {
	Entries []HistoryEntry `json:"entries"`
}

func (s *Service) recent(_ context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Pattern string `json:"pattern"`
		Limit   int    `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history params: %w", err)
		}
	}

	entries, err := s.history.Recent(params.Pattern, params.Limit)
	if err != nil {
		return nil, rustmcp.ResponseError{
			Code:    rustmcp.CodeInvalidParams,
			Message: err.Error(),
		}
	}
	return historyResult{Entries: entries}, nil
}

func decodeRequest(args json.RawMessage) (Request, error) {
	var req Request
	if err := json.Unmarshal(args, &req); err != nil {
		return Request{}, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	return req, nil
}

// applySuggestion substitutes the suggestion's replacement line into the
// code when the suggestion targets a single line, so the diff shows the
// change in context. Whole-snippet suggestions are used as-is.
func applySuggestion(code string, sugg Suggestion) string {
	if sugg.Range == nil {
		return sugg.Code
	}
	lines := strings.Split(code, "\n")
	i := sugg.Range.Start.Line
	if i < 0 || i >= len(lines) {
		return sugg.Code
	}
	lines[i] = sugg.Code
	return strings.Join(lines, "\n")
}

func unifiedDiff(original, proposed string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, proposed, true)
	patches := dmp.PatchMake(original, diffs)
	return dmp.PatchToText(patches)
}
