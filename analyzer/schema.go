package analyzer

import "github.com/google/jsonschema-go/jsonschema"

var codeRequestSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"code": {
			Type:        "string",
			Description: "Rust source code to analyze",
		},
		"fileName": {
			Type:        "string",
			Description: "Optional file name used for context and history",
		},
	},
	Required: []string{"code"},
}

var historyRequestSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"pattern": {
			Type:        "string",
			Description: "Optional glob filter applied to recorded file names",
		},
		"limit": {
			Type:        "integer",
			Description: "Maximum number of entries to return; all when omitted",
		},
	},
}
