package rustmcp_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rustmcp "github.com/MaxParisotto/rust-mcp-server"
)

func noopHandler(context.Context, json.RawMessage) (any, error) {
	return nil, nil
}

func TestRegistryRegister(t *testing.T) {
	registry := rustmcp.NewRegistry()

	require.NoError(t, registry.Register(rustmcp.Tool{
		Name:    "a.tool",
		Handler: noopHandler,
	}))

	assert.Error(t, registry.Register(rustmcp.Tool{Handler: noopHandler}),
		"empty name must be rejected")
	assert.Error(t, registry.Register(rustmcp.Tool{Name: "no.handler"}),
		"missing handler must be rejected")
	assert.Error(t, registry.Register(rustmcp.Tool{Name: "a.tool", Handler: noopHandler}),
		"duplicate name must be rejected")

	tool, ok := registry.Lookup("a.tool")
	require.True(t, ok)
	assert.Equal(t, "a.tool", tool.Name)

	_, ok = registry.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistryValidateArguments(t *testing.T) {
	registry := rustmcp.NewRegistry()
	require.NoError(t, registry.Register(rustmcp.Tool{
		Name: "analyze",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"code":     {Type: "string"},
				"fileName": {Type: "string"},
			},
			Required: []string{"code"},
		},
		Handler: noopHandler,
	}))
	require.NoError(t, registry.Register(rustmcp.Tool{
		Name:    "unschemaed",
		Handler: noopHandler,
	}))

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr bool
	}{
		{name: "valid", tool: "analyze", args: `{"code":"fn main() {}"}`},
		{name: "valid with optional", tool: "analyze", args: `{"code":"","fileName":"main.rs"}`},
		{name: "missing required", tool: "analyze", args: `{"fileName":"main.rs"}`, wantErr: true},
		{name: "wrong type", tool: "analyze", args: `{"code":42}`, wantErr: true},
		{name: "empty args fail required", tool: "analyze", args: ``, wantErr: true},
		{name: "not json", tool: "analyze", args: `{{`, wantErr: true},
		{name: "unknown tool", tool: "missing", args: `{}`, wantErr: true},
		{name: "no schema accepts anything", tool: "unschemaed", args: `{"whatever":true}`},
		{name: "no schema accepts empty", tool: "unschemaed", args: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.ValidateArguments(tt.tool, json.RawMessage(tt.args))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistryToolsPreservesOrder(t *testing.T) {
	registry := rustmcp.NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, registry.Register(rustmcp.Tool{Name: name, Handler: noopHandler}))
	}

	infos := registry.Tools()
	require.Len(t, infos, 3)
	assert.Equal(t, "c", infos[0].Name)
	assert.Equal(t, "a", infos[1].Name)
	assert.Equal(t, "b", infos[2].Name)
}

func TestRegistryResources(t *testing.T) {
	registry := rustmcp.NewRegistry()
	assert.Empty(t, registry.Resources())

	registry.AddResource(rustmcp.Resource{Name: "usage", URI: "test://usage"})
	require.Len(t, registry.Resources(), 1)
	assert.Equal(t, "usage", registry.Resources()[0].Name)
}
