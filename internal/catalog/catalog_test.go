package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesEmbeddedCatalog(t *testing.T) {
	tools, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, tools)

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.Name] = true
	}

	for _, want := range []string{
		"add-extension",
		"delete-extension",
		"get-extension-details",
		"add-user",
		"get-organizations",
		"call-report",
	} {
		assert.True(t, names[want], "catalog missing %s", want)
	}
}

func TestLoad_EveryEntryIsComplete(t *testing.T) {
	tools, err := Load()
	require.NoError(t, err)

	for _, tool := range tools {
		assert.NotEmpty(t, tool.Description, "tool %s has no description", tool.Name)
		assert.NotEmpty(t, tool.Service, "tool %s has no service", tool.Name)
		assert.NotEmpty(t, tool.Method, "tool %s has no method", tool.Name)
		assert.NotEmpty(t, tool.AllowedKeys, "tool %s allows no keys", tool.Name)

		// Every documented property must be forwardable, and every
		// required key documented.
		for _, p := range tool.Properties {
			assert.True(t, tool.Allows(p.Name), "tool %s documents %s but does not allow it", tool.Name, p.Name)
		}

		for _, req := range tool.Required {
			assert.True(t, tool.Allows(req), "tool %s requires %s but does not allow it", tool.Name, req)
		}
	}
}

func TestAllows(t *testing.T) {
	tool := Tool{AllowedKeys: []string{"a", "b"}}

	assert.True(t, tool.Allows("a"))
	assert.True(t, tool.Allows("b"))
	assert.False(t, tool.Allows("c"))
	assert.False(t, tool.Allows(""))
}

func TestInputSchema(t *testing.T) {
	min := float64(0)
	tool := Tool{
		Name:     "test-tool",
		Required: []string{"id"},
		Properties: []Property{
			{Name: "id", Type: "integer", Description: "the ID", Minimum: &min},
			{Name: "status", Type: "string", Enum: []string{"enabled", "disabled"}},
			{Name: "verbose", Type: "boolean", Default: false},
		},
	}

	schema, err := tool.InputSchema()
	require.NoError(t, err)

	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"id"}, schema.Required)
	require.Len(t, schema.Properties, 3)

	assert.Equal(t, "integer", schema.Properties["id"].Type)
	assert.Equal(t, &min, schema.Properties["id"].Minimum)
	assert.Len(t, schema.Properties["status"].Enum, 2)
	assert.Equal(t, "false", string(schema.Properties["verbose"].Default))

	// Unknown arguments are rejected by the schema itself.
	require.NotNil(t, schema.AdditionalProperties)
	assert.NotNil(t, schema.AdditionalProperties.Not)
}

func TestInputSchema_AllCatalogEntries(t *testing.T) {
	tools, err := Load()
	require.NoError(t, err)

	for _, tool := range tools {
		schema, err := tool.InputSchema()
		require.NoError(t, err, "tool %s", tool.Name)
		assert.Len(t, schema.Properties, len(tool.Properties), "tool %s", tool.Name)
	}
}
