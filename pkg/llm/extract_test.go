package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_DirectParse(t *testing.T) {
	obj, preamble, ok := ExtractJSON(`{"intent": "qa", "response": "hello"}`)
	require.True(t, ok)
	assert.Empty(t, preamble)
	assert.Equal(t, "qa", obj["intent"])
}

func TestExtractJSON_FencedBlock(t *testing.T) {
	raw := "Here is the plan:\n```json\n{\"intent\": \"create_graph\", \"name\": \"Plan\"}\n```"
	obj, preamble, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, "create_graph", obj["intent"])
	assert.Equal(t, "Here is the plan:", preamble)
}

func TestExtractJSON_BareFence(t *testing.T) {
	raw := "```\n{\"intent\": \"analyze\"}\n```"
	obj, _, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, "analyze", obj["intent"])
}

func TestExtractJSON_IntentScanBalancedBraces(t *testing.T) {
	raw := `Sure! I'll make that node. {"intent": "create_node", "node": {"name": "A {brace} name"}} Anything else?`
	obj, preamble, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, "create_node", obj["intent"])
	assert.Equal(t, "Sure! I'll make that node.", preamble)
	node := obj["node"].(map[string]any)
	assert.Equal(t, "A {brace} name", node["name"])
}

func TestExtractJSON_FirstBraceGreedy(t *testing.T) {
	raw := `Some thoughts first. {"answer": 42, "nested": {"ok": true}}`
	obj, preamble, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, 42.0, obj["answer"])
	assert.Equal(t, "Some thoughts first.", preamble)
}

func TestExtractJSON_EscapedQuotesInValues(t *testing.T) {
	raw := `{"intent": "qa", "response": "she said \"hi\" {and left}"}`
	obj, _, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, `she said "hi" {and left}`, obj["response"])
}

func TestExtractJSON_NoJSON(t *testing.T) {
	_, _, ok := ExtractJSON("just a plain sentence with no braces")
	assert.False(t, ok)

	_, _, ok = ExtractJSON("unbalanced { \"intent\": \"qa\"")
	assert.False(t, ok)
}
