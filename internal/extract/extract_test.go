package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain object", `{"key": "value"}`, "value"},
		{"surrounding whitespace", "  \n  {\"key\": \"value\"}  \n  ", "value"},
		{"json fence", "```json\n{\"key\": \"value\"}\n```", "value"},
		{"plain fence", "```\n{\"key\": \"value\"}\n```", "value"},
		{"fence with prose", "Here is my answer:\n\n```json\n{\"key\": \"value\"}\n```\n\nLet me know!", "value"},
		{"json fence preferred over earlier fence", "```python\nprint(1)\n```\nthen\n```JSON\n{\"key\": \"value\"}\n```", "value"},
		{"unterminated fence", "```json\n{\"key\": \"value\"}", "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Extract(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec["key"])
		})
	}
}

func TestExtractNumbersDecodeAsFloat(t *testing.T) {
	rec, err := Extract(`{"num": 42}`)
	require.NoError(t, err)
	assert.Equal(t, float64(42), rec["num"])
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose", "not json at all"},
		{"array", `[1, 2, 3]`},
		{"null", "null"},
		{"truncated", `{"key": "val`},
		{"prose around bare object", `Sure! {"key": "value"} hope that helps`},
		{"empty fence", "```json\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Extract(tt.raw)
			assert.Nil(t, rec)
			assert.ErrorIs(t, err, ErrExtraction)
		})
	}
}

func TestText(t *testing.T) {
	doc, err := Text("```markdown\n# Title\n\nBody\n```")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody", doc)

	doc, err = Text("# Title\n\n```go\ncode\n```")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\n```go\ncode\n```", doc)

	_, err = Text("   ")
	assert.ErrorIs(t, err, ErrExtraction)
}
