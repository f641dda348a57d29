package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trevorprater/structquery/schema"
)

func TestComposeBuildsImmutableRequest(t *testing.T) {
	canonical := productSchema()

	req, err := Compose("Extract the product", canonical, DefaultOptions())
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID())
	assert.Equal(t, "Extract the product", req.Prompt())
	assert.Same(t, canonical, req.Schema())
	assert.Greater(t, req.EstimatedInputTokens(), 0)

	// The options snapshot is detached from the caller's copy.
	got := req.Options()
	got.Model = "something-else"
	assert.NotEqual(t, got.Model, req.Options().Model)
}

func TestComposeDistinctIDs(t *testing.T) {
	canonical := productSchema()

	a, err := Compose("p", canonical, DefaultOptions())
	require.NoError(t, err)
	b, err := Compose("p", canonical, DefaultOptions())
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
}

func TestComposeRejectsBadInput(t *testing.T) {
	canonical := productSchema()

	tests := []struct {
		name   string
		prompt string
		schema *schema.JSONSchema
		mutate func(*Options)
	}{
		{"empty prompt", "", canonical, nil},
		{"whitespace prompt", "   \n\t", canonical, nil},
		{"nil schema", "prompt", nil, nil},
		{"invalid options", "prompt", canonical, func(o *Options) { o.TurnLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			if tt.mutate != nil {
				tt.mutate(&opts)
			}
			_, err := Compose(tt.prompt, tt.schema, opts)
			require.Error(t, err)
			assert.Equal(t, CodeInvalidConfig, CodeOf(err))
		})
	}
}

func TestComposeInputTokenBudget(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxInputTokens = 10

	_, err := Compose(strings.Repeat("evidence ", 200), productSchema(), opts)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidConfig, CodeOf(err))

	opts.MaxInputTokens = 100000
	_, err = Compose("short prompt", productSchema(), opts)
	assert.NoError(t, err)
}

func TestInstructionPromptEmbedsSchema(t *testing.T) {
	req, err := Compose("Extract", productSchema(), DefaultOptions())
	require.NoError(t, err)

	system, err := req.InstructionPrompt()
	require.NoError(t, err)
	assert.Contains(t, system, `"price"`)
	assert.Contains(t, system, "valid JSON")
	assert.Contains(t, system, "ONLY the JSON object")
}
