package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, 1, opts.TurnLimit)
	assert.Equal(t, PermissionStrict, opts.PermissionMode)
	assert.Contains(t, opts.BetaFeatures, StructuredOutputsBeta)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		valid  bool
	}{
		{"defaults", func(o *Options) {}, true},
		{"zero turn limit", func(o *Options) { o.TurnLimit = 0 }, false},
		{"negative turn limit", func(o *Options) { o.TurnLimit = -1 }, false},
		{"zero output tokens", func(o *Options) { o.MaxOutputTokens = 0 }, false},
		{"negative input tokens", func(o *Options) { o.MaxInputTokens = -1 }, false},
		{"temperature too high", func(o *Options) { o.Temperature = 2.5 }, false},
		{"temperature too low", func(o *Options) { o.Temperature = -0.1 }, false},
		{"temperature upper bound", func(o *Options) { o.Temperature = 2.0 }, true},
		{"negative timeout", func(o *Options) { o.Timeout = -time.Second }, false},
		{"unknown permission mode", func(o *Options) { o.PermissionMode = "yolo" }, false},
		{"bypass mode", func(o *Options) { o.PermissionMode = PermissionBypass }, true},
		{"empty beta flag", func(o *Options) { o.BetaFeatures = []string{""} }, false},
		{"duplicate beta flag", func(o *Options) { o.BetaFeatures = []string{"a", "a"} }, false},
		{"turn limit above one", func(o *Options) { o.TurnLimit = 3 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, CodeInvalidConfig, CodeOf(err))
			}
		})
	}
}

func TestOptionsCloneIsolation(t *testing.T) {
	opts := DefaultOptions()
	opts.BetaFeatures = []string{"flag-a"}

	clone := opts.clone()
	clone.BetaFeatures[0] = "mutated"

	assert.Equal(t, "flag-a", opts.BetaFeatures[0])
}
