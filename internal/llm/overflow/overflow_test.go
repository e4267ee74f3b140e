package overflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyDetectsOverflowPhrasings(t *testing.T) {
	cases := []string{
		"Error: maximum context length exceeded",
		"400: prompt is too long for this model",
		"context_length_exceeded: reduce your input",
	}
	for _, c := range cases {
		info, ok := Classify(errors.New(c), "anthropic", "claude-3")
		require.True(t, ok, c)
		require.Equal(t, "anthropic", info.Provider)
	}
}

func TestClassifyIgnoresUnrelatedErrors(t *testing.T) {
	_, ok := Classify(errors.New("429 rate limit exceeded"), "openai", "gpt-4")
	require.False(t, ok)
}

func TestClassifyNilError(t *testing.T) {
	_, ok := Classify(nil, "a", "b")
	require.False(t, ok)
}
