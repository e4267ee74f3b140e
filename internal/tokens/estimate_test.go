package tokens

import (
	"testing"

	"github.com/iterflow/agent/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 1, Estimate("ab"))
	assert.Equal(t, 1, Estimate("abcd"))
	assert.Equal(t, 2, Estimate("abcde"))
}

func TestEstimateMessagesIncludesOverheadAndToolCalls(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "hello world"},
		{
			Role: domain.RoleAssistant,
			ToolCalls: []domain.ToolCall{
				{ID: "1", Name: "search", Arguments: []byte(`{"q":"go"}`)},
			},
		},
	}
	got := EstimateMessages(msgs)
	want := Estimate("hello world") + perMessageOverhead +
		Estimate("search") + Estimate(`{"q":"go"}`) + perMessageOverhead
	assert.Equal(t, want, got)
}

func TestEstimateMessagesEmpty(t *testing.T) {
	assert.Equal(t, 0, EstimateMessages(nil))
}
