package compact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/tokens"
)

func msg(role domain.Role, content string) domain.Message {
	return domain.Message{Role: role, Content: content}
}

func TestCompactReturnsUnchangedWhenUnderBudget(t *testing.T) {
	messages := []domain.Message{
		msg(domain.RoleSystem, "you are a helpful agent"),
		msg(domain.RoleUser, "hello"),
		msg(domain.RoleAssistant, "hi there"),
	}
	out := Compact(messages, 10000)
	require.Equal(t, messages, out)
}

func TestCompactRetainsAnchorAndTail(t *testing.T) {
	var messages []domain.Message
	messages = append(messages, msg(domain.RoleSystem, "system anchor message"))
	for i := 0; i < 40; i++ {
		messages = append(messages, msg(domain.RoleUser, strings.Repeat("filler content words here ", 30)))
		messages = append(messages, msg(domain.RoleAssistant, strings.Repeat("response content words here ", 30)))
	}
	messages = append(messages, msg(domain.RoleUser, "final question"))

	out := Compact(messages, 200)

	require.Equal(t, domain.RoleSystem, out[0].Role)
	require.Equal(t, "system anchor message", out[0].Content)

	last := out[len(out)-1]
	require.Equal(t, domain.RoleUser, last.Role)
	require.Equal(t, "final question", last.Content)
}

func TestCompactNeverDropsLastUserTurn(t *testing.T) {
	var messages []domain.Message
	for i := 0; i < 100; i++ {
		messages = append(messages, msg(domain.RoleUser, strings.Repeat("x", 200)))
	}
	messages = append(messages, msg(domain.RoleUser, "the actual last user turn"))

	out := Compact(messages, 50)

	found := false
	for _, m := range out {
		if m.Content == "the actual last user turn" {
			found = true
		}
	}
	require.True(t, found)
}

func TestCompactOutputOrderingPreserved(t *testing.T) {
	var messages []domain.Message
	messages = append(messages, msg(domain.RoleSystem, "anchor"))
	for i := 0; i < 20; i++ {
		messages = append(messages, msg(domain.RoleUser, strings.Repeat("content ", 50)))
	}
	out := Compact(messages, 300)

	// System anchor must come first, and no role should appear in a
	// position earlier than a message that was originally before it save
	// for collapsing.
	require.Equal(t, domain.RoleSystem, out[0].Role)
}

func TestCompactShrinksUnderExtremeBudget(t *testing.T) {
	var messages []domain.Message
	messages = append(messages, msg(domain.RoleSystem, "anchor"))
	for i := 0; i < 50; i++ {
		messages = append(messages, msg(domain.RoleUser, strings.Repeat("word ", 100)))
	}
	messages = append(messages, msg(domain.RoleUser, "final"))

	out := Compact(messages, 30)
	require.LessOrEqual(t, tokens.EstimateMessages(out), tokens.EstimateMessages(messages))
}
