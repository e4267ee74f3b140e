// Package compact implements spec.md §4.6's message compaction, grounded
// on the teacher's domain/service/compaction.go: retain a leading system
// anchor plus the last N messages verbatim, collapse the middle run into a
// synthetic placeholder, and shrink further if the estimate still doesn't
// fit. Unlike the teacher, there is no LLM-summarization fallback path
// here — no component in this domain wires a provider into the
// compactor, so only the deterministic truncation path survives.
package compact

import (
	"fmt"
	"strings"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/tokens"
)

// KeepTail is the number of trailing messages always kept verbatim.
const KeepTail = 6

// Compact returns messages unchanged if their estimate already fits
// within budget. Otherwise it retains the leading system anchor (if any)
// and the last KeepTail messages verbatim, replaces the middle with a
// single synthetic placeholder message, and — if still over budget —
// truncates the placeholder's topic list and then the verbatim tail from
// its head. The last user turn is never dropped, and message ordering is
// always preserved.
func Compact(messages []domain.Message, budget int) []domain.Message {
	if tokens.EstimateMessages(messages) <= budget {
		return messages
	}

	anchorIdx := -1
	if len(messages) > 0 && messages[0].Role == domain.RoleSystem {
		anchorIdx = 0
	}

	tailStart := len(messages) - KeepTail
	if tailStart < anchorIdx+1 {
		tailStart = anchorIdx + 1
	}
	if tailStart < 0 {
		tailStart = 0
	}

	middle := messages[max(anchorIdx+1, 0):tailStart]
	tail := messages[tailStart:]
	tail = protectLastUserTurn(messages, tail, tailStart)

	out := make([]domain.Message, 0, len(messages))
	if anchorIdx == 0 {
		out = append(out, messages[0])
	}
	if len(middle) > 0 {
		out = append(out, placeholder(middle))
	}
	out = append(out, tail...)

	for tokens.EstimateMessages(out) > budget && len(out) > 0 {
		shrunk := false

		for i, m := range out {
			if strings.HasPrefix(m.Content, "[compacted:") {
				shortened := shortenPlaceholder(m.Content)
				if shortened != m.Content {
					out[i].Content = shortened
					shrunk = true
					break
				}
			}
		}
		if shrunk {
			continue
		}

		// Truncate verbatim tail from the head, but never drop the last
		// user turn.
		removeIdx := -1
		for i, m := range out {
			if i == 0 && anchorIdx == 0 {
				continue
			}
			if strings.HasPrefix(m.Content, "[compacted:") {
				continue
			}
			if i == len(out)-1 {
				break
			}
			if isLastUserTurn(out, i) {
				continue
			}
			removeIdx = i
			break
		}
		if removeIdx == -1 {
			break
		}
		out = append(out[:removeIdx], out[removeIdx+1:]...)
	}

	return out
}

func protectLastUserTurn(all []domain.Message, tail []domain.Message, tailStart int) []domain.Message {
	lastUserIdx := -1
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Role == domain.RoleUser {
			lastUserIdx = i
			break
		}
	}
	if lastUserIdx == -1 || lastUserIdx >= tailStart {
		return tail
	}
	// The last user turn fell into the collapsed middle; pull it back out
	// to the front of the tail so it's never summarized away.
	extended := make([]domain.Message, 0, len(tail)+1)
	extended = append(extended, all[lastUserIdx])
	extended = append(extended, tail...)
	return extended
}

func isLastUserTurn(messages []domain.Message, idx int) bool {
	if messages[idx].Role != domain.RoleUser {
		return false
	}
	for i := idx + 1; i < len(messages); i++ {
		if messages[i].Role == domain.RoleUser {
			return false
		}
	}
	return true
}

func placeholder(middle []domain.Message) domain.Message {
	topics := topicWords(middle)
	tokenCount := tokens.EstimateMessages(middle)
	return domain.Message{
		Role:    domain.RoleSystem,
		Content: fmt.Sprintf("[compacted: %d messages, %d tokens, topics: %s]", len(middle), tokenCount, strings.Join(topics, ", ")),
	}
}

func shortenPlaceholder(content string) string {
	idx := strings.Index(content, "topics: ")
	if idx == -1 {
		return content
	}
	prefix := content[:idx+len("topics: ")]
	topicsStr := strings.TrimSuffix(content[idx+len("topics: "):], "]")
	topics := strings.Split(topicsStr, ", ")
	if len(topics) <= 1 {
		return content
	}
	return prefix + strings.Join(topics[:len(topics)-1], ", ") + "]"
}

// topicWords extracts a short list of distinguishing words from the
// collapsed messages, favoring longer tokens as a cheap stand-in for
// keyword extraction.
func topicWords(messages []domain.Message) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range messages {
		for _, w := range strings.Fields(m.Content) {
			w = strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))
			if len(w) < 5 || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
			if len(out) >= 8 {
				return out
			}
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
