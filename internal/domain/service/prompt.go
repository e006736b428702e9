package service

import (
	"fmt"
	"strings"

	"github.com/atelier-ai/atelier/internal/domain/tool"
)

// Scratchpad is the per-turn ordered log of prior steps, re-rendered into
// every model call of the same turn.
type Scratchpad struct {
	entries []string
}

// Append adds one formatted entry.
func (s *Scratchpad) Append(entry string) {
	s.entries = append(s.entries, entry)
}

// Len returns the number of entries.
func (s *Scratchpad) Len() int { return len(s.entries) }

// Render joins the entries for prompt inclusion.
func (s *Scratchpad) Render() string {
	return strings.Join(s.entries, "\n")
}

// BuildReActPrompt assembles the system prompt for one loop iteration:
// the tool list (name plus one-line description), the required reply format,
// and the accumulated scratchpad.
func BuildReActPrompt(tools []tool.Tool, scratchpad *Scratchpad) string {
	var toolLines []string
	for _, t := range tools {
		toolLines = append(toolLines, fmt.Sprintf("- %s: %s", t.Name(), t.Description()))
	}
	toolText := strings.Join(toolLines, "\n")
	if toolText == "" {
		toolText = "(no tools available)"
	}

	scratchpadText := scratchpad.Render()
	if scratchpadText == "" {
		scratchpadText = "(this is the first step)"
	}

	var sb strings.Builder
	sb.WriteString("You are an assistant that reasons and acts in steps.\n\n")
	sb.WriteString("Available tools:\n")
	sb.WriteString(toolText)
	sb.WriteString("\n\nAnswer using exactly this format:\n\n")
	sb.WriteString("Thought: your reasoning about the next step\n")
	sb.WriteString("Action: tool name\n")
	sb.WriteString("Action Input: input for the tool\n")
	sb.WriteString("Observation: result returned by the tool\n\n")
	sb.WriteString("(repeat Thought/Action/Action Input/Observation as needed)\n\n")
	sb.WriteString("Thought: I now know the final answer\n")
	sb.WriteString("Final Answer: the answer to the user\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("1. Use one tool at a time.\n")
	sb.WriteString("2. Action must be one of the tools listed above.\n")
	sb.WriteString("3. Keep Action Input concise; JSON objects are accepted.\n")
	sb.WriteString("4. When no tool is needed, reply with Final Answer directly.\n\n")
	sb.WriteString("Previous steps:\n")
	sb.WriteString(scratchpadText)

	return sb.String()
}
