package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/atelier-ai/atelier/internal/domain/entity"
)

func seedDialogue(msgs *memMessages, session string, contents ...[2]string) {
	for _, pair := range contents {
		_ = msgs.Create(context.Background(), &entity.Message{
			SessionID: session,
			Role:      pair[0],
			Content:   pair[1],
		})
	}
}

func TestBuilderPairsActionsWithObservations(t *testing.T) {
	msgs := &memMessages{}
	steps := &memSteps{}
	seedDialogue(msgs, "s1",
		[2]string{entity.RoleUser, "list the files"},
		[2]string{entity.RoleAssistant, "done"},
	)
	steps.steps = []*entity.AgentStep{
		{MessageID: 2, Type: entity.StepAction, Sequence: 1,
			Metadata: map[string]interface{}{"tool": "run_shell", "input": "ls"}},
		{MessageID: 2, Type: entity.StepObservation, Sequence: 2, Content: "a.txt b.txt",
			Metadata: map[string]interface{}{"tool": "run_shell"}},
	}

	builder := NewBuilder(msgs, steps, nil, DefaultTruncateConfig())
	history, err := builder.Build(context.Background(), BuildInput{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}

	// user, assistant-with-tool-call, tool, assistant
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	call := history[1]
	if len(call.ToolCalls) != 1 || call.ToolCalls[0].Name != "run_shell" || call.ToolCalls[0].Arguments != "ls" {
		t.Errorf("tool call message = %+v", call)
	}
	toolMsg := history[2]
	if toolMsg.Role != entity.RoleTool || toolMsg.Content != "a.txt b.txt" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	if toolMsg.ToolCallID != call.ToolCalls[0].ID {
		t.Error("observation must be correlated to its action's call id")
	}
}

func TestBuilderFabricatesCallForOrphanObservation(t *testing.T) {
	msgs := &memMessages{}
	steps := &memSteps{}
	seedDialogue(msgs, "s1",
		[2]string{entity.RoleUser, "hello"},
		[2]string{entity.RoleAssistant, "answer"},
	)
	steps.steps = []*entity.AgentStep{
		{MessageID: 2, Type: entity.StepObservation, Sequence: 0, Content: "orphan result",
			Metadata: map[string]interface{}{"tool": "calc"}},
	}

	builder := NewBuilder(msgs, steps, nil, DefaultTruncateConfig())
	history, err := builder.Build(context.Background(), BuildInput{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}

	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	fabricated := history[1]
	if len(fabricated.ToolCalls) != 1 || fabricated.ToolCalls[0].Arguments != "" {
		t.Errorf("fabricated call = %+v, want empty arguments", fabricated)
	}
	if history[2].ToolCallID != fabricated.ToolCalls[0].ID {
		t.Error("orphan observation must pair with the fabricated call")
	}
}

func TestBuilderSkipsEmptyAssistantAndCurrentUser(t *testing.T) {
	msgs := &memMessages{}
	seedDialogue(msgs, "s1",
		[2]string{entity.RoleUser, "first"},
		[2]string{entity.RoleAssistant, ""},
		[2]string{entity.RoleUser, "current turn"},
	)

	builder := NewBuilder(msgs, &memSteps{}, nil, DefaultTruncateConfig())
	history, err := builder.Build(context.Background(), BuildInput{
		SessionID:            "s1",
		CurrentUserMessageID: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "first" {
		t.Errorf("history = %+v, want only the first user message", history)
	}
}

func TestBuilderPrependsSummary(t *testing.T) {
	msgs := &memMessages{}
	seedDialogue(msgs, "s1", [2]string{entity.RoleUser, "hi"})

	builder := NewBuilder(msgs, &memSteps{}, nil, DefaultTruncateConfig())
	history, err := builder.Build(context.Background(), BuildInput{
		SessionID: "s1",
		Summary:   "we discussed parsers",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if !strings.HasPrefix(history[0].Content, SummaryMarker) {
		t.Errorf("first message = %q, want summary marker prefix", history[0].Content)
	}
}

func TestBuilderTruncatesLongToolOutput(t *testing.T) {
	msgs := &memMessages{}
	steps := &memSteps{}
	seedDialogue(msgs, "s1",
		[2]string{entity.RoleUser, "q"},
		[2]string{entity.RoleAssistant, "a"},
	)
	long := strings.Repeat("x", 5000)
	steps.steps = []*entity.AgentStep{
		{MessageID: 2, Type: entity.StepAction, Sequence: 0,
			Metadata: map[string]interface{}{"tool": "read_file", "input": "big.txt"}},
		{MessageID: 2, Type: entity.StepObservation, Sequence: 1, Content: long,
			Metadata: map[string]interface{}{"tool": "read_file"}},
	}

	builder := NewBuilder(msgs, steps, nil, DefaultTruncateConfig())
	history, err := builder.Build(context.Background(), BuildInput{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	var toolContent string
	for _, msg := range history {
		if msg.Role == entity.RoleTool {
			toolContent = msg.Content
		}
	}
	if !strings.Contains(toolContent, TruncationMarkerStart) {
		t.Error("long tool output must be middle-truncated")
	}
	if len(toolContent) >= len(long) {
		t.Error("truncated output must be shorter than the original")
	}
}
