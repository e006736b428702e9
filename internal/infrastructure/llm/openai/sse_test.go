package openai

import (
	"context"
	"strings"
	"testing"

	"github.com/atelier-ai/atelier/internal/domain/service"
	"go.uber.org/zap"
)

func TestParseSSEStreamText(t *testing.T) {
	body := strings.Join([]string{
		`data: {"model":"test-model","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{"content":"lo."}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	eventCh := make(chan service.StreamEvent, 32)
	resp, err := ParseSSEStream(context.Background(), strings.NewReader(body), eventCh, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Hello." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.ModelUsed != "test-model" {
		t.Errorf("model = %q", resp.ModelUsed)
	}
	if resp.TokensUsed != 12 {
		t.Errorf("tokens = %d", resp.TokensUsed)
	}

	close(eventCh)
	var deltas []string
	for ev := range eventCh {
		if ev.Type == service.StreamContent {
			deltas = append(deltas, ev.Text)
		}
	}
	if strings.Join(deltas, "") != "Hello." {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestParseSSEStreamToolCalls(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"calc","arguments":"{\"ex"}}]}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"pression\":\"2+2\"}"}}]}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	eventCh := make(chan service.StreamEvent, 32)
	resp, err := ParseSSEStream(context.Background(), strings.NewReader(body), eventCh, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "calc" {
		t.Errorf("call = %+v", call)
	}
	if call.Arguments != `{"expression":"2+2"}` {
		t.Errorf("arguments = %q", call.Arguments)
	}

	close(eventCh)
	fragments := 0
	for ev := range eventCh {
		if ev.Type == service.StreamToolCall {
			fragments++
		}
	}
	if fragments != 2 {
		t.Errorf("tool call delta events = %d, want 2", fragments)
	}
}

func TestParseSSEStreamReasoning(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"index":0,"delta":{"reasoning_content":"thinking..."}}]}`,
		``,
		`data: {"choices":[{"index":0,"delta":{"content":"answer"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	eventCh := make(chan service.StreamEvent, 32)
	resp, err := ParseSSEStream(context.Background(), strings.NewReader(body), eventCh, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Reasoning != "thinking..." {
		t.Errorf("reasoning = %q", resp.Reasoning)
	}
	if resp.Content != "answer" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestParseSSEStreamSkipsGarbage(t *testing.T) {
	body := strings.Join([]string{
		`: keepalive comment`,
		`data: {not json`,
		`data: {"choices":[{"index":0,"delta":{"content":"fine"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	eventCh := make(chan service.StreamEvent, 32)
	resp, err := ParseSSEStream(context.Background(), strings.NewReader(body), eventCh, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "fine" {
		t.Errorf("content = %q", resp.Content)
	}
}
