package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/tool"
	"go.uber.org/zap"
)

// scriptedModel replays canned responses, streaming content as two deltas.
type scriptedModel struct {
	replies []*ModelResponse
	calls   int
	block   chan struct{} // when set, Stream blocks until ctx is done
}

func (m *scriptedModel) Generate(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
	return m.Stream(ctx, req, make(chan StreamEvent, 16))
}

func (m *scriptedModel) Stream(ctx context.Context, req *ModelRequest, eventCh chan<- StreamEvent) (*ModelResponse, error) {
	if m.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.block:
		}
	}
	if m.calls >= len(m.replies) {
		return nil, fmt.Errorf("no scripted reply for call %d", m.calls)
	}
	resp := m.replies[m.calls]
	m.calls++

	content := resp.Content
	if content != "" {
		half := len(content) / 2
		eventCh <- StreamEvent{Type: StreamContent, Text: content[:half]}
		eventCh <- StreamEvent{Type: StreamContent, Text: content[half:]}
	}
	eventCh <- StreamEvent{Type: StreamDone}
	return resp, nil
}

// stubTool is a minimal tool for dispatcher fakes.
type stubTool struct {
	name string
	fn   func(input string) (string, error)
}

func (t *stubTool) Name() string                 { return t.name }
func (t *stubTool) Description() string          { return "stub" }
func (t *stubTool) Kind() tool.Kind              { return tool.KindCompute }
func (t *stubTool) Parameters() []tool.Parameter { return nil }
func (t *stubTool) Execute(ctx context.Context, tc tool.Context, args tool.Args) (string, error) {
	return t.fn(args.Raw)
}

// fakeDispatcher resolves stub tools case-insensitively.
type fakeDispatcher struct {
	tools map[string]*stubTool
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, name, rawInput string, tc tool.Context) (string, error) {
	t, ok := d.tools[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
	}
	return t.fn(rawInput)
}

func (d *fakeDispatcher) Definitions() []tool.Definition {
	defs := make([]tool.Definition, 0, len(d.tools))
	for _, t := range d.tools {
		defs = append(defs, tool.DefinitionFor(t))
	}
	return defs
}

func (d *fakeDispatcher) Tools() []tool.Tool {
	tools := make([]tool.Tool, 0, len(d.tools))
	for _, t := range d.tools {
		tools = append(tools, t)
	}
	return tools
}

func collectSteps(ch <-chan entity.AgentStep) []entity.AgentStep {
	var steps []entity.AgentStep
	for step := range ch {
		steps = append(steps, step)
	}
	return steps
}

func nonDelta(steps []entity.AgentStep) []entity.AgentStep {
	var out []entity.AgentStep
	for _, s := range steps {
		if !s.Type.IsDelta() {
			out = append(out, s)
		}
	}
	return out
}

func kinds(steps []entity.AgentStep) []entity.StepType {
	out := make([]entity.StepType, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Type)
	}
	return out
}

func newTestLoop(model ModelClient, dispatcher ToolDispatcher, maxIter int) *AgentLoop {
	return NewAgentLoop(model, dispatcher, nil, AgentLoopConfig{MaxIterations: maxIter}, zap.NewNop())
}

func TestLoopSimpleAnswer(t *testing.T) {
	model := &scriptedModel{replies: []*ModelResponse{{Content: "Hello."}}}
	loop := newTestLoop(model, &fakeDispatcher{tools: map[string]*stubTool{}}, 5)

	steps := collectSteps(loop.Run(context.Background(), RunInput{UserText: "hi", Stop: NewStopSignal()}))

	var deltas int
	for _, s := range steps {
		if s.Type == entity.StepContentDelta {
			deltas++
		}
	}
	if deltas == 0 {
		t.Error("expected content deltas before the answer")
	}

	final := nonDelta(steps)
	if len(final) != 1 || final[0].Type != entity.StepAnswer {
		t.Fatalf("non-delta kinds = %v, want [answer]", kinds(final))
	}
	if final[0].Content != "Hello." {
		t.Errorf("answer content = %q, want %q", final[0].Content, "Hello.")
	}
}

func TestLoopOneToolRoundTrip(t *testing.T) {
	model := &scriptedModel{replies: []*ModelResponse{
		{Content: "Thought: need math\nAction: calc\nAction Input: 2+2"},
		{Content: "Thought: I now know the final answer\nFinal Answer: 4"},
	}}
	dispatcher := &fakeDispatcher{tools: map[string]*stubTool{
		"calc": {name: "calc", fn: func(input string) (string, error) {
			if input != "2+2" {
				return "", fmt.Errorf("unexpected input %q", input)
			}
			return "4", nil
		}},
	}}
	loop := newTestLoop(model, dispatcher, 5)

	steps := nonDelta(collectSteps(loop.Run(context.Background(), RunInput{UserText: "what is 2+2", Stop: NewStopSignal()})))

	want := []entity.StepType{entity.StepThought, entity.StepAction, entity.StepObservation, entity.StepAnswer}
	got := kinds(steps)
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}
	if steps[2].Content != "4" {
		t.Errorf("observation = %q, want %q", steps[2].Content, "4")
	}
	if steps[3].Content != "4" {
		t.Errorf("answer = %q, want %q", steps[3].Content, "4")
	}
	if steps[1].MetaString("tool") != "calc" || steps[1].MetaString("input") != "2+2" {
		t.Errorf("action metadata = %v", steps[1].Metadata)
	}
}

func TestLoopUnknownTool(t *testing.T) {
	model := &scriptedModel{replies: []*ModelResponse{
		{Content: "Thought: try it\nAction: banana\nAction Input: x"},
		{Content: "Thought: try again\nAction: banana\nAction Input: x"},
	}}
	loop := newTestLoop(model, &fakeDispatcher{tools: map[string]*stubTool{}}, 2)

	steps := nonDelta(collectSteps(loop.Run(context.Background(), RunInput{UserText: "go", Stop: NewStopSignal()})))

	got := kinds(steps)
	want := []entity.StepType{
		entity.StepThought, entity.StepAction, entity.StepError,
		entity.StepThought, entity.StepAction, entity.StepError,
		entity.StepAnswer,
	}
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}
	if !strings.Contains(steps[2].Content, "tool not found") {
		t.Errorf("error content = %q, want tool not found", steps[2].Content)
	}
	last := steps[len(steps)-1]
	if v, _ := last.Metadata["max_iterations_reached"].(bool); !v {
		t.Error("synthetic answer should note exhaustion")
	}
}

func TestLoopFinalAnswerWinsOverAction(t *testing.T) {
	model := &scriptedModel{replies: []*ModelResponse{
		{Content: "Action: calc\nAction Input: 2+2\nFinal Answer: already know"},
	}}
	dispatched := false
	dispatcher := &fakeDispatcher{tools: map[string]*stubTool{
		"calc": {name: "calc", fn: func(string) (string, error) {
			dispatched = true
			return "4", nil
		}},
	}}
	loop := newTestLoop(model, dispatcher, 5)

	steps := nonDelta(collectSteps(loop.Run(context.Background(), RunInput{UserText: "q", Stop: NewStopSignal()})))
	if len(steps) != 1 || steps[0].Type != entity.StepAnswer {
		t.Fatalf("kinds = %v, want [answer]", kinds(steps))
	}
	if dispatched {
		t.Error("tool must not run when a final answer is present")
	}
}

func TestLoopEmptyActionInput(t *testing.T) {
	model := &scriptedModel{replies: []*ModelResponse{
		{Content: "Thought: hmm\nAction: calc"},
		{Content: "Final Answer: done"},
	}}
	loop := newTestLoop(model, &fakeDispatcher{tools: map[string]*stubTool{}}, 3)

	steps := nonDelta(collectSteps(loop.Run(context.Background(), RunInput{UserText: "q", Stop: NewStopSignal()})))
	got := kinds(steps)
	want := []entity.StepType{entity.StepThought, entity.StepAnswer}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
}

func TestLoopNativeToolCalls(t *testing.T) {
	model := &scriptedModel{replies: []*ModelResponse{
		{ToolCalls: []ToolCallPayload{{ID: "c1", Name: "calc", Arguments: `{"expression":"2+2"}`}}},
		{Content: "Final Answer: 4"},
	}}
	dispatcher := &fakeDispatcher{tools: map[string]*stubTool{
		"calc": {name: "calc", fn: func(string) (string, error) { return "4", nil }},
	}}
	loop := newTestLoop(model, dispatcher, 5)

	steps := nonDelta(collectSteps(loop.Run(context.Background(), RunInput{UserText: "q", Stop: NewStopSignal()})))
	got := kinds(steps)
	want := []entity.StepType{entity.StepAction, entity.StepObservation, entity.StepAnswer}
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
}

func TestLoopStopBeforeSecondIteration(t *testing.T) {
	stop := NewStopSignal()
	model := &scriptedModel{replies: []*ModelResponse{
		{Content: "Thought: step one\nAction: calc\nAction Input: 1+1"},
		{Content: "Final Answer: never reached"},
	}}
	dispatcher := &fakeDispatcher{tools: map[string]*stubTool{
		"calc": {name: "calc", fn: func(string) (string, error) {
			stop.Stop()
			return "2", nil
		}},
	}}
	loop := newTestLoop(model, dispatcher, 5)

	steps := collectSteps(loop.Run(context.Background(), RunInput{UserText: "q", Stop: stop}))
	for _, s := range steps {
		if s.Type == entity.StepAnswer {
			t.Fatal("no answer should be emitted after stop")
		}
	}
}

func TestLoopStopAbortsStreamingRead(t *testing.T) {
	stop := NewStopSignal()
	model := &scriptedModel{
		replies: []*ModelResponse{{Content: "never"}},
		block:   make(chan struct{}),
	}
	loop := newTestLoop(model, &fakeDispatcher{tools: map[string]*stubTool{}}, 5)

	ch := loop.Run(context.Background(), RunInput{UserText: "q", Stop: stop})
	time.Sleep(20 * time.Millisecond)
	stop.Stop()

	done := make(chan []entity.AgentStep, 1)
	go func() { done <- collectSteps(ch) }()
	select {
	case steps := <-done:
		if len(nonDelta(steps)) != 0 {
			t.Errorf("steps after stop = %v", kinds(steps))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not terminate after stop")
	}
}
