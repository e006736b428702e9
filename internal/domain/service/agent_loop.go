package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/tool"
	"go.uber.org/zap"
)

// AgentLoopConfig bounds a single turn of the reason-act-observe loop.
type AgentLoopConfig struct {
	MaxIterations int
	Model         string
	Temperature   float64
	MaxTokens     int
}

// DefaultAgentLoopConfig returns production defaults.
func DefaultAgentLoopConfig() AgentLoopConfig {
	return AgentLoopConfig{
		MaxIterations: 5,
		Temperature:   0.7,
	}
}

// ToolDispatcher is the loop's view of tool execution.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name, rawInput string, tc tool.Context) (string, error)
	Definitions() []tool.Definition
	Tools() []tool.Tool
}

// CallRecorder persists one LLMCall row per model invocation. Implementations
// must tolerate failure: recording is best-effort and never aborts a turn.
type CallRecorder interface {
	RecordCall(ctx context.Context, call *entity.LLMCall) error
}

// RunInput carries everything one turn of the loop needs.
type RunInput struct {
	SessionID          string
	AssistantMessageID int64
	UserText           string
	History            []ModelMessage
	ToolCtx            tool.Context
	Stop               *StopSignal
}

// AgentLoop drives the finite-iteration reason-act-observe state machine and
// emits a lazy sequence of agent steps over a channel.
type AgentLoop struct {
	model      ModelClient
	dispatcher ToolDispatcher
	recorder   CallRecorder
	config     AgentLoopConfig
	logger     *zap.Logger
}

// NewAgentLoop creates a loop over the given model client and dispatcher.
// recorder may be nil.
func NewAgentLoop(model ModelClient, dispatcher ToolDispatcher, recorder CallRecorder, config AgentLoopConfig, logger *zap.Logger) *AgentLoop {
	if config.MaxIterations <= 0 {
		config.MaxIterations = 5
	}
	return &AgentLoop{
		model:      model,
		dispatcher: dispatcher,
		recorder:   recorder,
		config:     config,
		logger:     logger,
	}
}

// Run executes the loop. The returned channel is closed when the turn ends;
// the caller must drain it. Steps arrive strictly in order.
func (a *AgentLoop) Run(ctx context.Context, in RunInput) <-chan entity.AgentStep {
	stepCh := make(chan entity.AgentStep, 64)

	go func() {
		defer close(stepCh)
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Agent loop panicked",
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				stepCh <- entity.AgentStep{
					Type:    entity.StepError,
					Content: fmt.Sprintf("internal error: %v", r),
				}
			}
		}()
		a.runLoop(ctx, in, stepCh)
	}()

	return stepCh
}

func (a *AgentLoop) runLoop(ctx context.Context, in RunInput, stepCh chan<- entity.AgentStep) {
	scratchpad := &Scratchpad{}
	toolDefs := a.dispatcher.Definitions()
	tools := a.dispatcher.Tools()

	emit := func(step entity.AgentStep) bool {
		// After a stop, nothing further is emitted.
		if in.Stop != nil && in.Stop.Stopped() {
			return false
		}
		step.MessageID = in.AssistantMessageID
		step.CreatedAt = time.Now()
		stepCh <- step
		return true
	}

	for iteration := 0; iteration < a.config.MaxIterations; iteration++ {
		if ctx.Err() != nil || (in.Stop != nil && in.Stop.Stopped()) {
			return
		}

		prompt := BuildReActPrompt(tools, scratchpad)
		messages := make([]ModelMessage, 0, len(in.History)+2)
		messages = append(messages, ModelMessage{Role: "system", Content: prompt})
		messages = append(messages, in.History...)
		messages = append(messages, ModelMessage{Role: "user", Content: in.UserText})

		req := &ModelRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       a.config.Model,
			MaxTokens:   a.config.MaxTokens,
			Temperature: a.config.Temperature,
		}

		resp, stopped, err := a.streamCall(ctx, in, req, iteration, emit)
		if stopped {
			return
		}
		if err == nil && resp == nil {
			err = errors.New("model returned no response")
		}
		if err != nil {
			emit(entity.AgentStep{
				Type:     entity.StepError,
				Content:  fmt.Sprintf("model invocation failed: %v", err),
				Metadata: map[string]interface{}{"iteration": iteration},
			})
			return
		}

		reply := ParseReply(resp.Content)

		// A final answer always wins, even over a simultaneous action.
		if reply.FinalAnswer != "" {
			emit(entity.AgentStep{
				Type:    entity.StepAnswer,
				Content: reply.FinalAnswer,
				Metadata: map[string]interface{}{
					"iterations":     iteration + 1,
					"scratchpad_len": scratchpad.Len(),
				},
			})
			return
		}

		// Native tool calls take precedence over marker parsing.
		if len(resp.ToolCalls) > 0 {
			if reply.Thought != "" {
				if !emit(entity.AgentStep{
					Type:     entity.StepThought,
					Content:  reply.Thought,
					Metadata: map[string]interface{}{"iteration": iteration},
				}) {
					return
				}
				scratchpad.Append("Thought: " + reply.Thought)
			}
			for _, call := range resp.ToolCalls {
				if in.Stop != nil && in.Stop.Stopped() {
					return
				}
				a.actAndObserve(ctx, in, call.Name, call.Arguments, iteration, scratchpad, emit)
			}
			continue
		}

		switch {
		case reply.Action != "" && reply.ActionInput != "":
			if reply.Thought != "" {
				if !emit(entity.AgentStep{
					Type:     entity.StepThought,
					Content:  reply.Thought,
					Metadata: map[string]interface{}{"iteration": iteration},
				}) {
					return
				}
				scratchpad.Append("Thought: " + reply.Thought)
			}
			a.actAndObserve(ctx, in, reply.Action, reply.ActionInput, iteration, scratchpad, emit)

		case !reply.HasMarkers() && resp.TextContent() != "":
			// A plain reply with no markers is the answer.
			emit(entity.AgentStep{
				Type:    entity.StepAnswer,
				Content: resp.TextContent(),
				Metadata: map[string]interface{}{
					"iterations":     iteration + 1,
					"scratchpad_len": scratchpad.Len(),
				},
			})
			return

		default:
			// An action without input, or a bare thought: nudge and retry.
			content := reply.Thought
			if content == "" {
				content = "(no action determined)"
			}
			if !emit(entity.AgentStep{
				Type:     entity.StepThought,
				Content:  content,
				Metadata: map[string]interface{}{"iteration": iteration, "warning": "no_action"},
			}) {
				return
			}
			scratchpad.Append("Thought: " + content)
		}
	}

	emit(entity.AgentStep{
		Type:    entity.StepAnswer,
		Content: "I could not complete the task within the allowed number of steps. Please rephrase the request or break it into smaller parts.",
		Metadata: map[string]interface{}{
			"iterations":             a.config.MaxIterations,
			"max_iterations_reached": true,
		},
	})
}

// streamCall invokes the model with streaming, forwarding deltas as steps.
// The stop signal is observed at every chunk; a stop aborts the in-flight
// read without waiting for completion.
func (a *AgentLoop) streamCall(
	ctx context.Context,
	in RunInput,
	req *ModelRequest,
	iteration int,
	emit func(entity.AgentStep) bool,
) (*ModelResponse, bool, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if in.Stop != nil {
		go func() {
			select {
			case <-in.Stop.Done():
				cancel()
			case <-callCtx.Done():
			}
		}()
	}

	eventCh := make(chan StreamEvent, 32)
	type streamResult struct {
		resp *ModelResponse
		err  error
	}
	resCh := make(chan streamResult, 1)
	go func() {
		resp, err := a.model.Stream(callCtx, req, eventCh)
		resCh <- streamResult{resp, err}
	}()

	var final streamResult
	done := false
	for !done {
		select {
		case ev := <-eventCh:
			a.forwardDelta(ev, iteration, in, emit)
		case final = <-resCh:
			done = true
		}
	}
	// Drain deltas the producer managed to queue before finishing.
	for {
		select {
		case ev := <-eventCh:
			a.forwardDelta(ev, iteration, in, emit)
		default:
			a.recordCall(ctx, in, req, final.resp, iteration)
			if in.Stop != nil && in.Stop.Stopped() {
				return nil, true, nil
			}
			if final.err != nil && errors.Is(final.err, context.Canceled) && ctx.Err() == nil {
				return nil, true, nil
			}
			return final.resp, false, final.err
		}
	}
}

func (a *AgentLoop) forwardDelta(ev StreamEvent, iteration int, in RunInput, emit func(entity.AgentStep) bool) {
	switch ev.Type {
	case StreamContent:
		emit(entity.AgentStep{
			Type:     entity.StepContentDelta,
			Content:  ev.Text,
			Sequence: -1,
			Metadata: map[string]interface{}{"iteration": iteration},
		})
	case StreamReasoning:
		emit(entity.AgentStep{
			Type:     entity.StepReasoningDelta,
			Content:  ev.Text,
			Sequence: -1,
			Metadata: map[string]interface{}{"iteration": iteration},
		})
	case StreamToolCall:
		if ev.ToolCall == nil {
			return
		}
		emit(entity.AgentStep{
			Type:     entity.StepToolCallDelta,
			Content:  ev.ToolCall.ArgsFragment,
			Sequence: -1,
			Metadata: map[string]interface{}{
				"iteration": iteration,
				"index":     ev.ToolCall.Index,
				"id":        ev.ToolCall.ID,
				"tool":      ev.ToolCall.Name,
			},
		})
	}
}

// actAndObserve emits the action step, dispatches the tool, and emits the
// matching observation (or error on a resolution miss).
func (a *AgentLoop) actAndObserve(
	ctx context.Context,
	in RunInput,
	name, input string,
	iteration int,
	scratchpad *Scratchpad,
	emit func(entity.AgentStep) bool,
) {
	if !emit(entity.AgentStep{
		Type:    entity.StepAction,
		Content: fmt.Sprintf("%s[%s]", name, input),
		Metadata: map[string]interface{}{
			"tool":      name,
			"input":     input,
			"iteration": iteration,
		},
	}) {
		return
	}
	scratchpad.Append("Action: " + name)
	scratchpad.Append("Action Input: " + input)

	output, err := a.dispatcher.Dispatch(ctx, name, input, in.ToolCtx)
	switch {
	case errors.Is(err, tool.ErrToolNotFound):
		msg := fmt.Sprintf("tool not found: %s", name)
		emit(entity.AgentStep{
			Type:     entity.StepError,
			Content:  msg,
			Metadata: map[string]interface{}{"tool": name, "iteration": iteration},
		})
		scratchpad.Append("Observation: " + msg)
	case err != nil:
		msg := fmt.Sprintf("tool execution failed: %v", err)
		emit(entity.AgentStep{
			Type:     entity.StepObservation,
			Content:  msg,
			Metadata: map[string]interface{}{"tool": name, "error": err.Error(), "iteration": iteration},
		})
		scratchpad.Append("Observation: " + msg)
	default:
		emit(entity.AgentStep{
			Type:     entity.StepObservation,
			Content:  output,
			Metadata: map[string]interface{}{"tool": name, "iteration": iteration},
		})
		scratchpad.Append("Observation: " + output)
	}
}

func (a *AgentLoop) recordCall(ctx context.Context, in RunInput, req *ModelRequest, resp *ModelResponse, iteration int) {
	if a.recorder == nil {
		return
	}
	call := &entity.LLMCall{
		SessionID: in.SessionID,
		MessageID: in.AssistantMessageID,
		Iteration: iteration,
		Streaming: true,
	}
	if payload, err := json.Marshal(req); err == nil {
		call.RequestPayload = string(payload)
	}
	if resp != nil {
		if payload, err := json.Marshal(resp); err == nil {
			call.ResponsePayload = string(payload)
		}
		call.ExtractedText = resp.Content
		call.ProcessedText = resp.TextContent()
	}
	if err := a.recorder.RecordCall(ctx, call); err != nil {
		a.logger.Warn("Failed to record model call", zap.Error(err))
	}
}
