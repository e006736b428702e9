package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/compaction"
	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	"github.com/atelier-ai/atelier/internal/domain/service"
	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"github.com/atelier-ai/atelier/internal/infrastructure/snapshot"
	"github.com/atelier-ai/atelier/pkg/safego"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errorMarker is appended to partial assistant content when a turn ends in
// an error.
const errorMarker = "\n\n[turn ended with an error]"

var collapseNewlines = regexp.MustCompile(`\n{3,}`)

// ModelClientFactory builds a model client for a bound model config.
type ModelClientFactory func(cfg *entity.ModelConfig) (service.ModelClient, error)

// TurnMeta is the first event of every turn.
type TurnMeta struct {
	SessionID          string              `json:"session_id"`
	UserMessageID      int64               `json:"user_message_id"`
	AssistantMessageID int64               `json:"assistant_message_id"`
	UserAttachments    []entity.Attachment `json:"user_attachments,omitempty"`
}

// TurnEvent is one event emitted to the client during a turn.
type TurnEvent struct {
	Meta      *TurnMeta
	Step      *entity.AgentStep
	Done      bool
	SessionID string
	Err       string
}

// TurnRequest is one incoming user turn.
type TurnRequest struct {
	SessionID         string
	ConfigID          string
	Message           string
	WorkPath          string
	AgentMode         string
	ShellUnrestricted bool
	Attachments       []entity.Attachment
}

// TurnResult summarizes a completed turn for the non-streaming endpoint.
type TurnResult struct {
	SessionID          string
	AssistantMessageID int64
	Reply              string
}

// RuntimeConfig carries the loop bound, the fallback temperature, and the
// title-generation timeout.
type RuntimeConfig struct {
	MaxIterations int
	Temperature   float64
	TitleTimeout  time.Duration
}

// SessionRuntime is the per-turn orchestrator: it resolves the session,
// snapshots the workspace, builds history, drives the agent loop, persists
// every non-delta step, and finalizes the assistant message. Turns within
// one session are serialized by an in-memory per-session lock.
type SessionRuntime struct {
	sessions   repository.SessionRepository
	configs    repository.ConfigRepository
	messages   repository.MessageRepository
	steps      repository.StepRepository
	toolCalls  repository.ToolCallRepository
	llmCalls   repository.LLMCallRepository
	snapshots  *snapshot.Store
	builder    *compaction.Builder
	compressor *compaction.Compressor
	dispatcher service.ToolDispatcher
	factory    ModelClientFactory
	stops      *service.StopRegistry
	config     RuntimeConfig
	logger     *zap.Logger

	locks sync.Map // session id → *sync.Mutex
}

// NewSessionRuntime wires the orchestrator.
func NewSessionRuntime(
	sessions repository.SessionRepository,
	configs repository.ConfigRepository,
	messages repository.MessageRepository,
	steps repository.StepRepository,
	toolCalls repository.ToolCallRepository,
	llmCalls repository.LLMCallRepository,
	snapshots *snapshot.Store,
	builder *compaction.Builder,
	compressor *compaction.Compressor,
	dispatcher service.ToolDispatcher,
	factory ModelClientFactory,
	stops *service.StopRegistry,
	config RuntimeConfig,
	logger *zap.Logger,
) *SessionRuntime {
	if config.MaxIterations <= 0 {
		config.MaxIterations = 5
	}
	if config.TitleTimeout <= 0 {
		config.TitleTimeout = 15 * time.Second
	}
	return &SessionRuntime{
		sessions:   sessions,
		configs:    configs,
		messages:   messages,
		steps:      steps,
		toolCalls:  toolCalls,
		llmCalls:   llmCalls,
		snapshots:  snapshots,
		builder:    builder,
		compressor: compressor,
		dispatcher: dispatcher,
		factory:    factory,
		stops:      stops,
		config:     config,
		logger:     logger,
	}
}

// Stops exposes the stop registry for the stop endpoint.
func (rt *SessionRuntime) Stops() *service.StopRegistry { return rt.stops }

// RunTurn processes one user turn, emitting events through emit. It returns
// the final result for non-streaming callers. Errors are reported through
// the event stream; the returned error covers pre-stream failures only.
func (rt *SessionRuntime) RunTurn(ctx context.Context, req TurnRequest, emit func(TurnEvent)) (*TurnResult, error) {
	sess, cfg, err := rt.resolveSession(ctx, &req)
	if err != nil {
		return nil, err
	}

	lock := rt.sessionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	userText := PreprocessUserText(req.Message)

	firstTurn := false
	if count, err := rt.messages.Count(ctx, sess.ID); err == nil && count == 0 {
		firstTurn = true
	}

	userMsg := &entity.Message{
		SessionID:   sess.ID,
		Role:        entity.RoleUser,
		Content:     userText,
		Attachments: req.Attachments,
	}
	if err := rt.messages.Create(ctx, userMsg); err != nil {
		return nil, err
	}
	assistantMsg := &entity.Message{
		SessionID: sess.ID,
		Role:      entity.RoleAssistant,
	}
	if err := rt.messages.Create(ctx, assistantMsg); err != nil {
		return nil, err
	}

	stop := rt.stops.Register(assistantMsg.ID)
	defer rt.stops.Clear(assistantMsg.ID)

	emit(TurnEvent{Meta: &TurnMeta{
		SessionID:          sess.ID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		UserAttachments:    userMsg.Attachments,
	}})

	// The workspace snapshot comes before anything that can mutate files.
	// A snapshot failure aborts the turn before the model is called.
	if sess.WorkPath != "" {
		if _, err := rt.snapshots.EnsureSnapshot(ctx, sess.ID, assistantMsg.ID, sess.WorkPath); err != nil {
			rt.logger.Error("Snapshot failed, aborting turn",
				zap.String("session_id", sess.ID), zap.Error(err))
			rt.finalizeWithError(ctx, sess.ID, assistantMsg.ID, "", fmt.Sprintf("snapshot failed: %v", err))
			emit(TurnEvent{Err: fmt.Sprintf("snapshot failed: %v", err)})
			return nil, nil
		}
	}

	// Enforce the token budget before building the final history.
	compressed, err := rt.compressor.MaybeCompress(ctx, compaction.MaybeCompressInput{
		SessionID:            sess.ID,
		CurrentUserMessageID: userMsg.ID,
		CurrentUserText:      userText,
		Summary:              sess.Summary,
		LastCompressedCallID: sess.LastCompressedCallID,
		MaxContextTokens:     cfg.MaxContextTokens,
	})
	if err != nil {
		rt.logger.Warn("Context compression failed, continuing uncompressed", zap.Error(err))
	} else if compressed.DidCompress {
		sess.Summary = compressed.Summary
		sess.LastCompressedCallID = compressed.BoundaryCallID
		if err := rt.sessions.UpdateCompression(ctx, sess.ID, sess.Summary, sess.LastCompressedCallID); err != nil {
			rt.logger.Warn("Failed to persist compression state", zap.Error(err))
		}
	}

	boundaryMessageID := int64(0)
	if sess.LastCompressedCallID > 0 {
		boundaryMessageID, _ = rt.llmCalls.MaxMessageID(ctx, sess.ID, sess.LastCompressedCallID)
	}
	history, err := rt.builder.Build(ctx, compaction.BuildInput{
		SessionID:            sess.ID,
		AfterMessageID:       boundaryMessageID,
		CurrentUserMessageID: userMsg.ID,
		Summary:              sess.Summary,
		WorkPath:             sess.WorkPath,
		IncludeAnnotation:    true,
	})
	if err != nil {
		rt.finalizeWithError(ctx, sess.ID, assistantMsg.ID, "", fmt.Sprintf("history build failed: %v", err))
		emit(TurnEvent{Err: fmt.Sprintf("history build failed: %v", err)})
		return nil, nil
	}

	client, err := rt.factory(cfg)
	if err != nil {
		rt.finalizeWithError(ctx, sess.ID, assistantMsg.ID, "", fmt.Sprintf("model client unavailable: %v", err))
		emit(TurnEvent{Err: fmt.Sprintf("model client unavailable: %v", err)})
		return nil, nil
	}

	loop := service.NewAgentLoop(client, rt.dispatcher, rt.callRecorder(), service.AgentLoopConfig{
		MaxIterations: rt.config.MaxIterations,
		Model:         cfg.Model,
		Temperature:   rt.temperature(cfg),
		MaxTokens:     cfg.MaxTokens,
	}, rt.logger)

	stepCh := loop.Run(ctx, service.RunInput{
		SessionID:          sess.ID,
		AssistantMessageID: assistantMsg.ID,
		UserText:           userText,
		History:            history,
		ToolCtx: domaintool.Context{
			SessionID:         sess.ID,
			WorkPath:          sess.WorkPath,
			AgentMode:         sess.AgentMode,
			ShellUnrestricted: req.ShellUnrestricted,
		},
		Stop: stop,
	})

	result := rt.consumeSteps(ctx, sess, assistantMsg.ID, userText, firstTurn, cfg, stepCh, emit)
	sess.UpdatedAt = time.Now()
	if err := rt.sessions.Update(ctx, sess); err != nil {
		rt.logger.Warn("Failed to touch session", zap.Error(err))
	}
	return result, nil
}

// consumeSteps drains the loop's events: deltas are re-emitted only,
// non-delta steps are persisted with a dense per-message sequence and then
// re-emitted.
func (rt *SessionRuntime) consumeSteps(
	ctx context.Context,
	sess *entity.Session,
	assistantID int64,
	userText string,
	firstTurn bool,
	cfg *entity.ModelConfig,
	stepCh <-chan entity.AgentStep,
	emit func(TurnEvent),
) *TurnResult {
	sequence := 0
	var partial strings.Builder
	var answer string
	fatal := ""
	var openToolCall *entity.ToolCall

	for step := range stepCh {
		step := step
		if step.Type.IsDelta() {
			if step.Type == entity.StepContentDelta {
				partial.WriteString(step.Content)
			}
			emit(TurnEvent{Step: &step})
			continue
		}

		step.Sequence = sequence
		sequence++
		if err := rt.steps.Create(ctx, &step); err != nil {
			// A repository failure aborts the turn; emit a best-effort error.
			rt.logger.Error("Failed to persist step", zap.Error(err))
			fatal = "failed to persist step"
			emit(TurnEvent{Err: fatal})
			break
		}

		switch step.Type {
		case entity.StepAction:
			call := &entity.ToolCall{
				MessageID: assistantID,
				SessionID: sess.ID,
				ToolName:  step.MetaString("tool"),
				Input:     step.MetaString("input"),
			}
			if err := rt.toolCalls.Create(ctx, call); err != nil {
				rt.logger.Warn("Failed to persist tool call", zap.Error(err))
			} else {
				openToolCall = call
			}

		case entity.StepObservation, entity.StepError:
			if openToolCall != nil && step.MetaString("tool") == openToolCall.ToolName {
				if err := rt.toolCalls.UpdateOutput(ctx, openToolCall.ID, step.Content); err != nil {
					rt.logger.Warn("Failed to persist tool output", zap.Error(err))
				}
				openToolCall = nil
			} else if step.Type == entity.StepError {
				fatalCandidate := step.MetaString("tool") == ""
				if fatalCandidate {
					fatal = step.Content
				}
			}

		case entity.StepAnswer:
			answer = step.Content
		}

		emit(TurnEvent{Step: &step})
	}

	switch {
	case answer != "":
		if err := rt.messages.UpdateContent(ctx, sess.ID, assistantID, answer); err != nil {
			rt.logger.Warn("Failed to finalize assistant message", zap.Error(err))
		}
		if firstTurn {
			rt.generateTitle(sess, cfg, userText)
		}
		emit(TurnEvent{Done: true, SessionID: sess.ID})
		return &TurnResult{SessionID: sess.ID, AssistantMessageID: assistantID, Reply: answer}

	case fatal != "":
		rt.finalizeWithError(ctx, sess.ID, assistantID, partial.String(), fatal)
		emit(TurnEvent{Err: fatal})
		return &TurnResult{SessionID: sess.ID, AssistantMessageID: assistantID, Reply: ""}

	default:
		// Cancellation or an empty run: keep the partial content, no error.
		if partial.Len() > 0 {
			if err := rt.messages.UpdateContent(ctx, sess.ID, assistantID, partial.String()); err != nil {
				rt.logger.Warn("Failed to store partial content", zap.Error(err))
			}
		}
		emit(TurnEvent{Done: true, SessionID: sess.ID})
		return &TurnResult{SessionID: sess.ID, AssistantMessageID: assistantID, Reply: partial.String()}
	}
}

func (rt *SessionRuntime) finalizeWithError(ctx context.Context, sessionID string, assistantID int64, partial, errText string) {
	content := strings.TrimSpace(partial)
	if content != "" {
		content += errorMarker
	} else {
		content = "Error: " + errText
	}
	if err := rt.messages.UpdateContent(ctx, sessionID, assistantID, content); err != nil {
		rt.logger.Warn("Failed to finalize errored assistant message", zap.Error(err))
	}
}

// resolveSession loads or creates the session and its model config.
func (rt *SessionRuntime) resolveSession(ctx context.Context, req *TurnRequest) (*entity.Session, *entity.ModelConfig, error) {
	var cfg *entity.ModelConfig
	var err error
	if req.ConfigID != "" {
		cfg, err = rt.configs.Get(ctx, req.ConfigID)
		if err != nil {
			return nil, nil, err
		}
	}

	if req.SessionID != "" {
		sess, err := rt.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, nil, err
		}
		if cfg == nil {
			cfg, err = rt.configs.Get(ctx, sess.ConfigID)
			if err != nil {
				cfg, err = rt.configs.GetDefault(ctx)
				if err != nil {
					return nil, nil, err
				}
			}
		}
		if req.WorkPath != "" {
			sess.WorkPath = req.WorkPath
		}
		if req.AgentMode != "" {
			sess.AgentMode = req.AgentMode
		}
		return sess, cfg, nil
	}

	if cfg == nil {
		cfg, err = rt.configs.GetDefault(ctx)
		if err != nil {
			return nil, nil, err
		}
	}
	sess := &entity.Session{
		ID:        uuid.NewString(),
		Title:     ProvisionalTitle(req.Message),
		ConfigID:  cfg.ID,
		WorkPath:  req.WorkPath,
		AgentMode: req.AgentMode,
	}
	if err := rt.sessions.Create(ctx, sess); err != nil {
		return nil, nil, err
	}
	return sess, cfg, nil
}

// generateTitle fires the best-effort first-turn title replacement. It never
// blocks the turn's completion.
func (rt *SessionRuntime) generateTitle(sess *entity.Session, cfg *entity.ModelConfig, userText string) {
	safego.Go(rt.logger, "title-gen-"+sess.ID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), rt.config.TitleTimeout)
		defer cancel()

		client, err := rt.factory(cfg)
		if err != nil {
			return
		}
		resp, err := client.Generate(ctx, &service.ModelRequest{
			Messages: []service.ModelMessage{
				{Role: "system", Content: "Produce a short title (at most 8 words) for a conversation that starts with the following message. Output the title only."},
				{Role: "user", Content: userText},
			},
			Model:     cfg.Model,
			MaxTokens: 60,
		})
		if err != nil {
			rt.logger.Debug("Title generation failed", zap.Error(err))
			return
		}
		title := strings.Trim(strings.TrimSpace(resp.Content), `"`)
		if title == "" {
			return
		}
		sess.Title = title
		if err := rt.sessions.Update(ctx, sess); err != nil {
			rt.logger.Debug("Title update failed", zap.Error(err))
		}
	})
}

func (rt *SessionRuntime) temperature(cfg *entity.ModelConfig) float64 {
	if cfg.Temperature > 0 {
		return cfg.Temperature
	}
	return rt.config.Temperature
}

func (rt *SessionRuntime) sessionLock(sessionID string) *sync.Mutex {
	lock, _ := rt.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// callRecorder adapts the llm call repository to the loop's interface.
func (rt *SessionRuntime) callRecorder() service.CallRecorder {
	return callRecorderFunc{repo: rt.llmCalls}
}

type callRecorderFunc struct {
	repo repository.LLMCallRepository
}

func (r callRecorderFunc) RecordCall(ctx context.Context, call *entity.LLMCall) error {
	return r.repo.Create(ctx, call)
}

// PreprocessUserText trims the input and collapses runs of three or more
// newlines down to two.
func PreprocessUserText(text string) string {
	text = strings.TrimSpace(text)
	return collapseNewlines.ReplaceAllString(text, "\n\n")
}

// ProvisionalTitle derives the initial session title from the user text; it
// is replaced asynchronously after the first turn.
func ProvisionalTitle(text string) string {
	title := strings.TrimSpace(text)
	title = strings.ReplaceAll(title, "\n", " ")
	runes := []rune(title)
	if len(runes) > 50 {
		title = string(runes[:50]) + "…"
	}
	if title == "" {
		title = "New session"
	}
	return title
}
