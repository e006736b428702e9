package compaction

import (
	"context"
	"strings"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	"go.uber.org/zap"
)

// Defaults for the protected window of recent model calls.
const (
	DefaultKeepRecentCalls = 10
	DefaultStepCalls       = 5
)

// Config controls the compression state machine.
type Config struct {
	Enabled          bool
	StartPct         int // trigger at StartPct% of MaxContextTokens
	TargetPct        int // compress down to TargetPct%, TargetPct < StartPct
	MinKeepMessages  int // floor on uncompressed messages
	KeepRecentCalls  int // protected window of recent model calls
	StepCalls        int // window shrink step
	MaxContextTokens int
	Trunc            TruncateConfig
}

// DefaultConfig returns the production compression policy.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		StartPct:        75,
		TargetPct:       55,
		MinKeepMessages: 1,
		KeepRecentCalls: DefaultKeepRecentCalls,
		StepCalls:       DefaultStepCalls,
		Trunc:           DefaultTruncateConfig(),
	}
}

func (c Config) normalized() Config {
	if c.StartPct <= 0 {
		c.StartPct = 75
	}
	if c.TargetPct <= 0 {
		c.TargetPct = 55
	}
	if c.MinKeepMessages < 1 {
		c.MinKeepMessages = 1
	}
	if c.KeepRecentCalls < 0 {
		c.KeepRecentCalls = 0
	}
	if c.StepCalls < 1 {
		c.StepCalls = 1
	}
	return c
}

// Result is what the compressor hands back to the caller. The caller
// persists Summary and BoundaryCallID on the session only when DidCompress.
type Result struct {
	Summary           string
	BoundaryCallID    int64
	BoundaryMessageID int64
	DidCompress       bool
}

// Compressor enforces the context token budget by folding the oldest
// complete user→assistant exchanges into the running summary. Loop
// invariant: every iteration either strictly advances the boundary, shrinks
// the protected window, or exits.
type Compressor struct {
	messages   repository.MessageRepository
	calls      repository.LLMCallRepository
	builder    *Builder
	summarizer Summarizer
	config     Config
	logger     *zap.Logger
}

// NewCompressor creates a compressor.
func NewCompressor(
	messages repository.MessageRepository,
	calls repository.LLMCallRepository,
	builder *Builder,
	summarizer Summarizer,
	config Config,
	logger *zap.Logger,
) *Compressor {
	return &Compressor{
		messages:   messages,
		calls:      calls,
		builder:    builder,
		summarizer: summarizer,
		config:     config.normalized(),
		logger:     logger,
	}
}

// MaybeCompressInput identifies the turn being prepared.
type MaybeCompressInput struct {
	SessionID            string
	CurrentUserMessageID int64
	CurrentUserText      string
	Summary              string
	LastCompressedCallID int64
	// MaxContextTokens overrides the configured window when positive; it
	// comes from the session's bound model config.
	MaxContextTokens int
}

// MaybeCompress runs the compression state machine when the estimated tokens
// of the upcoming request reach the start threshold.
func (c *Compressor) MaybeCompress(ctx context.Context, in MaybeCompressInput) (Result, error) {
	result := Result{
		Summary:        in.Summary,
		BoundaryCallID: in.LastCompressedCallID,
	}
	if !c.config.Enabled || in.SessionID == "" || in.CurrentUserMessageID == 0 {
		return result, nil
	}
	maxTokens := in.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = c.config.MaxContextTokens
	}
	if maxTokens <= 0 {
		return result, nil
	}

	summary := in.Summary
	lastCallID := in.LastCompressedCallID
	var lastMessageID int64
	if lastCallID > 0 {
		id, err := c.calls.MaxMessageID(ctx, in.SessionID, lastCallID)
		if err != nil {
			return result, err
		}
		lastMessageID = id
	}
	result.BoundaryMessageID = lastMessageID

	tokens, err := c.estimateWindow(ctx, in, summary, lastMessageID)
	if err != nil {
		return result, err
	}
	startThreshold := c.config.StartPct * maxTokens / 100
	if tokens < startThreshold {
		return result, nil
	}

	c.logger.Info("Context compression triggered",
		zap.String("session_id", in.SessionID),
		zap.Int("estimated_tokens", tokens),
		zap.Int("start_threshold", startThreshold),
	)

	keepWindow := c.config.KeepRecentCalls
	targetThreshold := c.config.TargetPct * maxTokens / 100
	didCompress := false

	for {
		callsAfter, err := c.calls.ListAfter(ctx, in.SessionID, lastCallID)
		if err != nil {
			return result, err
		}
		if len(callsAfter) <= keepWindow {
			break
		}

		protected := map[int64]bool{}
		var compressible []*entity.LLMCall
		if keepWindow > 0 {
			for _, call := range callsAfter[len(callsAfter)-keepWindow:] {
				if call.MessageID != 0 {
					protected[call.MessageID] = true
				}
			}
			compressible = callsAfter[:len(callsAfter)-keepWindow]
		} else {
			compressible = callsAfter
		}

		boundary := pickBoundary(compressible, protected)
		if boundary == nil {
			if keepWindow <= 0 {
				break
			}
			if keepWindow > 1 {
				keepWindow = max(1, keepWindow-c.config.StepCalls)
			} else {
				keepWindow = 0
			}
			continue
		}

		boundaryMessageID, err := c.calls.MaxMessageID(ctx, in.SessionID, boundary.ID)
		if err != nil {
			return result, err
		}
		if boundaryMessageID == 0 {
			break
		}

		compressMessages, err := c.collectCompressible(ctx, in, lastMessageID, boundaryMessageID, compressible, boundary.ID, protected)
		if err != nil {
			return result, err
		}
		if len(compressMessages) == 0 {
			break
		}

		remaining, err := c.countUncompressed(ctx, in, boundaryMessageID)
		if err != nil {
			return result, err
		}
		if remaining < c.config.MinKeepMessages {
			break
		}

		newSummary, err := c.summarizer.Summarize(ctx, summary, compressMessages)
		if err != nil || strings.TrimSpace(newSummary) == "" {
			break
		}

		// Strict advance: the chosen boundary is always past the previous
		// one because candidates come from calls after it.
		summary = newSummary
		lastCallID = boundary.ID
		lastMessageID = boundaryMessageID
		didCompress = true

		tokens, err = c.estimateWindow(ctx, in, summary, lastMessageID)
		if err != nil {
			return result, err
		}
		if tokens <= targetThreshold {
			break
		}
		if keepWindow <= 0 {
			break
		}
		keepWindow = max(0, keepWindow-c.config.StepCalls)
	}

	result.Summary = summary
	result.BoundaryMessageID = lastMessageID
	result.DidCompress = didCompress
	if didCompress {
		result.BoundaryCallID = lastCallID
	}
	return result, nil
}

// pickBoundary selects the latest compressible call whose owning message is
// not protected.
func pickBoundary(compressible []*entity.LLMCall, protected map[int64]bool) *entity.LLMCall {
	for i := len(compressible) - 1; i >= 0; i-- {
		call := compressible[i]
		if call.MessageID == 0 {
			continue
		}
		if protected[call.MessageID] {
			continue
		}
		return call
	}
	return nil
}

// collectCompressible gathers the dialogue strictly between the previous
// boundary and the candidate boundary whose ids belong to a contiguous
// user→assistant pair fully inside the compressible set.
func (c *Compressor) collectCompressible(
	ctx context.Context,
	in MaybeCompressInput,
	lastMessageID, boundaryMessageID int64,
	compressible []*entity.LLMCall,
	boundaryCallID int64,
	protected map[int64]bool,
) ([]*entity.Message, error) {
	between, err := c.messages.ListBetween(ctx, in.SessionID, lastMessageID+1, boundaryMessageID)
	if err != nil {
		return nil, err
	}
	if len(between) == 0 {
		return nil, nil
	}

	assistantIDs := map[int64]bool{}
	for _, call := range compressible {
		if call.MessageID == 0 || call.ID > boundaryCallID {
			continue
		}
		if protected[call.MessageID] {
			continue
		}
		assistantIDs[call.MessageID] = true
	}
	if len(assistantIDs) == 0 {
		return nil, nil
	}

	index := map[int64]int{}
	for i, msg := range between {
		index[msg.ID] = i
	}

	selected := map[int64]bool{}
	for assistantID := range assistantIDs {
		idx, ok := index[assistantID]
		if !ok {
			continue
		}
		selected[assistantID] = true
		for back := idx - 1; back >= 0; back-- {
			if between[back].Role == entity.RoleUser {
				selected[between[back].ID] = true
				break
			}
		}
	}
	delete(selected, in.CurrentUserMessageID)
	if len(selected) == 0 {
		return nil, nil
	}

	var out []*entity.Message
	for _, msg := range between {
		if selected[msg.ID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (c *Compressor) countUncompressed(ctx context.Context, in MaybeCompressInput, afterID int64) (int, error) {
	msgs, err := c.messages.ListAfter(ctx, in.SessionID, afterID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, msg := range msgs {
		if msg.ID == in.CurrentUserMessageID {
			continue
		}
		if msg.Role == entity.RoleAssistant && strings.TrimSpace(msg.Content) == "" {
			continue
		}
		count++
	}
	return count, nil
}

func (c *Compressor) estimateWindow(ctx context.Context, in MaybeCompressInput, summary string, afterMessageID int64) (int, error) {
	history, err := c.builder.Build(ctx, BuildInput{
		SessionID:            in.SessionID,
		AfterMessageID:       afterMessageID,
		CurrentUserMessageID: in.CurrentUserMessageID,
		Summary:              summary,
	})
	if err != nil {
		return 0, err
	}
	tokens := EstimateMessages(history)
	if in.CurrentUserText != "" {
		tokens += EstimateText(in.CurrentUserText)
	}
	return tokens, nil
}
