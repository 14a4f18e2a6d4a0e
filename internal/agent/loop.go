package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/belay/internal/sessions"
	"github.com/haasonsaas/belay/pkg/models"
)

const (
	// processBufferSize is the chunk channel buffer for a run.
	processBufferSize = 32

	// historyWindow is how many transcript messages are loaded per run.
	historyWindow = 50
)

// LoopConfig configures the agent loop behavior.
type LoopConfig struct {
	// MaxSteps is the step budget: the number of model-then-tools rounds
	// allowed per run. When exhausted the loop forces finalization with a
	// single extra no-tools model call.
	// Default: 10
	MaxSteps int

	// MaxTokens is the default max tokens for LLM responses
	// Default: 4096
	MaxTokens int

	// ExecutorConfig configures the tool executor
	ExecutorConfig *ExecutorConfig

	// Logger receives loop diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxSteps:       10,
		MaxTokens:      4096,
		ExecutorConfig: DefaultExecutorConfig(),
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaults.MaxSteps
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = defaults.ExecutorConfig
	}
	return &cfg
}

// Loop implements the step-bounded model/tool conversation loop.
//
// Each run moves through a fixed cycle: submit the sanitized transcript to
// the provider, stream the response, and either finish (plain answer) or
// execute the requested tools, append their results, and resubmit. One
// model-then-tools round consumes one unit of the step budget; when the
// budget runs out the loop asks the model for a closing answer with tools
// withheld, so a run always ends with a final event rather than an
// iteration-limit error.
type Loop struct {
	provider LLMProvider
	executor *Executor
	sessions sessions.Store
	config   *LoopConfig
	logger   *slog.Logger

	defaultModel  string
	defaultSystem string
}

// NewLoop creates a new agent loop. If config is nil, DefaultLoopConfig is
// used. The confirmations boundary may be nil when the catalog holds no
// confirm-kind tools.
func NewLoop(provider LLMProvider, registry *ToolRegistry, confirmations *Confirmations, store sessions.Store, config *LoopConfig) *Loop {
	config = sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "agent.loop")
	}

	return &Loop{
		provider: provider,
		executor: NewExecutor(registry, confirmations, config.ExecutorConfig),
		sessions: store,
		config:   config,
		logger:   logger,
	}
}

// SetDefaultModel sets the model used when requests do not specify one.
func (l *Loop) SetDefaultModel(model string) {
	l.defaultModel = model
}

// SetDefaultSystem sets the system prompt used for every run.
func (l *Loop) SetDefaultSystem(system string) {
	l.defaultSystem = system
}

// Registry exposes the loop's tool registry for registration.
func (l *Loop) Registry() *ToolRegistry {
	return l.executor.registry
}

// ExecutorMetrics returns a snapshot of tool execution counters.
func (l *Loop) ExecutorMetrics() *ExecutorMetricsSnapshot {
	return l.executor.Metrics()
}

// loopState tracks a single run.
type loopState struct {
	phase      LoopPhase
	step       int
	transcript []*models.Message
	text       strings.Builder
}

// Run executes the loop for one inbound message and streams events through
// the returned channel. The channel closes when the run completes, fails,
// or is cancelled; cancellation closes the stream without a final event.
func (l *Loop) Run(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if l.sessions == nil {
		return nil, errors.New("no session store configured")
	}

	runCtx := WithSession(ctx, session)
	chunks := make(chan *ResponseChunk, processBufferSize)

	go func() {
		defer close(chunks)
		l.run(runCtx, session, msg, chunks)
	}()

	return chunks, nil
}

func (l *Loop) run(ctx context.Context, session *models.Session, msg *models.Message, chunks chan<- *ResponseChunk) {
	state := &loopState{phase: PhaseInit}

	if err := l.initialize(ctx, session, msg, state); err != nil {
		l.fail(ctx, chunks, state, err)
		return
	}

	for state.step = 0; state.step < l.config.MaxSteps; state.step++ {
		if ctx.Err() != nil {
			return
		}

		state.phase = PhaseStream
		toolCalls, err := l.streamStep(ctx, state, chunks, true)
		if err != nil {
			l.fail(ctx, chunks, state, err)
			return
		}

		if err := l.persistAssistant(ctx, session, state, toolCalls); err != nil {
			l.fail(ctx, chunks, state, err)
			return
		}

		if len(toolCalls) == 0 {
			state.phase = PhaseComplete
			l.emit(ctx, chunks, &ResponseChunk{Type: EventFinal, Text: state.text.String()})
			return
		}

		if ctx.Err() != nil {
			return
		}

		state.phase = PhaseExecuteTools
		results, err := l.executeRound(ctx, toolCalls, chunks)
		if err != nil {
			l.fail(ctx, chunks, state, err)
			return
		}

		if err := l.persistToolMessage(ctx, session, state, toolCalls, results); err != nil {
			l.fail(ctx, chunks, state, err)
			return
		}
	}

	// Budget exhausted mid-conversation: one closing call with tools
	// withheld so the run still ends with an answer.
	if ctx.Err() != nil {
		return
	}
	state.phase = PhaseFinalize
	l.logger.Warn("step budget exhausted, forcing finalization",
		"session_id", session.ID,
		"max_steps", l.config.MaxSteps,
	)
	if _, err := l.streamStep(ctx, state, chunks, false); err != nil {
		l.fail(ctx, chunks, state, err)
		return
	}
	if err := l.persistAssistant(ctx, session, state, nil); err != nil {
		l.fail(ctx, chunks, state, err)
		return
	}
	state.phase = PhaseComplete
	l.emit(ctx, chunks, &ResponseChunk{Type: EventFinal, Text: state.text.String()})
}

// fail emits an error event unless the run was cancelled; cancellation is a
// normal termination path and stays silent.
func (l *Loop) fail(ctx context.Context, chunks chan<- *ResponseChunk, state *loopState, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	l.emit(ctx, chunks, &ResponseChunk{Type: EventError, Err: &LoopError{
		Phase: state.phase,
		Step:  state.step,
		Cause: err,
	}})
}

func (l *Loop) emit(ctx context.Context, chunks chan<- *ResponseChunk, chunk *ResponseChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// initialize loads the transcript and persists the inbound message.
func (l *Loop) initialize(ctx context.Context, session *models.Session, msg *models.Message, state *loopState) error {
	history, err := l.sessions.GetHistory(ctx, session.ID, historyWindow)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = session.ID
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := l.sessions.AppendMessage(ctx, session.ID, msg); err != nil {
		return fmt.Errorf("failed to persist inbound message: %w", err)
	}

	state.transcript = append(history, msg)
	return nil
}

// submission converts the working transcript into provider messages,
// sanitizing first so an orphaned tool call is never submitted.
func (l *Loop) submission(state *loopState) []CompletionMessage {
	repaired := repairTranscript(state.transcript)
	msgs := make([]CompletionMessage, 0, len(repaired))
	for _, m := range repaired {
		msgs = append(msgs, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return msgs
}

// streamStep submits the transcript and streams the model response,
// emitting text deltas and collecting tool calls. When withTools is false
// the catalog is withheld, which forces a plain answer.
func (l *Loop) streamStep(ctx context.Context, state *loopState, chunks chan<- *ResponseChunk, withTools bool) ([]models.ToolCall, error) {
	req := &CompletionRequest{
		Model:     l.defaultModel,
		System:    l.defaultSystem,
		Messages:  l.submission(state),
		MaxTokens: l.config.MaxTokens,
	}
	if withTools {
		req.Tools = l.executor.registry.AsLLMTools()
	}

	completion, err := l.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var toolCalls []models.ToolCall
	state.text.Reset()

	for chunk := range completion {
		if chunk.Error != nil {
			return nil, chunk.Error
		}

		if chunk.Text != "" {
			if state.text.Len()+len(chunk.Text) > MaxResponseTextSize {
				return nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			state.text.WriteString(chunk.Text)
			if !l.emit(ctx, chunks, &ResponseChunk{Type: EventText, Text: chunk.Text}) {
				return nil, ctx.Err()
			}
		}

		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerStep {
				return nil, fmt.Errorf("tool calls exceed maximum of %d per step", MaxToolCallsPerStep)
			}
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	}

	return toolCalls, nil
}

// executeRound runs one round of tool calls, emitting tool_start and
// tool_result events in request order.
func (l *Loop) executeRound(ctx context.Context, toolCalls []models.ToolCall, chunks chan<- *ResponseChunk) ([]models.ToolResult, error) {
	for i := range toolCalls {
		if !l.emit(ctx, chunks, &ResponseChunk{Type: EventToolStart, ToolCall: &toolCalls[i]}) {
			return nil, ctx.Err()
		}
	}

	execResults := l.executor.ExecuteAll(ctx, toolCalls)

	results := make([]models.ToolResult, len(toolCalls))
	for i, r := range execResults {
		if r.IsFatal() {
			return nil, r.Error
		}
		if r.Error != nil {
			// Tool failures are data: the model sees them and adapts.
			results[i] = models.ToolResult{
				ToolCallID: toolCalls[i].ID,
				Content:    r.Error.Error(),
				IsError:    true,
			}
		} else if r.Result != nil {
			results[i] = models.ToolResult{
				ToolCallID: toolCalls[i].ID,
				Content:    r.Result.Content,
				IsError:    r.Result.IsError,
			}
		} else {
			results[i] = models.ToolResult{
				ToolCallID: toolCalls[i].ID,
				Content:    "tool execution failed",
				IsError:    true,
			}
		}
	}

	for i := range results {
		if !l.emit(ctx, chunks, &ResponseChunk{Type: EventToolResult, ToolResult: &results[i]}) {
			return nil, ctx.Err()
		}
	}

	return results, nil
}

func (l *Loop) persistAssistant(ctx context.Context, session *models.Session, state *loopState, toolCalls []models.ToolCall) error {
	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   state.text.String(),
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	if err := l.sessions.AppendMessage(ctx, session.ID, assistantMsg); err != nil {
		return fmt.Errorf("failed to persist assistant message: %w", err)
	}
	state.transcript = append(state.transcript, assistantMsg)
	return nil
}

func (l *Loop) persistToolMessage(ctx context.Context, session *models.Session, state *loopState, toolCalls []models.ToolCall, results []models.ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	toolMsg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   time.Now(),
	}
	if err := l.sessions.AppendMessage(ctx, session.ID, toolMsg); err != nil {
		return fmt.Errorf("failed to persist tool message: %w", err)
	}
	state.transcript = append(state.transcript, toolMsg)
	return nil
}
