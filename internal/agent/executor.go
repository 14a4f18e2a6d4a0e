package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/belay/pkg/models"
)

// ExecutorConfig configures the tool executor behavior including
// concurrency limits, timeouts, and retry strategies.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions
	// Default: 5
	MaxConcurrency int

	// DefaultTimeout is the default timeout for tool execution
	// Default: 30s
	DefaultTimeout time.Duration

	// DefaultRetries is the default number of retries for retryable errors
	// Default: 2
	DefaultRetries int

	// RetryBackoff is the initial backoff duration between retries
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff
	// Default: 5s
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// Executor dispatches tool calls against the registry. It validates input,
// routes confirm-kind tools through the confirmation boundary, limits
// concurrency with a semaphore, retries retryable failures, and converts
// handler errors and panics into error results.
type Executor struct {
	registry      *ToolRegistry
	config        *ExecutorConfig
	confirmations *Confirmations

	// Semaphore for concurrency limiting
	sem chan struct{}

	// Metrics
	metrics *ExecutorMetrics
}

// ExecutorMetrics tracks executor performance counters.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates a new tool executor with the given registry and
// configuration. If config is nil, DefaultExecutorConfig is used. The
// confirmations boundary may be nil, in which case confirm-kind calls fail
// with a confirmation-required result.
func NewExecutor(registry *ToolRegistry, confirmations *Confirmations, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}

	return &Executor{
		registry:      registry,
		config:        config,
		confirmations: confirmations,
		sem:           make(chan struct{}, config.MaxConcurrency),
		metrics:       &ExecutorMetrics{},
	}
}

// ExecutionResult holds the result of a single tool execution including
// timing information and retry attempts.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Error      error
	Duration   time.Duration
	Attempts   int
}

// ExecuteAll executes a round of tool calls and returns results in the same
// order as the input. Independent calls run in parallel under the
// concurrency limit; if the round contains more than one call and any tool
// in it is marked mutating, the round runs sequentially in request order so
// that shared-state writes are never concurrent within a round.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))

	if len(calls) > 1 && e.anyMutating(calls) {
		for i, call := range calls {
			results[i] = e.Execute(ctx, call)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) anyMutating(calls []models.ToolCall) bool {
	for _, call := range calls {
		if e.registry.IsMutating(call.Name) {
			return true
		}
	}
	return false
}

// Execute executes a single tool call: resolve, validate, then run with
// retry and timeout handling. Acquires a semaphore slot for backpressure
// control before execution.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	kind, ok := e.registry.Kind(call.Name)
	if !ok {
		result.Error = NewToolError(call.Name, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)).
			WithType(ToolErrorNotFound).
			WithToolCallID(call.ID)
		result.Duration = time.Since(start)
		e.recordFailure(result.Error)
		return result
	}

	if err := e.registry.Validate(call.Name, call.Input); err != nil {
		// Malformed input is data, not a crash: the model sees the
		// validation detail and can correct itself.
		result.Result = &ToolResult{
			Content: "invalid input for tool " + call.Name + ": " + err.Error(),
			IsError: true,
		}
		result.Attempts = 1
		result.Duration = time.Since(start)
		e.recordSuccess(0)
		return result
	}

	if kind == KindConfirm {
		res, err := e.executeConfirmed(ctx, call)
		result.Result = res
		result.Error = err
		result.Attempts = 1
		result.Duration = time.Since(start)
		if err != nil {
			e.recordFailure(err)
		} else {
			e.recordSuccess(0)
		}
		return result
	}

	// Acquire semaphore for backpressure
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = NewToolError(call.Name, ctx.Err()).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID)
		result.Duration = time.Since(start)
		return result
	}

	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	backoff := e.config.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1

		execResult, execErr := e.executeWithTimeout(ctx, call, timeout)

		if execErr == nil {
			result.Result = execResult
			result.Duration = time.Since(start)
			e.recordSuccess(attempt)
			return result
		}

		lastErr = execErr

		if !IsToolRetryable(execErr) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt >= maxRetries {
			break
		}

		// Exponential backoff
		sleepDuration := backoff * time.Duration(1<<uint(attempt))
		if sleepDuration > e.config.MaxRetryBackoff {
			sleepDuration = e.config.MaxRetryBackoff
		}

		select {
		case <-time.After(sleepDuration):
		case <-ctx.Done():
			lastErr = NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID)
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)
	e.recordFailure(lastErr)
	return result
}

// executeConfirmed parks a confirm-kind call on the confirmation boundary
// and, once approved, runs the side-table implementation.
func (e *Executor) executeConfirmed(ctx context.Context, call models.ToolCall) (*ToolResult, error) {
	impl, ok := e.registry.ConfirmImpl(call.Name)
	if !ok {
		return &ToolResult{
			Content: "no confirmed implementation registered for tool: " + call.Name,
			IsError: true,
		}, nil
	}

	if e.confirmations == nil {
		return &ToolResult{
			Content: "confirmation required for tool: " + call.Name,
			IsError: true,
		}, nil
	}

	approved, err := e.confirmations.Await(ctx, call)
	if err != nil {
		return nil, NewToolError(call.Name, err).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID)
	}
	if !approved {
		return &ToolResult{
			Content: "tool call declined: " + call.Name,
			IsError: true,
		}, nil
	}

	res, err := runRecovered(ctx, call, impl)
	if err != nil {
		return nil, NewToolError(call.Name, err).WithToolCallID(call.ID)
	}
	return res, nil
}

func runRecovered(ctx context.Context, call models.ToolCall, fn ConfirmFunc) (res *ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = fmt.Errorf("%w: %v\n%s", ErrToolPanic, r, stack)
		}
	}()
	return fn(ctx, call.Input)
}

// executeWithTimeout executes a tool call with a timeout.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			toolErr := NewToolError(call.Name, err).WithToolCallID(call.ID)
			resultCh <- execResult{err: toolErr}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			// Parent context cancelled
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

func (e *Executor) recordSuccess(retries int) {
	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	if retries > 0 {
		e.metrics.TotalRetries += int64(retries)
	}
	e.metrics.mu.Unlock()
}

func (e *Executor) recordFailure(err error) {
	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	if toolErr, ok := GetToolError(err); ok {
		switch toolErr.Type {
		case ToolErrorTimeout:
			e.metrics.TotalTimeouts++
		case ToolErrorPanic:
			e.metrics.TotalPanics++
		}
	}
	e.metrics.mu.Unlock()
}

// Metrics returns a copy-safe snapshot of the executor metrics.
func (e *Executor) Metrics() *ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return &ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is a thread-safe copy of executor metrics at a point in time.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// IsFatal reports whether an execution result should abort the loop round
// rather than surface as tool-failure data. Only an unknown tool qualifies:
// it means the advertised catalog and the executor disagree.
func (r *ExecutionResult) IsFatal() bool {
	if r == nil || r.Error == nil {
		return false
	}
	if errors.Is(r.Error, ErrToolNotFound) {
		return true
	}
	if toolErr, ok := GetToolError(r.Error); ok {
		return toolErr.Type == ToolErrorNotFound
	}
	return false
}

// ResultsToMessages converts execution results to tool result messages
// suitable for including in conversation history.
func ResultsToMessages(results []*ExecutionResult) []models.ToolResult {
	toolResults := make([]models.ToolResult, len(results))

	for i, r := range results {
		if r.Error != nil {
			toolResults[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Error.Error(),
				IsError:    true,
			}
		} else if r.Result != nil {
			toolResults[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Result.Content,
				IsError:    r.Result.IsError,
			}
		}
	}

	return toolResults
}

// AsJSON converts tool input to JSON if it is not already a json.RawMessage, []byte, or string.
func AsJSON(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage("null")
		}
		return data
	}
}
