// Package agentloop runs one user directive through the agent loop: build
// context, call the completion service, dispatch requested tools, persist
// turns, repeat until the model stops asking for tools or a ceiling is hit.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/georgesalapa/micro-cc/convstore"
	"github.com/georgesalapa/micro-cc/llm"
	"github.com/georgesalapa/micro-cc/logging"
	"github.com/georgesalapa/micro-cc/watcher"
)

// ErrDirectiveInFlight is returned when a directive is submitted while
// another one is still running on the same engine.
var ErrDirectiveInFlight = errors.New("a directive is already in flight for this session")

// CompletionService is the slice of the llm client the engine depends on.
type CompletionService interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ApproveFunc decides whether a dangerous tool invocation may run. A nil
// func allows everything.
type ApproveFunc func(toolName string, args json.RawMessage) bool

// Config holds per-engine settings, constructed once at startup.
type Config struct {
	Provider string
	Model    string

	// MaxIterations caps service round-trips per directive.
	MaxIterations int

	// ContextWindow is the model's context window size in tokens. The
	// engine emits a status warning when the estimated prompt size crosses
	// 80% of it. Zero disables the check.
	ContextWindow int

	// ParallelTools dispatches tool calls within one assistant turn
	// concurrently. Off by default: sequential dispatch in request order
	// keeps the transcript deterministic.
	ParallelTools bool

	EnableLoopDetection bool
	LoopDetectionWindow int

	UserInstructions string
	ToolCharLimits   map[string]int
	ToolLineLimits   map[string]int

	RetryPolicy llm.RetryPolicy
	Approve     ApproveFunc
	EventBuffer int
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       50,
		ContextWindow:       200_000,
		EnableLoopDetection: true,
		LoopDetectionWindow: 6,
		RetryPolicy:         llm.DefaultRetryPolicy(),
		EventBuffer:         64,
	}
}

// loopState is the explicit phase of the directive state machine.
type loopState int

const (
	stateAwaitingService loopState = iota
	stateExecutingTools
	stateDone
)

// Engine orchestrates directives for one session. At most one directive is
// in flight at a time; concurrent submissions are rejected.
type Engine struct {
	service  CompletionService
	store    *convstore.Store
	registry *Registry
	env      *Env
	detector *watcher.Detector
	config   Config

	mu       sync.Mutex
	history  []convstore.Turn
	inFlight bool
	loaded   bool
}

// New creates an Engine. detector may be nil when change detection is
// disabled.
func New(service CompletionService, store *convstore.Store, registry *Registry, env *Env, detector *watcher.Detector, config Config) *Engine {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	if config.LoopDetectionWindow <= 0 {
		config.LoopDetectionWindow = DefaultConfig().LoopDetectionWindow
	}
	return &Engine{
		service:  service,
		store:    store,
		registry: registry,
		env:      env,
		detector: detector,
		config:   config,
	}
}

// History returns a copy of the in-memory turn sequence.
func (e *Engine) History() []convstore.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]convstore.Turn, len(e.history))
	copy(out, e.history)
	return out
}

// Reset clears the in-memory history and allocates a fresh session
// identifier in the store. Prior history stays on disk untouched.
func (e *Engine) Reset() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		return "", ErrDirectiveInFlight
	}
	id, err := e.store.Reset()
	if err != nil {
		return "", err
	}
	e.history = nil
	e.loaded = true
	return id, nil
}

// RunDirective submits one directive and returns the event stream for it.
// The returned channel is closed after a terminal event (final_text,
// cancelled, error, or max_iterations). Only one directive may run at a
// time per engine.
func (e *Engine) RunDirective(ctx context.Context, directive string) (<-chan Event, error) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return nil, ErrDirectiveInFlight
	}
	e.inFlight = true
	e.mu.Unlock()

	em := newEmitter(e.store.SessionID(), e.config.EventBuffer)
	go func() {
		defer em.close()
		defer func() {
			e.mu.Lock()
			e.inFlight = false
			e.mu.Unlock()
		}()
		e.run(logging.WithComponent(ctx, "agentloop"), em, directive)
	}()
	return em.events(), nil
}

// run drives the directive state machine to completion.
func (e *Engine) run(ctx context.Context, em *emitter, directive string) {
	start := time.Now()

	if err := e.ensureLoaded(ctx); err != nil {
		em.emit(ctx, EventError, map[string]interface{}{"error": err.Error()})
		return
	}

	if err := e.appendUserTurn(directive); err != nil {
		em.emit(ctx, EventError, map[string]interface{}{"error": err.Error()})
		return
	}

	state := stateAwaitingService
	iterations := 0
	var resp *llm.Response

	for state != stateDone {
		switch state {
		case stateAwaitingService:
			if iterations >= e.config.MaxIterations {
				logging.Warn(ctx, "iteration ceiling reached", "iterations", iterations)
				em.emit(ctx, EventMaxIterations, map[string]interface{}{"iterations": iterations})
				state = stateDone
				continue
			}
			if ctx.Err() != nil {
				em.emit(context.Background(), EventCancelled, nil)
				state = stateDone
				continue
			}

			var err error
			resp, err = e.callService(ctx)
			if err != nil {
				if ctx.Err() != nil || isAbort(err) {
					em.emit(context.Background(), EventCancelled, nil)
				} else {
					logging.Error(ctx, "completion service failed", "error", err.Error())
					em.emit(ctx, EventError, map[string]interface{}{"error": err.Error()})
				}
				state = stateDone
				continue
			}
			iterations++

			turn := assistantTurnFromResponse(resp)
			if thinking := resp.Thinking(); thinking != "" {
				em.emit(ctx, EventThinking, map[string]interface{}{"text": thinking})
			}
			if err := e.appendTurn(turn); err != nil {
				em.emit(ctx, EventError, map[string]interface{}{"error": err.Error()})
				state = stateDone
				continue
			}

			if len(resp.ToolCalls()) == 0 {
				em.emit(ctx, EventFinalText, map[string]interface{}{"text": resp.Text()})
				logging.LogDuration(ctx, slog.LevelInfo, "directive completed", start, "iterations", iterations)
				state = stateDone
				continue
			}
			state = stateExecutingTools

		case stateExecutingTools:
			calls := resp.ToolCalls()
			outcomes, interrupted := e.dispatchTools(ctx, em, calls)
			if interrupted {
				// The partial round is dropped: a turn is persisted only
				// when fully formed.
				em.emit(context.Background(), EventCancelled, nil)
				state = stateDone
				continue
			}
			if err := e.appendTurn(toolResultTurn(calls, outcomes)); err != nil {
				em.emit(ctx, EventError, map[string]interface{}{"error": err.Error()})
				state = stateDone
				continue
			}
			e.maybeWarnLoop(ctx, em)
			e.checkContextUsage(ctx, em)
			state = stateAwaitingService
		}
	}
}

// ensureLoaded loads persisted history on the first directive.
func (e *Engine) ensureLoaded(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return nil
	}
	history, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session %s: %w", e.store.SessionID(), err)
	}
	e.history = history
	e.loaded = true
	return nil
}

// appendUserTurn persists the directive, prefixed with any pending change
// note from the detector.
func (e *Engine) appendUserTurn(directive string) error {
	blocks := []convstore.Block{}
	if e.detector != nil {
		if diff := e.detector.ConsumeDiff(); !diff.Empty() {
			blocks = append(blocks, convstore.TextBlock(diff.Note()))
		}
	}
	blocks = append(blocks, convstore.TextBlock(directive))
	return e.appendTurn(convstore.NewTurn(convstore.RoleUser, blocks...))
}

// appendTurn persists a fully formed turn and mirrors it in memory. The
// store write happens first so memory never holds a turn that failed to
// persist.
func (e *Engine) appendTurn(turn convstore.Turn) error {
	if err := e.store.Append(turn); err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}
	e.mu.Lock()
	e.history = append(e.history, turn)
	e.mu.Unlock()
	return nil
}

// callService issues one completion request with bounded retry.
func (e *Engine) callService(ctx context.Context) (*llm.Response, error) {
	req := llm.Request{
		Provider: e.config.Provider,
		Model:    e.config.Model,
		Messages: e.buildMessages(),
		ToolDefs: e.toolDefs(),
	}
	return llm.Retry(ctx, e.config.RetryPolicy, func(ctx context.Context) (*llm.Response, error) {
		return e.service.Complete(ctx, req)
	})
}

func (e *Engine) buildMessages() []llm.Message {
	system := buildSystemPrompt(e.env, e.config.Model, e.config.UserInstructions)
	messages := []llm.Message{llm.SystemMessage(system)}
	return append(messages, turnsToMessages(e.History())...)
}

func (e *Engine) toolDefs() []llm.ToolDefinition {
	specs := e.registry.Specs()
	defs := make([]llm.ToolDefinition, len(specs))
	for i, spec := range specs {
		defs[i] = llm.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
		}
	}
	return defs
}

// dispatchTools executes one round of tool calls. interrupted is true when
// cancellation was observed at a call boundary; in that case the returned
// outcomes are incomplete and must not be persisted.
func (e *Engine) dispatchTools(ctx context.Context, em *emitter, calls []llm.ToolCall) (outcomes []Outcome, interrupted bool) {
	if e.config.ParallelTools && len(calls) > 1 {
		return e.dispatchParallel(ctx, em, calls)
	}

	outcomes = make([]Outcome, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			return outcomes, true
		}
		outcomes = append(outcomes, e.executeOne(ctx, em, call))
	}
	if ctx.Err() != nil {
		return outcomes, true
	}
	return outcomes, false
}

func (e *Engine) dispatchParallel(ctx context.Context, em *emitter, calls []llm.ToolCall) ([]Outcome, bool) {
	outcomes := make([]Outcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			outcomes[idx] = e.executeOne(ctx, em, c)
		}(i, call)
	}
	wg.Wait()
	return outcomes, ctx.Err() != nil
}

// executeOne runs a single tool call through approval, execution, and
// truncation, emitting the call and result events around it.
func (e *Engine) executeOne(ctx context.Context, em *emitter, call llm.ToolCall) Outcome {
	em.emit(ctx, EventToolCall, map[string]interface{}{
		"id":   call.ID,
		"name": call.Name,
		"args": json.RawMessage(call.Arguments),
	})

	var outcome Outcome
	tool := e.registry.Get(call.Name)
	switch {
	case tool == nil:
		outcome = Errf("unknown tool: %s", call.Name)
	case tool.Spec.Dangerous && e.config.Approve != nil && !e.config.Approve(call.Name, call.Arguments):
		outcome = Errf("tool %s was not approved by the user", call.Name)
	default:
		start := time.Now()
		outcome = e.registry.Execute(ctx, call.Name, call.Arguments, e.env)
		logging.Debug(ctx, "tool executed",
			"tool", call.Name,
			"status", outcome.Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	em.emit(ctx, EventToolResult, map[string]interface{}{
		"id":      call.ID,
		"status":  outcome.Status,
		"payload": outcome.Payload,
	})

	outcome.Payload = TruncateToolOutput(outcome.Payload, call.Name, e.config.ToolCharLimits, e.config.ToolLineLimits)
	return outcome
}

// maybeWarnLoop injects a steering note when recent tool calls repeat.
func (e *Engine) maybeWarnLoop(ctx context.Context, em *emitter) {
	if !e.config.EnableLoopDetection {
		return
	}
	if !detectLoop(e.History(), e.config.LoopDetectionWindow) {
		return
	}
	warning := fmt.Sprintf("The last %d tool calls repeat the same pattern. Step back and try a different approach.", e.config.LoopDetectionWindow)
	if err := e.appendTurn(convstore.NewTurn(convstore.RoleUser, convstore.TextBlock(warning))); err != nil {
		return
	}
	em.emit(ctx, EventStatus, map[string]interface{}{"message": warning})
}

// contextUsageWarnFraction is the share of the context window at which the
// engine warns about prompt growth.
const contextUsageWarnFraction = 0.8

// checkContextUsage estimates prompt size from the accumulated history and
// emits a status warning once it crosses the window threshold. The estimate
// counts every block kind that reaches the service.
func (e *Engine) checkContextUsage(ctx context.Context, em *emitter) {
	window := e.config.ContextWindow
	if window <= 0 {
		return
	}

	totalChars := 0
	for _, turn := range e.History() {
		for _, block := range turn.Blocks {
			switch block.Type {
			case convstore.BlockText:
				totalChars += len(block.Text)
			case convstore.BlockToolCall:
				if block.ToolCall != nil {
					totalChars += len(block.ToolCall.Arguments)
				}
			case convstore.BlockToolResult:
				if block.ToolResult != nil {
					totalChars += len(block.ToolResult.Payload)
				}
			}
		}
	}

	approxTokens := totalChars / 4
	threshold := int(float64(window) * contextUsageWarnFraction)
	if approxTokens <= threshold {
		return
	}
	pct := int(float64(approxTokens) / float64(window) * 100)
	logging.Warn(ctx, "context window filling up", "approx_tokens", approxTokens, "window", window)
	em.emit(ctx, EventStatus, map[string]interface{}{
		"message": fmt.Sprintf("Context usage at ~%d%% of the %d-token window", pct, window),
	})
}

// isAbort reports whether the error is a cancellation rather than a
// service failure.
func isAbort(err error) bool {
	var abort *llm.AbortError
	return errors.As(err, &abort) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
