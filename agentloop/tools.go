package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Status values for tool outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Outcome is the uniform result contract for every tool handler. Handlers
// never return a Go error and never panic past this boundary: failures
// become an error-status Outcome so the loop can feed them back to the
// model instead of aborting.
type Outcome struct {
	Status      string `json:"status"`
	Payload     string `json:"payload"`
	DisplayHint string `json:"display_hint,omitempty"`
}

// OK builds a success outcome.
func OK(payload string) Outcome {
	return Outcome{Status: StatusOK, Payload: payload}
}

// OKHint builds a success outcome with a display hint for the host UI.
func OKHint(payload, hint string) Outcome {
	return Outcome{Status: StatusOK, Payload: payload, DisplayHint: hint}
}

// Errf builds an error outcome.
func Errf(format string, args ...interface{}) Outcome {
	return Outcome{Status: StatusError, Payload: fmt.Sprintf(format, args...)}
}

// IsError reports whether the outcome carries error status.
func (o Outcome) IsError() bool {
	return o.Status == StatusError
}

// Handler executes one tool invocation against the environment.
type Handler func(ctx context.Context, args json.RawMessage, env *Env) Outcome

// ToolSpec describes a tool for the completion service.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	// Dangerous tools pass through the approval callback before running.
	Dangerous bool `json:"-"`
}

// RegisteredTool pairs a spec with its handler.
type RegisteredTool struct {
	Spec    ToolSpec
	Handler Handler
}

// Registry maps tool names to handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*RegisteredTool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*RegisteredTool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Spec.Name] = &tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool, or nil if the name is unknown.
func (r *Registry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Specs returns all tool specs sorted by name, for a stable request shape.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	specs := r.Specs()
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute dispatches one invocation. Unknown names and handler panics both
// surface as error outcomes, honoring the handler contract.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, env *Env) (outcome Outcome) {
	tool := r.Get(name)
	if tool == nil {
		return Errf("unknown tool: %s", name)
	}
	defer func() {
		if rec := recover(); rec != nil {
			outcome = Errf("tool %s panicked: %v", name, rec)
		}
	}()
	return tool.Handler(ctx, args, env)
}

// parseArgs unmarshals raw tool arguments into a map.
func parseArgs(raw json.RawMessage) (map[string]interface{}, error) {
	var args map[string]interface{}
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

func boolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
