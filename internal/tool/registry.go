package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"csbridge/internal/domain"
	"csbridge/internal/metrics"
)

// Registry holds the callable tools and executes them. Every outcome,
// including an unknown name, comes back as a ToolResult.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]domain.Tool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ domain.ToolExecutor = (*Registry)(nil)

func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]domain.Tool),
		logger:  logger,
		metrics: m,
	}
}

func (r *Registry) Register(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "tool", t.Name())
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute runs the named tool. Argument problems and upstream failures are
// reported as failed results for the model to read.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) domain.ToolResult {
	t := r.Get(name)
	if t == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		r.metrics.ObserveToolCall(name, "unknown")
		return domain.ToolResult{
			ToolName: name,
			Success:  false,
			Error:    "unknown function: " + name,
			Message:  fmt.Sprintf("函数 %s 不存在", name),
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	payload, err := t.Execute(ctx, args)
	if err != nil {
		var argErr *domain.ToolArgumentError
		if errors.As(err, &argErr) {
			r.logger.Warn("tool rejected arguments", "tool", name, "error", err)
			r.metrics.ObserveToolCall(name, "invalid_arguments")
			return domain.ToolResult{
				ToolName: name,
				Success:  false,
				Error:    err.Error(),
				Message:  fmt.Sprintf("函数 %s 参数错误", name),
			}
		}
		execErr := &domain.ToolExecutionError{Tool: name, Err: err}
		r.logger.Error("tool failed", "tool", name, "error", execErr)
		r.metrics.ObserveToolCall(name, "error")
		return domain.ToolResult{
			ToolName: name,
			Success:  false,
			Error:    execErr.Error(),
			Message:  fmt.Sprintf("函数 %s 执行失败", name),
		}
	}

	if res, ok := payload.(domain.ToolResult); ok {
		res.ToolName = name
		outcome := "success"
		if !res.Success {
			outcome = "error"
		}
		if res.Message == "" {
			res.Message = outcomeMessage(name, res.Success)
		}
		r.metrics.ObserveToolCall(name, outcome)
		return res
	}

	r.metrics.ObserveToolCall(name, "success")
	return domain.ToolResult{ToolName: name, Success: true, Payload: payload, Message: outcomeMessage(name, true)}
}

func outcomeMessage(name string, ok bool) string {
	if ok {
		return fmt.Sprintf("函数 %s 执行成功", name)
	}
	return fmt.Sprintf("函数 %s 执行失败", name)
}

// Specs returns the tool definitions sorted by name.
func (r *Registry) Specs() []domain.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]domain.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, domain.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgsString reads args[key] as text. Numbers the model sent for id fields
// come back without a fractional part.
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// RequireArgs returns a ToolArgumentError naming every missing key.
func RequireArgs(tool string, args map[string]any, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if ArgsString(args, k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &domain.ToolArgumentError{Tool: tool, Reason: "missing " + strings.Join(missing, ", ")}
	}
	return nil
}
