package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"csbridge/internal/domain"
	"csbridge/internal/metrics"
)

// Orchestrator turns a customer message into a reply: it picks a provider,
// runs at most one round of tool calls and falls back across providers.
type Orchestrator struct {
	providers       []domain.Provider
	byName          map[string]domain.Provider
	tools           domain.ToolExecutor
	prompt          *PromptBuilder
	memory          *Memory
	defaultProvider string
	maxTokens       int
	temperature     *float64
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

type OrchestratorConfig struct {
	// Providers in priority order.
	Providers       []domain.Provider
	Tools           domain.ToolExecutor
	Prompt          *PromptBuilder
	Memory          *Memory
	DefaultProvider string
	MaxTokens       int
	Temperature     *float64
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder(nil, 0)
	}
	if cfg.Memory == nil {
		cfg.Memory = NewMemory(DefaultMemoryLimit)
	}
	byName := make(map[string]domain.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		byName[p.Name()] = p
	}
	return &Orchestrator{
		providers:       cfg.Providers,
		byName:          byName,
		tools:           cfg.Tools,
		prompt:          cfg.Prompt,
		memory:          cfg.Memory,
		defaultProvider: cfg.DefaultProvider,
		maxTokens:       cfg.MaxTokens,
		temperature:     cfg.Temperature,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}
}

// SelectProvider returns preferred when it is configured, otherwise the
// first configured provider in priority order.
func (o *Orchestrator) SelectProvider(preferred string) (string, error) {
	if preferred != "" {
		if _, ok := o.byName[preferred]; ok {
			return preferred, nil
		}
	}
	if len(o.providers) == 0 {
		return "", domain.ErrNoProviderAvailable
	}
	return o.providers[0].Name(), nil
}

// GenerateReply answers one customer message. A nil history means the
// conversation's memory is used instead.
func (o *Orchestrator) GenerateReply(ctx context.Context, convID, customerMessage string, history []domain.Message) (*domain.ChatResponse, error) {
	return o.GenerateReplyWith(ctx, "", convID, customerMessage, history)
}

// GenerateReplyWith is GenerateReply with an explicit preferred provider.
func (o *Orchestrator) GenerateReplyWith(ctx context.Context, preferred, convID, customerMessage string, history []domain.Message) (*domain.ChatResponse, error) {
	turn := uuid.NewString()
	log := o.logger.With("turn", turn, "conversation", convID)
	log.Debug("turn state", "state", StateReceived, "message", domain.Excerpt(customerMessage, 50))

	message := strings.TrimSpace(customerMessage)
	if message == "" {
		log.Debug("turn state", "state", StateFailed, "error", domain.ErrEmptyMessage)
		return nil, domain.ErrEmptyMessage
	}

	if preferred == "" {
		preferred = o.defaultProvider
	}
	name, err := o.SelectProvider(preferred)
	if err != nil {
		log.Debug("turn state", "state", StateFailed, "error", err)
		return nil, err
	}
	log.Debug("turn state", "state", StateProviderSelected, "provider", name)

	if history == nil {
		history = o.memory.Get(convID)
	}
	req := domain.ChatRequest{
		Messages:    o.prompt.Build(message, history),
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}

	causes := make(map[string]error)
	var order []string

	resp, err := o.runTurn(ctx, log, o.byName[name], req)
	if err != nil {
		log.Warn("provider failed, trying fallbacks", "provider", name, "error", err, "message", domain.Excerpt(message, 50))
		causes[name] = err
		order = append(order, name)

		for _, p := range o.providers {
			if p.Name() == name {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			log.Debug("turn state", "state", StateFallbackProvider, "provider", p.Name())
			resp, err = o.runTurn(ctx, log, p, req)
			if err == nil {
				log.Info("fallback provider succeeded", "provider", p.Name())
				break
			}
			log.Warn("fallback provider failed", "provider", p.Name(), "error", err)
			causes[p.Name()] = err
			order = append(order, p.Name())
		}
		if err != nil {
			failed := &domain.AllProvidersFailedError{Causes: causes, Order: order}
			log.Error("reply generation failed", "state", StateFailed, "error", failed, "message", domain.Excerpt(message, 50))
			return nil, failed
		}
	}

	if hits := o.prompt.Lint(resp.Content); len(hits) > 0 {
		o.metrics.ObserveLintViolation()
		log.Warn("reply contains forbidden phrase", "provider", resp.ProviderID, "phrases", hits)
	}

	o.memory.Append(convID, domain.RoleUser, message)
	o.memory.Append(convID, domain.RoleAssistant, resp.Content)

	log.Debug("turn state", "state", StateDone, "provider", resp.ProviderID, "finish", resp.FinishReason)
	log.Info("reply generated",
		"provider", resp.ProviderID,
		"model", resp.ModelID,
		"tool_calls", len(resp.FirstToolCalls),
		"tokens", resp.Usage.TotalTokens,
	)
	return resp, nil
}

// runTurn performs the first completion and, if it asked for tools, executes
// them and performs the second. Tool calls in the second response are left
// unexecuted.
func (o *Orchestrator) runTurn(ctx context.Context, log *slog.Logger, p domain.Provider, base domain.ChatRequest) (*domain.ChatResponse, error) {
	req := base
	req.Tools = nil
	if p.SupportsTools() && o.tools != nil {
		req.Tools = o.tools.Specs()
	}

	log.Debug("turn state", "state", StateFirstCompletion, "provider", p.Name(), "tools", len(req.Tools))
	first, err := o.complete(ctx, p, req)
	if err != nil {
		return nil, err
	}
	if !first.HasToolCalls() || o.tools == nil {
		return first, nil
	}

	log.Debug("turn state", "state", StateExecutingTools, "provider", p.Name(), "calls", len(first.ToolCalls))
	follow := make([]domain.Message, 0, len(req.Messages)+1+len(first.ToolCalls))
	follow = append(follow, req.Messages...)
	follow = append(follow, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})
	for _, call := range first.ToolCalls {
		res := o.executeCall(ctx, log, call)
		follow = append(follow, domain.Message{
			Role:       domain.RoleTool,
			Content:    res.JSON(),
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}

	second := req
	second.Messages = follow
	log.Debug("turn state", "state", StateSecondCompletion, "provider", p.Name())
	final, err := o.complete(ctx, p, second)
	if err != nil {
		return nil, err
	}
	final.FirstToolCalls = first.ToolCalls
	return final, nil
}

func (o *Orchestrator) executeCall(ctx context.Context, log *slog.Logger, call domain.ToolCall) domain.ToolResult {
	if call.ArgumentsErr != nil {
		argErr := &domain.ToolArgumentError{Tool: call.Name, Reason: "arguments are not a JSON object", Err: call.ArgumentsErr}
		log.Warn("malformed tool arguments", "tool", call.Name, "arguments", domain.Excerpt(call.RawArguments, 50), "error", argErr)
		o.metrics.ObserveToolCall(call.Name, "invalid_arguments")
		return domain.ToolResult{
			CallID:   call.ID,
			ToolName: call.Name,
			Success:  false,
			Error:    argErr.Error(),
			Message:  fmt.Sprintf("函数 %s 参数错误", call.Name),
		}
	}
	log.Info("executing tool", "tool", call.Name)
	res := o.tools.Execute(ctx, call.Name, call.Arguments)
	res.CallID = call.ID
	res.ToolName = call.Name
	return res
}

func (o *Orchestrator) complete(ctx context.Context, p domain.Provider, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := p.Complete(ctx, req)
	outcome := "success"
	var perr *domain.ProviderError
	switch {
	case errors.As(err, &perr):
		outcome = string(perr.Kind)
	case err != nil:
		outcome = "error"
	}
	o.metrics.ObserveProvider(p.Name(), outcome, time.Since(start))
	if err != nil {
		return nil, err
	}
	if resp.ProviderID == "" {
		resp.ProviderID = p.Name()
	}
	return resp, nil
}

// IsCustomerMessage reports whether the last scraped item was written by the
// customer and returns its text without the marker.
func (o *Orchestrator) IsCustomerMessage(items []domain.ScrapedItem) (bool, string) {
	return IsCustomerMessage(items)
}

func IsCustomerMessage(items []domain.ScrapedItem) (bool, string) {
	if len(items) == 0 {
		return false, ""
	}
	text := items[len(items)-1].Text()
	if !strings.HasPrefix(text, domain.CustomerMarker) {
		return false, ""
	}
	return true, strings.TrimSpace(strings.TrimPrefix(text, domain.CustomerMarker))
}

func (o *Orchestrator) SetMemory(convID string, msgs []domain.Message) {
	o.memory.Set(convID, msgs)
	o.logger.Info("conversation memory set", "conversation", convID, "count", o.memory.Len(convID))
}

func (o *Orchestrator) ClearMemory(convID string) {
	n := o.memory.Clear(convID)
	o.logger.Info("conversation memory cleared", "conversation", convID, "cleared", n)
}

func (o *Orchestrator) Append(convID string, role domain.Role, content string) {
	o.memory.Append(convID, role, content)
}

func (o *Orchestrator) MemoryCount(convID string) int {
	return o.memory.Len(convID)
}

// Status summarizes the orchestrator for health endpoints.
type Status struct {
	AvailableProviders  []string `json:"available_providers"`
	TotalProviders      int      `json:"total_providers"`
	DefaultProvider     string   `json:"default_provider"`
	FunctionCallEnabled bool     `json:"function_call_enabled"`
	MemoryCount         int      `json:"memory_count"`
}

func (o *Orchestrator) Status() Status {
	s := Status{
		AvailableProviders: make([]string, 0, len(o.providers)),
		TotalProviders:     len(o.providers),
		MemoryCount:        o.memory.Total(),
	}
	for _, p := range o.providers {
		s.AvailableProviders = append(s.AvailableProviders, p.Name())
		if p.SupportsTools() && o.tools != nil {
			s.FunctionCallEnabled = true
		}
	}
	s.DefaultProvider, _ = o.SelectProvider(o.defaultProvider)
	return s
}
