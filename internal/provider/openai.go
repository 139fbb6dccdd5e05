package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"csbridge/internal/domain"
)

// OpenAI implements domain.Provider for OpenAI-schema chat completion APIs.
// The same adapter serves vendors that speak the schema without tool calling;
// for those, tool definitions are dropped and tool-role messages are folded
// into user turns.
type OpenAI struct {
	label       string
	apiKey      string
	apiBase     string
	model       string
	maxTokens   int
	temperature *float64
	tools       bool
	client      *http.Client
	retry       RetryPolicy
	logger      *slog.Logger
}

type OpenAIConfig struct {
	Label       string
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature *float64 // nil omits the field and the vendor default applies
	Client      *http.Client
	Retry       RetryPolicy
	Logger      *slog.Logger
}

// NewOpenAI creates the tool-capable OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Label == "" {
		cfg.Label = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return newCompatible(cfg, true)
}

func newCompatible(cfg OpenAIConfig, tools bool) *OpenAI {
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &OpenAI{
		label:       cfg.Label,
		apiKey:      cfg.APIKey,
		apiBase:     strings.TrimRight(cfg.APIBase, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		tools:       tools,
		client:      cfg.Client,
		retry:       cfg.Retry,
		logger:      cfg.Logger,
	}
}

func (o *OpenAI) Name() string        { return o.label }
func (o *OpenAI) Model() string       { return o.model }
func (o *OpenAI) SupportsTools() bool { return o.tools }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", o.label, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: invalid API key", o.label)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", o.label, resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Tools       []oaiTool    `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function oaiToolCallFn `json:"function"`
}

type oaiToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiResponse struct {
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      *oaiMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete sends one chat completion request.
func (o *OpenAI) Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &domain.ProviderError{Provider: o.label, Kind: domain.ProviderErrParse, Err: errors.New("request has no messages")}
	}

	body := oaiRequest{
		Model:    o.model,
		Messages: o.wireMessages(req.Messages),
		Stream:   false,
	}
	body.MaxTokens = o.maxTokens
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	body.Temperature = o.temperature
	if req.Temperature != nil {
		body.Temperature = req.Temperature
	}

	if len(req.Tools) > 0 {
		if o.tools {
			for _, t := range req.Tools {
				body.Tools = append(body.Tools, oaiTool{
					Type: "function",
					Function: oaiFunction{
						Name:        t.Name,
						Description: t.Description,
						Parameters:  t.Parameters,
					},
				})
			}
			body.ToolChoice = "auto"
		} else {
			o.logger.Debug("dropping tool definitions for provider without tool support", "provider", o.label)
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: o.label, Kind: domain.ProviderErrParse, Err: fmt.Errorf("marshal: %w", err)}
	}

	start := time.Now()
	resp, err := o.retry.do(ctx, o.client, o.label, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+o.apiKey)
		return r, nil
	}, o.logger)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, &domain.ProviderError{Provider: o.label, Kind: domain.ProviderErrParse, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	if len(oaiResp.Choices) == 0 || oaiResp.Choices[0].Message == nil {
		return nil, &domain.ProviderError{Provider: o.label, Kind: domain.ProviderErrParse, Status: resp.StatusCode, Err: errors.New("response missing choices[0].message")}
	}

	choice := oaiResp.Choices[0]
	out := &domain.ChatResponse{
		Content:      choice.Message.Content,
		ModelID:      oaiResp.Model,
		ProviderID:   o.label,
		FinishReason: domain.NormalizeFinishReason(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if out.ModelID == "" {
		out.ModelID = o.model
	}

	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, decodeToolCall(tc))
	}
	if len(out.ToolCalls) > 0 && out.FinishReason == domain.FinishStop {
		out.FinishReason = domain.FinishToolCalls
	}

	return out, nil
}

func (o *OpenAI) wireMessages(in []domain.Message) []oaiMessage {
	msgs := make([]oaiMessage, 0, len(in))
	for _, m := range in {
		if !o.tools {
			switch {
			case m.Role == domain.RoleTool:
				msgs = append(msgs, oaiMessage{
					Role:    string(domain.RoleUser),
					Content: fmt.Sprintf("函数 %s 执行结果: %s", m.ToolName, m.Content),
				})
				continue
			case len(m.ToolCalls) > 0:
				msgs = append(msgs, oaiMessage{Role: string(m.Role), Content: m.Content})
				continue
			}
		}

		om := oaiMessage{Role: string(m.Role), Content: m.Content}
		if m.ToolCallID != "" {
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			args := tc.RawArguments
			if args == "" {
				b, _ := json.Marshal(tc.Arguments)
				args = string(b)
			}
			om.ToolCalls = append(om.ToolCalls, oaiToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: oaiToolCallFn{Name: tc.Name, Arguments: args},
			})
		}
		msgs = append(msgs, om)
	}
	return msgs
}

// decodeToolCall parses the provider's argument text. Blank arguments decode
// to an empty object; anything that is not a JSON object is recorded on
// ArgumentsErr for the caller to report.
func decodeToolCall(tc oaiToolCall) domain.ToolCall {
	call := domain.ToolCall{
		ID:           tc.ID,
		Name:         tc.Function.Name,
		RawArguments: tc.Function.Arguments,
	}
	raw := strings.TrimSpace(tc.Function.Arguments)
	if raw == "" {
		call.Arguments = map[string]any{}
		return call
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		call.ArgumentsErr = err
		return call
	}
	if args == nil {
		call.ArgumentsErr = errors.New("arguments are not a JSON object")
		return call
	}
	call.Arguments = args
	return call
}
