package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/GoCodeAlone/pilot/history"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-3-5-sonnet-20241022"
	defaultAnthropicMaxTokens = 1024
	anthropicAPIVersion       = "2023-06-01"
	anthropicComputerUseBeta  = "computer-use-2024-10-22"
)

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	MaxTokens     int
	DisplayWidth  int
	DisplayHeight int
	HTTPClient    *http.Client
}

// AnthropicProvider implements Provider using the Anthropic Messages API
// with the computer-use tool.
type AnthropicProvider struct {
	config AnthropicConfig
}

// NewAnthropicProvider creates a new Anthropic provider with the given config.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	if cfg.DisplayWidth <= 0 {
		cfg.DisplayWidth = 1280
	}
	if cfg.DisplayHeight <= 0 {
		cfg.DisplayHeight = 800
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &AnthropicProvider{config: cfg}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// anthropicRequest is the request body for the Messages API.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []map[string]any   `json:"tools"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// anthropicResponse is the response from the Messages API.
type anthropicResponse struct {
	ID      string              `json:"id"`
	Type    string              `json:"type"`
	Content []anthropicRespItem `json:"content"`
	Usage   anthropicUsage      `json:"usage"`
	Error   *anthropicError     `json:"error,omitempty"`
}

type anthropicRespItem struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NextAction sends one Messages API request built from the conversation
// turns and returns the raw response with any tool-use block attached.
func (p *AnthropicProvider) NextAction(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, &FatalError{Reason: "marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{Reason: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("anthropic-beta", anthropicComputerUseBeta)

	resp, err := p.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, classifyNetError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Reason: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, data)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, &TransientError{Reason: "unmarshal response", Err: err}
	}
	if apiResp.Error != nil {
		return nil, &FatalError{Reason: apiResp.Error.Type + ": " + apiResp.Error.Message}
	}

	return parseAnthropicResponse(&apiResp), nil
}

// buildRequest converts turns into API messages. Observation turns become
// user messages carrying the screenshot as a base64 image block; assistant
// turns are echoed back as assistant text.
func (p *AnthropicProvider) buildRequest(req *Request) *anthropicRequest {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}

	out := &anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Tools: []map[string]any{
			{
				"type":              "computer_20241022",
				"name":              "computer",
				"display_width_px":  p.config.DisplayWidth,
				"display_height_px": p.config.DisplayHeight,
				"display_number":    1,
			},
			{
				"name":        "finish_run",
				"description": "Call this function when you have achieved the goal of the task.",
				"input_schema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"success": map[string]any{
							"type":        "boolean",
							"description": "Whether the task was successful",
						},
						"error": map[string]any{
							"type":        "string",
							"description": "The error message if the task was not successful",
						},
					},
					"required": []string{"success"},
				},
			},
		},
	}

	for _, turn := range req.Turns {
		out.Messages = append(out.Messages, turnToMessage(turn))
	}
	return out
}

func turnToMessage(turn history.Turn) anthropicMessage {
	role := "user"
	if turn.Role == history.RoleAssistant {
		role = "assistant"
	}

	if turn.Image == nil {
		return anthropicMessage{Role: role, Content: turn.Text}
	}

	var blocks []anthropicContent
	if turn.Text != "" {
		blocks = append(blocks, anthropicContent{Type: "text", Text: turn.Text})
	}
	blocks = append(blocks, anthropicContent{
		Type: "image",
		Source: &anthropicSource{
			Type:      "base64",
			MediaType: "image/" + turn.Image.Format,
			Data:      base64.StdEncoding.EncodeToString(turn.Image.Data),
		},
	})
	return anthropicMessage{Role: role, Content: blocks}
}

func parseAnthropicResponse(apiResp *anthropicResponse) *Response {
	resp := &Response{
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
	for _, item := range apiResp.Content {
		switch item.Type {
		case "text":
			resp.Text += item.Text
		case "tool_use":
			if resp.ToolUse == nil {
				resp.ToolUse = &ToolUse{ID: item.ID, Name: item.Name, Input: item.Input}
			}
		}
	}
	return resp
}

// classifyStatus maps HTTP status codes to the retry taxonomy: 429 and
// 5xx are transient, everything else (auth, malformed request, policy)
// is fatal.
func classifyStatus(status int, body []byte) error {
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return &TransientError{Status: status, Reason: msg}
	default:
		return &FatalError{Status: status, Reason: msg}
	}
}

// classifyNetError treats timeouts and connection failures as transient.
func classifyNetError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Reason: fmt.Sprintf("network: %v", err), Err: err}
	}
	return &TransientError{Reason: fmt.Sprintf("send request: %v", err), Err: err}
}
