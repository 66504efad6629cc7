package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AnthropicAdapter translates to the Anthropic Messages API: system messages
// move to the top-level system field, max_tokens is mandatory, and OpenAI
// tool schemas are rewritten to Anthropic's input_schema form.
type AnthropicAdapter struct{}

// NewAnthropicAdapter creates the anthropic adapter.
func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

// Kind implements Adapter.
func (a *AnthropicAdapter) Kind() AdapterKind { return KindAnthropic }

// defaultAnthropicMaxTokens is applied when the caller omits max_tokens;
// the Messages API rejects requests without it.
const defaultAnthropicMaxTokens = 4096

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

// TransformRequest implements Adapter.
func (a *AnthropicAdapter) TransformRequest(req Request, model string, _ string) ([]byte, string, error) {
	var systemParts []string
	if req.System != "" {
		systemParts = append(systemParts, req.System)
	}
	var messages []anthropicMessage
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		messages = append(messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	maxTokens := defaultAnthropicMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	out := anthropicRequest{
		Model:         model,
		MaxTokens:     maxTokens,
		Messages:      messages,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if len(systemParts) > 0 {
		out.System = strings.Join(systemParts, "\n")
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("marshal anthropic request: %w", err)
	}
	return body, "/v1/messages", nil
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// TransformResponse implements Adapter.
func (a *AnthropicAdapter) TransformResponse(body []byte, model string) (*Response, error) {
	var in anthropicResponse
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}

	var content strings.Builder
	var toolCalls []ToolCall
	for _, block := range in.Content {
		switch block.Type {
		case ContentTypeText:
			content.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}

	finish := "stop"
	switch in.StopReason {
	case "max_tokens":
		finish = "length"
	case "tool_use":
		finish = "tool_calls"
	}

	respModel := in.Model
	if respModel == "" {
		respModel = model
	}
	return &Response{
		ID:    in.ID,
		Model: respModel,
		Choices: []Choice{{
			Index: 0,
			Message: Message{
				Role:      RoleAssistant,
				Content:   content.String(),
				ToolCalls: toolCalls,
			},
			FinishReason: finish,
		}},
		Usage: Usage{
			PromptTokens:     in.Usage.InputTokens,
			CompletionTokens: in.Usage.OutputTokens,
			TotalTokens:      in.Usage.InputTokens + in.Usage.OutputTokens,
		},
	}, nil
}

// ParseStreamLine implements Adapter. Anthropic streams typed events; only
// message_start, content_block_delta, and message_stop matter here.
func (a *AnthropicAdapter) ParseStreamLine(st *StreamState, data string) ([]StreamChunk, bool, error) {
	var raw struct {
		Type    string `json:"type"`
		Message struct {
			ID    string `json:"id"`
			Model string `json:"model"`
		} `json:"message"`
		Index int `json:"index"`
		Delta struct {
			Type       string `json:"type"`
			Text       string `json:"text"`
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, false, nil
	}

	switch raw.Type {
	case "message_start":
		st.ID = raw.Message.ID
		st.Model = raw.Message.Model
		return []StreamChunk{{
			ID:      st.ID,
			Model:   st.Model,
			Choices: []StreamChoice{{Index: 0, Delta: MessageDelta{Role: RoleAssistant}}},
		}}, false, nil
	case "content_block_delta":
		if raw.Delta.Type != "text_delta" {
			return nil, false, nil
		}
		return []StreamChunk{{
			ID:      st.ID,
			Model:   st.Model,
			Choices: []StreamChoice{{Index: raw.Index, Delta: MessageDelta{Content: raw.Delta.Text}}},
		}}, false, nil
	case "message_delta":
		if raw.Delta.StopReason == "" {
			return nil, false, nil
		}
		return []StreamChunk{{
			ID:      st.ID,
			Model:   st.Model,
			Choices: []StreamChoice{{Index: 0, FinishReason: "stop"}},
		}}, false, nil
	case "message_stop":
		return nil, true, nil
	default:
		return nil, false, nil
	}
}

// ClassifyError implements Adapter.
func (a *AnthropicAdapter) ClassifyError(status int, body []byte) ErrorKind {
	kind := ClassifyStatus(status)
	if kind == KindUpstreamServerError {
		var e struct {
			Error struct {
				Type string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error.Type == "overloaded_error" {
			return KindRateLimited
		}
	}
	return kind
}

// ListModelsPath implements ModelLister.
func (a *AnthropicAdapter) ListModelsPath() string { return "/v1/models" }

// ParseModelList implements ModelLister.
func (a *AnthropicAdapter) ParseModelList(body []byte) ([]string, error) {
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parse anthropic model list: %w", err)
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
