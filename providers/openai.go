package providers

import (
	"encoding/json"
	"fmt"
)

// OpenAIAdapter handles every OpenAI-compatible upstream (OpenAI itself plus
// the long tail of compatible vendors and local runtimes). It is the default
// adapter when a provider declares no kind and no heuristic matches.
type OpenAIAdapter struct{}

// NewOpenAIAdapter creates the openai-compatible adapter.
func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

// Kind implements Adapter.
func (a *OpenAIAdapter) Kind() AdapterKind { return KindOpenAI }

// openAIWireRequest is the upstream body: the canonical request minus router
// extension fields, with the physical model substituted.
type openAIWireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  any       `json:"tool_choice,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	User        string    `json:"user,omitempty"`
}

func toOpenAIWire(req Request, model string) openAIWireRequest {
	messages := req.Messages
	if req.System != "" {
		messages = append([]Message{{Role: RoleSystem, Content: req.System}}, messages...)
	}
	return openAIWireRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Stream:      req.Stream,
		User:        req.User,
	}
}

// TransformRequest implements Adapter.
func (a *OpenAIAdapter) TransformRequest(req Request, model string, _ string) ([]byte, string, error) {
	body, err := json.Marshal(toOpenAIWire(req, model))
	if err != nil {
		return nil, "", fmt.Errorf("marshal openai request: %w", err)
	}
	return body, "/v1/chat/completions", nil
}

// TransformResponse implements Adapter. The upstream body already matches the
// canonical shape.
func (a *OpenAIAdapter) TransformResponse(body []byte, model string) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return &resp, nil
}

// ParseStreamLine implements Adapter. OpenAI-compatible streams emit
// canonical chunks directly, terminated by [DONE].
func (a *OpenAIAdapter) ParseStreamLine(st *StreamState, data string) ([]StreamChunk, bool, error) {
	if data == SSEDone {
		return nil, true, nil
	}
	var chunk StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// Tolerate keep-alive and vendor noise lines.
		return nil, false, nil
	}
	if chunk.ID != "" {
		st.ID = chunk.ID
	}
	if chunk.Model != "" {
		st.Model = chunk.Model
	}
	return []StreamChunk{chunk}, false, nil
}

// ClassifyError implements Adapter.
func (a *OpenAIAdapter) ClassifyError(status int, body []byte) ErrorKind {
	kind := ClassifyStatus(status)
	// Some compatible vendors report quota exhaustion as 403 with a
	// rate-limit error code; keep those retryable.
	if kind == KindAuthInvalid {
		var e struct {
			Error struct {
				Code string `json:"code"`
				Type string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil {
			if e.Error.Code == "rate_limit_exceeded" || e.Error.Type == "insufficient_quota" {
				return KindRateLimited
			}
		}
	}
	return kind
}

// ListModelsPath implements ModelLister.
func (a *OpenAIAdapter) ListModelsPath() string { return "/v1/models" }

// ParseModelList implements ModelLister.
func (a *OpenAIAdapter) ParseModelList(body []byte) ([]string, error) {
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parse model list: %w", err)
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}
