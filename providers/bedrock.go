package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockAdapter routes anthropic.* model ids through the AWS Bedrock runtime
// SDK instead of the generic HTTP path. Credentials come from the channel
// api_key ("accessKeyID:secretAccessKey") or the default AWS chain when the
// channel carries none.
type BedrockAdapter struct {
	mu      sync.Mutex
	clients map[string]*bedrockruntime.Client // keyed by region + key fingerprint
}

// NewBedrockAdapter creates the bedrock adapter.
func NewBedrockAdapter() *BedrockAdapter {
	return &BedrockAdapter{clients: make(map[string]*bedrockruntime.Client)}
}

// Kind implements Adapter.
func (a *BedrockAdapter) Kind() AdapterKind { return KindBedrock }

// TransformRequest implements Adapter. Unused: the adapter is a NativeCaller
// and the dispatcher never takes the generic HTTP path for it.
func (a *BedrockAdapter) TransformRequest(Request, string, string) ([]byte, string, error) {
	return nil, "", fmt.Errorf("bedrock adapter dispatches natively")
}

// TransformResponse implements Adapter.
func (a *BedrockAdapter) TransformResponse([]byte, string) (*Response, error) {
	return nil, fmt.Errorf("bedrock adapter dispatches natively")
}

// ParseStreamLine implements Adapter.
func (a *BedrockAdapter) ParseStreamLine(*StreamState, string) ([]StreamChunk, bool, error) {
	return nil, true, fmt.Errorf("bedrock adapter dispatches natively")
}

// ClassifyError implements Adapter.
func (a *BedrockAdapter) ClassifyError(status int, _ []byte) ErrorKind {
	return ClassifyStatus(status)
}

func (a *BedrockAdapter) client(ctx context.Context, region string, ch *Channel) (*bedrockruntime.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	key := region + "/" + ch.KeyFingerprint()

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[key]; ok {
		return c, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if ch.APIKey != "" {
		id, secret, ok := strings.Cut(ch.APIKey, ":")
		if !ok {
			return nil, fmt.Errorf("bedrock credential must be accessKeyID:secretAccessKey")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	c := bedrockruntime.NewFromConfig(cfg)
	a.clients[key] = c
	return c, nil
}

// bedrockClaudeRequest is the anthropic-on-bedrock body shape.
type bedrockClaudeRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	StopSequences    []string           `json:"stop_sequences,omitempty"`
}

func buildClaudeBody(req Request) ([]byte, error) {
	var system []string
	if req.System != "" {
		system = append(system, req.System)
	}
	var messages []anthropicMessage
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		messages = append(messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}
	maxTokens := defaultAnthropicMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	return json.Marshal(bedrockClaudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           strings.Join(system, "\n"),
		Messages:         messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		StopSequences:    req.Stop,
	})
}

// Complete implements NativeCaller via the InvokeModel API.
func (a *BedrockAdapter) Complete(ctx context.Context, req Request, model string, p *Provider, ch *Channel) (*Response, error) {
	if !strings.HasPrefix(model, "anthropic.") {
		return nil, NewRouteError(KindRequestMalformed, "unsupported bedrock model %q", model)
	}
	region := ResolveRegion(p, ch)
	client, err := a.client(ctx, region, ch)
	if err != nil {
		return nil, err
	}
	body, err := buildClaudeBody(req)
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	output, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, WrapRouteError(KindUpstreamServerError, err, "bedrock invoke failed")
	}

	var in anthropicResponse
	if err := json.Unmarshal(output.Body, &in); err != nil {
		return nil, fmt.Errorf("unmarshal bedrock response: %w", err)
	}
	var text strings.Builder
	for _, block := range in.Content {
		if block.Type == ContentTypeText {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		ID:    in.ID,
		Model: model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: RoleAssistant, Content: text.String()},
			FinishReason: "stop",
		}},
		Usage: Usage{
			PromptTokens:     in.Usage.InputTokens,
			CompletionTokens: in.Usage.OutputTokens,
			TotalTokens:      in.Usage.InputTokens + in.Usage.OutputTokens,
		},
	}, nil
}

// CompleteStream implements NativeCaller via InvokeModelWithResponseStream.
func (a *BedrockAdapter) CompleteStream(ctx context.Context, req Request, model string, p *Provider, ch *Channel) (<-chan StreamChunk, error) {
	if !strings.HasPrefix(model, "anthropic.") {
		return nil, NewRouteError(KindRequestMalformed, "streaming on bedrock is limited to anthropic.* models")
	}
	region := ResolveRegion(p, ch)
	client, err := a.client(ctx, region, ch)
	if err != nil {
		return nil, err
	}
	body, err := buildClaudeBody(req)
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	output, err := client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, WrapRouteError(KindUpstreamServerError, err, "bedrock streaming invoke failed")
	}

	ch2 := make(chan StreamChunk)
	go func() {
		defer close(ch2)
		stream := output.GetStream()
		defer func() { _ = stream.Close() }()
		relayClaudeStream(ctx, model, stream.Events(), stream.Err, ch2)
	}()
	return ch2, nil
}

// relayClaudeStream forwards text deltas from a bedrock event stream as
// canonical chunks. Every send is select-guarded on ctx so a consumer that
// stopped receiving never strands the relay, the trailing error included.
func relayClaudeStream(ctx context.Context, model string, events <-chan types.ResponseStream, streamErr func() error, out chan<- StreamChunk) {
	for event := range events {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		var delta struct {
			Type  string `json:"type"`
			Index int    `json:"index"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if json.Unmarshal(chunk.Value.Bytes, &delta) != nil {
			continue
		}
		if delta.Type == "content_block_delta" && delta.Delta.Type == "text_delta" {
			select {
			case out <- StreamChunk{
				Model: model,
				Choices: []StreamChoice{{
					Index: delta.Index,
					Delta: MessageDelta{Content: delta.Delta.Text},
				}},
			}:
			case <-ctx.Done():
				return
			}
		}
	}
	if err := streamErr(); err != nil {
		select {
		case out <- StreamChunk{Error: err}:
		case <-ctx.Done():
		}
	}
}

// ResolveRegion picks the AWS region for a bedrock call: a channel tag
// ("region:eu-west-1") overrides the provider's configured region.
func ResolveRegion(p *Provider, ch *Channel) string {
	if ch != nil {
		for _, t := range ch.Tags {
			if r, ok := strings.CutPrefix(t, "region:"); ok {
				return r
			}
		}
	}
	if p != nil {
		return p.Region
	}
	return ""
}
