package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

func TestResolveRegion(t *testing.T) {
	cases := []struct {
		name string
		p    *Provider
		ch   *Channel
		want string
	}{
		{
			name: "channel tag wins",
			p:    &Provider{Region: "us-east-1"},
			ch:   &Channel{Tags: []string{"gpu", "region:eu-west-1"}},
			want: "eu-west-1",
		},
		{
			name: "provider region as fallback",
			p:    &Provider{Region: "ap-southeast-2"},
			ch:   &Channel{Tags: []string{"gpu"}},
			want: "ap-southeast-2",
		},
		{
			name: "nothing configured",
			p:    &Provider{},
			ch:   &Channel{},
			want: "",
		},
		{
			name: "nil provider",
			ch:   &Channel{Tags: []string{"region:us-west-2"}},
			want: "us-west-2",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveRegion(tc.p, tc.ch); got != tc.want {
				t.Errorf("region = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClaudeStreamRelayDeltas(t *testing.T) {
	events := make(chan types.ResponseStream, 2)
	events <- &types.ResponseStreamMemberChunk{Value: types.PayloadPart{
		Bytes: []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"bonjour"}}`),
	}}
	close(events)

	out := make(chan StreamChunk, 4)
	relayClaudeStream(context.Background(), "anthropic.claude-3", events, func() error { return nil }, out)

	if len(out) != 1 {
		t.Fatalf("chunks = %d", len(out))
	}
	chunk := <-out
	if chunk.Choices[0].Delta.Content != "bonjour" {
		t.Errorf("delta = %q", chunk.Choices[0].Delta.Content)
	}
}

func TestClaudeStreamRelayErrorAfterConsumerGone(t *testing.T) {
	events := make(chan types.ResponseStream)
	close(events)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Nothing ever reads out; the trailing error send must not block.
	out := make(chan StreamChunk)
	done := make(chan struct{})
	go func() {
		relayClaudeStream(ctx, "anthropic.claude-3", events, func() error { return errors.New("connection reset") }, out)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not exit after cancellation")
	}
}

func TestBuildClaudeBodySystem(t *testing.T) {
	body, err := buildClaudeBody(Request{
		System: "answer in French",
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "bonjour"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	var wire bedrockClaudeRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatal(err)
	}
	if wire.System != "answer in French\nbe terse" {
		t.Errorf("system = %q", wire.System)
	}
	if len(wire.Messages) != 1 || wire.Messages[0].Role != RoleUser {
		t.Errorf("messages = %+v", wire.Messages)
	}
}
