package providers

import (
	"encoding/json"
	"testing"
)

func TestOpenAITransformRequestSystem(t *testing.T) {
	a := NewOpenAIAdapter()
	body, path, err := a.TransformRequest(Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, "gpt-4o", "balanced")
	if err != nil {
		t.Fatal(err)
	}
	if path != "/v1/chat/completions" {
		t.Errorf("path = %q", path)
	}
	var wire struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatal(err)
	}
	if len(wire.Messages) != 2 {
		t.Fatalf("messages = %+v", wire.Messages)
	}
	if wire.Messages[0].Role != RoleSystem || wire.Messages[0].Content != "be brief" {
		t.Errorf("leading message = %+v", wire.Messages[0])
	}
	if wire.Messages[1].Role != RoleUser {
		t.Errorf("user message = %+v", wire.Messages[1])
	}
}

func TestOpenAITransformRequestNoSystem(t *testing.T) {
	a := NewOpenAIAdapter()
	body, _, err := a.TransformRequest(Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, "gpt-4o", "balanced")
	if err != nil {
		t.Fatal(err)
	}
	var wire struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatal(err)
	}
	if len(wire.Messages) != 1 {
		t.Errorf("messages = %+v", wire.Messages)
	}
}
