package tags

import (
	"reflect"
	"testing"

	"github.com/ferro-labs/llm-router/models"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		id   string
		want []string
	}{
		{
			id:   "claude-3-haiku-20240307",
			want: []string{"claude-3-haiku-20240307", "claude-3-haiku", "claude", "3", "haiku", "20240307"},
		},
		{
			id:   "meta/llama-3-70b-instruct",
			want: []string{"llama-3-70b-instruct", "llama", "3", "70b"},
		},
		{
			id:   "Qwen/Qwen3-8B",
			want: []string{"qwen3-8b", "qwen3", "8b"},
		},
		{
			id:   "gpt-4o",
			want: []string{"gpt-4o", "gpt", "4o"},
		},
		{
			id:   "mistralai/mistral-7b:free",
			want: []string{"mistral-7b", "mistral", "7b"},
		},
	}
	for _, tt := range tests {
		got := Extract(tt.id)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Extract(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	a := Extract("deepseek-ai/DeepSeek-V3")
	b := Extract("deepseek-ai/DeepSeek-V3")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("extraction not stable: %v vs %v", a, b)
	}
}

func TestExtractWithAliases(t *testing.T) {
	aliases := map[string]string{
		"fast-coder": "qwen3-8b",
		"other":      "different-model",
	}
	got := ExtractWithAliases("qwen3-8b", aliases)
	if !contains(got, "fast") || !contains(got, "coder") {
		t.Errorf("alias tags missing from %v", got)
	}
	if contains(got, "different") {
		t.Errorf("unrelated alias leaked into %v", got)
	}
}

func TestHasAllHasAny(t *testing.T) {
	set := []string{"llama", "3", "70b"}
	if !HasAll(set, []string{"llama", "70b"}) {
		t.Error("HasAll should match subset")
	}
	if HasAll(set, []string{"llama", "8b"}) {
		t.Error("HasAll should reject missing tag")
	}
	if !HasAny(set, []string{"8b", "70b"}) {
		t.Error("HasAny should match single hit")
	}
	if HasAny(set, []string{"mistral"}) {
		t.Error("HasAny should miss disjoint set")
	}
}

func TestParseSizeFilter(t *testing.T) {
	tests := []struct {
		term      string
		wantOK    bool
		wantField Field
		wantOp    Op
		wantThr   float64
	}{
		{">20b", true, FieldParams, OpGT, 20e9},
		{"<8ko", true, FieldContextOut, OpLT, 8e3},
		{">=32ki", true, FieldContextIn, OpGE, 32e3},
		{">=32i", true, FieldContextIn, OpGE, 32e3},
		{"<=1mi", true, FieldContextIn, OpLE, 1e6},
		{"=700m", true, FieldParams, OpEQ, 700e6},
		{"llama", false, 0, "", 0},
	}
	for _, tt := range tests {
		f, ok, err := ParseSizeFilter(tt.term)
		if ok != tt.wantOK {
			t.Errorf("ParseSizeFilter(%q) ok = %v, want %v", tt.term, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if err != nil {
			t.Errorf("ParseSizeFilter(%q) error: %v", tt.term, err)
			continue
		}
		if f.Field != tt.wantField || f.Op != tt.wantOp || f.Threshold != tt.wantThr {
			t.Errorf("ParseSizeFilter(%q) = %+v, want field %v op %v threshold %v",
				tt.term, f, tt.wantField, tt.wantOp, tt.wantThr)
		}
	}
}

func TestParseSizeFilterBadInput(t *testing.T) {
	for _, term := range []string{">20x", ">b", ">1.2.3b"} {
		_, ok, err := ParseSizeFilter(term)
		if !ok {
			t.Errorf("ParseSizeFilter(%q) should recognise the shape", term)
		}
		if err == nil {
			t.Errorf("ParseSizeFilter(%q) should fail to parse", term)
		}
	}
}

func TestSizeFilterMatch(t *testing.T) {
	info := models.ModelInfo{}
	info.Specs.Parameters = 30e9
	info.Specs.ContextLength = 32000
	info.Specs.MaxOutputTokens = 4096

	f, _, _ := ParseSizeFilter(">20b")
	if !f.Match(info) {
		t.Error("30B should pass >20b")
	}
	f, _, _ = ParseSizeFilter(">70b")
	if f.Match(info) {
		t.Error("30B should fail >70b")
	}
	f, _, _ = ParseSizeFilter("<8ko")
	if !f.Match(info) {
		t.Error("4096 output should pass <8ko")
	}

	// Missing numeric field drops the candidate.
	var blank models.ModelInfo
	f, _, _ = ParseSizeFilter(">1b")
	if f.Match(blank) {
		t.Error("missing parameter count should fail the filter")
	}
}

func TestParseParamPredicate(t *testing.T) {
	p, ok, err := ParseParamPredicate("qwen3-<8b")
	if !ok || err != nil {
		t.Fatalf("ParseParamPredicate: ok=%v err=%v", ok, err)
	}
	if p.Prefix != "qwen3" || p.Op != OpLT || p.Threshold != 8e9 {
		t.Errorf("unexpected predicate %+v", p)
	}

	if _, ok, _ := ParseParamPredicate("gpt-4o"); ok {
		t.Error("plain name should not parse as predicate")
	}

	if _, ok, err := ParseParamPredicate("qwen3-<8x"); !ok || err == nil {
		t.Error("unknown unit should be a parse failure, not a miss")
	}
}

func TestParamPredicatePrefix(t *testing.T) {
	p, _, _ := ParseParamPredicate("qwen3->=4b")
	for id, want := range map[string]bool{
		"qwen3-4b":        true,
		"qwen3_14b":       true,
		"Qwen/Qwen3-8B":   true,
		"qwen2.5-7b":      false,
		"llama-3-8b":      false,
		"qwen3":           true,
		"qwen30-verse-1b": false,
	} {
		if got := p.MatchesPrefix(id); got != want {
			t.Errorf("MatchesPrefix(%q) = %v, want %v", id, got, want)
		}
	}
}
