package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/kursil/internal/config"
	"github.com/TobiSchelling/kursil/internal/logger"
)

func TestParseJSONResponsePlain(t *testing.T) {
	result := ParseJSONResponse(`{"key": "value", "num": 42}`)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestParseJSONResponseWithCodeFence(t *testing.T) {
	text := "```json\n{\"key\": \"value\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseWithProse(t *testing.T) {
	text := "Here is the result:\n{\"method\": \"Lecture\"}\nHope this helps."
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["method"] != "Lecture" {
		t.Errorf("expected method='Lecture', got %v", result["method"])
	}
}

func TestParseJSONResponseInvalid(t *testing.T) {
	if ParseJSONResponse("not json at all") != nil {
		t.Error("expected nil for invalid JSON")
	}
	if ParseJSONResponse("") != nil {
		t.Error("expected nil for empty string")
	}
}

func TestStringField(t *testing.T) {
	m := ParseJSONResponse(`{"duration": 45, "assessment": ["Quiz", "Case study"], "method": " Lecture "}`)
	require.NotNil(t, m)

	assert.Equal(t, "45", StringField(m, "duration"))
	assert.Equal(t, "- Quiz\n- Case study", StringField(m, "assessment"))
	assert.Equal(t, "Lecture", StringField(m, "method"))
	assert.Equal(t, "", StringField(m, "missing"))
}

func TestOpenAIProviderComplete(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"An elaboration."}}]}`))
	}))
	defer ts.Close()

	p := NewOpenAIProvider("gpt-4o-mini", "sk-test", ts.URL, Options{MaxTokens: 100})
	text, err := p.Complete(context.Background(), "You are a consultant.", "Elaborate grid stability.")
	require.NoError(t, err)
	assert.Equal(t, "An elaboration.", text)
	assert.Equal(t, "gpt-4o-mini", p.Model())

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.Equal(t, float64(100), got["max_tokens"])
}

func TestOpenAIProviderNon200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer ts.Close()

	p := NewOpenAIProvider("gpt-4o-mini", "sk-test", ts.URL, Options{})
	_, err := p.Complete(context.Background(), "", "hello")
	assert.ErrorContains(t, err, "401")
}

func TestOpenAIProviderNoKey(t *testing.T) {
	p := NewOpenAIProvider("gpt-4o-mini", "", "", Options{})
	assert.False(t, p.IsConfigured())
	_, err := p.Complete(context.Background(), "", "hello")
	assert.Error(t, err)
}

func TestOllamaProviderOmitsEmptySystem(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":{"content":"hi there"}}`))
	}))
	defer ts.Close()

	p := NewOllamaProvider("qwen2.5:7b", ts.URL, Options{})
	text, err := p.Complete(context.Background(), "  ", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
	assert.Len(t, got["messages"].([]any), 1)
}

func TestOllamaIsConfigured(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"}]}`))
	}))
	defer ts.Close()

	assert.True(t, NewOllamaProvider("qwen2.5:7b", ts.URL, Options{}).IsConfigured())
	assert.False(t, NewOllamaProvider("llama3", ts.URL, Options{}).IsConfigured())
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer ts.Close()

	e := NewOpenAIEmbedder("text-embedding-3-small", "sk-test", ts.URL)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
}

func TestCreateProviderNoneAvailable(t *testing.T) {
	cfg := config.LLM{Provider: "openai", Model: "gpt-4o-mini"}
	assert.Nil(t, CreateProvider(cfg, "", logger.Nop()))
}

func TestCreateProviderOpenAI(t *testing.T) {
	cfg := config.LLM{Provider: "openai", Model: "gpt-4o-mini"}
	p := CreateProvider(cfg, "sk-test", logger.Nop())
	require.NotNil(t, p)
	assert.Equal(t, "gpt-4o-mini", p.Model())
}
