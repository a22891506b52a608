package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaDo(t *testing.T) {
	var got ollamaGenerateReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ollamaGenerateResp{Response: `{"ok":true}`, PromptEvalCount: 11, EvalCount: 7})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	resp, err := c.Do(context.Background(), Request{
		Model:       "llama3.2-vision",
		Prompt:      "describe",
		ImageBase64: "aW1n",
		JSONMode:    true,
		Temperature: 0.1,
		MaxTokens:   512,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, 11, resp.TokensIn)
	assert.Equal(t, 7, resp.TokensOut)

	assert.Equal(t, "llama3.2-vision", got.Model)
	assert.Equal(t, []string{"aW1n"}, got.Images)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	assert.Equal(t, 0.1, got.Options["temperature"])
	assert.Equal(t, float64(512), got.Options["num_predict"])
}

func TestOllamaDoStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrRateLimited)
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, 500, httpErr.StatusCode)
				assert.Equal(t, "local", httpErr.Backend)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewOllamaClient(srv.URL).Do(context.Background(), Request{Model: "m", Prompt: "p"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req["model"])
		assert.Equal(t, "some text", req["prompt"])
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	vec, err := NewOllamaClient(srv.URL).Embed(context.Background(), "nomic-embed-text", "some text")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestOllamaEmbedEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL).Embed(context.Background(), "m", "t")
	assert.EqualError(t, err, "empty embedding")
}

func TestOllamaTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{
			{"name": "llama3.2-vision:latest"},
			{"name": "nomic-embed-text:latest"},
		}})
	}))
	defer srv.Close()

	tags, err := NewOllamaClient(srv.URL).Tags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2-vision:latest", "nomic-embed-text:latest"}, tags)
}

func TestOpenAIDo(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"a":1}`}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL)
	assert.Equal(t, "cloud_a", c.Name())

	resp, err := c.Do(context.Background(), Request{
		Model:        "gpt-4.1",
		SystemPrompt: "be terse",
		Prompt:       "extract",
		ImageBase64:  "aW1n",
		ImageMIME:    "image/png",
		JSONMode:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Text)
	assert.Equal(t, 5, resp.TokensIn)

	assert.Equal(t, "gpt-4.1", got["model"])
	rf, ok := got["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", rf["type"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	img := parts[0].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Contains(t, img["image_url"].(map[string]any)["url"], "data:image/png;base64,aW1n")
}

func TestOpenAIMissingKey(t *testing.T) {
	_, err := NewOpenAIClient("", "").Do(context.Background(), Request{Model: "m"})
	assert.EqualError(t, err, "missing OPENAI_API_KEY")
}

func TestOpenAIContentFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": ""}, "finish_reason": "content_filter"},
			},
		})
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("sk-test", srv.URL).Do(context.Background(), Request{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, ErrContentRefused)
}

func TestAnthropicDo(t *testing.T) {
	var got anthropicMsgReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": "result"}},
			"usage":   map[string]int{"input_tokens": 9, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient("ak-test", srv.URL)
	assert.Equal(t, "cloud_b", c.Name())

	resp, err := c.Do(context.Background(), Request{
		Model:        "claude-3-5-sonnet",
		SystemPrompt: "sys",
		Prompt:       "user text",
		ImageBase64:  "aW1n",
		ImageMIME:    "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "result", resp.Text)
	assert.Equal(t, 9, resp.TokensIn)
	assert.Equal(t, 4, resp.TokensOut)

	assert.Equal(t, 1024, got.MaxTokens, "max_tokens defaults when unset")
	assert.Equal(t, "sys", got.System)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "image", got.Messages[0].Content[0]["type"])
	assert.Equal(t, "text", got.Messages[0].Content[1]["type"])
}

func TestAnthropicMissingKey(t *testing.T) {
	_, err := NewAnthropicClient("", "").Do(context.Background(), Request{Model: "m"})
	assert.EqualError(t, err, "missing ANTHROPIC_API_KEY")
}
