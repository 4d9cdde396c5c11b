package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/internal/retry"
	"github.com/BaSui01/surveyflow/llm"
	"github.com/BaSui01/surveyflow/types"
)

func TestCompleteBuildsMultimodalRequest(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("x-goog-api-key"))
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"parts": []map[string]any{{"text": `{"theme":"x"}`}}},
				"finishReason": "STOP",
			}},
		})
	}))
	defer srv.Close()

	p := New(config.LLMConfig{APIKey: "key-1", BaseURL: srv.URL}, nil, nil)
	resp, err := p.Complete(context.Background(), &llm.Request{
		System: "you are an analyst",
		Parts: []llm.Part{
			llm.TextPart("analyze these traces"),
			llm.ImagePart("aGVsbG8=", "image/png"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"theme":"x"}`, resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)

	// System instruction travels separately from the user parts.
	require.NotNil(t, captured["system_instruction"])
	contents := captured["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/png", inline["mimeType"])
	assert.Equal(t, "aGVsbG8=", inline["data"])
}

// fastRetryer swaps in millisecond backoff so retry paths finish quickly.
func fastRetryer(p *Provider, maxRetries int) {
	p.retryer = retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:      maxRetries,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		Multiplier:      2.0,
		RetryableErrors: []error{errTransient},
	}, nil)
}

func TestCompleteQuotaErrorRetriedThenClassified(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "message": "Resource has been exhausted", "status": "RESOURCE_EXHAUSTED"},
		})
	}))
	defer srv.Close()

	p := New(config.LLMConfig{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	fastRetryer(p, 2)
	_, err := p.Complete(context.Background(), &llm.Request{Parts: []llm.Part{llm.TextPart("hi")}})
	require.Error(t, err)
	assert.Equal(t, types.ErrLLMUnavailable, types.CodeOf(err))
	// The first attempt plus two backoff retries.
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestCompleteRetriesTransientServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": 503, "message": "The model is overloaded", "status": "UNAVAILABLE"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"parts": []map[string]any{{"text": "ok"}}},
				"finishReason": "STOP",
			}},
		})
	}))
	defer srv.Close()

	p := New(config.LLMConfig{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	fastRetryer(p, 3)
	resp, err := p.Complete(context.Background(), &llm.Request{Parts: []llm.Part{llm.TextPart("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestCompleteClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "Invalid request payload", "status": "INVALID_ARGUMENT"},
		})
	}))
	defer srv.Close()

	p := New(config.LLMConfig{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	fastRetryer(p, 3)
	_, err := p.Complete(context.Background(), &llm.Request{Parts: []llm.Part{llm.TextPart("hi")}})
	require.Error(t, err)
	assert.Equal(t, types.ErrLLMUnavailable, types.CodeOf(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCompleteNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer srv.Close()

	p := New(config.LLMConfig{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	_, err := p.Complete(context.Background(), &llm.Request{Parts: []llm.Part{llm.TextPart("hi")}})
	require.Error(t, err)
	assert.Equal(t, types.ErrLLMBadOutput, types.CodeOf(err))
}
