// Package gemini implements the vision LLM provider over the Google Gemini
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/internal/metrics"
	"github.com/BaSui01/surveyflow/internal/retry"
	"github.com/BaSui01/surveyflow/llm"
	"github.com/BaSui01/surveyflow/types"
)

// errTransient 标记可重试的 Gemini 故障，重试器用 errors.Is 匹配它
var errTransient = types.NewError(types.ErrLLMUnavailable, "gemini transient failure").WithRetryable()

// Provider 实现 Google Gemini 的视觉 LLM Provider
// Gemini API 特点：
// 1. 使用 x-goog-api-key 请求头认证
// 2. 多模态支持（文本 + 截图 inlineData）
// 3. system_instruction 独立于 contents
type Provider struct {
	cfg     config.LLMConfig
	client  *http.Client
	retryer retry.Retryer
	metrics *metrics.Collector
	logger  *zap.Logger
}

// New 创建 Gemini Provider
func New(cfg config.LLMConfig, collector *metrics.Collector, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	p := &Provider{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		metrics: collector,
		logger:  logger,
	}
	p.retryer = retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        8 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		RetryableErrors: []error{errTransient},
	}, logger)
	return p
}

func (p *Provider) Name() string { return "gemini" }

// Gemini 消息结构
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"system_instruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete implements llm.Provider. Transport faults and 429/5xx responses
// are retried with exponential backoff; schema and client errors are not.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	var resp *llm.Response
	err := p.retryer.Do(ctx, func() error {
		r, ferr := p.completeOnce(ctx, req)
		if ferr != nil {
			var te *types.Error
			if errors.As(ferr, &te) && te.Retryable {
				return fmt.Errorf("%v: %w", ferr, errTransient)
			}
			return ferr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Provider) completeOnce(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	parts := make([]geminiPart, 0, len(req.Parts))
	for _, part := range req.Parts {
		if part.ImageB64 != "" {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MimeType: part.MimeType,
				Data:     part.ImageB64,
			}})
			continue
		}
		if part.Text != "" {
			parts = append(parts, geminiPart{Text: part.Text})
		}
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.metrics.LLMRequest(p.Name(), "transport_error", time.Since(start))
		return nil, types.NewError(types.ErrLLMUnavailable, "gemini unreachable").WithCause(err).WithRetryable()
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, types.NewError(types.ErrLLMUnavailable, "read gemini response").WithCause(err)
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		p.metrics.LLMRequest(p.Name(), "bad_output", time.Since(start))
		return nil, types.NewError(types.ErrLLMBadOutput, "decode gemini response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != nil {
		msg := fmt.Sprintf("status=%d", resp.StatusCode)
		if out.Error != nil {
			msg = fmt.Sprintf("status=%d code=%d %s", resp.StatusCode, out.Error.Code, out.Error.Message)
		}
		p.metrics.LLMRequest(p.Name(), "api_error", time.Since(start))
		apiErr := types.Errorf(types.ErrLLMUnavailable, "gemini error: %s", msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			apiErr = apiErr.WithRetryable()
		}
		return nil, apiErr
	}
	if len(out.Candidates) == 0 {
		p.metrics.LLMRequest(p.Name(), "empty", time.Since(start))
		return nil, types.Errorf(types.ErrLLMBadOutput, "gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	p.metrics.LLMRequest(p.Name(), "ok", time.Since(start))

	return &llm.Response{
		Text:         text.String(),
		FinishReason: out.Candidates[0].FinishReason,
		PromptTokens: out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// HealthCheck implements llm.Provider.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1beta/models", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("gemini health check failed: status=%d", resp.StatusCode)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}
