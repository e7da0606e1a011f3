package generator

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiLLM 基于 Gemini API 实现 LLMClient。
type GeminiLLM struct {
	Model       string
	Temperature float64
	MaxTokens   int
	client      *genai.Client
}

func NewGeminiLLMFromConfig(ctx context.Context, cfg *LLMSettings) (*GeminiLLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key missing; provide llm.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &GeminiLLM{Model: cfg.Model, Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens, client: client}, nil
}

func (g *GeminiLLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	conf := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
	}
	if g.Temperature > 0 {
		conf.Temperature = genai.Ptr(float32(g.Temperature))
	}
	if g.MaxTokens > 0 {
		conf.MaxOutputTokens = int32(g.MaxTokens)
	}
	if prompt.Format == FormatJSON {
		conf.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.Model, genai.Text(prompt.User), conf)
	if err != nil {
		return "", geminiError(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &ProviderError{Provider: "gemini", Message: "empty completion"}
	}
	return text, nil
}

// geminiError 把 SDK 错误转换为 ProviderError。
// Gemini 不返回 Retry-After 头，限流等待时间放在 details 的 RetryInfo.retryDelay 里（如 "37s"）。
func geminiError(err error) *ProviderError {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return &ProviderError{Provider: "gemini", Message: err.Error(), Err: err}
	}
	pe := &ProviderError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
	for _, d := range apiErr.Details {
		if t, _ := d["@type"].(string); !strings.HasSuffix(t, "google.rpc.RetryInfo") {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if delay, perr := time.ParseDuration(raw); perr == nil && delay >= 0 {
			pe.Header = http.Header{"Retry-After": {strconv.FormatFloat(delay.Seconds(), 'f', -1, 64)}}
		}
		break
	}
	return pe
}
