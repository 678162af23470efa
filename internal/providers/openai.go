package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"factnews/internal/common/config"
	apperrors "factnews/internal/common/errors"
	"factnews/internal/common/logger"
	"factnews/internal/common/metrics"
)

const initialBackoff = 200 * time.Millisecond

// OpenAICompat talks to any OpenAI-compatible chat completions endpoint.
// Every supported service exposes this wire shape, so one implementation
// parameterized per provider covers the whole roster.
type OpenAICompat struct {
	name   string
	cfg    config.ProviderConfig
	apiKey string
	client *http.Client
	log    logger.Logger
}

// NewOpenAICompat builds one provider variant from configuration. The per
// call deadline comes from cfg.Timeout; the http.Client carries no
// timeout of its own so the context stays authoritative.
func NewOpenAICompat(name string, cfg config.ProviderConfig, log logger.Logger) *OpenAICompat {
	return &OpenAICompat{
		name:   name,
		cfg:    cfg,
		apiKey: os.Getenv(cfg.APIKeyEnv),
		client: &http.Client{},
		log:    log.With(map[string]interface{}{"provider": name}),
	}
}

func (p *OpenAICompat) Name() string { return p.name }

type chatRequest struct {
	Model          string      `json:"model"`
	Messages       []Message   `json:"messages"`
	Temperature    float64     `json:"temperature"`
	MaxTokens      int         `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Complete sends the request with bounded exponential backoff on the
// transient error classes. AuthError and Malformed are never retried.
func (p *OpenAICompat) Complete(ctx context.Context, req Request) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	attempts := p.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	started := time.Now()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				metrics.ProviderCalls.WithLabelValues(p.name, "timeout").Inc()
				return nil, apperrors.NewProviderTimeoutError(p.name)
			}
		}

		completion, err := p.doCall(ctx, req)
		if err == nil {
			metrics.ProviderCalls.WithLabelValues(p.name, "ok").Inc()
			metrics.ProviderCallDuration.WithLabelValues(p.name).Observe(time.Since(started).Seconds())
			return completion, nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) {
			break
		}
		p.log.WithError(err).Warn("provider call failed, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"max":     attempts,
		})
	}

	metrics.ProviderCalls.WithLabelValues(p.name, string(apperrors.CodeOf(lastErr))).Inc()
	metrics.ProviderCallDuration.WithLabelValues(p.name).Observe(time.Since(started).Seconds())
	return nil, lastErr
}

func (p *OpenAICompat) doCall(ctx context.Context, req Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	temperature := req.Temperature
	if temperature == 0 && p.cfg.Temperature != nil {
		temperature = *p.cfg.Temperature
	}

	payload := chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		payload.ResponseFormat = &respFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewProviderMalformedError(p.name, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewProviderMalformedError(p.name, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewProviderTimeoutError(p.name)
		}
		return nil, apperrors.NewProviderUnavailableError(p.name, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		details := fmt.Sprintf("status %d: %s", resp.StatusCode, string(snippet))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, apperrors.NewProviderRateLimitedError(p.name, details)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, apperrors.NewProviderAuthError(p.name, details)
		case resp.StatusCode == http.StatusRequestTimeout:
			return nil, apperrors.NewProviderTimeoutError(p.name)
		case resp.StatusCode >= 500:
			return nil, apperrors.NewProviderUnavailableError(p.name, details)
		default:
			return nil, apperrors.NewProviderMalformedError(p.name, details)
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewProviderTimeoutError(p.name)
		}
		return nil, apperrors.NewProviderUnavailableError(p.name, err.Error())
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperrors.NewProviderMalformedError(p.name, err.Error())
	}
	if len(parsed.Choices) == 0 {
		return nil, apperrors.NewProviderMalformedError(p.name, "response contained no choices")
	}

	completion := &Completion{
		Content:  parsed.Choices[0].Message.Content,
		Model:    parsed.Model,
		Provider: p.name,
		Raw:      raw,
	}
	if completion.Model == "" {
		completion.Model = model
	}
	if parsed.Usage != nil {
		completion.Usage = *parsed.Usage
	}
	return completion, nil
}
