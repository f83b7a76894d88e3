package extraction

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseExtractionResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantErr    bool
		wantResult bool
	}{
		{
			name:       "clean json",
			raw:        `{"result": true, "confidence": 0.92, "fact_values": {"price": "188.20"}, "summary": "price dropped 5.4%"}`,
			wantResult: true,
		},
		{
			name:       "json wrapped in prose",
			raw:        "Here is my answer:\n{\"result\": false, \"confidence\": 0.8, \"fact_values\": {}, \"summary\": \"no drop\"}\nDone.",
			wantResult: false,
		},
		{
			name:    "no json at all",
			raw:     "the condition is satisfied",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := parseExtractionResponse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ex.Result != tt.wantResult {
				t.Errorf("expected result %v, got %v", tt.wantResult, ex.Result)
			}
			if ex.FactValues == nil {
				t.Error("fact values must never be nil")
			}
		})
	}
}

func TestParseExtractionResponse_ClampsConfidence(t *testing.T) {
	t.Parallel()

	ex, err := parseExtractionResponse(`{"result": true, "confidence": 3.5}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.Confidence != 1 {
		t.Errorf("expected confidence clamped to 1, got %v", ex.Confidence)
	}
}

func TestIsRateLimitError(t *testing.T) {
	t.Parallel()

	apiErr := &APIError{StatusCode: 429, Type: "rate_limit_error"}
	if !IsRateLimitError(fmt.Errorf("request failed: %w", apiErr)) {
		t.Error("wrapped 429 APIError should be a rate limit error")
	}
	if !IsRateLimitError(errors.New("got 429 too many requests")) {
		t.Error("message-based detection should catch 429")
	}
	if IsRateLimitError(errors.New("connection refused")) {
		t.Error("unrelated errors are not rate limit errors")
	}

	quota := &APIError{StatusCode: 429, Code: "insufficient_quota", IsPermanent: true}
	if IsRateLimitError(fmt.Errorf("request failed: %w", quota)) {
		t.Error("permanent quota errors are not transient rate limits")
	}
	if !IsQuotaError(fmt.Errorf("request failed: %w", quota)) {
		t.Error("quota error should be detected")
	}
}

func TestExtractAPIError(t *testing.T) {
	t.Parallel()

	err := errors.New(`POST failed: 429 {"message": "Quota exceeded", "type": "insufficient_quota", "code": "insufficient_quota"}`)
	apiErr := ExtractAPIError(err)
	if apiErr == nil {
		t.Fatal("expected an APIError")
	}
	if !apiErr.IsPermanent {
		t.Error("insufficient_quota should be permanent")
	}
	if apiErr.RetryAfter == nil || *apiErr.RetryAfter != time.Hour {
		t.Errorf("expected 1h retry for quota errors, got %v", apiErr.RetryAfter)
	}

	if ExtractAPIError(errors.New("timeout")) != nil {
		t.Error("non-429 errors should not extract")
	}
}

func TestGetRetryDelay(t *testing.T) {
	t.Parallel()

	rateErr := fmt.Errorf("wrapped: %w", &APIError{StatusCode: 429})
	if d := GetRetryDelay(rateErr, 0); d != 60*time.Second {
		t.Errorf("attempt 0 rate limit delay: expected 60s, got %v", d)
	}
	if d := GetRetryDelay(rateErr, 20); d != 15*time.Minute {
		t.Errorf("rate limit delay must cap at 15m, got %v", d)
	}

	quotaErr := fmt.Errorf("wrapped: %w", &APIError{StatusCode: 429, IsPermanent: true})
	if d := GetRetryDelay(quotaErr, 0); d != time.Hour {
		t.Errorf("attempt 0 quota delay: expected 1h, got %v", d)
	}
	if d := GetRetryDelay(quotaErr, 30); d != 24*time.Hour {
		t.Errorf("quota delay must cap at 24h, got %v", d)
	}

	if d := GetRetryDelay(errors.New("boom"), 0); d != 5*time.Second {
		t.Errorf("default delay: expected 5s, got %v", d)
	}
	if d := GetRetryDelay(errors.New("boom"), -5); d != 5*time.Second {
		t.Errorf("negative attempts clamp to 0, got %v", d)
	}
}

func TestProviderRegistry(t *testing.T) {
	t.Parallel()

	registry := NewProviderRegistry()
	registry.Register("openai", func(config map[string]string) (Extractor, error) {
		return NewOpenAIExtractor(config["api_key"], "", "", nil, false), nil
	})

	if _, err := registry.GetProvider("openai", map[string]string{"api_key": "k"}); err != nil {
		t.Errorf("registered provider should resolve: %v", err)
	}

	_, err := registry.GetProvider("anthropic", nil)
	var notFound *ErrProviderNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}
