package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/monitorhub/monitorhub/internal/models"
)

const (
	// DefaultOpenAIModel is the model used when none is configured
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultOpenAIBaseURL is the OpenAI API base URL
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout bounds one extraction request
	DefaultTimeout = 60 * time.Second
	// maxContentChars caps how much scraped content goes into the prompt
	maxContentChars = 12000
)

const systemPrompt = "You are a monitoring assistant. You are given the text content of a web page " +
	"and a condition written in natural language. Extract the facts the condition refers to, " +
	"decide whether the condition is currently satisfied, and respond with valid JSON only, " +
	`in the shape {"result": bool, "confidence": number, "fact_values": {string: string}, "summary": string}.`

// OpenAIExtractor implements Extractor using OpenAI chat completions
type OpenAIExtractor struct {
	client    openai.Client
	model     string
	logger    *zap.Logger
	debugMode bool
}

// NewOpenAIExtractor creates a new OpenAI-backed extractor
func NewOpenAIExtractor(apiKey, baseURL, model string, logger *zap.Logger, debugMode bool) *OpenAIExtractor {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: DefaultTimeout}),
	)

	return &OpenAIExtractor{
		client:    client,
		model:     model,
		logger:    logger,
		debugMode: debugMode,
	}
}

// RegisterOpenAI registers the OpenAI extractor factory with a registry
func RegisterOpenAI(registry *ProviderRegistry) {
	registry.Register("openai", func(config map[string]string) (Extractor, error) {
		return NewOpenAIExtractor(config["api_key"], config["base_url"], config["model"], nil, false), nil
	})
}

// ExtractAndEvaluate asks the model whether the monitor's condition holds for
// the given page content
func (p *OpenAIExtractor) ExtractAndEvaluate(ctx context.Context, monitor *models.Monitor, content string) (*Extraction, error) {
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	prompt := fmt.Sprintf("Condition: %s\n\nPage content:\n%s", monitor.Query, content)
	req := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, req)
	latency := time.Since(start)
	if err != nil {
		if apiErr := ExtractAPIError(err); apiErr != nil {
			return nil, fmt.Errorf("failed to evaluate condition: %w", apiErr)
		}
		return nil, fmt.Errorf("failed to evaluate condition: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	raw := resp.Choices[0].Message.Content
	if p.logger != nil && p.debugMode {
		p.logger.Debug("llm_api_response",
			zap.String("operation", "extract_and_evaluate"),
			zap.String("model", p.model),
			zap.String("monitor_id", monitor.ID.String()),
			zap.Int("response_length", len(raw)),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)
	}

	return parseExtractionResponse(raw)
}

func parseExtractionResponse(raw string) (*Extraction, error) {
	ex := &Extraction{}
	if err := json.Unmarshal([]byte(raw), ex); err != nil {
		// Some models wrap the JSON in prose; salvage the outermost object.
		start := bytes.Index([]byte(raw), []byte("{"))
		end := bytes.LastIndex([]byte(raw), []byte("}"))
		if start == -1 || end <= start {
			return nil, fmt.Errorf("failed to parse extraction response: %w", err)
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), ex); err != nil {
			return nil, fmt.Errorf("failed to parse extraction response: %w", err)
		}
	}
	if ex.Confidence < 0 {
		ex.Confidence = 0
	}
	if ex.Confidence > 1 {
		ex.Confidence = 1
	}
	if ex.FactValues == nil {
		ex.FactValues = map[string]string{}
	}
	return ex, nil
}
