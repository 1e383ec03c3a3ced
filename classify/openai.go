package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mailflow/rudder/consts"
	"github.com/mailflow/rudder/pkg/retry"
)

// maxPromptBody caps how much of the message body is sent to the AI
// service. Classification signal is front-loaded; sending megabytes of
// quoted history only adds cost and latency.
const maxPromptBody = 4000

// AIRequest is the input to a single classification call.
type AIRequest struct {
	Text          string
	Categories    []string
	PromptContext string
}

// AIClient is the external classification collaborator. Implementations
// return the raw (category, confidence) pair; validation against the
// tenant's category set happens in the Classifier.
type AIClient interface {
	ClassifyText(ctx context.Context, req AIRequest) (string, float64, error)
}

// OpenAIClient classifies message text through a chat-completion endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

const systemPromptTemplate = `You are an email triage classifier. Classify the email into exactly one of these categories: %s.

%sRespond with only a JSON object: {"category": "<one of the categories>", "confidence": <number between 0.0 and 1.0>}`

func (c *OpenAIClient) ClassifyText(ctx context.Context, req AIRequest) (string, float64, error) {
	tenantContext := ""
	if req.PromptContext != "" {
		tenantContext = req.PromptContext + "\n\n"
	}
	systemPrompt := fmt.Sprintf(systemPromptTemplate, strings.Join(req.Categories, ", "), tenantContext)

	body := req.Text
	if len(body) > maxPromptBody {
		body = body[:maxPromptBody]
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		MaxTokens:   100,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: body},
		},
	})
	if err != nil {
		if isPermanentAPIError(err) {
			return "", 0, retry.Stop(fmt.Errorf("classification request rejected: %w", err))
		}
		return "", 0, fmt.Errorf("classification request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("%w: empty response", consts.ErrMalformedAIResponse)
	}

	return parseClassification(resp.Choices[0].Message.Content)
}

// parseClassification extracts the (category, confidence) pair from the
// model output, tolerating markdown code fences around the JSON.
func parseClassification(content string) (string, float64, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", 0, fmt.Errorf("%w: %v", consts.ErrMalformedAIResponse, err)
	}
	if parsed.Category == "" {
		return "", 0, fmt.Errorf("%w: missing category", consts.ErrMalformedAIResponse)
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return strings.ToLower(strings.TrimSpace(parsed.Category)), confidence, nil
}

// isPermanentAPIError reports whether the error will not improve on retry,
// e.g. an invalid API key or a nonexistent model.
func isPermanentAPIError(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.HTTPStatusCode {
	case 400, 401, 403, 404:
		return true
	}
	return false
}
