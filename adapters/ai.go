package adapters

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	providergateway "github.com/opengovern/provider-gateway"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogleAI  = "google-ai"

	DefaultOpenAIModel    = "gpt-4"
	DefaultAnthropicModel = "claude-3-sonnet-20240229"
	DefaultGeminiModel    = "gemini-pro"
	DefaultMaxTokens      = 1000
)

// AIService generates text through one of the completion providers.
type AIService struct {
	gw providergateway.Requester

	OpenAIModel    string
	AnthropicModel string
	GeminiModel    string
	MaxTokens      int
}

func NewAIService(gw providergateway.Requester) *AIService {
	return &AIService{
		gw:             gw,
		OpenAIModel:    DefaultOpenAIModel,
		AnthropicModel: DefaultAnthropicModel,
		GeminiModel:    DefaultGeminiModel,
		MaxTokens:      DefaultMaxTokens,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

// GenerateContent sends prompt as a single user message. An empty provider means OpenAI.
func (s *AIService) GenerateContent(ctx context.Context, prompt, provider string) response {
	messages := []chatMessage{{Role: "user", Content: prompt}}

	switch pick(provider, ProviderOpenAI) {
	case ProviderOpenAI:
		return post(ctx, s.gw, ProviderOpenAI, "/chat/completions", openAIRequest{
			Model:    s.OpenAIModel,
			Messages: messages,
		})
	case ProviderAnthropic:
		return post(ctx, s.gw, ProviderAnthropic, "/messages", anthropicRequest{
			Model:     s.AnthropicModel,
			MaxTokens: s.MaxTokens,
			Messages:  messages,
		})
	case ProviderGoogleAI:
		return post(ctx, s.gw, ProviderGoogleAI, "/models/"+s.GeminiModel+":generateContent", geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		})
	default:
		return unsupported()
	}
}

var completionTextPaths = map[string]string{
	ProviderOpenAI:    "choices.0.message.content",
	ProviderAnthropic: "content.0.text",
	ProviderGoogleAI:  "candidates.0.content.parts.0.text",
}

// ExtractText returns the generated text from a successful GenerateContent payload.
func ExtractText(provider string, data providergateway.RawJSON) (string, error) {
	path, ok := completionTextPaths[pick(provider, ProviderOpenAI)]
	if !ok {
		return "", providergateway.ErrProviderNotSupported
	}
	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return "", fmt.Errorf("no completion text at %q", path)
	}
	return result.String(), nil
}
