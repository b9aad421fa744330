package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"riskapi/internal/config"
	"riskapi/internal/domain"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"
const defaultOpenAIBaseURL = "https://api.openai.com/v1"
const maxExplanationTokens = 512

// ErrorPrefix marks an explanation that could not be generated.
const ErrorPrefix = "AI Error:"

var ErrNotConfigured = errors.New("explanation service not configured")

type ExplainInput struct {
	DomainName        string
	Fields            []domain.Field
	RiskLabel         string
	ConfidencePercent string
}

// Explanation is either generated text or the reason generation failed.
type Explanation struct {
	Text string
	Err  error
}

func (e Explanation) Failed() bool { return e.Err != nil }

// Render turns an explanation into the text returned to clients.
func Render(e Explanation) string {
	if e.Err != nil {
		return fmt.Sprintf("%s %v", ErrorPrefix, e.Err)
	}
	return e.Text
}

// Explainer never returns an error past its boundary; failures are carried
// in the Explanation.
type Explainer interface {
	Explain(ctx context.Context, in ExplainInput) Explanation
}

type LLMUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Client calls one hosted text-generation provider.
type Client struct {
	provider   string
	model      string
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewExplainer returns the configured provider client, or Disabled when the
// provider has no API key.
func NewExplainer(cfg config.Config, httpClient *http.Client) Explainer {
	if !cfg.LLMConfigured() {
		return Disabled{}
	}
	c := &Client{
		provider:   cfg.LLMProvider,
		model:      cfg.LLMModel,
		baseURL:    strings.TrimSpace(cfg.LLMBaseURL),
		timeout:    cfg.ExplanationTimeout(),
		httpClient: httpClient,
	}
	switch cfg.LLMProvider {
	case "openai":
		c.apiKey = cfg.OpenAIAPIKey
		if c.model == "" {
			c.model = defaultOpenAIModel
		}
	default:
		c.apiKey = cfg.AnthropicAPIKey
		if c.model == "" {
			c.model = defaultAnthropicModel
		}
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c
}

func (c *Client) Explain(ctx context.Context, in ExplainInput) (result Explanation) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("llm explain panic provider=%s: %v", c.provider, r)
			result = Explanation{Err: fmt.Errorf("unexpected failure: %v", r)}
		}
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	systemPrompt, userPrompt := BuildPrompts(in)
	var text string
	var usage LLMUsage
	var err error
	switch c.provider {
	case "openai":
		log.Printf("llm explain provider=openai model=%s domain=%s", c.model, in.DomainName)
		text, usage, err = callOpenAI(ctx, c.httpClient, c.baseURL, c.apiKey, c.model, systemPrompt, userPrompt)
	default:
		log.Printf("llm explain provider=anthropic model=%s domain=%s", c.model, in.DomainName)
		text, usage, err = callAnthropic(ctx, c.httpClient, c.baseURL, c.apiKey, c.model, systemPrompt, userPrompt)
	}
	if err != nil {
		return Explanation{Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Explanation{Err: fmt.Errorf("empty response from %s", c.provider)}
	}
	log.Printf("llm explain done provider=%s tokens_in=%d tokens_out=%d", c.provider, usage.InputTokens, usage.OutputTokens)
	return Explanation{Text: text}
}

// Disabled is used when no provider key is configured.
type Disabled struct{}

func (Disabled) Explain(context.Context, ExplainInput) Explanation {
	return Explanation{Err: ErrNotConfigured}
}

func BuildPrompts(in ExplainInput) (string, string) {
	systemPrompt := strings.Join([]string{
		"You explain health risk predictions made by a machine learning model to a non-specialist.",
		"Be concise: two to four sentences, plain language, no markdown.",
		"Do not diagnose. Recommend consulting a healthcare professional for medical advice.",
	}, "\n")

	var b strings.Builder
	fmt.Fprintf(&b, "Risk domain: %s\n", in.DomainName)
	fmt.Fprintf(&b, "Prediction: %s\n", in.RiskLabel)
	fmt.Fprintf(&b, "Model confidence: %s\n", in.ConfidencePercent)
	b.WriteString("Patient data:\n")
	for _, f := range in.Fields {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Value)
	}
	b.WriteString("\nExplain what this prediction means and which of the values most likely contributed to it.")
	return systemPrompt, b.String()
}

func callAnthropic(ctx context.Context, httpClient *http.Client, baseURL, apiKey, model, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxExplanationTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func callOpenAI(ctx context.Context, httpClient *http.Client, baseURL, apiKey, model, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens: maxExplanationTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", LLMUsage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", LLMUsage{}, fmt.Errorf("parsing OpenAI response (status %d): %w", resp.StatusCode, err)
	}

	if openAIResp.Error != nil {
		log.Printf("llm openai api error: %s", openAIResp.Error.Message)
		return "", LLMUsage{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", LLMUsage{}, fmt.Errorf("OpenAI API returned %d", resp.StatusCode)
	}

	if len(openAIResp.Choices) == 0 {
		return "", LLMUsage{}, fmt.Errorf("no choices in OpenAI response")
	}
	usage := LLMUsage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}
	return openAIResp.Choices[0].Message.Content, usage, nil
}
