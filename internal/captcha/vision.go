package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/gabriel-vasile/mimetype"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-sonnet-4-5"

	maxImageBytes = 2 << 20
	answerTokens  = 32
)

const prompt = "This image is a text captcha. Reply with only the characters it shows, " +
	"without spaces or punctuation. If you cannot read it, reply UNSOLVABLE."

// New builds the solver configured in c, or nil when none is configured.
func New(c config.CaptchaSection) (Solver, error) {
	switch c.Provider {
	case config.CaptchaOpenAI:
		return NewOpenAISolver(c.APIKey, c.BaseURL, c.Model, c.Timeout), nil
	case config.CaptchaAnthropic:
		s, err := NewAnthropicSolver(c.APIKey, c.BaseURL, c.Model, c.Timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		if c.Command == "" {
			return nil, nil
		}
		return &ExecSolver{Command: c.Command, Args: c.Args, Timeout: c.Timeout}, nil
	}
}

// OpenAISolver reads captchas with an OpenAI-compatible vision model.
type OpenAISolver struct {
	client  *openai.Client
	http    *http.Client
	model   string
	timeout time.Duration
}

// NewOpenAISolver creates a solver. An empty apiKey falls back to
// OPENAI_API_KEY; baseURL selects an OpenAI-compatible endpoint.
func NewOpenAISolver(apiKey, baseURL, model string, timeout time.Duration) *OpenAISolver {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if model == "" {
		model = defaultOpenAIModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/v1") && !strings.HasSuffix(baseURL, "/v1/") {
			baseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
		}
		cfg.BaseURL = baseURL
	}

	return &OpenAISolver{
		client:  openai.NewClientWithConfig(cfg),
		http:    http.DefaultClient,
		model:   model,
		timeout: timeout,
	}
}

func (s *OpenAISolver) Solve(ctx context.Context, imageURL string) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	mime, data, err := fetchImage(ctx, s.http, imageURL)
	if err != nil {
		return "", err
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: answerTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    fmt.Sprintf("data:%s;base64,%s", mime, data),
						Detail: openai.ImageURLDetailHigh,
					},
				},
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", ErrUnsolvable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", ErrUnsolvable)
	}

	L_debug("captcha: model answered", "provider", "openai", "model", s.model)
	return cleanAnswer(resp.Choices[0].Message.Content)
}

// AnthropicSolver reads captchas with a Claude vision model.
type AnthropicSolver struct {
	client  *anthropic.Client
	http    *http.Client
	model   string
	timeout time.Duration
}

// NewAnthropicSolver creates a solver. An empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewAnthropicSolver(apiKey, baseURL, model string, timeout time.Duration) (*AnthropicSolver, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}
	if model == "" {
		model = defaultAnthropicModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicSolver{
		client:  &client,
		http:    http.DefaultClient,
		model:   model,
		timeout: timeout,
	}, nil
}

func (s *AnthropicSolver) Solve(ctx context.Context, imageURL string) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	mime, data, err := fetchImage(ctx, s.http, imageURL)
	if err != nil {
		return "", err
	}

	message, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: answerTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mime, data),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: anthropic: %v", ErrUnsolvable, err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	L_debug("captcha: model answered", "provider", "anthropic", "model", s.model)
	return cleanAnswer(text.String())
}

// fetchImage downloads the captcha and returns its MIME type and base64 data.
func fetchImage(ctx context.Context, client *http.Client, imageURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad image url: %v", ErrUnsolvable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: fetch image: %v", ErrUnsolvable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: fetch image: status %d", ErrUnsolvable, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", "", fmt.Errorf("%w: read image: %v", ErrUnsolvable, err)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", "", fmt.Errorf("%w: captcha is %s, not an image", ErrUnsolvable, mt.String())
	}
	return mt.String(), base64.StdEncoding.EncodeToString(data), nil
}

// cleanAnswer keeps the letters and digits of a model reply.
func cleanAnswer(reply string) (string, error) {
	reply = strings.TrimSpace(reply)
	if strings.EqualFold(reply, "UNSOLVABLE") {
		return "", fmt.Errorf("%w: model could not read it", ErrUnsolvable)
	}
	answer := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, reply)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", ErrUnsolvable)
	}
	return answer, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
