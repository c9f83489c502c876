package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// GeminiConfig configures GeminiChatModel.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GeminiChatModel calls the Generative Language REST API.
type GeminiChatModel struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

var _ model.ChatModel = (*GeminiChatModel)(nil)

// NewGeminiChatModel creates a Gemini chat model.
func NewGeminiChatModel(cfg GeminiConfig) (*GeminiChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	m := &GeminiChatModel{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		apiURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
	if m.model == "" {
		m.model = defaultGeminiModel
	}
	if m.apiURL == "" {
		m.apiURL = defaultGeminiBaseURL
	}
	if m.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		m.httpClient = &http.Client{Timeout: timeout}
	}
	return m, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

func (g *GeminiChatModel) buildRequest(input []*schema.Message, opts ...model.Option) geminiRequest {
	req := geminiRequest{Contents: make([]geminiContent, 0, len(input))}

	var system []string
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}

	common := model.GetCommonOptions(&model.Options{}, opts...)
	if common.Temperature != nil || common.TopP != nil || common.MaxTokens != nil || len(common.Stop) > 0 {
		req.GenerationConfig = &geminiGenerationConfig{
			Temperature:     common.Temperature,
			TopP:            common.TopP,
			MaxOutputTokens: common.MaxTokens,
			StopSequences:   common.Stop,
		}
	}
	return req
}

func (g *GeminiChatModel) modelName(opts ...model.Option) string {
	common := model.GetCommonOptions(&model.Options{}, opts...)
	if common.Model != nil && *common.Model != "" {
		return *common.Model
	}
	return g.model
}

func (g *GeminiChatModel) post(ctx context.Context, url string, req geminiRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to call API: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("gemini: API error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

// Generate implements model.BaseChatModel.
func (g *GeminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.apiURL, g.modelName(opts...), g.apiKey)
	resp, err := g.post(ctx, url, g.buildRequest(input, opts...))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("gemini: failed to decode response: %w", err)
	}
	return toSchemaMessage(result), nil
}

// Stream implements model.BaseChatModel using the SSE endpoint.
func (g *GeminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.apiURL, g.modelName(opts...), g.apiKey)
	resp, err := g.post(ctx, url, g.buildRequest(input, opts...))
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer resp.Body.Close()
		defer writer.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				writer.Send(nil, fmt.Errorf("gemini: failed to decode stream chunk: %w", err))
				return
			}
			if closed := writer.Send(toSchemaMessage(chunk), nil); closed {
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			writer.Send(nil, fmt.Errorf("gemini: failed to read stream: %w", err))
		}
	}()

	return reader, nil
}

// BindTools implements model.ChatModel. Tool calling is not used by the
// therapist chat.
func (g *GeminiChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) == 0 {
		return nil
	}
	return fmt.Errorf("gemini: tool calling is not supported")
}

func toSchemaMessage(resp geminiResponse) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant}
	if len(resp.Candidates) == 0 {
		return msg
	}

	candidate := resp.Candidates[0]
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		b.WriteString(part.Text)
	}
	msg.Content = b.String()

	if candidate.FinishReason != "" || resp.UsageMetadata != nil {
		msg.ResponseMeta = &schema.ResponseMeta{FinishReason: candidate.FinishReason}
		if resp.UsageMetadata != nil {
			msg.ResponseMeta.Usage = &schema.TokenUsage{
				PromptTokens:     resp.UsageMetadata.PromptTokenCount,
				CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      resp.UsageMetadata.TotalTokenCount,
			}
		}
	}
	return msg
}
