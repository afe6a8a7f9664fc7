package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SentenceRequest carries one sentence plus its bounded local context. The
// context strings are newline-joined neighbor texts, oldest first.
type SentenceRequest struct {
	Text               string
	TargetLanguage     string
	ContextBefore      string
	ContextAfter       string
	PreviousTranslated string
}

// SentenceTranslator performs a single-sentence translation call
type SentenceTranslator interface {
	TranslateSentence(ctx context.Context, req SentenceRequest) (string, error)
}

// Client translates sentences through an OpenAI-compatible chat completions
// endpoint. Construct once at process start and inject where needed.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a translation client
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// TranslateSentence translates a single sentence using its surrounding
// context. Empty input translates to the empty string without a call.
func (c *Client) TranslateSentence(ctx context.Context, req SentenceRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", nil
	}
	if c.apiKey == "" {
		return "", fmt.Errorf("translation API key not configured")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a professional translator."},
			{Role: "user", Content: buildSentencePrompt(req)},
		},
		Temperature: 0.3,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("translation request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if result.Error != nil {
			return "", fmt.Errorf("translation API error (status %d): %s", resp.StatusCode, result.Error.Message)
		}
		return "", fmt.Errorf("translation API error (status %d): %s", resp.StatusCode, string(body))
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("translation API returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func buildSentencePrompt(req SentenceRequest) string {
	var contextSection strings.Builder
	if req.ContextBefore != "" {
		fmt.Fprintf(&contextSection, "Previous original text: %q\n", req.ContextBefore)
	}
	if req.ContextAfter != "" {
		fmt.Fprintf(&contextSection, "Next original text: %q\n", req.ContextAfter)
	}
	if req.PreviousTranslated != "" {
		fmt.Fprintf(&contextSection, "Previously translated text: %q\n", req.PreviousTranslated)
	}

	return fmt.Sprintf(`You are a professional subtitle translator. Translate the following sentence to %s.

Context information:
%s
Rules:
1. Focus on reasonable segmentation and semantic coherence.
2. Maintain consistency with the previously translated text.
3. Return ONLY the translated text, no explanations or JSON.

Sentence to translate:
%q
`, req.TargetLanguage, contextSection.String(), req.Text)
}
