package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/clinical-report-engine/internal/domain"
)

// systemPrompt frames every narrative request. Generated text is a draft for
// clinician review, never a final clinical record.
const systemPrompt = "You are a clinical documentation assistant for an allied-health practice. " +
	"Write concise, factual narrative text from the structured patient data provided. " +
	"Do not invent findings that are not present in the data. " +
	"The output is a draft that a clinician will review and edit."

// AIClient calls an OpenAI-compatible chat completion endpoint to draft
// narrative report content.
type AIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// NewAIClient creates a new AI generation client
func NewAIClient(config domain.AIConfig) *AIClient {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.RateBurst == 0 {
		config.RateBurst = 10
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	return &AIClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
}

// chatRequest is the OpenAI-compatible chat completion request body
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the OpenAI-compatible chat completion response body
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate produces narrative text for the given prompt context
func (c *AIClient) Generate(ctx context.Context, promptContext string) (string, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return "", err
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: promptContext},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling generation endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("decoding generation response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("generation failed: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("generation response contained no choices")
	}

	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("generation response was empty")
	}

	return text, nil
}

// BuildPrompt renders clinical inputs as the user message for a content type
func BuildPrompt(contentType domain.ContentType, inputs *domain.ClinicalInputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Content type: %s\n", contentType)
	fmt.Fprintf(&b, "Patient ID: %s\n", inputs.PatientID)
	if len(inputs.Disciplines) > 0 {
		fmt.Fprintf(&b, "Disciplines: %s\n", strings.Join(inputs.Disciplines, ", "))
	}
	if inputs.Notes != "" {
		fmt.Fprintf(&b, "\nClinical notes:\n%s\n", inputs.Notes)
	}
	if inputs.Bookings != "" {
		fmt.Fprintf(&b, "\nBooking history:\n%s\n", inputs.Bookings)
	}
	return b.String()
}
