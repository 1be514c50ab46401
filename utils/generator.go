package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"salesreach/models"
)

// GeneratedEmail is the result of one AI generation call.
type GeneratedEmail struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailGenerator writes a personalized outreach email for a prospect.
// Implementations must respect the context deadline.
type EmailGenerator interface {
	Generate(ctx context.Context, prospect *models.Prospect, tone, length string) (*GeneratedEmail, error)
}

// GenerationTimeout bounds one generation call so a slow provider cannot
// stall the scheduler cycle.
const GenerationTimeout = 30 * time.Second

// OpenAIGenerator talks to an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	return &OpenAIGenerator{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: GenerationTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prospect *models.Prospect, tone, length string) (*GeneratedEmail, error) {
	prompt := fmt.Sprintf(
		"Write a %s, %s-length cold outreach email to %s (%s at %s). "+
			"Respond as JSON with keys \"subject\" and \"body\".",
		tone, length, prospect.FullName(), prospect.Position, prospect.Company,
	)

	payload, err := json.Marshal(chatRequest{
		Model: g.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a sales outreach assistant."},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, &models.GenerationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &models.GenerationError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, &models.GenerationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.GenerationError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &models.GenerationError{Err: fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(body))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &models.GenerationError{Err: err}
	}
	if parsed.Error != nil {
		return nil, &models.GenerationError{Err: fmt.Errorf("provider error: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &models.GenerationError{Err: fmt.Errorf("provider returned no choices")}
	}

	var email GeneratedEmail
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &email); err != nil {
		return nil, &models.GenerationError{Err: fmt.Errorf("malformed completion: %w", err)}
	}
	if email.Subject == "" || email.Body == "" {
		return nil, &models.GenerationError{Err: fmt.Errorf("completion missing subject or body")}
	}
	return &email, nil
}
