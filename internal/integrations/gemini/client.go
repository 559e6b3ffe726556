// Package gemini wraps the Google GenAI SDK behind the two completion shapes
// the pipeline consumes: free text and a structured single-field statement.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Client is a focused Gemini client.
type Client struct {
	client *genai.Client
	model  string
}

// queryOutput is the structured completion shape for the query writer.
type queryOutput struct {
	Query string `json:"query"`
}

// NewClient creates a Client for the given model.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

// Generate runs a free-text completion.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty completion")
	}
	return text, nil
}

// GenerateQuery runs a completion constrained to a single-field JSON object
// {"query": "..."} and returns the statement string.
func (c *Client) GenerateQuery(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {
					Type:        genai.TypeString,
					Description: "Syntactically valid SQL query returning both the field names and their values",
				},
			},
			Required: []string{"query"},
		},
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate query: %w", err)
	}

	var out queryOutput
	if err := json.Unmarshal([]byte(result.Text()), &out); err != nil {
		return "", fmt.Errorf("gemini: decode query output: %w", err)
	}
	if strings.TrimSpace(out.Query) == "" {
		return "", errors.New("gemini: structured output missing query")
	}
	return out.Query, nil
}
