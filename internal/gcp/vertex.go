package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/ecommpipeline/internal/schema"
)

// --- Mapping Advisor Model Prompts ---
const MappingAdvisorSystemPrompt = "You are an e-commerce data integration assistant. You decide which spreadsheet column best feeds a pipeline field. You must output your response as a single valid JSON object."
const MappingAdvisorUserPrompt = `A pipeline field is currently fed from a spreadsheet column. Decide whether another known column fits the field better.

Field key: %s
Field title: %s
Current column: %s
Known columns (JSON array): %s

Rules:
1. Only choose a value that appears verbatim in the known columns.
2. If the current column is already the best fit, or no known column fits, answer with an empty string.
3. Respond with exactly one JSON object of the form {"suggestion": "<column or empty>"} and nothing else.`

// VertexClient holds the pre-configured generative model used for mapping advice.
type VertexClient struct {
	AdvisorModel *genai.GenerativeModel
	baseClient   *genai.Client
}

// NewVertexClient creates a new client holding the advisor model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	advisorModel := baseClient.GenerativeModel(modelName)
	advisorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(MappingAdvisorSystemPrompt)},
	}
	advisorModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		AdvisorModel: advisorModel,
		baseClient:   baseClient,
	}, nil
}

// AdviseField asks the model which candidate should feed card. An empty
// result means the model has no better suggestion.
func (c *VertexClient) AdviseField(ctx context.Context, card schema.Card, candidates []string) (string, error) {
	prompt, err := advisorPrompt(card, candidates)
	if err != nil {
		return "", err
	}
	resp, err := c.AdvisorModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate mapping advice from gemini: %w", err)
	}
	return parseAdvice(extractJSONContent(resp))
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

func advisorPrompt(card schema.Card, candidates []string) (string, error) {
	known, err := json.Marshal(candidates)
	if err != nil {
		return "", fmt.Errorf("failed to encode candidates: %w", err)
	}
	return fmt.Sprintf(MappingAdvisorUserPrompt, card.Key, card.Title, card.Content, known), nil
}

type adviceResponse struct {
	Suggestion string `json:"suggestion"`
}

func parseAdvice(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	var advice adviceResponse
	if err := json.Unmarshal([]byte(raw), &advice); err != nil {
		return "", fmt.Errorf("failed to parse JSON from model: %w", err)
	}
	return strings.TrimSpace(advice.Suggestion), nil
}

// extractJSONContent gets the raw text of the first candidate, without markdown fences.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return ""
	}
	cleanJSON := strings.TrimSpace(string(txt))
	cleanJSON = strings.TrimPrefix(cleanJSON, "```json")
	cleanJSON = strings.TrimSuffix(cleanJSON, "```")
	return strings.TrimSpace(cleanJSON)
}
