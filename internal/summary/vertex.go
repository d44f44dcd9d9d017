package summary

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"vera/internal/fault"
)

const vertexSystemPrompt = "You are a document summarization assistant. Summarize the " +
	"provided text faithfully and concisely, preserving names, dates and amounts exactly."

// Vertex summarizes via a Vertex AI Gemini model.
type Vertex struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
}

func NewVertex(ctx context.Context, projectID, region string) (*Vertex, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertex: projectID and region cannot be empty")
	}
	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	model := baseClient.GenerativeModel("gemini-1.5-flash")
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(vertexSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.2),
	}
	return &Vertex{model: model, baseClient: baseClient}, nil
}

func (v *Vertex) Name() string { return "vertex/gemini-1.5-flash" }

// Available reports readiness; the client validates credentials at
// construction, so a built client is assumed reachable.
func (v *Vertex) Available(ctx context.Context) error {
	if v.model == nil {
		return fault.New(fault.UpstreamUnavailable, "vertex model is not configured")
	}
	return nil
}

func (v *Vertex) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := v.model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", fault.Wrap(fault.UpstreamUnavailable, err, "failed to generate content from gemini")
	}
	return extractText(resp), nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func (v *Vertex) Close() error {
	if v.baseClient != nil {
		return v.baseClient.Close()
	}
	return nil
}

var _ Summarizer = (*Vertex)(nil)
