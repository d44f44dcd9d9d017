package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"vera/internal/fault"
)

const summaryPrompt = "Summarize the following document text in a few concise sentences. " +
	"Preserve names, dates and amounts exactly as written. Return only the summary.\n\n"

// Ollama talks to a local Ollama server over its HTTP API.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *Ollama) Name() string { return "ollama/" + o.model }

// Available checks the server's model list.
func (o *Ollama) Available(ctx context.Context) error {
	if _, err := o.ListModels(ctx); err != nil {
		return err
	}
	return nil
}

// ListModels returns the locally installed model names, sorted.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamUnavailable, err, "ollama is not reachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.UpstreamUnavailable, "ollama returned status %d", resp.StatusCode)
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode ollama model list: %w", err)
	}
	names := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Summarize runs one non-streaming generation over the text.
func (o *Ollama) Summarize(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":  o.model,
		"prompt": summaryPrompt + text,
		"stream": false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fault.Wrap(fault.UpstreamUnavailable, err, "ollama is not reachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fault.New(fault.UpstreamUnavailable, "ollama returned status %d", resp.StatusCode)
	}

	var payload struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode generate response: %w", err)
	}
	return strings.TrimSpace(payload.Response), nil
}

var _ Summarizer = (*Ollama)(nil)
