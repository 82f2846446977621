// Package ollama suggests card labels through a local Ollama server.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"github.com/MuscularCrab/SolSolve/pkg/client"
	"github.com/MuscularCrab/SolSolve/pkg/types"
)

// DefaultURL is where a stock Ollama install listens.
const DefaultURL = "http://localhost:11434"

// requestTimeout applies when the caller's context has no deadline. Vision
// models on CPU are slow.
const requestTimeout = 300 * time.Second

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

var _ client.VisionClient = (*Client)(nil)

// NewClient creates a new Ollama client. Any path on ollamaURL, such as
// /api/chat, is dropped.
func NewClient(ollamaURL string) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.Errorf("invalid URL %q: scheme and host are required", ollamaURL)
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	// ignore OLLAMA_HOST, the configured URL wins
	return &Client{client: api.NewClient(baseURL, http.DefaultClient)}, nil
}

// SimpleQuery performs a simple query with an image without expecting JSON
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.chat(ctx, model, prompt, imgB64, nil, nil)
}

// SuggestLabel asks the model for a label and parses its JSON answer.
func (c *Client) SuggestLabel(ctx context.Context, model, prompt, imgB64 string) (*types.LabelSuggestion, error) {
	// Deterministic sampling, labels should not change between runs.
	options := map[string]any{
		"temperature": 0.0,
		"num_ctx":     4096,
	}
	content, err := c.chat(ctx, model, prompt, imgB64, json.RawMessage(`"json"`), options)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, errors.New("empty response from ollama")
	}
	return client.ParseLabelSuggestion(content), nil
}

func (c *Client) chat(
	ctx context.Context,
	model, prompt, imgB64 string,
	format json.RawMessage,
	options map[string]any,
) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	msg := api.Message{Role: "user", Content: prompt}
	if imgB64 != "" {
		imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return "", errors.Wrap(err, "failed to decode base64 image")
		}
		msg.Images = []api.ImageData{api.ImageData(imgBytes)}
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{msg},
		Stream:   &streamFalse,
		Format:   format,
		Options:  options,
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "ollama chat error")
	}
	return responseContent, nil
}
