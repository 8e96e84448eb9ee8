package invoke

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// ollamaClient adapts the Ollama API client for local inference.
type ollamaClient struct {
	client *api.Client
}

func newOllamaClient(hostURL string) *ollamaClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}
	return &ollamaClient{
		client: api.NewClient(parsedURL, http.DefaultClient),
	}
}

func (c *ollamaClient) Complete(ctx context.Context, req completionRequest) (completionResponse, error) {
	messages := make([]api.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.User})

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": req.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return completionResponse{}, classifyError(err)
	}

	return completionResponse{
		Content:   response.Message.Content,
		TokensIn:  response.Metrics.PromptEvalCount,
		TokensOut: response.Metrics.EvalCount,
	}, nil
}
