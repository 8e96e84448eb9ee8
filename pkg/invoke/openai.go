package invoke

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"metaflow/pkg/invoke/llmerrors"
)

// openaiClient adapts the official OpenAI SDK's Responses API.
type openaiClient struct {
	client openai.Client
}

func newOpenAIClient(apiKey string) *openaiClient {
	return &openaiClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (c *openaiClient) Complete(ctx context.Context, req completionRequest) (completionResponse, error) {
	// The Responses API takes a single input string; the system prompt is
	// prefixed the way the chat transcript would render it.
	input := req.User
	if req.System != "" {
		input = fmt.Sprintf("System: %s\n\n%s", req.System, req.User)
	}

	params := responses.ResponseNewParams{
		Model:           req.Model,
		MaxOutputTokens: openai.Int(int64(req.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return completionResponse{}, classifyError(err)
	}
	if resp == nil {
		return completionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
			"empty response from OpenAI Responses API")
	}

	return completionResponse{
		Content:   resp.OutputText(),
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
	}, nil
}
