package invoke

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"metaflow/pkg/config"
	"metaflow/pkg/invoke/llmerrors"
	"metaflow/pkg/logx"
	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

// completionRequest is the provider-neutral request shape.
type completionRequest struct {
	Model     string
	System    string
	User      string
	MaxTokens int
}

// completionResponse carries provider output plus token usage when the
// provider reports it. Zero token counts trigger estimation in the router.
type completionResponse struct {
	Content   string
	TokensIn  int
	TokensOut int
}

// providerClient is the thin adapter each SDK implements.
type providerClient interface {
	Complete(ctx context.Context, req completionRequest) (completionResponse, error)
}

// Router is the production Invoker: it resolves the tier's configured model,
// dispatches to the right provider client, and prices the receipt from the
// static registry.
type Router struct {
	cfg     *config.Config
	clients map[string]providerClient // keyed by provider name
	logger  *logx.Logger
}

// NewRouter builds clients for every provider the tier mapping references.
// Missing API keys fail here, before any run starts.
func NewRouter(cfg *config.Config) (*Router, error) {
	providers := make(map[string]bool)
	for _, model := range []string{cfg.Tiers.Cheap, cfg.Tiers.Capable, cfg.Tiers.Premium} {
		provider, err := config.GetModelProvider(model)
		if err != nil {
			return nil, logx.Wrap(err, "resolve tier model")
		}
		providers[provider] = true
	}

	clients := make(map[string]providerClient, len(providers))
	names := make([]string, 0, len(providers))
	for provider := range providers {
		names = append(names, provider)
	}
	sort.Strings(names)

	for _, provider := range names {
		client, err := newProviderClient(provider)
		if err != nil {
			return nil, err
		}
		clients[provider] = client
	}

	return &Router{
		cfg:     cfg,
		clients: clients,
		logger:  logx.NewLogger("invoke"),
	}, nil
}

func newProviderClient(provider string) (providerClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		apiKey := os.Getenv(config.EnvAnthropicAPIKey)
		if apiKey == "" {
			return nil, logx.Errorf("%s is not set", config.EnvAnthropicAPIKey)
		}
		return newAnthropicClient(apiKey), nil
	case config.ProviderOpenAI:
		apiKey := os.Getenv(config.EnvOpenAIAPIKey)
		if apiKey == "" {
			return nil, logx.Errorf("%s is not set", config.EnvOpenAIAPIKey)
		}
		return newOpenAIClient(apiKey), nil
	case config.ProviderOllama:
		return newOllamaClient(os.Getenv(config.EnvOllamaHost)), nil
	default:
		return nil, logx.Errorf("no client for provider %q", provider)
	}
}

// Invoke runs one attempt of spec at tier t.
func (r *Router) Invoke(ctx context.Context, spec *workflow.AgentSpec, t tier.Tier) (*Receipt, error) {
	model, err := r.cfg.ModelForTier(t)
	if err != nil {
		return nil, err
	}
	info, _ := config.GetModelInfo(model)

	client, ok := r.clients[info.Provider]
	if !ok {
		return nil, fmt.Errorf("no client configured for provider %q (model %s)", info.Provider, model)
	}

	req := completionRequest{
		Model:     model,
		System:    spec.SystemPrompt,
		User:      buildTaskPrompt(spec),
		MaxTokens: info.MaxOutputTokens,
	}

	logx.Debug(ctx, "invoke", "agent %s -> %s (%s)", spec.Role, model, t)
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return &Receipt{
			Model:         model,
			FailureReason: llmerrors.TypeOf(err).String(),
		}, err
	}

	tokensIn := resp.TokensIn
	tokensOut := resp.TokensOut
	if tokensIn == 0 {
		tokensIn = estimateTokens(req.System + req.User)
	}
	if tokensOut == 0 {
		tokensOut = estimateTokens(resp.Content)
	}

	receipt := &Receipt{
		Success:   resp.Content != "",
		Output:    resp.Content,
		Model:     model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   attemptCost(info, tokensIn, tokensOut),
	}
	if !receipt.Success {
		receipt.FailureReason = llmerrors.ErrorTypeEmptyResponse.String()
	}
	return receipt, nil
}

func attemptCost(info config.ModelInfo, tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1_000_000*info.InputCPM + float64(tokensOut)/1_000_000*info.OutputCPM
}

// estimateTokens is the fallback when a provider reports no usage
// (4 chars ≈ 1 token).
func estimateTokens(text string) int {
	return len(text) / 4
}

// buildTaskPrompt renders the agent's role and merged form answers into the
// user turn.
func buildTaskPrompt(spec *workflow.AgentSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are acting as the %q agent in an automated workflow.\n", spec.Role)

	if len(spec.Capabilities) > 0 {
		fmt.Fprintf(&b, "Available capabilities: %s.\n", strings.Join(spec.Capabilities, ", "))
	}

	if len(spec.Config) > 0 {
		b.WriteString("\nWorkflow configuration:\n")
		keys := make([]string, 0, len(spec.Config))
		for k := range spec.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, spec.Config[k])
		}
	}

	b.WriteString("\nCarry out your role and report the result.")
	return b.String()
}
