package reasoning

import "fmt"

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// NewProvider builds a client for a named provider. Both supported
// providers speak the chat-completions protocol.
func NewProvider(provider string, cfg OpenAIConfig) (*OpenAI, error) {
	switch provider {
	case "", "openai":
		return NewOpenAI(cfg)
	case "openrouter":
		if cfg.BaseURL == "" {
			cfg.BaseURL = openRouterBaseURL
		}
		headers := map[string]string{"X-Title": "autopilot"}
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		cfg.Headers = headers
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", provider)
	}
}
