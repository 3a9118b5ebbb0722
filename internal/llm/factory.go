package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/RichardoC/Pad-i/internal/config"
)

// NewChain builds the fallback chain in cfg.Order. Back ends without
// credentials are kept in the chain and report themselves unavailable.
func NewChain(cfg config.LLM) ([]Link, error) {
	chain := make([]Link, 0, len(cfg.Order))
	for _, name := range cfg.Order {
		link, err := newLink(name, cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, link)
	}
	return chain, nil
}

func newLink(name string, cfg config.LLM) (Link, error) {
	switch name {
	case config.BackendMistral:
		return Link{
			Backend: NewHTTPChatBackend(name, cfg.Mistral.URL),
			Timeout: cfg.Mistral.Timeout,
		}, nil

	case config.BackendOpenAI, config.BackendGroq:
		keyed := cfg.OpenAI
		if name == config.BackendGroq {
			keyed = cfg.Groq
		}
		var model llms.Model
		if keyed.APIKey != "" {
			opts := []openai.Option{
				openai.WithToken(keyed.APIKey),
				openai.WithModel(keyed.Model),
			}
			if keyed.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(keyed.BaseURL))
			}
			m, err := openai.New(opts...)
			if err != nil {
				return Link{}, fmt.Errorf("create %s model: %w", name, err)
			}
			model = m
		}
		return Link{Backend: NewChatBackend(name, model, cfg.SystemPrompt), Timeout: keyed.Timeout}, nil

	case config.BackendAnthropic:
		var model llms.Model
		if cfg.Anthropic.APIKey != "" {
			m, err := anthropic.New(
				anthropic.WithToken(cfg.Anthropic.APIKey),
				anthropic.WithModel(cfg.Anthropic.Model),
			)
			if err != nil {
				return Link{}, fmt.Errorf("create anthropic model: %w", err)
			}
			model = m
		}
		return Link{Backend: NewChatBackend(name, model, cfg.SystemPrompt), Timeout: cfg.Anthropic.Timeout}, nil

	case config.BackendOllama:
		var model llms.Model
		if cfg.Ollama.Host != "" {
			m, err := ollama.New(
				ollama.WithModel(cfg.Ollama.Model),
				ollama.WithServerURL(cfg.Ollama.Host),
			)
			if err != nil {
				return Link{}, fmt.Errorf("create ollama model: %w", err)
			}
			model = m
		}
		format := TranscriptFormat(cfg.Ollama.Format)
		return Link{Backend: NewTranscriptBackend(name, model, format, cfg.SystemPrompt), Timeout: cfg.Ollama.Timeout}, nil

	default:
		return Link{}, fmt.Errorf("unsupported backend: %s", name)
	}
}

// ParamsFrom converts configured generation settings.
func ParamsFrom(g config.Generation) GenerationParams {
	return GenerationParams{MaxLength: g.MaxLength, Temperature: g.Temperature, TopP: g.TopP}
}
