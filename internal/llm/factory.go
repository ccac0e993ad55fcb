package llm

import (
	"fmt"

	"github.com/tmatias/aichat/internal/config"
)

// NewProvider builds the adapter variant a model config selects. The set of
// variants is closed; cfg is expected to have passed config validation.
func NewProvider(cfg config.Model) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg), nil
	case config.ProviderLocal:
		return NewLocalProvider(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
