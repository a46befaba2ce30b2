package providers

import (
	"fmt"
	"log/slog"
	"net/http"

	moderr "github.com/lizzyg/weatheragent/errors"
	"github.com/lizzyg/weatheragent/internal/config"
	"github.com/lizzyg/weatheragent/internal/core"
	"github.com/lizzyg/weatheragent/internal/providers/gemini"
	"github.com/lizzyg/weatheragent/internal/providers/genai"
	"github.com/lizzyg/weatheragent/internal/providers/openai"
)

// NewProviderClient returns the adapter for mc.Provider.
func NewProviderClient(mc config.ModelConfig, hc *http.Client, logger *slog.Logger) (core.RawClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch mc.Provider {
	case "openai":
		return openai.New(mc, hc, logger), nil
	case "gemini":
		return gemini.New(mc, hc, logger), nil
	case "genai":
		return genai.New(mc, hc, logger)
	default:
		return nil, fmt.Errorf("%w: %q", moderr.ErrUnknownProvider, mc.Provider)
	}
}
