package factory

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/email-messenger/internal/config"
	emailprovider "github.com/example/email-messenger/internal/providers/email"
)

// Email constructs the configured direct-delivery provider, mock or smtp.
func Email(cfg config.ProviderConfig, logger zerolog.Logger) (emailprovider.Provider, error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.EmailProvider))
	if backend == "" {
		backend = "mock"
	}

	var (
		provider emailprovider.Provider
		err      error
	)
	switch backend {
	case "smtp":
		provider, err = emailprovider.NewSMTPProvider(cfg.SMTP, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: smtp provider init: %w", err)
		}
	case "mock":
		provider = emailprovider.NewMockProvider(logger)
	default:
		return nil, fmt.Errorf("factory: unsupported email provider backend %q", cfg.EmailProvider)
	}

	logger.Info().
		Str("backend", backend).
		Msg("email provider initialised")
	return provider, nil
}
