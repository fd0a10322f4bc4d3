package usecase

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// KeyWriter is the mutating side of the credentials store; the read side is
// domain.CredentialsStore and belongs to the worker.
type KeyWriter interface {
	SetProviderKey(ctx domain.Context, userID, provider, apiKey string) error
}

// KeysService stores per-user provider API keys.
type KeysService struct {
	Keys KeyWriter
}

// NewKeysService constructs a KeysService.
func NewKeysService(keys KeyWriter) *KeysService {
	return &KeysService{Keys: keys}
}

// Set validates and stores one provider key.
func (s *KeysService) Set(ctx domain.Context, userID, provider, apiKey string) error {
	tracer := otel.Tracer("usecase.keys")
	ctx, span := tracer.Start(ctx, "keys.Set")
	defer span.End()

	if _, ok := allowedProviders[provider]; !ok {
		return fmt.Errorf("op=keys.set: %w: unknown provider %q", domain.ErrInvalidArgument, provider)
	}
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("op=keys.set: %w: empty api key", domain.ErrInvalidArgument)
	}
	if err := s.Keys.SetProviderKey(ctx, userID, provider, apiKey); err != nil {
		return fmt.Errorf("op=keys.set: %w", err)
	}
	return nil
}
