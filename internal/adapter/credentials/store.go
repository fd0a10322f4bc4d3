// Package credentials stores per-user provider API keys encrypted at rest.
//
// Keys are sealed with NaCl secretbox; the symmetric key is derived from the
// process secret. Ciphertext and nonce live in the provider_keys table.
package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/fairyhunter13/ai-table-enricher/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// Store implements domain.CredentialsStore over Postgres.
type Store struct {
	pool postgres.PgxPool
	key  [32]byte
}

// New constructs a Store. secret must be non-empty; it is stretched to the
// secretbox key via SHA-256.
func New(pool postgres.PgxPool, secret string) (*Store, error) {
	if secret == "" {
		return nil, fmt.Errorf("op=credentials.new: %w: empty secret", domain.ErrInvalidArgument)
	}
	return &Store{pool: pool, key: sha256.Sum256([]byte(secret))}, nil
}

// SetProviderKey encrypts and upserts one provider key for a user.
func (s *Store) SetProviderKey(ctx domain.Context, userID, provider, apiKey string) error {
	tracer := otel.Tracer("credentials")
	ctx, span := tracer.Start(ctx, "credentials.SetProviderKey")
	defer span.End()

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("op=credentials.set: %w", err)
	}
	cipher := secretbox.Seal(nil, []byte(apiKey), &nonce, &s.key)
	q := `INSERT INTO provider_keys (user_id, provider, key_cipher, nonce, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (user_id, provider) DO UPDATE SET key_cipher=$3, nonce=$4, updated_at=now()`
	if _, err := s.pool.Exec(ctx, q, userID, provider, cipher, nonce[:]); err != nil {
		return fmt.Errorf("op=credentials.set: %w", err)
	}
	return nil
}

// GetProviderKeys returns the decrypted provider→key mapping for a user.
// Undecryptable rows (rotated secret) are skipped rather than failing the
// whole mapping.
func (s *Store) GetProviderKeys(ctx domain.Context, userID string) (map[string]string, error) {
	tracer := otel.Tracer("credentials")
	ctx, span := tracer.Start(ctx, "credentials.GetProviderKeys")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT provider, key_cipher, nonce FROM provider_keys WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("op=credentials.get: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var provider string
		var cipher, nonceRaw []byte
		if err := rows.Scan(&provider, &cipher, &nonceRaw); err != nil {
			return nil, fmt.Errorf("op=credentials.get: %w", err)
		}
		if len(nonceRaw) != 24 {
			continue
		}
		var nonce [24]byte
		copy(nonce[:], nonceRaw)
		plain, ok := secretbox.Open(nil, cipher, &nonce, &s.key)
		if !ok {
			continue
		}
		out[provider] = string(plain)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=credentials.get: %w", err)
	}
	return out, nil
}
