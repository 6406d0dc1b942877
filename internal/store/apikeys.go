package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// APIKey is a stored API key record. The raw key is never persisted,
// only its SHA-256 hash.
type APIKey struct {
	ID                 uuid.UUID
	Label              string
	IsAdmin            bool
	RateLimitPerMinute sql.NullInt32
	CreatedAt          time.Time
	RevokedAt          sql.NullTime
}

// hashAPIKey hashes a raw API key string using SHA-256 and returns a hex string.
func hashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

const apiKeyColumns = `id, label, is_admin, rate_limit_per_minute, created_at, revoked_at`

func (s *Store) getAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL`

	var key APIKey
	err := s.DB.QueryRowContext(ctx, query, hash).Scan(
		&key.ID, &key.Label, &key.IsAdmin, &key.RateLimitPerMinute, &key.CreatedAt, &key.RevokedAt,
	)
	return key, err
}

// GetAPIKeyByRawKey looks up an API key by its raw value. Returns
// sql.ErrNoRows for unknown or revoked keys.
func (s *Store) GetAPIKeyByRawKey(ctx context.Context, rawKey string) (APIKey, error) {
	return s.getAPIKeyByHash(ctx, hashAPIKey(rawKey))
}

// EnsureAdminAPIKey ensures that there is an admin API key for the given
// raw key and label. If it already exists, it is returned; otherwise, it
// is created.
func (s *Store) EnsureAdminAPIKey(ctx context.Context, rawKey, label string) (APIKey, error) {
	hash := hashAPIKey(rawKey)

	key, err := s.getAPIKeyByHash(ctx, hash)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, errors.Wrap(err, "look up admin api key")
	}

	query := `
		INSERT INTO api_keys (id, key_hash, label, is_admin)
		VALUES ($1, $2, $3, TRUE)
		RETURNING ` + apiKeyColumns

	var out APIKey
	err = s.DB.QueryRowContext(ctx, query, uuid.New(), hash, label).Scan(
		&out.ID, &out.Label, &out.IsAdmin, &out.RateLimitPerMinute, &out.CreatedAt, &out.RevokedAt,
	)
	if err != nil {
		return APIKey{}, errors.Wrap(err, "insert admin api key")
	}
	return out, nil
}
