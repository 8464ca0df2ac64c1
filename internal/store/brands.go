package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func (s *Store) scanBrandID(ctx context.Context, sql string, args ...any) (string, bool, error) {
	var id pgtype.Text
	err := s.pool.QueryRow(ctx, sql, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapDBError(err, "brand")
	}
	if !id.Valid || id.String == "" {
		return "", false, nil
	}
	return id.String, true, nil
}

// ActiveBrandID returns the brand configured on the user's profile.
func (s *Store) ActiveBrandID(ctx context.Context, userID string) (string, bool, error) {
	return s.scanBrandID(ctx, `SELECT active_brand_id FROM profiles WHERE user_id = $1`, userID)
}

// OwnedBrandID returns the oldest brand owned by the user.
func (s *Store) OwnedBrandID(ctx context.Context, userID string) (string, bool, error) {
	return s.scanBrandID(ctx, `SELECT id FROM brands WHERE owner_id = $1 ORDER BY created_at ASC LIMIT 1`, userID)
}

// AnyBrandID returns the oldest brand in the system.
func (s *Store) AnyBrandID(ctx context.Context) (string, bool, error) {
	return s.scanBrandID(ctx, `SELECT id FROM brands ORDER BY created_at ASC LIMIT 1`)
}
