package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/warp/coverage-engine/tariff"
)

// =============================================================================
// IDEMPOTENCY (tariff.IdempotencyStore)
// =============================================================================

func (s *Store) CachedCount(ctx context.Context, token string) (int, bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(result_count, 0) FROM idempotency_keys WHERE token = $1 AND completed",
		token,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: read idempotency key")
	}
	return count, true, nil
}

const claimUpsert = `
	INSERT INTO idempotency_keys (token, owner, completed, claimed_at)
	VALUES ($1, $2, FALSE, $3)
	ON CONFLICT (token) DO UPDATE SET owner = EXCLUDED.owner, claimed_at = EXCLUDED.claimed_at
	WHERE NOT idempotency_keys.completed AND idempotency_keys.claimed_at < $4`

// Claim inserts a pending record or takes over a stale one in one
// statement. When the upsert touches nothing, the current row tells
// completed and in-flight apart.
func (s *Store) Claim(ctx context.Context, token, owner string, at, staleBefore time.Time) (tariff.Claim, error) {
	tag, err := s.pool.Exec(ctx, claimUpsert, token, owner, at.UTC(), staleBefore.UTC())
	if err != nil {
		return tariff.Claim{}, eris.Wrap(err, "postgres: claim idempotency key")
	}
	if tag.RowsAffected() > 0 {
		return tariff.Claim{State: tariff.ClaimAcquired, Owner: owner}, nil
	}

	var (
		holder    string
		completed bool
		count     int
	)
	err = s.pool.QueryRow(ctx,
		"SELECT owner, completed, COALESCE(result_count, 0) FROM idempotency_keys WHERE token = $1", token,
	).Scan(&holder, &completed, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		// Released between the two statements; the caller may retry.
		return tariff.Claim{State: tariff.ClaimInFlight}, nil
	}
	if err != nil {
		return tariff.Claim{}, eris.Wrap(err, "postgres: read idempotency key")
	}
	if completed {
		return tariff.Claim{State: tariff.ClaimCompleted, Count: count}, nil
	}
	return tariff.Claim{State: tariff.ClaimInFlight, Owner: holder}, nil
}

// SetCachedCount completes owner's pending claim, or records the count
// outright when the claim was purged meanwhile.
func (s *Store) SetCachedCount(ctx context.Context, token, owner string, count int, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (token, owner, completed, result_count, claimed_at, completed_at)
		VALUES ($1, $2, TRUE, $3, $4, $4)
		ON CONFLICT (token) DO UPDATE SET
			completed = TRUE,
			result_count = EXCLUDED.result_count,
			completed_at = EXCLUDED.completed_at
		WHERE NOT idempotency_keys.completed AND idempotency_keys.owner = EXCLUDED.owner`,
		token, owner, count, at.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: store idempotency result")
	}
	if tag.RowsAffected() == 0 {
		return tariff.ErrClaimLost
	}
	return nil
}

func (s *Store) Release(ctx context.Context, token, owner string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM idempotency_keys WHERE token = $1 AND owner = $2 AND NOT completed", token, owner)
	if err != nil {
		return eris.Wrap(err, "postgres: release idempotency key")
	}
	return nil
}

func (s *Store) PurgeStaleClaims(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM idempotency_keys WHERE NOT completed AND claimed_at < $1", before.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge stale claims")
	}
	return int(tag.RowsAffected()), nil
}
