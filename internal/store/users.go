package store

import (
	"context"
	"fmt"
	"time"

	"github.com/atheneum-ai/atheneum/internal/credential"
	"github.com/atheneum-ai/atheneum/internal/errs"
)

// User is a tenant row.
type User struct {
	ID          int64
	Username    string
	TotalPoints int64
	LoginCount  int64
	IsAdmin     bool
	LastCheckin *time.Time
	CreatedAt   time.Time
}

// Users exposes user and credential persistence.
type Users struct {
	q Querier
}

// NewUsers binds the repository to a Querier (pool or transaction).
func NewUsers(q Querier) *Users { return &Users{q: q} }

// Get loads a user by id.
func (r *Users) Get(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.q.QueryRow(ctx, `
		SELECT id, username, total_points, login_count, is_admin, last_checkin, created_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.TotalPoints, &u.LoginCount, &u.IsAdmin, &u.LastCheckin, &u.CreatedAt)
	if IsNoRows(err) {
		return nil, errs.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}

// Create inserts a user and returns its id.
func (r *Users) Create(ctx context.Context, username string) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO users (username) VALUES ($1) RETURNING id`, username).Scan(&id)
	if err != nil {
		return 0, classify(fmt.Errorf("store: create user: %w", err))
	}
	return id, nil
}

// RecordLogin bumps the login counter and returns whether today is the user's
// first login (daily check-in). Run inside a transaction: the row is locked
// so concurrent logins cannot both observe a stale check-in date.
func (r *Users) RecordLogin(ctx context.Context, id int64) (firstToday bool, err error) {
	var last *time.Time
	err = r.q.QueryRow(ctx,
		`SELECT last_checkin FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&last)
	if IsNoRows(err) {
		return false, errs.NotFound("user")
	}
	if err != nil {
		return false, fmt.Errorf("store: record login: %w", err)
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	firstToday = last == nil || last.UTC().Truncate(24*time.Hour).Before(today)
	_, err = r.q.Exec(ctx, `
		UPDATE users
		SET login_count = login_count + 1, last_checkin = CURRENT_DATE
		WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("store: record login: %w", err)
	}
	return firstToday, nil
}

// CredentialsFor implements credential.Store.
func (r *Users) CredentialsFor(ctx context.Context, userID int64) ([]credential.Record, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, provider_type, encrypted_key, base_url, model_id, model_ids
		FROM user_credentials WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: credentials: %w", err)
	}
	defer rows.Close()
	var out []credential.Record
	for rows.Next() {
		var rec credential.Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ProviderType, &rec.EncryptedKey,
			&rec.BaseURL, &rec.ModelID, &rec.ModelIDs); err != nil {
			return nil, fmt.Errorf("store: scan credential: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertCredential stores or replaces the user's credential for a provider.
func (r *Users) UpsertCredential(ctx context.Context, rec credential.Record) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO user_credentials (user_id, provider_type, encrypted_key, base_url, model_id, model_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, provider_type) DO UPDATE SET
			encrypted_key = EXCLUDED.encrypted_key,
			base_url      = EXCLUDED.base_url,
			model_id      = EXCLUDED.model_id,
			model_ids     = EXCLUDED.model_ids`,
		rec.UserID, rec.ProviderType, rec.EncryptedKey, rec.BaseURL, rec.ModelID, rec.ModelIDs)
	if err != nil {
		return classify(fmt.Errorf("store: upsert credential: %w", err))
	}
	return nil
}

// DeleteCredential removes the user's credential for a provider type.
func (r *Users) DeleteCredential(ctx context.Context, userID int64, providerType string) error {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM user_credentials WHERE user_id = $1 AND provider_type = $2`,
		userID, providerType)
	if err != nil {
		return fmt.Errorf("store: delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("credential")
	}
	return nil
}
