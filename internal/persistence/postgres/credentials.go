package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/personaldata/internal/domain"
)

// CredentialStore combines the application consumer key with per-user access tokens.
type CredentialStore struct {
	pool           *pgxpool.Pool
	consumerKey    string
	consumerSecret string
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(pool *pgxpool.Pool, consumerKey, consumerSecret string) *CredentialStore {
	return &CredentialStore{pool: pool, consumerKey: consumerKey, consumerSecret: consumerSecret}
}

// Credentials returns signing material for every user with tokens, or only those in userIDs.
func (s *CredentialStore) Credentials(ctx context.Context, userIDs []int64) ([]domain.Credential, error) {
	const query = `SELECT u.id, t.access_token, t.access_token_secret
        FROM personal_data.users u
        JOIN personal_data.access_tokens t ON u.id = t.user_id
        WHERE ($1::bigint[] IS NULL OR u.id = ANY($1))
        ORDER BY u.id`

	rows, err := s.pool.Query(ctx, query, idFilter(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Credential
	for rows.Next() {
		cred := domain.Credential{ConsumerKey: s.consumerKey, ConsumerSecret: s.consumerSecret}
		if err := rows.Scan(&cred.UserID, &cred.AccessToken, &cred.AccessTokenSecret); err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}
