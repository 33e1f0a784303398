package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"

	"github.com/jmoiron/sqlx"
)

type membershipStore struct {
	db *sqlx.DB
}

func NewMembershipStore(db *sqlx.DB) MembershipStore {
	return &membershipStore{db: db}
}

// GetMembership возвращает nil, если пользователь не состоит в CCA
func (r *membershipStore) GetMembership(ctx context.Context, userID, ccaID string) (*entity.Membership, error) {
	query := `SELECT user_id, cca_id, role FROM cca_memberships WHERE user_id = $1 AND cca_id = $2`

	var m entity.Membership
	err := r.db.GetContext(ctx, &m, query, userID, ccaID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, entity.Persistence("failed to get membership", err)
	}
	return &m, nil
}
