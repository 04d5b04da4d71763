package social

import (
	"context"
	"errors"
	"time"

	"tether/cmd/internal/pgdb"
)

// PostgresStore implements Store over the friend_requests and blocks tables.
type PostgresStore struct {
	db       pgdb.DB
	requests string
	blocks   string
}

func NewPostgresStore(db pgdb.DB, schema string) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("social: nil db")
	}
	if schema == "" {
		schema = pgdb.DefaultSchema
	}
	schema, err := pgdb.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{
		db:       db,
		requests: pgdb.Ident(schema, "friend_requests"),
		blocks:   pgdb.Ident(schema, "blocks"),
	}, nil
}

const requestCols = `id, sender_id, recipient_id, status, created_at, updated_at`

func (s *PostgresStore) CreateRequest(ctx context.Context, fr FriendRequest) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+s.requests+` (`+requestCols+`, pair_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, fr.ID, fr.SenderID, fr.RecipientID, string(fr.Status), fr.CreatedAt, fr.UpdatedAt, fr.PairKey())
	if pgdb.IsUniqueViolation(err) {
		return ErrRequestExists
	}
	return err
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (FriendRequest, error) {
	return s.oneRequest(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) FindRequestBetween(ctx context.Context, a, b string) (FriendRequest, error) {
	return s.oneRequest(ctx, `WHERE pair_key = $1`, FriendRequest{SenderID: a, RecipientID: b}.PairKey())
}

func (s *PostgresStore) oneRequest(ctx context.Context, where, arg string) (FriendRequest, error) {
	fr, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestCols+` FROM `+s.requests+` `+where, arg))
	if pgdb.IsNoRows(err) {
		return FriendRequest{}, ErrRequestNotFound
	}
	return fr, err
}

func (s *PostgresStore) AnswerRequest(ctx context.Context, id string, status RequestStatus, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE `+s.requests+`
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, string(status), now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetRequest(ctx, id); err != nil {
		return err
	}
	return ErrRequestNotPending
}

func (s *PostgresStore) ListRequestsForUser(ctx context.Context, userID string) ([]FriendRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestCols+` FROM `+s.requests+`
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendRequest
	for rows.Next() {
		fr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateBlock(ctx context.Context, b Block) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+s.blocks+` (blocker_id, blocked_id, created_at)
		VALUES ($1, $2, $3)
	`, b.BlockerID, b.BlockedID, b.CreatedAt)
	if pgdb.IsUniqueViolation(err) {
		return ErrBlockExists
	}
	return err
}

func (s *PostgresStore) DeleteBlock(ctx context.Context, blockerID, blockedID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.blocks+` WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}

func (s *PostgresStore) ListBlocksInvolving(ctx context.Context, userID string) ([]Block, error) {
	rows, err := s.db.Query(ctx, `
		SELECT blocker_id, blocked_id, created_at FROM `+s.blocks+`
		WHERE blocker_id = $1 OR blocked_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.BlockerID, &b.BlockedID, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Blocked(ctx context.Context, a, b string) (bool, error) {
	var blocked bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM `+s.blocks+`
			WHERE (blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1)
		)
	`, a, b).Scan(&blocked)
	return blocked, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (FriendRequest, error) {
	var (
		fr     FriendRequest
		status string
	)
	if err := row.Scan(&fr.ID, &fr.SenderID, &fr.RecipientID, &status, &fr.CreatedAt, &fr.UpdatedAt); err != nil {
		return FriendRequest{}, err
	}
	fr.Status = RequestStatus(status)
	return fr, nil
}
