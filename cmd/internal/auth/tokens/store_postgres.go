package tokens

import (
	"context"
	"errors"
	"time"

	"tether/cmd/internal/pgdb"
)

// PostgresStore implements Store over the refresh_tokens table.
type PostgresStore struct {
	db    pgdb.DB
	table string
}

// NewPostgresStore creates a Postgres-backed store in schema ("" means the default).
func NewPostgresStore(db pgdb.DB, schema string) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("tokens: nil db")
	}
	if schema == "" {
		schema = pgdb.DefaultSchema
	}
	schema, err := pgdb.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, table: pgdb.Ident(schema, "refresh_tokens")}, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+s.table+` (id, user_id, token_hash, expires_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.UserID, rec.TokenHash, rec.ExpiresAt, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (s *PostgresStore) GetByTokenHash(ctx context.Context, hash string) (Record, error) {
	var (
		rec    Record
		status string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, status, created_at, updated_at
		FROM `+s.table+`
		WHERE token_hash = $1
	`, hash).Scan(&rec.ID, &rec.UserID, &rec.TokenHash, &rec.ExpiresAt, &status, &rec.CreatedAt, &rec.UpdatedAt)
	if pgdb.IsNoRows(err) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

func (s *PostgresStore) Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET token_hash = $3, expires_at = $4, updated_at = $5
		WHERE id = $1 AND token_hash = $2 AND status = 'valid'
	`, id, oldHash, newHash, expiresAt, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRecord
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, id, string(status), now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PostgresStore) ExpireAll(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET status = 'expired', updated_at = $1
		WHERE status = 'valid' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteInactive(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.table+` WHERE status IN ('expired', 'revoked')`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
