package identity

import (
	"context"
	"fmt"

	"tether/cmd/internal/pgdb"
)

// PostgresStore implements Store over the users table.
type PostgresStore struct {
	db    pgdb.DB
	users string
}

// NewPostgresStore constructs a PostgresStore in the given schema ("" means the default).
func NewPostgresStore(db pgdb.DB, schema string) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	if schema == "" {
		schema = pgdb.DefaultSchema
	}
	schema, err := pgdb.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, users: pgdb.Ident(schema, "users")}, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO `+s.users+` (id, username, password_hash, public_key, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.PasswordHash, u.PublicKey, u.CreatedAt,
	)
	if pgdb.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetByUsername(ctx context.Context, usernameNorm string) (User, error) {
	return s.getOne(ctx, `WHERE username = $1`, usernameNorm)
}

func (s *PostgresStore) getOne(ctx context.Context, where string, arg string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx,
		`SELECT id, username, password_hash, public_key, created_at FROM `+s.users+` `+where,
		arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.PublicKey, &u.CreatedAt)
	if pgdb.IsNoRows(err) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) ListByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, username, password_hash, public_key, created_at FROM `+s.users+` WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]User, 0, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.PublicKey, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
