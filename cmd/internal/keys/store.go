package keys

import (
	"context"
	"errors"
	"sync"

	"tether/cmd/internal/pgdb"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	byKey map[string]StoredRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]StoredRecord)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok {
		return StoredRecord{}, ErrKeyNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Create(_ context.Context, rec StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[rec.Key]; ok {
		return ErrKeyExists
	}
	s.byKey[rec.Key] = rec
	return nil
}

// PostgresStore implements Store over the key_store table.
type PostgresStore struct {
	db    pgdb.DB
	table string
}

func NewPostgresStore(db pgdb.DB, schema string) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("keys: nil db")
	}
	if schema == "" {
		schema = pgdb.DefaultSchema
	}
	schema, err := pgdb.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, table: pgdb.Ident(schema, "key_store")}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (StoredRecord, error) {
	var rec StoredRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, key, value, created_at_enc, updated_at_enc
		FROM `+s.table+`
		WHERE key = $1
	`, key).Scan(&rec.ID, &rec.UserID, &rec.Key, &rec.Value, &rec.CreatedAtEnc, &rec.UpdatedAtEnc)
	if pgdb.IsNoRows(err) {
		return StoredRecord{}, ErrKeyNotFound
	}
	if err != nil {
		return StoredRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec StoredRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+s.table+` (id, user_id, key, value, created_at_enc, updated_at_enc)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.UserID, rec.Key, rec.Value, rec.CreatedAtEnc, rec.UpdatedAtEnc)
	if pgdb.IsUniqueViolation(err) {
		return ErrKeyExists
	}
	return err
}
