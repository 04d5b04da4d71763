package chat

import (
	"context"
	"errors"
	"time"

	"tether/cmd/identity/ids"
	"tether/cmd/internal/pgdb"
)

// PostgresStore implements MessageStore and SessionStore over the messages and
// chat_sessions tables. The pool is owned by the caller.
type PostgresStore struct {
	db       pgdb.DB
	messages string
	sessions string
}

// NewPostgresStore constructs a PostgresStore in schema ("" means the default).
func NewPostgresStore(db pgdb.DB, schema string) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("chat: nil db")
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
		messages: pgdb.Ident(schema, "messages"),
		sessions: pgdb.Ident(schema, "chat_sessions"),
	}, nil
}

const messageCols = `id, sender_id, recipient_id, content, status, deleted_by_sender, deleted_by_recipient, previous_enc, created_at_enc, updated_at_enc`

const sessionCols = `id, pair_key, user1, user2, user1_status, user2_status, head_enc, user1_tail_enc, user2_tail_enc`

func (s *PostgresStore) CreateMessage(ctx context.Context, rec MessageRecord) (string, error) {
	id, err := ids.NewULID(time.Now())
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.messages+` (`+messageCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, rec.SenderID, rec.RecipientID, rec.Content, string(rec.Status),
		rec.DeletedBySender, rec.DeletedByRecipient, rec.PreviousEnc, rec.CreatedAtEnc, rec.UpdatedAtEnc,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (MessageRecord, error) {
	var (
		rec    MessageRecord
		status string
	)
	err := s.db.QueryRow(ctx,
		`SELECT `+messageCols+` FROM `+s.messages+` WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.SenderID, &rec.RecipientID, &rec.Content, &status,
		&rec.DeletedBySender, &rec.DeletedByRecipient, &rec.PreviousEnc, &rec.CreatedAtEnc, &rec.UpdatedAtEnc)
	if pgdb.IsNoRows(err) {
		return MessageRecord{}, ErrMessageNotFound
	}
	if err != nil {
		return MessageRecord{}, err
	}
	rec.Status = MessageStatus(status)
	return rec, nil
}

func (s *PostgresStore) MarkDeleted(ctx context.Context, id string, bySender, byRecipient bool, updatedAtEnc string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.messages+`
		    SET deleted_by_sender = deleted_by_sender OR $2,
		        deleted_by_recipient = deleted_by_recipient OR $3,
		        content = CASE WHEN (deleted_by_sender OR $2) AND (deleted_by_recipient OR $3) THEN '' ELSE content END,
		        status = CASE WHEN (deleted_by_sender OR $2) AND (deleted_by_recipient OR $3) THEN 'deleted' ELSE status END,
		        updated_at_enc = $4
		  WHERE id = $1`,
		id, bySender, byRecipient, updatedAtEnc,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.messages+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, recipientID, senderID, updatedAtEnc string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.messages+`
		    SET status = 'read', updated_at_enc = $3
		  WHERE recipient_id = $1 AND sender_id = $2 AND status NOT IN ('read', 'deleted')`,
		recipientID, senderID, updatedAtEnc,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, rec SessionRecord) (string, error) {
	id, err := ids.NewULID(time.Now())
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.sessions+` (`+sessionCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, rec.PairKey, rec.User1, rec.User2, string(rec.User1Status), string(rec.User2Status),
		rec.HeadEnc, rec.User1TailEnc, rec.User2TailEnc,
	)
	if pgdb.IsUniqueViolation(err) {
		return "", ErrSessionExists
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	return s.getSession(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) FindSessionByPair(ctx context.Context, pairKey string) (SessionRecord, error) {
	return s.getSession(ctx, `WHERE pair_key = $1`, pairKey)
}

func (s *PostgresStore) getSession(ctx context.Context, where, arg string) (SessionRecord, error) {
	rec, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionCols+` FROM `+s.sessions+` `+where, arg))
	if pgdb.IsNoRows(err) {
		return SessionRecord{}, ErrSessionNotFound
	}
	return rec, err
}

func (s *PostgresStore) UpdateSession(ctx context.Context, rec SessionRecord) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.sessions+`
		    SET user1_status = $2, user2_status = $3, head_enc = $4, user1_tail_enc = $5, user2_tail_enc = $6
		  WHERE id = $1`,
		rec.ID, string(rec.User1Status), string(rec.User2Status), rec.HeadEnc, rec.User1TailEnc, rec.User2TailEnc,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.sessions+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) ListSessionsForUser(ctx context.Context, userID string) ([]SessionRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionCols+` FROM `+s.sessions+` WHERE user1 = $1 OR user2 = $1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		rec    SessionRecord
		s1, s2 string
	)
	if err := row.Scan(&rec.ID, &rec.PairKey, &rec.User1, &rec.User2, &s1, &s2,
		&rec.HeadEnc, &rec.User1TailEnc, &rec.User2TailEnc); err != nil {
		return SessionRecord{}, err
	}
	rec.User1Status, rec.User2Status = SessionStatus(s1), SessionStatus(s2)
	return rec, nil
}
