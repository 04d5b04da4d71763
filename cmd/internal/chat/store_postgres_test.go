package chat

import (
	"context"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	st, err := NewPostgresStore(mock, "")
	require.NoError(t, err)
	return st, mock
}

var (
	messageColumns = []string{"id", "sender_id", "recipient_id", "content", "status", "deleted_by_sender", "deleted_by_recipient", "previous_enc", "created_at_enc", "updated_at_enc"}
	sessionColumns = []string{"id", "pair_key", "user1", "user2", "user1_status", "user2_status", "head_enc", "user1_tail_enc", "user2_tail_enc"}
)

func TestPostgresStore_CreateAndGetMessage(t *testing.T) {
	st, mock := newMockStore(t)
	defer mock.Close()
	ctx := context.Background()

	rec := MessageRecord{SenderID: "a", RecipientID: "b", Content: "c", Status: StatusSent, PreviousEnc: "p", CreatedAtEnc: "t1", UpdatedAtEnc: "t2"}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "tether"."messages"`)).
		WithArgs(pgxmock.AnyArg(), "a", "b", "c", "sent", false, false, "p", "t1", "t2").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := st.CreateMessage(ctx, rec)
	require.NoError(t, err)
	require.Len(t, id, 26)

	q := regexp.QuoteMeta(`FROM "tether"."messages" WHERE id = $1`)
	mock.ExpectQuery(q).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(messageColumns).AddRow(id, "a", "b", "c", "read", true, false, "p", "t1", "t2"))
	got, err := st.GetMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusRead, got.Status)
	require.True(t, got.DeletedBySender)

	mock.ExpectQuery(q).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = st.GetMessage(ctx, "missing")
	require.ErrorIs(t, err, ErrMessageNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkDeletedAndDeleteMessage(t *testing.T) {
	st, mock := newMockStore(t)
	defer mock.Close()
	ctx := context.Background()

	// Only deletion columns are written; status changes only once both flags are set.
	q := regexp.QuoteMeta(`UPDATE "tether"."messages"`) +
		`\s+SET deleted_by_sender = deleted_by_sender OR \$2,\s+deleted_by_recipient = deleted_by_recipient OR \$3,`
	mock.ExpectExec(q).
		WithArgs("m1", true, false, "t").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, st.MarkDeleted(ctx, "m1", true, false, "t"))

	mock.ExpectExec(q).
		WithArgs("m2", false, true, "t").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, st.MarkDeleted(ctx, "m2", false, true, "t"), ErrMessageNotFound)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "tether"."messages" WHERE id = $1`)).
		WithArgs("m1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, st.DeleteMessage(ctx, "m1"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkRead(t *testing.T) {
	st, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(`WHERE recipient_id = $1 AND sender_id = $2 AND status NOT IN ('read', 'deleted')`)).
		WithArgs("bob", "alice", "stamp").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := st.MarkRead(context.Background(), "bob", "alice", "stamp")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Sessions(t *testing.T) {
	st, mock := newMockStore(t)
	defer mock.Close()
	ctx := context.Background()

	rec := SessionRecord{PairKey: "a:b", User1: "a", User2: "b", User1Status: SessionActive, User2Status: SessionActive, HeadEnc: "h"}
	insert := regexp.QuoteMeta(`INSERT INTO "tether"."chat_sessions"`)

	mock.ExpectExec(insert).
		WithArgs(pgxmock.AnyArg(), "a:b", "a", "b", "active", "active", "h", "", "").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	_, err := st.CreateSession(ctx, rec)
	require.ErrorIs(t, err, ErrSessionExists)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "tether"."chat_sessions" WHERE pair_key = $1`)).
		WithArgs("a:b").
		WillReturnRows(pgxmock.NewRows(sessionColumns).AddRow("s1", "a:b", "a", "b", "active", "deleted", "h", "", "t2"))
	got, err := st.FindSessionByPair(ctx, "a:b")
	require.NoError(t, err)
	require.Equal(t, SessionDeleted, got.User2Status)
	require.Equal(t, "t2", got.User2TailEnc)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE user1 = $1 OR user2 = $1 ORDER BY id`)).
		WithArgs("a").
		WillReturnRows(pgxmock.NewRows(sessionColumns).
			AddRow("s1", "a:b", "a", "b", "active", "active", "h", "", "").
			AddRow("s2", "a:c", "c", "a", "active", "archived", "h2", "", ""))
	list, err := st.ListSessionsForUser(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, SessionArchived, list[1].User2Status)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "tether"."chat_sessions" WHERE id = $1`)).
		WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, st.DeleteSession(ctx, "gone"), ErrSessionNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
