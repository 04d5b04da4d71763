package chat

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"tether/cmd/internal/errs"
	"tether/cmd/security/fieldcrypt"
)

type fixture struct {
	engine *Engine
	store  *MemoryStore
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	k, err := fieldcrypt.GenerateKeyHex()
	if err != nil {
		t.Fatalf("GenerateKeyHex: %v", err)
	}
	c, err := fieldcrypt.NewFromHex(k)
	if err != nil {
		t.Fatalf("NewFromHex: %v", err)
	}
	st := NewMemoryStore()
	e, err := NewEngine(nil, st, st, c, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return fixture{engine: e, store: st}
}

func frozenClock() func() time.Time {
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func mustSend(t *testing.T, e *Engine, from, to, content string) SendResult {
	t.Helper()
	res, err := e.Send(context.Background(), from, to, content)
	if err != nil {
		t.Fatalf("Send(%s->%s): %v", from, to, err)
	}
	return res
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSendBuildsChainAndFetchNewestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	r1 := mustSend(t, f.engine, "alice", "bob", "hi")
	if r1.Session.ID == "" || r1.Session.Head != r1.Message.ID {
		t.Fatalf("session not created with head=msg1: %+v", r1.Session)
	}
	if r1.Session.User1Status != SessionActive || r1.Session.User2Status != SessionActive {
		t.Fatalf("new session must be active for both parties")
	}

	r2 := mustSend(t, f.engine, "alice", "bob", "there")
	if r2.Session.ID != r1.Session.ID {
		t.Fatalf("second send created a new session")
	}
	if r2.Session.Head != r2.Message.ID || r2.Message.Previous != r1.Message.ID {
		t.Fatalf("chain not linked: head=%q prev=%q", r2.Session.Head, r2.Message.Previous)
	}

	got, err := f.engine.MessagesFrom(ctx, "bob", r2.Message.ID, r2.Session.ID, 10)
	if err != nil {
		t.Fatalf("MessagesFrom: %v", err)
	}
	if want := []string{"there", "hi"}; !equalStrings(contents(got), want) {
		t.Fatalf("contents=%v want=%v", contents(got), want)
	}
	if got[0].ID != r2.Message.ID || got[1].ID != r1.Message.ID {
		t.Fatalf("unexpected ids in page")
	}
}

func TestSendReverseDirectionSharesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r1 := mustSend(t, f.engine, "alice", "bob", "ping")
	r2 := mustSend(t, f.engine, "bob", "alice", "pong")

	if r1.Session.ID != r2.Session.ID {
		t.Fatalf("reply opened a second session")
	}
	if r2.Message.Previous != r1.Message.ID {
		t.Fatalf("reply not linked to previous head")
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cases := map[string][3]string{
		"empty sender":    {"", "bob", "x"},
		"empty recipient": {"alice", "", "x"},
		"self":            {"alice", "alice", "x"},
		"blank content":   {"alice", "bob", "  \n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Send(context.Background(), tc[0], tc[1], tc[2])
			if !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if n := f.store.MessageCount(); n != 0 {
		t.Fatalf("rejected sends persisted %d messages", n)
	}
}

func TestPointersAndTimestampsAreEncryptedAtRest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	r1 := mustSend(t, f.engine, "alice", "bob", "one")
	r2 := mustSend(t, f.engine, "alice", "bob", "two")

	rec, err := f.store.GetMessage(ctx, r2.Message.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if rec.PreviousEnc == "" || rec.PreviousEnc == r1.Message.ID {
		t.Fatalf("previous pointer stored in clear: %q", rec.PreviousEnc)
	}
	if _, err := time.Parse(time.RFC3339Nano, rec.CreatedAtEnc); err == nil {
		t.Fatalf("created_at stored in clear")
	}

	srec, err := f.store.GetSession(ctx, r2.Session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if srec.HeadEnc == r2.Message.ID {
		t.Fatalf("head stored in clear")
	}
}

func TestCreatedAtStrictlyIncreasesUnderFrozenClock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithClock(frozenClock()))
	var last time.Time
	for i := 0; i < 5; i++ {
		r := mustSend(t, f.engine, "alice", "bob", "m"+strconv.Itoa(i))
		if !r.Message.CreatedAt.After(last) {
			t.Fatalf("createdAt did not advance at %d", i)
		}
		last = r.Message.CreatedAt
	}
}

func TestConcurrentSendsNeverOrphanMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "alice", "bob"
			if i%2 == 1 {
				from, to = to, from
			}
			if _, err := f.engine.Send(ctx, from, to, "m"+strconv.Itoa(i)); err != nil {
				t.Errorf("Send: %v", err)
			}
		}(i)
	}
	wg.Wait()

	views, err := f.engine.UserSessions(ctx, "alice")
	if err != nil || len(views) != 1 {
		t.Fatalf("UserSessions: %v (n=%d)", err, len(views))
	}
	sess := views[0].Session

	got, err := f.engine.MessagesFrom(ctx, "alice", sess.Head, sess.ID, MaxPageSize)
	if err != nil {
		t.Fatalf("MessagesFrom: %v", err)
	}
	if len(got) != n || f.store.MessageCount() != n {
		t.Fatalf("reachable=%d stored=%d want=%d", len(got), f.store.MessageCount(), n)
	}
	seen := make(map[string]bool, n)
	for _, m := range got {
		if seen[m.ID] {
			t.Fatalf("message %s reachable twice", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestMessagesFromAuthorizationAndValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	ab := mustSend(t, f.engine, "alice", "bob", "for bob")
	ac := mustSend(t, f.engine, "alice", "carol", "for carol")

	cases := []struct {
		name      string
		requester string
		from      string
		session   string
		want      error
	}{
		{"stranger on message", "carol", ab.Message.ID, ab.Session.ID, errs.ErrAuthorization},
		{"unknown message", "bob", "missing", ab.Session.ID, errs.ErrNotFound},
		{"unknown session", "bob", ab.Message.ID, "missing", errs.ErrNotFound},
		{"not a party to session", "bob", ab.Message.ID, ac.Session.ID, errs.ErrAuthorization},
		{"message of other session", "alice", ac.Message.ID, ab.Session.ID, errs.ErrValidation},
		{"missing ids", "alice", "", ab.Session.ID, errs.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.MessagesFrom(ctx, tc.requester, tc.from, tc.session, 10)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestMessagesFromCountBounds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var last SendResult
	for i := 0; i < 5; i++ {
		last = mustSend(t, f.engine, "alice", "bob", "m"+strconv.Itoa(i))
	}

	for _, count := range []int{0, -1} {
		if _, err := f.engine.MessagesFrom(ctx, "bob", last.Message.ID, last.Session.ID, count); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("count=%d: expected validation error, got %v", count, err)
		}
	}

	got, err := f.engine.MessagesFrom(ctx, "bob", last.Message.ID, last.Session.ID, 3)
	if err != nil || len(got) != 3 {
		t.Fatalf("count=3 returned %d (%v)", len(got), err)
	}

	got, err = f.engine.MessagesFrom(ctx, "bob", last.Message.ID, last.Session.ID, MaxPageSize+1)
	if err != nil || len(got) != 5 {
		t.Fatalf("oversized count returned %d (%v)", len(got), err)
	}
}

func TestUnilateralAndMutualDeletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	r1 := mustSend(t, f.engine, "alice", "bob", "hi")
	r2 := mustSend(t, f.engine, "alice", "bob", "there")

	other, err := f.engine.DeleteMessage(ctx, "alice", r1.Message.ID, false)
	if err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if other != "bob" {
		t.Fatalf("other=%q want=bob", other)
	}

	bobView, err := f.engine.MessagesFrom(ctx, "bob", r2.Message.ID, r2.Session.ID, 10)
	if err != nil {
		t.Fatalf("MessagesFrom(bob): %v", err)
	}
	if want := []string{"there", "hi"}; !equalStrings(contents(bobView), want) {
		t.Fatalf("bob sees %v want %v", contents(bobView), want)
	}

	aliceView, err := f.engine.MessagesFrom(ctx, "alice", r2.Message.ID, r2.Session.ID, 10)
	if err != nil {
		t.Fatalf("MessagesFrom(alice): %v", err)
	}
	if want := []string{"there", ""}; !equalStrings(contents(aliceView), want) {
		t.Fatalf("alice sees %v want %v", contents(aliceView), want)
	}
	if len(aliceView) != 2 {
		t.Fatalf("deleted message must stay as a placeholder")
	}

	if _, err := f.engine.DeleteMessage(ctx, "bob", r1.Message.ID, false); err != nil {
		t.Fatalf("DeleteMessage(bob): %v", err)
	}
	for _, who := range []string{"alice", "bob"} {
		page, err := f.engine.MessagesFrom(ctx, who, r2.Message.ID, r2.Session.ID, 10)
		if err != nil {
			t.Fatalf("MessagesFrom(%s): %v", who, err)
		}
		if page[1].Content != "" || page[1].Status != StatusDeleted {
			t.Fatalf("%s: mutual deletion not settled: %+v", who, page[1])
		}
	}
}

func TestDeleteForBoth(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	r := mustSend(t, f.engine, "alice", "bob", "oops")

	if _, err := f.engine.DeleteMessage(ctx, "bob", r.Message.ID, true); !errors.Is(err, errs.ErrAuthorization) {
		t.Fatalf("recipient delete-for-both: want authorization error, got %v", err)
	}
	if _, err := f.engine.DeleteMessage(ctx, "carol", r.Message.ID, false); !errors.Is(err, errs.ErrAuthorization) {
		t.Fatalf("stranger delete: want authorization error, got %v", err)
	}
	if _, err := f.engine.DeleteMessage(ctx, "alice", "missing", false); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown message: want not found, got %v", err)
	}

	if _, err := f.engine.DeleteMessage(ctx, "alice", r.Message.ID, true); err != nil {
		t.Fatalf("DeleteMessage(both): %v", err)
	}
	page, err := f.engine.MessagesFrom(ctx, "bob", r.Message.ID, r.Session.ID, 1)
	if err != nil {
		t.Fatalf("MessagesFrom: %v", err)
	}
	m := page[0]
	if m.Content != "" || m.Status != StatusDeleted || !m.DeletedBySender || !m.DeletedByRecipient {
		t.Fatalf("delete-for-both not applied: %+v", m)
	}
}

func TestReadMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	mustSend(t, f.engine, "alice", "bob", "1")
	mustSend(t, f.engine, "alice", "bob", "2")
	mustSend(t, f.engine, "bob", "alice", "3")

	n, err := f.engine.ReadMessages(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if n != 2 {
		t.Fatalf("marked=%d want=2", n)
	}
	if n, _ := f.engine.ReadMessages(ctx, "bob", "alice"); n != 0 {
		t.Fatalf("second read marked %d, want 0", n)
	}
	if _, err := f.engine.ReadMessages(ctx, "bob", ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// readDuringDelete runs before once, just ahead of the deletion write.
type readDuringDelete struct {
	*MemoryStore
	before func()
}

func (s *readDuringDelete) MarkDeleted(ctx context.Context, id string, bySender, byRecipient bool, updatedAtEnc string) error {
	if s.before != nil {
		fn := s.before
		s.before = nil
		fn()
	}
	return s.MemoryStore.MarkDeleted(ctx, id, bySender, byRecipient, updatedAtEnc)
}

func TestDeleteMessageKeepsInterleavedRead(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := &readDuringDelete{MemoryStore: f.store}
	e, err := NewEngine(nil, st, st, f.engine.cipher)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx := context.Background()
	r := mustSend(t, e, "alice", "bob", "hi")

	st.before = func() {
		if _, err := e.ReadMessages(ctx, "bob", "alice"); err != nil {
			t.Errorf("ReadMessages: %v", err)
		}
	}
	if _, err := e.DeleteMessage(ctx, "alice", r.Message.ID, false); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	rec, err := f.store.GetMessage(ctx, r.Message.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if rec.Status != StatusRead {
		t.Fatalf("status=%q want=%q", rec.Status, StatusRead)
	}
	if !rec.DeletedBySender || rec.DeletedByRecipient || rec.Content == "" {
		t.Fatalf("deletion flags not applied alone: %+v", rec)
	}

	views, err := e.UserSessions(ctx, "bob")
	if err != nil {
		t.Fatalf("UserSessions: %v", err)
	}
	if len(views) != 1 || views[0].UnreadCount != 0 {
		t.Fatalf("read message counted as unread again: %+v", views)
	}
}
