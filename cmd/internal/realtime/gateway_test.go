package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"

	"tether/cmd/identity"
	"tether/cmd/internal/auth/tokens"
	"tether/cmd/internal/chat"
	"tether/cmd/internal/keys"
	"tether/cmd/internal/social"
	"tether/cmd/security/fieldcrypt"
	"tether/cmd/security/password"
	"tether/cmd/security/token"
	v1 "tether/shared/contracts/realtime/v1"
)

type fixture struct {
	srv    *httptest.Server
	users  *identity.Service
	tokens *tokens.Service
	// shift moves the token clock into the past so tokens expire sooner in real time.
	shift *atomic.Int64
}

func newFixture(t *testing.T, mut func(*Config)) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	k, _ := fieldcrypt.GenerateKeyHex()
	cipher, err := fieldcrypt.NewFromHex(k)
	if err != nil {
		t.Fatalf("NewFromHex: %v", err)
	}

	h := password.Default()
	h.Params.MemoryKiB = 8 * 1024
	h.Params.Iterations = 1
	h.Params.Parallelism = 1
	users := identity.NewService(log, identity.NewMemoryStore(), h)

	shift := new(atomic.Int64)
	tcfg := tokens.DefaultConfig()
	tcfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	tcfg.RefreshSecret = []byte(strings.Repeat("r", 32))
	d, err := token.NewDigester(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewDigester: %v", err)
	}
	tok, err := tokens.NewService(log, tcfg, tokens.NewMemoryStore(), d,
		tokens.WithTokenHasher(token.HashSHA256Hex),
		tokens.WithClock(func() time.Time { return time.Now().Add(-time.Duration(shift.Load())) }))
	if err != nil {
		t.Fatalf("tokens.NewService: %v", err)
	}

	cs := chat.NewMemoryStore()
	engine, err := chat.NewEngine(log, cs, cs, cipher)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	cfg := DefaultConfig()
	cfg.OriginRequired = false
	if mut != nil {
		mut(&cfg)
	}
	gw, err := NewGateway(log, cfg, Deps{
		Auth:   tok,
		Chat:   engine,
		Social: social.NewService(log, social.NewMemoryStore(), users),
		Keys:   keys.NewService(log, keys.NewMemoryStore(), cipher),
		Users:  users,
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, users: users, tokens: tok, shift: shift}
}

func (f *fixture) register(t *testing.T, name string) (identity.User, string) {
	t.Helper()
	ctx := context.Background()
	u, err := f.users.Register(ctx, name, "long enough pw", "pk-"+name)
	if err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
	p, err := f.tokens.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return u, p.AccessToken
}

func (f *fixture) dial(t *testing.T, accessToken string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?token=" + accessToken
	return websocket.Dial(ctx, u, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
}

// connect dials and drains the initial all-contacts and all-sessions snapshot.
func (f *fixture) connect(t *testing.T, accessToken string) *websocket.Conn {
	t.Helper()
	conn, _, err := f.dial(t, accessToken)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	expect(t, conn, v1.TypeAllContacts)
	expect(t, conn, v1.TypeAllSessions)
	return conn
}

var seq atomic.Int64

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) string {
	t.Helper()
	id := "req-" + strconv.FormatInt(seq.Add(1), 10)
	env, err := v1.New(typ, id, "", time.Now().UTC(), payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _ := json.Marshal(env)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
	return id
}

// expect reads until an envelope of type typ arrives, skipping others.
func expect(t *testing.T, conn *websocket.Conn, typ string) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
}

func decodeAs[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var out T
	if err := env.Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return out
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	for name, tok := range map[string]string{"missing": "", "garbage": "not-a-token"} {
		_, resp, err := f.dial(t, tok)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			t.Fatalf("%s: expected handshake failure", name)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %+v", name, resp)
		}
	}
}

func TestHandshakeRejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.OriginRequired = true })
	_, tok := f.register(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?token=" + tok
	_, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   http.Header{"Origin": []string{"https://evil.example"}},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got resp=%+v err=%v", resp, err)
	}
}

func TestSendEncryptedFansOutToBothParties(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	alice, aliceTok := f.register(t, "alice")
	bob, bobTok := f.register(t, "bob")
	a := f.connect(t, aliceTok)
	b := f.connect(t, bobTok)

	send(t, a, v1.TypeSendEncrypted, v1.SendEncryptedPayload{
		Recipient:        bob.ID,
		EncryptedContent: "ciphertext",
		SymmetricKey:     "wrapped-key",
	})

	sent := decodeAs[v1.MessageEventPayload](t, expect(t, a, v1.TypeMessageSent))
	got := decodeAs[v1.MessageEventPayload](t, expect(t, b, v1.TypeMessageReceived))
	if sent.Message.ID != got.Message.ID || got.Message.Sender != alice.ID {
		t.Fatalf("sender and recipient disagree: %+v vs %+v", sent.Message, got.Message)
	}
	var blob v1.EncryptedContent
	if err := json.Unmarshal([]byte(got.Message.Content), &blob); err != nil || blob.EncryptedContent != "ciphertext" || blob.SymmetricKey != "wrapped-key" {
		t.Fatalf("content=%q err=%v", got.Message.Content, err)
	}
	if got.Session.Head != got.Message.ID {
		t.Fatalf("session head=%q want=%q", got.Session.Head, got.Message.ID)
	}

	send(t, b, v1.TypeGetMessages, v1.GetMessagesPayload{From: got.Message.ID, Session: got.Session.ID})
	page := decodeAs[v1.MessagesRetrievedPayload](t, expect(t, b, v1.TypeMessagesRetrieved))
	if len(page.Messages) != 1 || page.Messages[0].ID != got.Message.ID {
		t.Fatalf("unexpected page: %+v", page)
	}

	zero := 0
	send(t, b, v1.TypeGetMessages, v1.GetMessagesPayload{From: got.Message.ID, Session: got.Session.ID, Count: &zero})
	if p := decodeAs[v1.ErrorPayload](t, expect(t, b, v1.TypeGetMessagesError)); p.Code != "validation" {
		t.Fatalf("zero count: code=%q want validation", p.Code)
	}

	send(t, a, v1.TypeDeleteMessage, v1.DeleteMessagePayload{ID: got.Message.ID})
	del := decodeAs[v1.MessageDeletedPayload](t, expect(t, b, v1.TypeMessageDeleted))
	if del.ID != got.Message.ID || del.Other != bob.ID {
		t.Fatalf("unexpected delete notice: %+v", del)
	}
}

func TestSendEncryptedErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	alice, aliceTok := f.register(t, "alice")
	bob, bobTok := f.register(t, "bob")
	a := f.connect(t, aliceTok)
	b := f.connect(t, bobTok)

	id := send(t, a, v1.TypeSendEncrypted, v1.SendEncryptedPayload{Recipient: bob.ID, EncryptedContent: "   "})
	env := expect(t, a, v1.TypeSendMessageError)
	p := decodeAs[v1.ErrorPayload](t, env)
	if env.Ack != id || p.Code != "validation" || p.Data == nil {
		t.Fatalf("unexpected error reply: ack=%q payload=%+v", env.Ack, p)
	}

	send(t, b, v1.TypeBlockUser, v1.UserRefPayload{UserID: alice.ID})
	if got := decodeAs[v1.UserRefPayload](t, expect(t, b, v1.TypeUserBlocked)); got.UserID != alice.ID {
		t.Fatalf("user-blocked=%+v", got)
	}

	send(t, a, v1.TypeSendEncrypted, v1.SendEncryptedPayload{Recipient: bob.ID, EncryptedContent: "hi", SymmetricKey: "k"})
	if p := decodeAs[v1.ErrorPayload](t, expect(t, a, v1.TypeSendMessageError)); p.Code != "forbidden" {
		t.Fatalf("blocked send: code=%q", p.Code)
	}
}

func TestKeyStoreRepliesCarryAck(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, tok := f.register(t, "alice")
	a := f.connect(t, tok)

	id := send(t, a, v1.TypeSetKey, v1.SetKeyPayload{Key: "thread-key", Value: "wrapped"})
	if env := expect(t, a, v1.TypeSetKeyResult); env.Ack != id {
		t.Fatalf("set-key-result ack=%q want=%q", env.Ack, id)
	}

	id = send(t, a, v1.TypeGetKey, v1.GetKeyPayload{Key: "thread-key"})
	env := expect(t, a, v1.TypeGetKeyResult)
	got := decodeAs[v1.KeyResultPayload](t, env)
	if env.Ack != id || got.Value != "wrapped" || got.CreatedAt == nil {
		t.Fatalf("get-key-result ack=%q payload=%+v", env.Ack, got)
	}

	send(t, a, v1.TypeGetKey, v1.GetKeyPayload{Key: "missing"})
	if p := decodeAs[v1.ErrorPayload](t, expect(t, a, v1.TypeGetKeyError)); p.Code != "not_found" {
		t.Fatalf("missing key: code=%q", p.Code)
	}
}

func TestFriendRequestLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	alice, aliceTok := f.register(t, "alice")
	_, bobTok := f.register(t, "bob")
	a := f.connect(t, aliceTok)
	b := f.connect(t, bobTok)

	send(t, a, v1.TypeSendFriendRequest, v1.SendFriendRequestPayload{Username: "bob"})
	sent := decodeAs[v1.FriendRequestEventPayload](t, expect(t, a, v1.TypeFriendRequestSent))
	recv := decodeAs[v1.FriendRequestEventPayload](t, expect(t, b, v1.TypeFriendRequestReceived))
	if sent.Request.ID != recv.Request.ID || recv.User.Username != "alice" || recv.User.ID != "" {
		t.Fatalf("pending request leaked or mismatched: %+v / %+v", sent, recv)
	}
	contacts := decodeAs[v1.AllContactsPayload](t, expect(t, b, v1.TypeAllContacts))
	if len(contacts.Contacts) != 1 || contacts.Contacts[0].FriendRequest.Direction != "received" {
		t.Fatalf("bob contacts=%+v", contacts)
	}

	send(t, b, v1.TypeAcceptFriendRequest, v1.FriendRequestRefPayload{RequestID: recv.Request.ID})
	acc := decodeAs[v1.FriendRequestEventPayload](t, expect(t, b, v1.TypeFriendRequestAccepted))
	if acc.User.ID != alice.ID || acc.User.PublicKey != "pk-alice" || acc.Request.Status != "accepted" {
		t.Fatalf("accepted payload=%+v", acc)
	}
	expect(t, a, v1.TypeFriendRequestAccepted)

	send(t, b, v1.TypeRejectFriendRequest, v1.FriendRequestRefPayload{RequestID: recv.Request.ID})
	if p := decodeAs[v1.ErrorPayload](t, expect(t, b, v1.TypeRejectFriendRequestError)); p.Code != "conflict" {
		t.Fatalf("second answer: code=%q", p.Code)
	}
}

func TestReauthCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	alice, _ := f.register(t, "alice")

	// Expire the first token shortly after the reauth margin.
	f.shift.Store(int64(tokens.DefaultConfig().AccessTokenTTL - defaultReauthMargin - 300*time.Millisecond))
	short, err := f.tokens.Issue(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	a := f.connect(t, short.AccessToken)

	req := decodeAs[v1.ReauthRequiredPayload](t, expect(t, a, v1.TypeReauth))
	if d := req.ExpiresAt.Sub(short.AccessExpiresAt); d < -time.Second || d > time.Second {
		t.Fatalf("reauth expiresAt=%v want=%v", req.ExpiresAt, short.AccessExpiresAt)
	}

	send(t, a, v1.TypeGetKey, v1.GetKeyPayload{Key: "k"})
	if p := decodeAs[v1.ErrorPayload](t, expect(t, a, v1.TypeGetKeyError)); p.Code != "unauthenticated" {
		t.Fatalf("unauthenticated event: code=%q", p.Code)
	}

	f.shift.Store(0)
	fresh, err := f.tokens.Issue(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	send(t, a, v1.TypeReauth, v1.ReauthPayload{Token: fresh.AccessToken})
	if ok := decodeAs[v1.ReauthOKPayload](t, expect(t, a, v1.TypeReauthOK)); ok.UserID != alice.ID {
		t.Fatalf("reauth-ok=%+v", ok)
	}

	send(t, a, v1.TypeSetKey, v1.SetKeyPayload{Key: "k", Value: "v"})
	expect(t, a, v1.TypeSetKeyResult)
}

func TestReauthWithForeignTokenCloses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, aliceTok := f.register(t, "alice")
	_, bobTok := f.register(t, "bob")
	a := f.connect(t, aliceTok)

	send(t, a, v1.TypeReauth, v1.ReauthPayload{Token: bobTok})
	expect(t, a, v1.TypeError)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, _, err := a.Read(ctx)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
			t.Fatalf("close status=%v err=%v", got, err)
		}
		return
	}
}

func TestPerConnectionRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.RateEvents = 3
		c.RateWindow = time.Minute
	})
	_, tok := f.register(t, "alice")
	a := f.connect(t, tok)

	for i := 0; i < 3; i++ {
		send(t, a, v1.TypeSetKey, v1.SetKeyPayload{Key: "k", Value: "v"})
		expect(t, a, v1.TypeSetKeyResult)
	}
	send(t, a, v1.TypeSetKey, v1.SetKeyPayload{Key: "k", Value: "v"})
	if p := decodeAs[v1.ErrorPayload](t, expect(t, a, v1.TypeSetKeyError)); p.Code != "rate_limited" {
		t.Fatalf("code=%q want rate_limited", p.Code)
	}
}

func TestBadFramesDoNotCloseTheConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, tok := f.register(t, "alice")
	a := f.connect(t, tok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if p := decodeAs[v1.ErrorPayload](t, expect(t, a, v1.TypeError)); p.Code != "bad_json" {
		t.Fatalf("code=%q", p.Code)
	}

	send(t, a, "no-such-event", struct{}{})
	if p := decodeAs[v1.ErrorPayload](t, expect(t, a, v1.TypeError)); p.Code != "bad_envelope" {
		t.Fatalf("code=%q", p.Code)
	}

	send(t, a, v1.TypeSetKey, v1.SetKeyPayload{Key: "k", Value: "v"})
	expect(t, a, v1.TypeSetKeyResult)
}

func TestNewGatewayRequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := NewGateway(nil, DefaultConfig(), Deps{}); err == nil {
		t.Fatalf("expected error for missing deps")
	}
}
