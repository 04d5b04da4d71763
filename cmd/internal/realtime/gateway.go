// Package realtime is the websocket gateway. It authenticates connections, tracks presence per
// user and routes protocol v1 events to the chat, social and key services.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tether/cmd/identity"
	"tether/cmd/identity/ids"
	"tether/cmd/internal/auth/tokens"
	"tether/cmd/internal/chat"
	"tether/cmd/internal/errs"
	"tether/cmd/internal/keys"
	"tether/cmd/internal/metrics"
	"tether/cmd/internal/ratelimit"
	"tether/cmd/internal/social"
	v1 "tether/shared/contracts/realtime/v1"
)

// Authenticator verifies access tokens.
type Authenticator interface {
	VerifyAccess(token string) (tokens.AccessClaims, error)
}

// ChatEngine is the thread engine surface used by the gateway.
type ChatEngine interface {
	Send(ctx context.Context, senderID, recipientID, content string) (chat.SendResult, error)
	MessagesFrom(ctx context.Context, requesterID, fromID, sessionID string, count int) ([]chat.Message, error)
	DeleteMessage(ctx context.Context, userID, messageID string, both bool) (string, error)
	ReadMessages(ctx context.Context, userID, senderID string) (int64, error)
	MarkThreadDeleted(ctx context.Context, userID, sessionID string) (bool, error)
	UserSessions(ctx context.Context, userID string) ([]chat.SessionView, error)
}

// SocialGraph is the friend request and block surface used by the gateway.
type SocialGraph interface {
	SendRequest(ctx context.Context, senderID, username string) (social.FriendRequest, identity.User, error)
	AcceptRequest(ctx context.Context, recipientID, requestID string) (social.FriendRequest, error)
	RejectRequest(ctx context.Context, recipientID, requestID string) (social.FriendRequest, error)
	Block(ctx context.Context, blockerID, blockedID string) (social.Block, error)
	Unblock(ctx context.Context, blockerID, blockedID string) error
	Blocked(ctx context.Context, a, b string) (bool, error)
	Contacts(ctx context.Context, userID string) ([]social.Contact, error)
}

// KeyStore is the per-user key storage surface.
type KeyStore interface {
	Get(ctx context.Context, userID, key string) (keys.Record, error)
	Set(ctx context.Context, userID, key, value string) error
}

// Users resolves user ids.
type Users interface {
	Get(ctx context.Context, id string) (identity.User, error)
}

// Deps are the services behind the gateway. Metrics is optional.
type Deps struct {
	Auth    Authenticator
	Chat    ChatEngine
	Social  SocialGraph
	Keys    KeyStore
	Users   Users
	Metrics *metrics.Metrics
}

type handlerFunc func(ctx context.Context, c *Client, env v1.Envelope) error

// Gateway is the websocket entrypoint. It is an http.Handler.
type Gateway struct {
	log    *slog.Logger
	cfg    Config
	origin originPolicy
	hub    *Hub

	auth    Authenticator
	chat    ChatEngine
	social  SocialGraph
	keys    KeyStore
	users   Users
	metrics *metrics.Metrics

	limiter  *ratelimit.Limiter
	now      func() time.Time
	handlers map[string]handlerFunc
}

type Option func(*Gateway)

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithHub shares a presence hub between gateways.
func WithHub(h *Hub) Option {
	return func(g *Gateway) { g.hub = h }
}

func NewGateway(log *slog.Logger, cfg Config, deps Deps, opts ...Option) (*Gateway, error) {
	if deps.Auth == nil || deps.Chat == nil || deps.Social == nil || deps.Keys == nil || deps.Users == nil {
		return nil, errors.New("realtime: missing dependency")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	cfg = cfg.withDefaults()

	g := &Gateway{
		log:     log,
		cfg:     cfg,
		origin:  newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
		auth:    deps.Auth,
		chat:    deps.Chat,
		social:  deps.Social,
		keys:    deps.Keys,
		users:   deps.Users,
		metrics: deps.Metrics,
		now:     time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.hub == nil {
		g.hub = NewHub(log)
	}
	g.limiter = ratelimit.New(cfg.RateEvents, cfg.RateWindow, ratelimit.WithClock(g.now))

	g.handlers = map[string]handlerFunc{
		v1.TypeSendEncrypted:       g.onSendEncrypted,
		v1.TypeGetMessages:         g.onGetMessages,
		v1.TypeDeleteMessage:       g.onDeleteMessage,
		v1.TypeReadMessages:        g.onReadMessages,
		v1.TypeDeleteThread:        g.onDeleteThread,
		v1.TypeGetKey:              g.onGetKey,
		v1.TypeSetKey:              g.onSetKey,
		v1.TypeSendFriendRequest:   g.onSendFriendRequest,
		v1.TypeAcceptFriendRequest: g.onAcceptFriendRequest,
		v1.TypeRejectFriendRequest: g.onRejectFriendRequest,
		v1.TypeBlockUser:           g.onBlockUser,
		v1.TypeUnblockUser:         g.onUnblockUser,
	}
	return g, nil
}

// Hub exposes the presence hub.
func (g *Gateway) Hub() *Hub { return g.hub }

// ServeHTTP verifies origin and access token, then upgrades and runs the connection loop.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.origin.check(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	claims, err := g.auth.VerifyAccess(accessToken(r))
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.origin.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	g.serve(r.Context(), conn, claims)
}

func accessToken(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, claims tokens.AccessClaims) {
	now := g.now().UTC()
	connID := ids.MustULID(now)
	client := newClient(connID, claims.UserID, claims.ExpiresAt, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g.hub.Join(claims.UserID, client)
	g.metrics.ConnOpened()
	g.log.Info("ws.open", "conn_id", connID, "user_id", claims.UserID)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(client.UserID(), connID)
			client.Close()
			g.limiter.Forget(connID)
			_ = conn.Close(code, reason)
			cancel()
			g.metrics.ConnClosed()
			g.log.Info("ws.close", "conn_id", connID, "user_id", client.UserID(), "reason", reason)
		})
	}

	client.armReauth(claims.ExpiresAt, g.cfg.ReauthMargin, now, func() { g.requireReauth(client) })

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	g.pushInitial(ctx, client)

	strikes := 0
readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.reply(client, v1.TypeError, "", v1.ErrorPayload{Code: "bad_json", Message: "invalid JSON"})
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if g.limiter.IsRateLimited(connID) {
			strikes++
			g.metrics.RateLimited("ws")
			g.replyError(client, env, errs.E("realtime", errs.ErrRateLimited, "too many events"))
			if strikes >= maxRateStrikes {
				shutdown(websocket.StatusPolicyViolation, "rate limited")
				break readLoop
			}
			continue readLoop
		}
		strikes = 0

		if err := env.Validate(); err != nil {
			g.reply(client, v1.TypeError, env.ID, v1.ErrorPayload{Code: "bad_envelope", Message: err.Error()})
			continue readLoop
		}

		if env.Type == v1.TypeReauth {
			err := g.onReauth(client, env)
			g.metrics.Event(env.Type, err == nil)
			if err != nil {
				g.log.Info("ws.reauth.fail", "conn_id", connID, "user_id", client.UserID(), "err", err)
				p := v1.ErrorPayload{Code: errs.Code(err), Message: errs.Message(err)}
				if out, ok := g.envelope(v1.TypeError, env.ID, p); ok {
					_ = writeEnvelope(ctx, conn, out, g.cfg.WriteTimeout)
				}
				shutdown(websocket.StatusPolicyViolation, "reauth failed")
				break readLoop
			}
			continue readLoop
		}

		if !client.Authenticated() {
			g.replyError(client, env, errs.E("realtime", errs.ErrAuthentication, "reauthentication required"))
			continue readLoop
		}

		err = g.handlers[env.Type](ctx, client, env)
		g.metrics.Event(env.Type, err == nil)
		if err != nil {
			g.replyError(client, env, err)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err == nil {
				failures = 0
				continue
			}
			failures++
			g.log.Info("ws.ping.fail", "conn_id", client.ConnID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// requireReauth runs on the reauth timer.
func (g *Gateway) requireReauth(c *Client) {
	c.authenticated.Store(false)
	g.reply(c, v1.TypeReauth, "", v1.ReauthRequiredPayload{ExpiresAt: c.expiry()})
	g.log.Info("ws.reauth.required", "conn_id", c.ConnID, "user_id", c.UserID())
}

func (g *Gateway) pushInitial(ctx context.Context, c *Client) {
	userID := c.UserID()
	if env, err := g.contactsEnvelope(ctx, userID); err == nil {
		c.offer(env)
	} else {
		g.log.Error("ws.contacts.fail", "user_id", userID, "err", err)
	}

	views, err := g.chat.UserSessions(ctx, userID)
	if err != nil {
		g.log.Error("ws.sessions.fail", "user_id", userID, "err", err)
		return
	}
	out := make([]v1.Session, 0, len(views))
	for _, v := range views {
		out = append(out, wireSessionView(v))
	}
	g.reply(c, v1.TypeAllSessions, "", v1.AllSessionsPayload{Sessions: out})
}

// ---- send helpers ----

func (g *Gateway) envelope(typ, ack string, payload any) (v1.Envelope, bool) {
	now := g.now().UTC()
	env, err := v1.New(typ, ids.MustULID(now), ack, now, payload)
	if err != nil {
		g.log.Error("ws.encode.fail", "type", typ, "err", err)
		return v1.Envelope{}, false
	}
	return env, true
}

// reply offers an envelope to a single connection.
func (g *Gateway) reply(c *Client, typ, ack string, payload any) {
	if env, ok := g.envelope(typ, ack, payload); ok {
		c.offer(env)
	}
}

// toUser fans an envelope out to every connection of userID.
func (g *Gateway) toUser(userID, typ string, payload any) {
	if env, ok := g.envelope(typ, "", payload); ok {
		g.hub.SendToUser(userID, env)
	}
}

// replyError answers req with its <event>-error counterpart.
func (g *Gateway) replyError(c *Client, req v1.Envelope, err error) {
	if !errs.Known(err) {
		g.log.Error("ws.event.fail", "type", req.Type, "conn_id", c.ConnID, "user_id", c.UserID(), "err", err)
	}
	p := v1.ErrorPayload{Code: errs.Code(err), Message: errs.Message(err)}
	if req.Type == v1.TypeSendEncrypted && len(req.Payload) > 0 {
		p.Data = req.Payload
	}
	g.reply(c, v1.ErrorType(req.Type), req.ID, p)
}

// ---- envelope IO ----

var errBadFrame = errors.New("bad frame")

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadFrame):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}
