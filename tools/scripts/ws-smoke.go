// Package main is an end-to-end smoke check against a running tether server.
//
// It registers two users over HTTP, connects both over WebSocket, sends an encrypted message
// from A to B, checks fan-out to both sides, fetches B's history and marks it read.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "tether/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	name   string
	userID string
	token  string
	conn   *websocket.Conn
	seq    int
}

func main() {
	var (
		base    = flag.String("url", "http://127.0.0.1:8080", "server base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		text    = flag.String("text", "hello tether", "plaintext placeholder sent as encrypted content")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	u, err := url.Parse(*base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fatalf("invalid -url %q", *base)
	}

	root := context.Background()
	suffix := strconv.FormatInt(time.Now().UnixNano()%1_000_000_000, 36)

	a := mustRegister(root, *base, "smoke-a-"+suffix, *timeout)
	b := mustRegister(root, *base, "smoke-b-"+suffix, *timeout)

	mustConnect(root, a, *base, *origin, *timeout)
	defer closeWS(a.conn)
	mustConnect(root, b, *base, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s\n", a.userID, b.userID)
	}

	reqID := a.send(root, v1.TypeSendEncrypted, v1.SendEncryptedPayload{
		Recipient:        b.userID,
		EncryptedContent: *text,
		SymmetricKey:     "smoke-key",
	}, *timeout)

	var sent v1.MessageEventPayload
	a.mustExpect(root, v1.TypeMessageSent, &sent, *timeout)
	var got v1.MessageEventPayload
	b.mustExpect(root, v1.TypeMessageReceived, &got, *timeout)

	if got.Message.ID != sent.Message.ID || got.Message.Sender != a.userID {
		fatalf("fan-out mismatch: sent=%s received=%s sender=%s", sent.Message.ID, got.Message.ID, got.Message.Sender)
	}

	pageSize := 10
	b.send(root, v1.TypeGetMessages, v1.GetMessagesPayload{
		From:    got.Message.ID,
		Session: got.Session.ID,
		Count:   &pageSize,
	}, *timeout)
	var hist v1.MessagesRetrievedPayload
	b.mustExpect(root, v1.TypeMessagesRetrieved, &hist, *timeout)
	if len(hist.Messages) == 0 || hist.Messages[0].ID != got.Message.ID {
		fatalf("history does not start at %s: %+v", got.Message.ID, hist.Messages)
	}

	b.send(root, v1.TypeReadMessages, v1.ReadMessagesPayload{SenderID: a.userID}, *timeout)

	fmt.Printf("OK: A=%s B=%s session=%s message=%s request=%s\n",
		a.userID, b.userID, got.Session.ID, got.Message.ID, reqID)
}

func mustRegister(parent context.Context, base, username string, timeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{
		"username":  username,
		"password":  "smoke-password-" + username,
		"publicKey": "pk-" + username,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/auth/register", bytes.NewReader(body))
	if err != nil {
		fatalf("register %s: %v", username, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("register %s: %v", username, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		fatalf("register %s: status %d", username, resp.StatusCode)
	}

	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Tokens struct {
			AccessToken string `json:"accessToken"`
		} `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("register %s: decode: %v", username, err)
	}
	return &smokeClient{name: username, userID: out.User.ID, token: out.Tokens.AccessToken}
}

func mustConnect(parent context.Context, c *smokeClient, base, origin string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(base, "/"), "http") + "/ws?token=" + url.QueryEscape(c.token)
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("%s: dial: %v", c.name, err)
	}
	if conn.Subprotocol() != v1.Subprotocol {
		fatalf("%s: subprotocol %q", c.name, conn.Subprotocol())
	}
	conn.SetReadLimit(maxReadBytes)
	c.conn = conn

	c.mustExpect(parent, v1.TypeAllContacts, nil, timeout)
	c.mustExpect(parent, v1.TypeAllSessions, nil, timeout)
}

func (c *smokeClient) send(parent context.Context, typ string, payload any, timeout time.Duration) string {
	c.seq++
	id := c.name + "-" + strconv.Itoa(c.seq)
	env, err := v1.New(typ, id, "", time.Now().UTC(), payload)
	if err != nil {
		fatalf("%s: build %s: %v", c.name, typ, err)
	}
	raw, _ := json.Marshal(env)

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		fatalf("%s: write %s: %v", c.name, typ, err)
	}
	return id
}

// mustExpect reads until an envelope of typ arrives. Error envelopes fail the run.
func (c *smokeClient) mustExpect(parent context.Context, typ string, dst any, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				fatalf("%s: timed out waiting for %s", c.name, typ)
			}
			fatalf("%s: read: %v", c.name, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			fatalf("%s: bad frame: %v", c.name, err)
		}
		if strings.HasSuffix(env.Type, "error") {
			var e v1.ErrorPayload
			_ = env.Decode(&e)
			fatalf("%s: %s: %s (%s)", c.name, env.Type, e.Message, e.Code)
		}
		if env.Type != typ {
			continue
		}
		if dst != nil {
			if err := env.Decode(dst); err != nil {
				fatalf("%s: decode %s: %v", c.name, typ, err)
			}
		}
		return
	}
}

func closeWS(c *websocket.Conn) {
	if c != nil {
		_ = c.Close(websocket.StatusNormalClosure, "bye")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
