package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"tether/cmd/internal/chat"
	"tether/cmd/internal/errs"
	"tether/cmd/internal/social"
	v1 "tether/shared/contracts/realtime/v1"
)

func decode(op string, env v1.Envelope, dst any) error {
	if err := env.Decode(dst); err != nil {
		return errs.E(op, errs.ErrValidation, "invalid payload")
	}
	return nil
}

// ---- chat ----

func (g *Gateway) onSendEncrypted(ctx context.Context, c *Client, env v1.Envelope) error {
	const op = "realtime.SendEncrypted"

	var p v1.SendEncryptedPayload
	if err := decode(op, env, &p); err != nil {
		return err
	}
	userID := c.UserID()
	recipient := strings.TrimSpace(p.Recipient)

	switch {
	case recipient == "":
		return errs.E(op, errs.ErrValidation, "recipient is required")
	case strings.TrimSpace(p.EncryptedContent) == "":
		return errs.E(op, errs.ErrValidation, "message content is empty")
	case len(p.EncryptedContent)+len(p.SymmetricKey) > maxContentBytes:
		return errs.E(op, errs.ErrValidation, "message too large")
	}

	if _, err := g.users.Get(ctx, recipient); err != nil {
		return err
	}
	blocked, err := g.social.Blocked(ctx, userID, recipient)
	if err != nil {
		return err
	}
	if blocked {
		return errs.E(op, errs.ErrAuthorization, "cannot message this user")
	}

	if p.StoredKey != nil {
		if err := g.keys.Set(ctx, userID, p.StoredKey.Key, p.StoredKey.Value); err != nil {
			return err
		}
	}

	content, err := json.Marshal(v1.EncryptedContent{
		EncryptedContent: p.EncryptedContent,
		SymmetricKey:     p.SymmetricKey,
	})
	if err != nil {
		return err
	}
	res, err := g.chat.Send(ctx, userID, recipient, string(content))
	if err != nil {
		return err
	}

	out := v1.MessageEventPayload{
		Message: wireMessage(res.Message),
		Session: wireSession(res.Session),
	}
	created := res.Message.CreatedAt
	out.Session.LastMessageDate = &created

	g.toUser(userID, v1.TypeMessageSent, out)
	g.toUser(recipient, v1.TypeMessageReceived, out)
	return nil
}

func (g *Gateway) onGetMessages(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.GetMessagesPayload
	if err := decode("realtime.GetMessages", env, &p); err != nil {
		return err
	}
	count := chat.DefaultPageSize
	if p.Count != nil {
		count = *p.Count
	}
	msgs, err := g.chat.MessagesFrom(ctx, c.UserID(), p.From, p.Session, count)
	if err != nil {
		return err
	}

	out := make([]v1.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage(m))
	}
	g.reply(c, v1.TypeMessagesRetrieved, env.ID, v1.MessagesRetrievedPayload{
		Messages: out,
		Session:  p.Session,
		From:     p.From,
	})
	return nil
}

func (g *Gateway) onDeleteMessage(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.DeleteMessagePayload
	if err := decode("realtime.DeleteMessage", env, &p); err != nil {
		return err
	}
	userID := c.UserID()
	other, err := g.chat.DeleteMessage(ctx, userID, p.ID, p.Both)
	if err != nil {
		return err
	}

	out := v1.MessageDeletedPayload{ID: p.ID, Other: other}
	g.toUser(userID, v1.TypeMessageDeleted, out)
	g.toUser(other, v1.TypeMessageDeleted, out)
	return nil
}

func (g *Gateway) onReadMessages(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.ReadMessagesPayload
	if err := decode("realtime.ReadMessages", env, &p); err != nil {
		return err
	}
	_, err := g.chat.ReadMessages(ctx, c.UserID(), p.SenderID)
	return err
}

func (g *Gateway) onDeleteThread(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.DeleteThreadPayload
	if err := decode("realtime.DeleteThread", env, &p); err != nil {
		return err
	}
	userID := c.UserID()
	if _, err := g.chat.MarkThreadDeleted(ctx, userID, p.Session); err != nil {
		return err
	}
	g.toUser(userID, v1.TypeThreadDeleted, v1.DeleteThreadPayload{Session: p.Session})
	return nil
}

// ---- keys ----

func (g *Gateway) onGetKey(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.GetKeyPayload
	if err := decode("realtime.GetKey", env, &p); err != nil {
		return err
	}
	rec, err := g.keys.Get(ctx, c.UserID(), p.Key)
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	g.reply(c, v1.TypeGetKeyResult, env.ID, v1.KeyResultPayload{Key: rec.Key, Value: rec.Value, CreatedAt: &created})
	return nil
}

func (g *Gateway) onSetKey(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.SetKeyPayload
	if err := decode("realtime.SetKey", env, &p); err != nil {
		return err
	}
	if err := g.keys.Set(ctx, c.UserID(), p.Key, p.Value); err != nil {
		return err
	}
	g.reply(c, v1.TypeSetKeyResult, env.ID, v1.KeyResultPayload{Key: p.Key})
	return nil
}

// ---- auth ----

// onReauth accepts a fresh access token for the same user and re-arms the timer.
func (g *Gateway) onReauth(c *Client, env v1.Envelope) error {
	const op = "realtime.Reauth"

	var p v1.ReauthPayload
	if err := decode(op, env, &p); err != nil {
		return err
	}
	claims, err := g.auth.VerifyAccess(p.Token)
	if err != nil {
		return err
	}
	if claims.UserID != c.UserID() {
		return errs.E(op, errs.ErrAuthentication, "token belongs to a different user")
	}

	c.reauthenticate(claims.ExpiresAt)
	c.armReauth(claims.ExpiresAt, g.cfg.ReauthMargin, g.now(), func() { g.requireReauth(c) })
	g.reply(c, v1.TypeReauthOK, env.ID, v1.ReauthOKPayload{UserID: claims.UserID, ExpiresAt: claims.ExpiresAt})
	g.log.Info("ws.reauth", "conn_id", c.ConnID, "user_id", claims.UserID)
	return nil
}

// ---- social ----

func (g *Gateway) onSendFriendRequest(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.SendFriendRequestPayload
	if err := decode("realtime.SendFriendRequest", env, &p); err != nil {
		return err
	}
	userID := c.UserID()
	fr, to, err := g.social.SendRequest(ctx, userID, p.Username)
	if err != nil {
		return err
	}
	from, err := g.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	req := wireRequest(fr)
	g.toUser(userID, v1.TypeFriendRequestSent, v1.FriendRequestEventPayload{Request: req, User: contactUser(to, false)})
	g.toUser(to.ID, v1.TypeFriendRequestReceived, v1.FriendRequestEventPayload{Request: req, User: contactUser(from, false)})
	g.pushContacts(ctx, userID, to.ID)
	return nil
}

func (g *Gateway) onAcceptFriendRequest(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.FriendRequestRefPayload
	if err := decode("realtime.AcceptFriendRequest", env, &p); err != nil {
		return err
	}
	fr, err := g.social.AcceptRequest(ctx, c.UserID(), p.RequestID)
	if err != nil {
		return err
	}
	return g.announceAnswer(ctx, fr, v1.TypeFriendRequestAccepted)
}

func (g *Gateway) onRejectFriendRequest(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.FriendRequestRefPayload
	if err := decode("realtime.RejectFriendRequest", env, &p); err != nil {
		return err
	}
	fr, err := g.social.RejectRequest(ctx, c.UserID(), p.RequestID)
	if err != nil {
		return err
	}
	return g.announceAnswer(ctx, fr, v1.TypeFriendRequestRejected)
}

// announceAnswer sends typ to both parties; each sees the other as the counterpart.
func (g *Gateway) announceAnswer(ctx context.Context, fr social.FriendRequest, typ string) error {
	sender, err := g.users.Get(ctx, fr.SenderID)
	if err != nil {
		return err
	}
	recipient, err := g.users.Get(ctx, fr.RecipientID)
	if err != nil {
		return err
	}

	full := fr.Status == social.RequestAccepted
	req := wireRequest(fr)
	g.toUser(fr.SenderID, typ, v1.FriendRequestEventPayload{Request: req, User: contactUser(recipient, full)})
	g.toUser(fr.RecipientID, typ, v1.FriendRequestEventPayload{Request: req, User: contactUser(sender, full)})
	g.pushContacts(ctx, fr.SenderID, fr.RecipientID)
	return nil
}

func (g *Gateway) onBlockUser(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decode("realtime.BlockUser", env, &p); err != nil {
		return err
	}
	userID := c.UserID()
	if _, err := g.social.Block(ctx, userID, p.UserID); err != nil {
		return err
	}
	g.toUser(userID, v1.TypeUserBlocked, v1.UserRefPayload{UserID: p.UserID})
	g.pushContacts(ctx, userID, p.UserID)
	return nil
}

func (g *Gateway) onUnblockUser(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decode("realtime.UnblockUser", env, &p); err != nil {
		return err
	}
	userID := c.UserID()
	if err := g.social.Unblock(ctx, userID, p.UserID); err != nil {
		return err
	}
	g.toUser(userID, v1.TypeUserUnblocked, v1.UserRefPayload{UserID: p.UserID})
	g.pushContacts(ctx, userID, p.UserID)
	return nil
}

// pushContacts sends a fresh all-contacts to every connection of each user.
func (g *Gateway) pushContacts(ctx context.Context, userIDs ...string) {
	for _, id := range userIDs {
		env, err := g.contactsEnvelope(ctx, id)
		if err != nil {
			g.log.Error("ws.contacts.fail", "user_id", id, "err", err)
			continue
		}
		g.hub.SendToUser(id, env)
	}
}

func (g *Gateway) contactsEnvelope(ctx context.Context, userID string) (v1.Envelope, error) {
	contacts, err := g.social.Contacts(ctx, userID)
	if err != nil {
		return v1.Envelope{}, err
	}
	out := make([]v1.Contact, 0, len(contacts))
	for _, ct := range contacts {
		out = append(out, wireContact(ct))
	}
	env, ok := g.envelope(v1.TypeAllContacts, "", v1.AllContactsPayload{Contacts: out})
	if !ok {
		return v1.Envelope{}, errors.New("realtime: encode contacts")
	}
	return env, nil
}
