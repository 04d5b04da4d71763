package realtime

import (
	"tether/cmd/identity"
	"tether/cmd/internal/chat"
	"tether/cmd/internal/social"
	v1 "tether/shared/contracts/realtime/v1"
)

func wireMessage(m chat.Message) v1.Message {
	return v1.Message{
		ID:                 m.ID,
		Sender:             m.SenderID,
		Recipient:          m.RecipientID,
		Content:            m.Content,
		Status:             string(m.Status),
		DeletedBySender:    m.DeletedBySender,
		DeletedByRecipient: m.DeletedByRecipient,
		Previous:           m.Previous,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func wireSession(s chat.Session) v1.Session {
	return v1.Session{
		ID:          s.ID,
		User1:       s.User1,
		User2:       s.User2,
		User1Status: string(s.User1Status),
		User2Status: string(s.User2Status),
		Head:        s.Head,
	}
}

func wireSessionView(v chat.SessionView) v1.Session {
	out := wireSession(v.Session)
	out.UnreadCount = v.UnreadCount
	if !v.LastMessageDate.IsZero() {
		last := v.LastMessageDate
		out.LastMessageDate = &last
	}
	return out
}

func wireRequest(fr social.FriendRequest) v1.FriendRequest {
	return v1.FriendRequest{
		ID:        fr.ID,
		Status:    string(fr.Status),
		CreatedAt: fr.CreatedAt,
		UpdatedAt: fr.UpdatedAt,
	}
}

// contactUser projects u; id and public key are only shared with accepted friends.
func contactUser(u identity.User, full bool) v1.ContactUser {
	out := v1.ContactUser{Username: u.Username}
	if full {
		out.ID, out.PublicKey = u.ID, u.PublicKey
	}
	return out
}

func wireContact(c social.Contact) v1.Contact {
	return v1.Contact{
		User: v1.ContactUser{
			ID:        c.User.ID,
			Username:  c.User.Username,
			PublicKey: c.User.PublicKey,
		},
		FriendRequest: v1.ContactRequest{
			ID:        c.FriendRequest.ID,
			Direction: string(c.FriendRequest.Direction),
			Status:    string(c.FriendRequest.Status),
			SentAt:    c.FriendRequest.SentAt,
			RepliedAt: c.FriendRequest.RepliedAt,
		},
		BlockedContact:   c.BlockedContact,
		BlockedByContact: c.BlockedByContact,
	}
}
