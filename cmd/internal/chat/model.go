package chat

import "time"

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusDeleted   MessageStatus = "deleted"
)

// SessionStatus is one party's view state of a thread.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionDeleted  SessionStatus = "deleted"
	SessionArchived SessionStatus = "archived"
)

// Message is a decrypted thread node.
type Message struct {
	ID                 string
	SenderID           string
	RecipientID        string
	Content            string
	Status             MessageStatus
	DeletedBySender    bool
	DeletedByRecipient bool
	Previous           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Involves reports whether userID is the sender or the recipient.
func (m Message) Involves(userID string) bool {
	return userID != "" && (m.SenderID == userID || m.RecipientID == userID)
}

// Counterpart returns the other party of the message.
func (m Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// DeletedBy reports whether userID removed the message from their own view.
func (m Message) DeletedBy(userID string) bool {
	switch userID {
	case m.SenderID:
		return m.DeletedBySender
	case m.RecipientID:
		return m.DeletedByRecipient
	}
	return false
}

// settleDeletion enforces: both flags set => content cleared and status deleted.
func (m *MessageRecord) settleDeletion() {
	if m.DeletedBySender && m.DeletedByRecipient {
		m.Content = ""
		m.Status = StatusDeleted
	}
}

// Session is the decrypted per-pair thread header.
type Session struct {
	ID          string
	PairKey     string
	User1       string
	User2       string
	User1Status SessionStatus
	User2Status SessionStatus
	Head        string
	User1Tail   string
	User2Tail   string
}

// Has reports whether userID is a party.
func (s Session) Has(userID string) bool {
	return userID != "" && (s.User1 == userID || s.User2 == userID)
}

// Other returns the counterpart of userID.
func (s Session) Other(userID string) string {
	if s.User1 == userID {
		return s.User2
	}
	return s.User1
}

// StatusFor returns userID's status.
func (s Session) StatusFor(userID string) SessionStatus {
	if s.User1 == userID {
		return s.User1Status
	}
	return s.User2Status
}

// TailFor returns userID's tail ("" when unset).
func (s Session) TailFor(userID string) string {
	if s.User1 == userID {
		return s.User1Tail
	}
	return s.User2Tail
}

func (s *Session) clearFor(userID string) {
	if s.User1 == userID {
		s.User1Tail, s.User1Status = s.Head, SessionDeleted
		return
	}
	s.User2Tail, s.User2Status = s.Head, SessionDeleted
}

func (s Session) bothDeleted() bool {
	return s.User1Status == SessionDeleted && s.User2Status == SessionDeleted
}

// SendResult is returned by Engine.Send.
type SendResult struct {
	Message Message
	Session Session
}

// SessionView is a session snapshot for one party.
type SessionView struct {
	Session
	UnreadCount     int
	LastMessageDate time.Time
}

// MessageRecord is the persisted shape of a Message. *Enc fields are ciphertexts.
type MessageRecord struct {
	ID                 string
	SenderID           string
	RecipientID        string
	Content            string
	Status             MessageStatus
	DeletedBySender    bool
	DeletedByRecipient bool
	PreviousEnc        string
	CreatedAtEnc       string
	UpdatedAtEnc       string
}

// SessionRecord is the persisted shape of a Session. *Enc fields are ciphertexts.
type SessionRecord struct {
	ID           string
	PairKey      string
	User1        string
	User2        string
	User1Status  SessionStatus
	User2Status  SessionStatus
	HeadEnc      string
	User1TailEnc string
	User2TailEnc string
}
