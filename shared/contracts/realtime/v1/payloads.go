package v1

import "time"

// Chat.

type StoredKey struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type SendEncryptedPayload struct {
	Recipient        string     `json:"recipient"`
	EncryptedContent string     `json:"encryptedContent"`
	SymmetricKey     string     `json:"symmetricKey"`
	StoredKey        *StoredKey `json:"storedKey,omitempty"`
}

// EncryptedContent is the JSON blob stored as message content.
type EncryptedContent struct {
	EncryptedContent string `json:"encryptedContent"`
	SymmetricKey     string `json:"symmetricKey"`
}

type Message struct {
	ID                 string    `json:"id"`
	Sender             string    `json:"sender"`
	Recipient          string    `json:"recipient"`
	Content            string    `json:"content"`
	Status             string    `json:"status"`
	DeletedBySender    bool      `json:"deletedBySender"`
	DeletedByRecipient bool      `json:"deletedByRecipient"`
	Previous           string    `json:"previous,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type Session struct {
	ID              string     `json:"id"`
	User1           string     `json:"user1"`
	User2           string     `json:"user2"`
	User1Status     string     `json:"user1Status"`
	User2Status     string     `json:"user2Status"`
	Head            string     `json:"head,omitempty"`
	UnreadCount     int        `json:"unreadCount"`
	LastMessageDate *time.Time `json:"lastMessageDate,omitempty"`
}

// MessageEventPayload is carried by message-sent and message-received.
type MessageEventPayload struct {
	Message Message `json:"message"`
	Session Session `json:"session"`
}

// GetMessagesPayload requests a page. An absent count means the server default page size;
// an explicit count must be positive.
type GetMessagesPayload struct {
	From    string `json:"from,omitempty"`
	Session string `json:"session"`
	Count   *int   `json:"count,omitempty"`
}

type MessagesRetrievedPayload struct {
	Messages []Message `json:"messages"`
	Session  string    `json:"session"`
	From     string    `json:"from,omitempty"`
}

type DeleteMessagePayload struct {
	ID   string `json:"id"`
	Both bool   `json:"both,omitempty"`
}

type MessageDeletedPayload struct {
	ID    string `json:"id"`
	Other string `json:"other"`
}

type ReadMessagesPayload struct {
	SenderID string `json:"senderId"`
}

// DeleteThreadPayload is used by delete-thread and thread-deleted.
type DeleteThreadPayload struct {
	Session string `json:"session"`
}

type AllSessionsPayload struct {
	Sessions []Session `json:"sessions"`
}

// Key store.

type GetKeyPayload struct {
	Key string `json:"key"`
}

type SetKeyPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type KeyResultPayload struct {
	Key       string     `json:"key"`
	Value     string     `json:"value,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Auth.

type ReauthPayload struct {
	Token string `json:"token"`
}

// ReauthRequiredPayload is pushed shortly before the access token expires.
type ReauthRequiredPayload struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

type ReauthOKPayload struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Social.

type SendFriendRequestPayload struct {
	Username string `json:"username"`
}

// FriendRequestRefPayload is used by accept-friend-request and reject-friend-request.
type FriendRequestRefPayload struct {
	RequestID string `json:"requestId"`
}

// UserRefPayload is used by block-user, unblock-user and their replies.
type UserRefPayload struct {
	UserID string `json:"userId"`
}

// FriendRequest omits the party ids; they are disclosed through ContactUser once accepted.
type FriendRequest struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FriendRequestEventPayload carries the request and the counterpart's public profile.
type FriendRequestEventPayload struct {
	Request FriendRequest `json:"request"`
	User    ContactUser   `json:"user"`
}

type ContactUser struct {
	ID        string `json:"id,omitempty"`
	Username  string `json:"username"`
	PublicKey string `json:"publicKey,omitempty"`
}

type ContactRequest struct {
	ID        string     `json:"id"`
	Direction string     `json:"direction"`
	Status    string     `json:"status"`
	SentAt    time.Time  `json:"sentAt"`
	RepliedAt *time.Time `json:"repliedAt,omitempty"`
}

type Contact struct {
	User             ContactUser    `json:"user"`
	FriendRequest    ContactRequest `json:"friendRequest"`
	BlockedContact   bool           `json:"blockedContact"`
	BlockedByContact bool           `json:"blockedByContact"`
}

type AllContactsPayload struct {
	Contacts []Contact `json:"contacts"`
}

// ErrorPayload is carried by every error reply. Data echoes the offending request payload
// where the event defines it.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
