package social

import (
	"time"

	"tether/cmd/internal/pairlock"
)

// RequestStatus is the state of a friend request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// Direction is a friend request seen from one party.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// FriendRequest links two users; at most one exists per unordered pair.
type FriendRequest struct {
	ID          string
	SenderID    string
	RecipientID string
	Status      RequestStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PairKey is the order-independent key of the two parties.
func (r FriendRequest) PairKey() string {
	return pairlock.Key(r.SenderID, r.RecipientID)
}

// Other returns the counterpart of userID.
func (r FriendRequest) Other(userID string) string {
	if r.SenderID == userID {
		return r.RecipientID
	}
	return r.SenderID
}

// Block records that BlockerID blocked BlockedID.
type Block struct {
	BlockerID string
	BlockedID string
	CreatedAt time.Time
}

// ContactUser is the public projection of a contact. ID and PublicKey are only filled once the
// friend request was accepted.
type ContactUser struct {
	ID        string
	Username  string
	PublicKey string
}

// ContactRequest is a friend request seen from the caller.
type ContactRequest struct {
	ID        string
	Direction Direction
	Status    RequestStatus
	SentAt    time.Time
	RepliedAt *time.Time
}

// Contact is one entry of a user's contact list.
type Contact struct {
	User             ContactUser
	FriendRequest    ContactRequest
	BlockedContact   bool
	BlockedByContact bool
}
