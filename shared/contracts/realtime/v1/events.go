package v1

// Client to server.
const (
	TypeSendEncrypted       = "send-encrypted"
	TypeGetMessages         = "get-messages"
	TypeDeleteMessage       = "delete-message"
	TypeReadMessages        = "read-messages"
	TypeDeleteThread        = "delete-thread"
	TypeGetKey              = "get-key"
	TypeSetKey              = "set-key"
	TypeReauth              = "reauth"
	TypeSendFriendRequest   = "send-friend-request"
	TypeAcceptFriendRequest = "accept-friend-request"
	TypeRejectFriendRequest = "reject-friend-request"
	TypeBlockUser           = "block-user"
	TypeUnblockUser         = "unblock-user"
)

// Server to client.
const (
	TypeMessageSent           = "message-sent"
	TypeMessageReceived       = "message-received"
	TypeMessagesRetrieved     = "messages-retrieved"
	TypeMessageDeleted        = "message-deleted"
	TypeThreadDeleted         = "thread-deleted"
	TypeGetKeyResult          = "get-key-result"
	TypeSetKeyResult          = "set-key-result"
	TypeReauthOK              = "reauth-ok"
	TypeAllContacts           = "all-contacts"
	TypeAllSessions           = "all-sessions"
	TypeFriendRequestSent     = "friend-request-sent"
	TypeFriendRequestReceived = "friend-request-received"
	TypeFriendRequestAccepted = "friend-request-accepted"
	TypeFriendRequestRejected = "friend-request-rejected"
	TypeUserBlocked           = "user-blocked"
	TypeUserUnblocked         = "user-unblocked"
	TypeError                 = "error"
)

// Error replies. send-encrypted reports failures as send-message-error and read-messages
// shares get-messages-error.
const (
	TypeSendMessageError         = "send-message-error"
	TypeGetMessagesError         = "get-messages-error"
	TypeDeleteMessageError       = "delete-message-error"
	TypeDeleteThreadError        = "delete-thread-error"
	TypeGetKeyError              = "get-key-error"
	TypeSetKeyError              = "set-key-error"
	TypeSendFriendRequestError   = "send-friend-request-error"
	TypeAcceptFriendRequestError = "accept-friend-request-error"
	TypeRejectFriendRequestError = "reject-friend-request-error"
	TypeBlockUserError           = "block-user-error"
	TypeUnblockUserError         = "unblock-user-error"
)

var clientTypes = map[string]string{
	TypeSendEncrypted:       TypeSendMessageError,
	TypeGetMessages:         TypeGetMessagesError,
	TypeDeleteMessage:       TypeDeleteMessageError,
	TypeReadMessages:        TypeGetMessagesError,
	TypeDeleteThread:        TypeDeleteThreadError,
	TypeGetKey:              TypeGetKeyError,
	TypeSetKey:              TypeSetKeyError,
	TypeReauth:              TypeError,
	TypeSendFriendRequest:   TypeSendFriendRequestError,
	TypeAcceptFriendRequest: TypeAcceptFriendRequestError,
	TypeRejectFriendRequest: TypeRejectFriendRequestError,
	TypeBlockUser:           TypeBlockUserError,
	TypeUnblockUser:         TypeUnblockUserError,
}

// ClientType reports whether typ may be sent by a client.
func ClientType(typ string) bool {
	_, ok := clientTypes[typ]
	return ok
}

// ErrorType returns the error reply type for a client event.
func ErrorType(typ string) string {
	if t, ok := clientTypes[typ]; ok {
		return t
	}
	return TypeError
}
