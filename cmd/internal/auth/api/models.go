package authapi

import (
	"time"

	"tether/cmd/identity"
	"tether/cmd/internal/auth/tokens"
)

type registerRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	PublicKey string `json:"publicKey"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// pairRequest is used by refresh and logout. Either field may instead come from the
// Authorization header or the refresh cookie.
type pairRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	PublicKey string    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
}

type authResponse struct {
	User   userResponse `json:"user"`
	Tokens tokens.Pair  `json:"tokens"`
}

type refreshResponse struct {
	Tokens tokens.Pair `json:"tokens"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		PublicKey: u.PublicKey,
		CreatedAt: u.CreatedAt,
	}
}
