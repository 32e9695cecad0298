package issuer

import (
	"time"

	"github.com/podlab/solid-oauth-lab/pkg/oauth2"
)

// Client is a registered OAuth2 client. Read-only during a flow.
type Client struct {
	ID           string    `json:"client_id"`
	Secret       string    `json:"client_secret"`
	Name         string    `json:"client_name,omitempty"`
	RedirectURIs []string  `json:"redirect_uris"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, allowed := range c.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

// AuthorizationRequest carries the parameters of a pending /authorize call.
// It lives for the duration of one request/approval round trip.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeChallengeMethod
}

// Identity is the authenticated subject an authorization is completed for.
type Identity struct {
	UserID string
	WebID  string
	Props  map[string]interface{}
}

// Grant binds an issued authorization code to the request it was minted for.
// The code itself is a single-use nonce; the grant is deleted on redemption.
type Grant struct {
	Code      string
	Request   AuthorizationRequest
	Identity  Identity
	IssuedAt  time.Time
	ExpiresAt time.Time
}
