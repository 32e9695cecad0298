// Package oauth2 holds the wire-level OAuth2 types and PKCE helpers shared by
// the authorization broker, the gateway and the flow driver.
package oauth2

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/podlab/solid-oauth-lab/pkg/util"
)

type ParameterOption func(params url.Values)

func WithAlternateRedirectURI(redirectUri string) ParameterOption {
	return func(params url.Values) {
		if redirectUri != "" {
			params.Set("redirect_uri", redirectUri)
		}
	}
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

type CodeChallengeMethod string

const (
	CodeChallengeMethodPlain CodeChallengeMethod = "plain"
	CodeChallengeMethodS256  CodeChallengeMethod = "S256"
)

type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func GenerateCodeVerifier() string {
	return util.GenerateRandomString(128)
}

func S256ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// VerifyCodeChallenge checks a PKCE verifier against the challenge recorded at
// authorization time. An empty method is treated as "plain".
func VerifyCodeChallenge(challenge string, method CodeChallengeMethod, verifier string) bool {
	switch method {
	case CodeChallengeMethodS256:
		return S256ChallengeFromVerifier(verifier) == challenge
	case CodeChallengeMethodPlain, "":
		return verifier == challenge
	default:
		return false
	}
}

// SplitScope splits a space-delimited scope string into its values.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}
