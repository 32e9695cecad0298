package signup

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/podlab/solid-oauth-lab/pkg/util"
)

// ExternalLinks holds the identifiers handed back by the provisioning
// services. All fields are optional; a skipped provisioning step leaves its
// link empty.
type ExternalLinks struct {
	OAuthUserID string `json:"oauthUserId,omitempty" cbor:"1,keyasint,omitempty"`
	PodURL      string `json:"podUrl,omitempty" cbor:"2,keyasint,omitempty"`
	WebID       string `json:"webId,omitempty" cbor:"3,keyasint,omitempty"`
}

// UserRecord is keyed by lowercased email. Records are created once and never
// updated or deleted.
type UserRecord struct {
	ID           string        `json:"id" cbor:"1,keyasint"`
	Name         string        `json:"name" cbor:"2,keyasint"`
	Email        string        `json:"email" cbor:"3,keyasint"`
	CreatedAt    time.Time     `json:"createdAt" cbor:"4,keyasint"`
	PasswordHash string        `json:"-" cbor:"5,keyasint"`
	Links        ExternalLinks `json:"links" cbor:"6,keyasint"`
}

// HashPassword derives a salted sha256 digest. Demo-grade, like the rest of
// the lab.
func HashPassword(password string) string {
	salt := util.GenerateRandomString(16)
	sum := sha256.Sum256([]byte(salt + password))
	return salt + "$" + hex.EncodeToString(sum[:])
}
