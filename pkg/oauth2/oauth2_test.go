package oauth2_test

import (
	"reflect"
	"testing"

	"github.com/podlab/solid-oauth-lab/pkg/oauth2"
)

func TestVerifyCodeChallenge(t *testing.T) {
	verifier := oauth2.GenerateCodeVerifier()

	tests := []struct {
		name      string
		challenge string
		method    oauth2.CodeChallengeMethod
		verifier  string
		want      bool
	}{
		{"plain match", verifier, oauth2.CodeChallengeMethodPlain, verifier, true},
		{"empty method is plain", verifier, "", verifier, true},
		{"plain mismatch", verifier, oauth2.CodeChallengeMethodPlain, "other", false},
		{"s256 match", oauth2.S256ChallengeFromVerifier(verifier), oauth2.CodeChallengeMethodS256, verifier, true},
		{"s256 mismatch", oauth2.S256ChallengeFromVerifier(verifier), oauth2.CodeChallengeMethodS256, "other", false},
		{"s256 challenge with plain method", oauth2.S256ChallengeFromVerifier(verifier), oauth2.CodeChallengeMethodPlain, verifier, false},
		{"unknown method", verifier, "S512", verifier, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := oauth2.VerifyCodeChallenge(tt.challenge, tt.method, tt.verifier); got != tt.want {
				t.Errorf("VerifyCodeChallenge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitScope(t *testing.T) {
	if got := oauth2.SplitScope("openid webid"); !reflect.DeepEqual(got, []string{"openid", "webid"}) {
		t.Errorf("SplitScope() = %v", got)
	}
	if got := oauth2.SplitScope(""); len(got) != 0 {
		t.Errorf("SplitScope(empty) = %v", got)
	}
	if got := oauth2.SplitScope("  openid   webid  "); !reflect.DeepEqual(got, []string{"openid", "webid"}) {
		t.Errorf("SplitScope(padded) = %v", got)
	}
}
