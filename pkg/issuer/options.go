package issuer

import (
	"crypto"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/podlab/solid-oauth-lab/pkg/nonce"
	"github.com/podlab/solid-oauth-lab/pkg/util"
)

type ErrorTolerance bool

const (
	UseRandomKeyIfNotAvailable ErrorTolerance = true
	FailIfNotAvailable         ErrorTolerance = false
)

func WithIssuerURL(issuerURL string) Option {
	return func(iss *Issuer) error {
		iss.issuerURL = issuerURL
		return nil
	}
}

func WithSigningKey(sigPrK jwk.Key) Option {
	return func(iss *Issuer) error {
		sigPuK, err := sigPrK.PublicKey()
		if err != nil {
			return fmt.Errorf("unable to derive public key: %w", err)
		}
		iss.sigPrK = sigPrK
		iss.jwks = jwk.NewSet()
		iss.jwks.AddKey(sigPuK)
		return nil
	}
}

func WithSigningKeyFromJWK(path string, tolerance ErrorTolerance) Option {
	return func(iss *Issuer) error {
		data, err := os.ReadFile(path)
		if err != nil {
			if tolerance == UseRandomKeyIfNotAvailable {
				slog.Warn("Failed to read key file", "path", path, "error", err)
				return WithRandomSigningKey()(iss)
			}
			return fmt.Errorf("unable to read key file: %w", err)
		}
		privateKey, err := jwk.ParseKey(data)
		if err != nil {
			if tolerance == UseRandomKeyIfNotAvailable {
				slog.Warn("Failed to parse key file", "path", path, "error", err)
				return WithRandomSigningKey()(iss)
			}
			return fmt.Errorf("unable to parse key file: %w", err)
		}
		return WithSigningKey(privateKey)(iss)
	}
}

func WithRandomSigningKey() Option {
	return func(iss *Issuer) error {
		sigPrK, err := util.RandomJWK()
		if err != nil {
			return fmt.Errorf("unable to generate keys: %w", err)
		}
		sigPrK.Set(jwk.KeyUsageKey, "sig")
		sigPrK.Set(jwk.AlgorithmKey, jwa.ES256)

		thumbprint, err := sigPrK.Thumbprint(crypto.SHA256)
		if err != nil {
			return fmt.Errorf("unable to generate keys: %w", err)
		}
		sigPrK.Set(jwk.KeyIDKey, base64.RawURLEncoding.EncodeToString(thumbprint))

		slog.Debug("Generated random signing key", "kid", sigPrK.KeyID())

		return WithSigningKey(sigPrK)(iss)
	}
}

func WithStore(store Store) Option {
	return func(iss *Issuer) error {
		iss.store = store
		return nil
	}
}

func WithNonceService(codes nonce.Service) Option {
	return func(iss *Issuer) error {
		iss.codes = codes
		return nil
	}
}

func WithCodeTTL(ttl time.Duration) Option {
	return func(iss *Issuer) error {
		iss.codeTTL = ttl
		return nil
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(iss *Issuer) error {
		iss.tokenTTL = ttl
		return nil
	}
}
