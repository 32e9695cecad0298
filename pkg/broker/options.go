package broker

import (
	"log/slog"

	"github.com/podlab/solid-oauth-lab/pkg/issuer"
)

func WithIssuer(iss *issuer.Issuer) Option {
	return func(s *Server) error {
		s.issuer = iss
		return nil
	}
}

func WithBaseURL(baseURL string) Option {
	return func(s *Server) error {
		s.baseURL = baseURL
		return nil
	}
}

func WithPolicy(policy *Policy) Option {
	return func(s *Server) error {
		s.policy = policy
		return nil
	}
}

func WithPolicyFromFile(path string) Option {
	return func(s *Server) error {
		policy, err := LoadPolicy(path)
		if err != nil {
			return err
		}
		s.policy = policy
		for _, uri := range policy.AllowedRedirectURIs {
			slog.Info("Allowing redirect_uri prefix", "prefix", uri)
		}
		return nil
	}
}

// WithDemoIdentity replaces the identity every approval is completed for.
func WithDemoIdentity(identity issuer.Identity) Option {
	return func(s *Server) error {
		s.demoIdentity = identity
		return nil
	}
}
