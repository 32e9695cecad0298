package broker

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Policy restricts which redirect URIs clients may register or use. A nil
// policy, or a policy with no entries, allows everything; the lab runs open
// by default.
type Policy struct {
	AllowedRedirectURIs []string `yaml:"allowed_redirect_uris" validate:"dive,uri"`
}

func LoadPolicy(path string) (*Policy, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file '%s': %w", path, err)
	}
	var policy Policy
	err = yaml.Unmarshal(yamlData, &policy)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy file '%s': %w", path, err)
	}

	validate := validator.New()
	if err := validate.Struct(policy); err != nil {
		return nil, fmt.Errorf("failed to validate policy file '%s': %w", path, err)
	}

	return &policy, nil
}

// AllowedRedirectURI reports whether the URI matches one of the allowed
// prefixes.
func (p *Policy) AllowedRedirectURI(uri string) bool {
	if p == nil || len(p.AllowedRedirectURIs) == 0 {
		return true
	}
	for _, prefix := range p.AllowedRedirectURIs {
		if strings.HasPrefix(uri, prefix) {
			return true
		}
	}
	return false
}
