package signup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

type ProvisioningStatus string

const (
	StatusCreated ProvisioningStatus = "created"
	StatusSkipped ProvisioningStatus = "skipped"
	StatusFailed  ProvisioningStatus = "failed"
)

// Outcome is the per-service result of one provisioning call.
type Outcome struct {
	Service string             `json:"service"`
	Status  ProvisioningStatus `json:"status"`
	Detail  string             `json:"detail,omitempty"`
}

// Provisioner performs the two external account-creation calls. Either
// endpoint may be left unconfigured, in which case its call is skipped.
type Provisioner struct {
	OAuthAccountURL string
	PodURL          string
	HTTPClient      *http.Client
}

func NewProvisioner(oauthAccountURL, podURL string) *Provisioner {
	return &Provisioner{
		OAuthAccountURL: oauthAccountURL,
		PodURL:          podURL,
		HTTPClient:      http.DefaultClient,
	}
}

// ProvisionOAuthAccount creates an account at the OAuth provider. On success
// the returned user id is written into links.
func (p *Provisioner) ProvisionOAuthAccount(user *UserRecord, links *ExternalLinks) Outcome {
	outcome := Outcome{Service: "oauth"}
	if p.OAuthAccountURL == "" {
		outcome.Status = StatusSkipped
		return outcome
	}

	var response struct {
		UserID string `json:"userId"`
	}
	err := p.postJSON(p.OAuthAccountURL, map[string]string{
		"name":  user.Name,
		"email": user.Email,
	}, &response)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Detail = err.Error()
		return outcome
	}

	links.OAuthUserID = response.UserID
	outcome.Status = StatusCreated
	return outcome
}

// ProvisionPod creates a Solid pod. On success the pod URL and WebID are
// written into links.
func (p *Provisioner) ProvisionPod(user *UserRecord, links *ExternalLinks) Outcome {
	outcome := Outcome{Service: "pod"}
	if p.PodURL == "" {
		outcome.Status = StatusSkipped
		return outcome
	}

	var response struct {
		PodURL string `json:"podUrl"`
		WebID  string `json:"webId"`
	}
	err := p.postJSON(p.PodURL, map[string]string{
		"name": user.Name,
	}, &response)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Detail = err.Error()
		return outcome
	}

	links.PodURL = response.PodURL
	links.WebID = response.WebID
	outcome.Status = StatusCreated
	return outcome
}

func (p *Provisioner) postJSON(url string, payload any, response any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("unable to marshal request: %w", err)
	}

	resp, err := p.HTTPClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unable to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	if response != nil {
		if err := json.Unmarshal(respBody, response); err != nil {
			slog.Warn("provisioning response not decodable", "url", url, "error", err)
		}
	}

	return nil
}
