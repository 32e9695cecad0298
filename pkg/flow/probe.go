package flow

import (
	"context"
	"fmt"
	"net/http"
)

// probeTolerated are the statuses a lab probe reports but does not fail on.
// The pod server may legitimately not know the demo identity yet.
var probeTolerated = map[int]bool{
	http.StatusOK:           true,
	http.StatusUnauthorized: true,
	http.StatusForbidden:    true,
	http.StatusNotFound:     true,
}

// ProbeResult reports a non-fatal check against the pod side of the lab.
type ProbeResult struct {
	URL    string
	Status int
}

// ProbeWebID dereferences the webid claim from the userinfo response, if
// present. Returns nil when the claim is absent.
func (d *Driver) ProbeWebID(ctx context.Context, st *State) (*ProbeResult, error) {
	webID, _ := st.Userinfo["webid"].(string)
	if webID == "" {
		return nil, nil
	}
	return d.Probe(ctx, webID, "")
}

// Probe fetches a pod resource with the flow's access token and tolerates
// the usual not-yet-provisioned answers.
func (d *Driver) Probe(ctx context.Context, rawURL, accessToken string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &StepError{Step: "probe", Detail: err.Error()}
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &StepError{Step: "probe", Detail: err.Error()}
	}
	resp.Body.Close()

	if !probeTolerated[resp.StatusCode] {
		return nil, &StepError{
			Step:   "probe",
			Status: resp.StatusCode,
			Detail: fmt.Sprintf("unexpected status for %s", rawURL),
		}
	}
	return &ProbeResult{URL: rawURL, Status: resp.StatusCode}, nil
}
