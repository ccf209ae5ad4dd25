// Package api is a narrow HTTPS JSON client for the remote enclave control
// plane: creating deployment intents, polling deployment status, fetching
// app/team encryption keys, and deleting enclaves. Kept intentionally thin
// per spec.md §1's "external collaborator, referenced only through a narrow
// interface" note -- the deploy state machine, internal/crypto and the
// delete command are its only callers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// AuthMode selects how a request authenticates to the control plane.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthAPIKey
	AuthBearer
)

// StatusError maps a non-2xx HTTP response to the taxonomy in spec.md §6.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s (http %d): %s", classify(e.Code), e.Code, e.Body)
}

func classify(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "BadRequest"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusInternalServerError:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Retryable reports whether a StatusError should be treated as a transient
// NoOp by the deploy polling loop rather than a terminal Failed.
func (e *StatusError) Retryable() bool {
	return classify(e.Code) == "Unknown"
}

// DeploymentIntent is the remote-issued authorization to upload an EIF and
// begin a build/deploy, per spec.md §3.
type DeploymentIntent struct {
	EnclaveUUID     string `json:"enclaveUuid"`
	DeploymentUUID  string `json:"deploymentUuid"`
	SignedUploadURL string `json:"signedUploadUrl"`
}

// DeploymentIntentRequest is the payload sent to create a DeploymentIntent.
type DeploymentIntentRequest struct {
	Measurements    any    `json:"measurements"`
	SizeBytes       int64  `json:"sizeBytes"`
	GitHash         string `json:"gitHash,omitempty"`
	SourceDateEpoch int64  `json:"sourceDateEpoch,omitempty"`
	DesiredReplicas int    `json:"desiredReplicas,omitempty"`
}

// DeploymentStatus is one poll response from GetDeployment.
type DeploymentStatus struct {
	IsFinished     bool   `json:"isFinished"`
	IsFailed       bool   `json:"isFailed"`
	FailureReason  string `json:"failureReason,omitempty"`
	DetailedStatus string `json:"detailedStatus,omitempty"`
}

// AppKeys is the fetched team/app public-key pair internal/crypto encrypts
// against.
type AppKeys struct {
	ECDHKey      string `json:"ecdhKey"`
	ECDHP256Key  string `json:"ecdhP256Key"`
}

// Client is the narrow surface the core needs from the remote API.
type Client interface {
	CreateDeploymentIntent(ctx context.Context, enclaveUUID string, req DeploymentIntentRequest) (*DeploymentIntent, error)
	GetDeployment(ctx context.Context, enclaveUUID, deploymentUUID string) (*DeploymentStatus, error)
	GetAppKeys(ctx context.Context, appUUID string) (*AppKeys, error)
	DeleteEnclave(ctx context.Context, enclaveUUID string) error
}

// httpClient is the one concrete Client implementation.
type httpClient struct {
	baseURL string
	auth    AuthMode
	token   string
	http    *http.Client
}

// New constructs a Client against baseURL (e.g. EV_API_URL, default
// https://api.evervault.com) using the given auth mode and token.
func New(baseURL string, auth AuthMode, token string) Client {
	return &httpClient{baseURL: baseURL, auth: auth, token: token, http: &http.Client{}}
}

func (c *httpClient) do(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "api: encoding request body")
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return errors.Wrap(err, "api: building request")
	}
	req.Header.Set("Content-Type", "application/json")
	switch c.auth {
	case AuthAPIKey:
		req.Header.Set("api-key", c.token)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "api: request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "api: reading response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(err, "api: decoding response")
	}
	return nil
}

func (c *httpClient) CreateDeploymentIntent(ctx context.Context, enclaveUUID string, req DeploymentIntentRequest) (*DeploymentIntent, error) {
	var intent DeploymentIntent
	path := fmt.Sprintf("/v2/enclaves/%s/deployments/intent", enclaveUUID)
	if err := c.do(ctx, http.MethodPost, path, req, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *httpClient) GetDeployment(ctx context.Context, enclaveUUID, deploymentUUID string) (*DeploymentStatus, error) {
	var status DeploymentStatus
	path := fmt.Sprintf("/v2/enclaves/%s/deployments/%s", enclaveUUID, deploymentUUID)
	if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *httpClient) GetAppKeys(ctx context.Context, appUUID string) (*AppKeys, error) {
	var keys AppKeys
	path := fmt.Sprintf("/v2/apps/%s/keys", appUUID)
	if err := c.do(ctx, http.MethodGet, path, nil, &keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

func (c *httpClient) DeleteEnclave(ctx context.Context, enclaveUUID string) error {
	path := fmt.Sprintf("/v2/enclaves/%s", enclaveUUID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
