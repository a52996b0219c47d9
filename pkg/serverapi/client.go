// Package serverapi implements the deployment server HTTP API: polling for
// the next deployment, pushing status and logs, and the backoff policy that
// governs polling. The backoff policy does not apply to status and log
// pushes, which the client does not retry on failure. See SPEC_FULL.md §4.E.
package serverapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mendersoftware/mender-sub000/pkg/errkind"
)

// Doer is the subset of pkg/transport.Transport the server client needs.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the deployment server's REST API.
type Client struct {
	baseURL string
	doer    Doer
	logger  zerolog.Logger
}

// New builds a Client against baseURL (e.g. "https://hosted.mender.io").
func New(baseURL string, doer Doer, logger zerolog.Logger) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), doer: doer, logger: logger}
}

// NextDeploymentRequest is the body of the v2 deployments/next poll.
type NextDeploymentRequest struct {
	DeviceProvides map[string]string `json:"device_provides"`
	DeviceType     string            `json:"device_type"`
}

// NextDeploymentResponse is the deployment offered by the server, or the
// zero value with Empty=true on 204 No Content.
type NextDeploymentResponse struct {
	Empty bool
	ID    string `json:"id"`
	Artifact struct {
		Source struct {
			URI string `json:"uri"`
		} `json:"source"`
		ArtifactName string `json:"artifact_name"`
	} `json:"artifact"`
}

// PollNextDeployment calls POST v2/.../deployments/next, falling back to
// GET v1/.../deployments/next on 404 (older server).
func (c *Client) PollNextDeployment(ctx context.Context, req NextDeploymentRequest) (NextDeploymentResponse, error) {
	resp, err := c.postNextV2(ctx, req)
	if err == errV2NotFound {
		return c.getNextV1(ctx, req)
	}
	return resp, err
}

var errV2NotFound = fmt.Errorf("v2 deployments/next not found")

func (c *Client) postNextV2(ctx context.Context, payload NextDeploymentRequest) (NextDeploymentResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return NextDeploymentResponse{}, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/devices/v2/deployments/device/deployments/next", bytes.NewReader(body))
	if err != nil {
		return NextDeploymentResponse{}, fmt.Errorf("%w: %v", errkind.ErrInvalidURL, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }

	resp, err := c.doer.Do(ctx, httpReq)
	if err != nil {
		return NextDeploymentResponse{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return NextDeploymentResponse{Empty: true}, nil
	case http.StatusNotFound:
		return NextDeploymentResponse{}, errV2NotFound
	case http.StatusOK:
		var out NextDeploymentResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return NextDeploymentResponse{}, fmt.Errorf("%w: %v", errkind.ErrUnexpectedResponse, err)
		}
		return out, nil
	default:
		return NextDeploymentResponse{}, statusError(resp.StatusCode)
	}
}

func (c *Client) getNextV1(ctx context.Context, payload NextDeploymentRequest) (NextDeploymentResponse, error) {
	url := fmt.Sprintf("%s/api/devices/v1/deployments/device/deployments/next?device_type=%s", c.baseURL, payload.DeviceType)
	httpReq, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return NextDeploymentResponse{}, fmt.Errorf("%w: %v", errkind.ErrInvalidURL, err)
	}

	resp, err := c.doer.Do(ctx, httpReq)
	if err != nil {
		return NextDeploymentResponse{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return NextDeploymentResponse{Empty: true}, nil
	case http.StatusOK:
		var out NextDeploymentResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return NextDeploymentResponse{}, fmt.Errorf("%w: %v", errkind.ErrUnexpectedResponse, err)
		}
		return out, nil
	default:
		return NextDeploymentResponse{}, statusError(resp.StatusCode)
	}
}

// Status is one of the substates pushed to PUT v1/.../deployments/{id}/status.
type Status string

const (
	StatusDownloading           Status = "downloading"
	StatusInstalling            Status = "installing"
	StatusRebooting             Status = "rebooting"
	StatusSuccess               Status = "success"
	StatusFailure               Status = "failure"
	StatusAlreadyInstalled      Status = "already-installed"
	StatusPauseBeforeInstalling Status = "pause-before-installing"
	StatusPauseBeforeCommitting Status = "pause-before-committing"
	StatusPauseBeforeRebooting  Status = "pause-before-rebooting"
)

// PushStatus reports a deployment's status. An AbortedDeployment error
// (409/"deployment aborted") is terminal and returned as-is. The deployment
// machine discards the errors of its in-progress status pushes, so an abort
// reported there does not interrupt or roll back the deployment.
func (c *Client) PushStatus(ctx context.Context, deploymentID string, status Status) error {
	body, err := json.Marshal(struct {
		Status Status `json:"status"`
	}{Status: status})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/devices/v1/deployments/device/deployments/%s/status", c.baseURL, deploymentID)
	httpReq, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrInvalidURL, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }

	resp, err := c.doer.Do(ctx, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return errkind.ErrDeploymentAborted
	}
	if resp.StatusCode/100 != 2 {
		return statusError(resp.StatusCode)
	}
	return nil
}

// PushLog uploads the collected log lines for a failed deployment.
func (c *Client) PushLog(ctx context.Context, deploymentID string, lines []string) error {
	body, err := json.Marshal(struct {
		Messages []string `json:"messages"`
	}{Messages: lines})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/devices/v1/deployments/device/deployments/%s/log", c.baseURL, deploymentID)
	httpReq, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrInvalidURL, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }

	resp, err := c.doer.Do(ctx, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp.StatusCode)
	}
	return nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return errkind.ErrUnauthorized
	case code == http.StatusForbidden:
		return errkind.ErrForbidden
	case code == http.StatusConflict:
		return errkind.ErrDeploymentAborted
	case code/100 == 5:
		return fmt.Errorf("%w: status %d", errkind.ErrServerError, code)
	default:
		return fmt.Errorf("%w: status %d", errkind.ErrUnexpectedResponse, code)
	}
}
