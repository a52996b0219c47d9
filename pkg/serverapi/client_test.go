package serverapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mendersoftware/mender-sub000/pkg/errkind"
)

type fakeDoer struct {
	handle func(req *http.Request) (*http.Response, error)
}

func (f *fakeDoer) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f.handle(req)
}

func jsonResponse(code int, body interface{}) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(bytes.NewReader(data)),
	}
}

func emptyResponse(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewReader(nil))}
}

func TestPollNextDeploymentV2Success(t *testing.T) {
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		require.Contains(t, req.URL.Path, "v2")
		return jsonResponse(http.StatusOK, NextDeploymentResponse{ID: "dep-1"}), nil
	}}
	c := New("https://example.test", doer, zerolog.Nop())

	resp, err := c.PollNextDeployment(context.Background(), NextDeploymentRequest{DeviceType: "qemux86-64"})
	require.NoError(t, err)
	require.Equal(t, "dep-1", resp.ID)
	require.False(t, resp.Empty)
}

func TestPollNextDeploymentNoContent(t *testing.T) {
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		return emptyResponse(http.StatusNoContent), nil
	}}
	c := New("https://example.test", doer, zerolog.Nop())

	resp, err := c.PollNextDeployment(context.Background(), NextDeploymentRequest{})
	require.NoError(t, err)
	require.True(t, resp.Empty)
}

func TestPollNextDeploymentFallsBackToV1(t *testing.T) {
	calls := 0
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			require.Contains(t, req.URL.Path, "v2")
			return emptyResponse(http.StatusNotFound), nil
		}
		require.Contains(t, req.URL.Path, "v1")
		return jsonResponse(http.StatusOK, NextDeploymentResponse{ID: "dep-legacy"}), nil
	}}
	c := New("https://example.test", doer, zerolog.Nop())

	resp, err := c.PollNextDeployment(context.Background(), NextDeploymentRequest{DeviceType: "qemux86-64"})
	require.NoError(t, err)
	require.Equal(t, "dep-legacy", resp.ID)
	require.Equal(t, 2, calls)
}

func TestPushStatusAborted(t *testing.T) {
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		return emptyResponse(http.StatusConflict), nil
	}}
	c := New("https://example.test", doer, zerolog.Nop())

	err := c.PushStatus(context.Background(), "dep-1", StatusFailure)
	require.ErrorIs(t, err, errkind.ErrDeploymentAborted)
}

func TestPushStatusSuccess(t *testing.T) {
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		return emptyResponse(http.StatusNoContent), nil
	}}
	c := New("https://example.test", doer, zerolog.Nop())

	err := c.PushStatus(context.Background(), "dep-1", StatusSuccess)
	require.NoError(t, err)
}

func TestPushLogServerError(t *testing.T) {
	doer := &fakeDoer{handle: func(req *http.Request) (*http.Response, error) {
		return emptyResponse(http.StatusInternalServerError), nil
	}}
	c := New("https://example.test", doer, zerolog.Nop())

	err := c.PushLog(context.Background(), "dep-1", []string{"line one", "line two"})
	require.ErrorIs(t, err, errkind.ErrServerError)
}
