package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	token      string
	reauthTo   string
	reauthCall int
}

func (f *fakeAuth) Token(ctx context.Context) (string, error) { return f.token, nil }
func (f *fakeAuth) ReAuthenticate(ctx context.Context) (string, error) {
	f.reauthCall++
	f.token = f.reauthTo
	return f.reauthTo, nil
}

func TestDoInjectsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := New(Config{}, &fakeAuth{token: "T1"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := tr.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "Bearer T1", gotAuth)
}

func TestDoRetriesOnceAfter401(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") == "Bearer T1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	auth := &fakeAuth{token: "T1", reauthTo: "T2"}
	tr, err := New(Config{}, auth)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := tr.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, auth.reauthCall)
}

func TestDoStreamsResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	tr, err := New(Config{}, nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := tr.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func TestMatchesNoProxy(t *testing.T) {
	suffixes := splitNoProxy("internal.example.com, .corp")
	require.True(t, matchesNoProxy("internal.example.com", suffixes))
	require.True(t, matchesNoProxy("host.corp", suffixes))
	require.False(t, matchesNoProxy("example.com", suffixes))
}

func TestProxyFuncInvalidURL(t *testing.T) {
	_, err := proxyFunc("://bad", "", "")
	require.Error(t, err)
}
