package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-composer/internal/mailer"
	"github.com/shineum/mail-composer/internal/provider"
)

type mockComposer struct {
	mock.Mock
}

func (m *mockComposer) Send(ctx context.Context, templateID int, payload io.Reader) (*mailer.Result, error) {
	body, err := io.ReadAll(payload)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	args := m.Called(templateID, string(body))
	res, _ := args.Get(0).(*mailer.Result)
	return res, args.Error(1)
}

func newTestServer(t *testing.T, c Composer, opts ...func(*ServerConfig)) *httptest.Server {
	t.Helper()
	cfg := ServerConfig{Composer: c}
	for _, opt := range opts {
		opt(&cfg)
	}
	ts := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestSendSuccess(t *testing.T) {
	t.Parallel()

	c := &mockComposer{}
	c.On("Send", 42, `{"data":{}}`).Return(&mailer.Result{
		Status:   mailer.StatusSent,
		Response: &provider.Response{Provider: "stdout", MessageID: "abc"},
	}, nil)

	ts := newTestServer(t, c)
	resp, out := post(t, ts.URL+"/send/42", `{"data":{}}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stdout", out["provider"])
	assert.Equal(t, "abc", out["message_id"])
	c.AssertExpectations(t)
}

func TestSendStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result *mailer.Result
		err    error
		want   int
	}{
		{
			name:   "not found",
			result: &mailer.Result{Status: mailer.StatusNotFound},
			want:   http.StatusNotFound,
		},
		{
			name: "invalid payload",
			result: &mailer.Result{Status: mailer.StatusInvalid, Errors: mailer.ValidationErrors{
				{Path: "/recipients", Message: "missing property"},
			}},
			want: http.StatusBadRequest,
		},
		{
			name: "authoring error",
			err:  &mailer.AuthoringError{TemplateID: 1, Part: "subject", Err: mailer.ErrPartialNotFound},
			want: http.StatusInternalServerError,
		},
		{
			name: "provider failure",
			err:  errors.New("upstream refused"),
			want: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := &mockComposer{}
			c.On("Send", 1, "{}").Return(tt.result, tt.err)

			ts := newTestServer(t, c)
			resp, out := post(t, ts.URL+"/send/1", "{}")

			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
			assert.EqualValues(t, tt.want, out["status"])
		})
	}
}

func TestSendInvalidPayloadListsFields(t *testing.T) {
	t.Parallel()

	c := &mockComposer{}
	c.On("Send", 7, "{}").Return(&mailer.Result{
		Status: mailer.StatusInvalid,
		Errors: mailer.ValidationErrors{
			{Path: "/data/name", Message: "expected string"},
			{Path: "/data/name", Message: "too short"},
		},
	}, nil)

	ts := newTestServer(t, c)
	_, out := post(t, ts.URL+"/send/7", "{}")

	fields, ok := out["errors"].(map[string]any)
	require.True(t, ok, "errors should be an object")
	assert.Equal(t, []any{"expected string", "too short"}, fields["/data/name"])
}

func TestSendRejectsNonIntegerID(t *testing.T) {
	t.Parallel()

	c := &mockComposer{}
	ts := newTestServer(t, c)
	resp, _ := post(t, ts.URL+"/send/abc", "{}")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	c.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSendPayloadTooLarge(t *testing.T) {
	t.Parallel()

	c := &mockComposer{}
	ts := newTestServer(t, c, func(cfg *ServerConfig) { cfg.MaxPayloadSize = 8 })
	resp, _ := post(t, ts.URL+"/send/1", `{"data":{"name":"too long"}}`)

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestSendRequiresAuth(t *testing.T) {
	t.Parallel()

	c := &mockComposer{}
	c.On("Send", 1, "{}").Return(&mailer.Result{
		Status:   mailer.StatusSent,
		Response: &provider.Response{Provider: "stdout"},
	}, nil)

	ts := newTestServer(t, c, func(cfg *ServerConfig) {
		cfg.AuthUsername = "u"
		cfg.AuthPassword = "p"
	})

	resp, _ := post(t, ts.URL+"/send/1", "{}")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/send/1", strings.NewReader("{}"))
	require.NoError(t, err)
	req.SetBasicAuth("u", "p")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestHealthzSkipsAuth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &mockComposer{}, func(cfg *ServerConfig) {
		cfg.AuthUsername = "u"
		cfg.AuthPassword = "p"
	})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDebugVarsExposed(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &mockComposer{})
	resp, err := http.Get(ts.URL + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()

	var vars map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	assert.Contains(t, vars, "memstats")
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &mockComposer{})
	resp, err := http.Get(ts.URL + "/send/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestListenAndServeGracefulShutdown(t *testing.T) {
	t.Parallel()

	srv := New(ServerConfig{ListenAddr: "127.0.0.1:0", Composer: &mockComposer{}, ShutdownTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
